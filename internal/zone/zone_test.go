package zone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/gatesupervisor/internal/config"
	"github.com/ocx/gatesupervisor/internal/geometry"
)

func square(x1, y1, x2, y2 float64) []config.Point {
	return []config.Point{{X: x1, Y: y1}, {X: x2, Y: y1}, {X: x2, Y: y2}, {X: x1, Y: y2}}
}

func TestModel_Classify(t *testing.T) {
	m := NewModel(square(0, 0, 0.5, 0.5), square(0.6, 0.6, 0.8, 0.8))

	c := m.Classify(geometry.Point{X: 0.25, Y: 0.25})
	assert.True(t, c.InGateArea)
	assert.False(t, c.InGuardAnchor)

	c = m.Classify(geometry.Point{X: 0.7, Y: 0.7})
	assert.False(t, c.InGateArea)
	assert.True(t, c.InGuardAnchor)

	c = m.Classify(geometry.Point{X: 0.9, Y: 0.9})
	assert.False(t, c.InGateArea)
	assert.False(t, c.InGuardAnchor)
}

func TestModel_TryUpdateRejectsInvalidPolygon(t *testing.T) {
	m := NewModel(square(0, 0, 0.5, 0.5), square(0.6, 0.6, 0.8, 0.8))

	ok, reason := m.TryUpdate([]config.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}, square(0.6, 0.6, 0.8, 0.8))
	require.False(t, ok)
	assert.Contains(t, reason, "gate_area_polygon")

	// Original polygon must remain active.
	c := m.Classify(geometry.Point{X: 0.25, Y: 0.25})
	assert.True(t, c.InGateArea)
}

func TestModel_TryUpdateAppliesValidPolygons(t *testing.T) {
	m := NewModel(square(0, 0, 0.5, 0.5), square(0.6, 0.6, 0.8, 0.8))

	ok, _ := m.TryUpdate(square(0.1, 0.1, 0.9, 0.9), square(0.6, 0.6, 0.8, 0.8))
	require.True(t, ok)

	c := m.Classify(geometry.Point{X: 0.05, Y: 0.05})
	assert.False(t, c.InGateArea, "point outside the new, larger polygon's old complement should still classify correctly")
	c = m.Classify(geometry.Point{X: 0.5, Y: 0.5})
	assert.True(t, c.InGateArea)
}
