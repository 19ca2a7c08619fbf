package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ocx/gatesupervisor/internal/geometry"
)

func TestSmoother_PassesThroughBeforeWindowFills(t *testing.T) {
	s := NewSmoother(5)
	out := s.Push(geometry.Point{X: 1, Y: 1})
	assert.Equal(t, geometry.Point{X: 1, Y: 1}, out)
}

func TestSmoother_MeansOnceFilled(t *testing.T) {
	s := NewSmoother(3)
	s.Push(geometry.Point{X: 0, Y: 0})
	s.Push(geometry.Point{X: 3, Y: 0})
	out := s.Push(geometry.Point{X: 6, Y: 0})
	assert.InDelta(t, 3.0, out.X, 1e-9)
}

func TestSmoother_SlidesWindow(t *testing.T) {
	s := NewSmoother(2)
	s.Push(geometry.Point{X: 0, Y: 0})
	s.Push(geometry.Point{X: 10, Y: 0})
	out := s.Push(geometry.Point{X: 20, Y: 0})
	// window of 2: last two samples are 10 and 20
	assert.InDelta(t, 15.0, out.X, 1e-9)
}
