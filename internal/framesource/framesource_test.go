package framesource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeSource_RepliesFramesInOrderThenEndOfStream(t *testing.T) {
	now := time.Now()
	src := NewFakeSource([]Frame{
		{FrameID: 1, MonotonicTS: now},
		{FrameID: 2, MonotonicTS: now.Add(time.Second)},
	})

	f1, err := src.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f1.FrameID)
	assert.Equal(t, 1, src.Remaining())

	f2, err := src.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f2.FrameID)
	assert.Equal(t, 0, src.Remaining())

	_, err = src.NextFrame()
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestFakeSource_CloseEndsStreamEarly(t *testing.T) {
	src := NewFakeSource([]Frame{{FrameID: 1}, {FrameID: 2}})
	require.NoError(t, src.Close())

	_, err := src.NextFrame()
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestFakeSource_EmptySourceIsImmediatelyExhausted(t *testing.T) {
	src := NewFakeSource(nil)
	_, err := src.NextFrame()
	assert.ErrorIs(t, err, ErrEndOfStream)
	assert.Equal(t, 0, src.Remaining())
}
