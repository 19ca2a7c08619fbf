// Package framesource defines the §6.1 boundary between the pipeline and
// whatever drives it with frames: a live video decoder plus detector in
// production, a scripted fake in tests. The core never sees pixels — only
// detections already reduced to class, confidence, and a pixel bbox.
//
// Grounded on the teacher's cmd/probe SandboxExecutor/MockSandbox pattern: a
// one-method interface with a trivial in-memory mock standing in for a
// component (there, a gVisor sandbox; here, a video decoder+detector) that
// is explicitly out of scope to implement for real.
package framesource

import (
	"errors"
	"sync"
	"time"

	"github.com/ocx/gatesupervisor/internal/tracker"
)

// ErrEndOfStream is returned by NextFrame once the source is exhausted.
var ErrEndOfStream = errors.New("framesource: end of stream")

// Frame is one decoded video frame reduced to what the core needs: frame
// identity, dimensions for normalizing pixel boxes, and the detector's
// output for this frame. FrameHandle is an opaque reference (e.g. a
// storage key for the raw image) forwarded untouched into snapshots for
// downstream rendering; the core never dereferences it.
type Frame struct {
	FrameID     uint64
	MonotonicTS time.Time
	Width       int
	Height      int
	Detections  []tracker.Detection
	FrameHandle string
}

// Source produces frames on demand. NextFrame blocks until a frame is
// available, the source is closed, or ctx-equivalent cancellation occurs
// via Close from another goroutine — callers should treat ErrEndOfStream
// as a clean shutdown, any other error as a failure.
type Source interface {
	NextFrame() (Frame, error)
	Close() error
}

// FakeSource replays a fixed slice of frames, one per NextFrame call, for
// tests and local demos. It never blocks.
type FakeSource struct {
	mu     sync.Mutex
	frames []Frame
	pos    int
	closed bool
}

// NewFakeSource builds a FakeSource that replays frames in order, then
// returns ErrEndOfStream forever.
func NewFakeSource(frames []Frame) *FakeSource {
	return &FakeSource{frames: frames}
}

func (f *FakeSource) NextFrame() (Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return Frame{}, ErrEndOfStream
	}
	if f.pos >= len(f.frames) {
		return Frame{}, ErrEndOfStream
	}
	frame := f.frames[f.pos]
	f.pos++
	return frame, nil
}

func (f *FakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Remaining reports how many frames have not yet been replayed, mainly
// for test assertions.
func (f *FakeSource) Remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pos >= len(f.frames) {
		return 0
	}
	return len(f.frames) - f.pos
}
