// Command gatesupervisor runs one gate-security supervisor pipeline: it
// wires configuration, metrics, and sinks together and drives a single
// video stream end to end.
//
// No video decoder or detector model ships with this repo (§1
// non-goal) — in the absence of one, this entrypoint drives the
// pipeline with a small synthetic frame generator so the service is
// runnable standalone; point internal/framesource.Source at a real
// decoder/detector to replace it. Grounded on the teacher's
// cmd/server/main.go (linear component wiring, log.Fatalf on startup
// failure) and cmd/api/main.go (slog, signal-driven graceful shutdown,
// a dedicated http.Server for /metrics).
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ocx/gatesupervisor/internal/clock"
	"github.com/ocx/gatesupervisor/internal/config"
	"github.com/ocx/gatesupervisor/internal/framesource"
	"github.com/ocx/gatesupervisor/internal/geometry"
	"github.com/ocx/gatesupervisor/internal/infra"
	"github.com/ocx/gatesupervisor/internal/metrics"
	"github.com/ocx/gatesupervisor/internal/pipeline"
	"github.com/ocx/gatesupervisor/internal/sink"
	"github.com/ocx/gatesupervisor/internal/tracker"
)

func main() {
	streamID := flag.String("stream", "cam-1", "stream identifier used to label metrics and snapshots")
	metricsAddr := flag.String("metrics-addr", ":9090", "listen address for /metrics and /ws")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Info("gatesupervisor: no .env file found, continuing with process environment")
	}

	cfg := config.Get()
	mx := metrics.New()

	sinks := []sink.Sink{&slogSink{streamID: *streamID}}

	if cfg.Sink.RedisAddr != "" {
		adapter, err := infra.NewGoRedisAdapter(cfg.Sink.RedisAddr, "", 0)
		if err != nil {
			slog.Warn("gatesupervisor: redis unavailable, snapshots will not be published there", "addr", cfg.Sink.RedisAddr, "error", err)
		} else {
			channel := cfg.Sink.RedisChannelPrefix + *streamID
			sinks = append(sinks, sink.NewRedisSink(adapter, channel))
			slog.Info("gatesupervisor: redis sink wired", "addr", cfg.Sink.RedisAddr, "channel", channel)
		}
	}

	wsSink := newPendingWebSocketSink(mx, *streamID)
	sinks = append(sinks, wsSink)

	multi := sink.NewMultiSink(sinks...)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(mx.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/ws", wsSink.handleUpgrade)

	httpServer := &http.Server{
		Addr:         *metricsAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("gatesupervisor: http listener starting", "addr", *metricsAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("gatesupervisor: http listener failed: %v", err)
		}
	}()

	source := framesource.Source(newSyntheticSource())

	p := pipeline.New(*streamID, cfg, clock.RealClock{}, source, multi, mx)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("gatesupervisor: shutdown signal received")
		p.Stop()
		cancel()
	}()

	slog.Info("gatesupervisor: pipeline starting", "stream_id", *streamID)
	if err := p.Run(ctx); err != nil && err != context.Canceled {
		slog.Error("gatesupervisor: pipeline exited with error", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("gatesupervisor: http listener shutdown error", "error", err)
	}
	slog.Info("gatesupervisor: stopped")
}

// slogSink logs a one-line summary of every snapshot at Debug level, a
// sink that always exists so the pipeline has somewhere to publish
// even with no Redis/WebSocket observer configured.
type slogSink struct {
	streamID string
}

func (s *slogSink) Publish(_ context.Context, snap sink.Snapshot) error {
	slog.Debug("snapshot", "stream_id", s.streamID, "frame_id", snap.FrameID,
		"tracks", len(snap.Tracks), "tickets", len(snap.Tickets), "queue_len", snap.Stats.QueueLength)
	return nil
}

func (s *slogSink) Close() error { return nil }

// pendingWebSocketSink defers to an inner sink.WebSocketSink once a
// single observer connects over /ws, and drops every snapshot before
// that — the same newest-wins posture sink.WebSocketSink already
// applies to a slow reader, extended to cover "no reader yet".
type pendingWebSocketSink struct {
	mu       sync.Mutex
	inner    *sink.WebSocketSink
	upgrader websocket.Upgrader
	mx       *metrics.Metrics
	streamID string
}

func newPendingWebSocketSink(mx *metrics.Metrics, streamID string) *pendingWebSocketSink {
	return &pendingWebSocketSink{
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: func(*http.Request) bool { return true }},
		mx:       mx,
		streamID: streamID,
	}
}

func (p *pendingWebSocketSink) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("gatesupervisor: websocket upgrade failed", "error", err)
		return
	}

	p.mu.Lock()
	old := p.inner
	p.inner = sink.NewWebSocketSink(conn, func() { p.mx.RecordSnapshotDrop(p.streamID, "websocket") })
	p.mu.Unlock()

	if old != nil {
		old.Close()
	}
	slog.Info("gatesupervisor: websocket observer connected")
}

func (p *pendingWebSocketSink) Publish(ctx context.Context, snap sink.Snapshot) error {
	p.mu.Lock()
	inner := p.inner
	p.mu.Unlock()
	if inner == nil {
		return nil
	}
	return inner.Publish(ctx, snap)
}

func (p *pendingWebSocketSink) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inner == nil {
		return nil
	}
	return p.inner.Close()
}

// syntheticSource generates a plausible-looking stream of detections —
// a handful of people drifting around the frame and bouncing off its
// edges — standing in
// for a real decoder+detector (§1 non-goal). Grounded on the teacher's
// cmd/loadtest synthetic workload generator, adapted from transaction
// generation to frame generation.
type syntheticSource struct {
	rng      *rand.Rand
	frameID  uint64
	actors   []syntheticActor
	closed   bool
}

type syntheticActor struct {
	cx, cy float64 // normalized center
	vx, vy float64 // normalized velocity per frame
}

func newSyntheticSource() *syntheticSource {
	rng := rand.New(rand.NewSource(1))
	actors := make([]syntheticActor, 2+rng.Intn(3))
	for i := range actors {
		actors[i] = syntheticActor{
			cx: rng.Float64(),
			cy: rng.Float64(),
			vx: (rng.Float64() - 0.5) * 0.01,
			vy: (rng.Float64() - 0.5) * 0.01,
		}
	}
	return &syntheticSource{rng: rng, actors: actors}
}

const (
	synthFrameWidth  = 1280
	synthFrameHeight = 720
	synthHalfBox     = 30.0
)

func (s *syntheticSource) NextFrame() (framesource.Frame, error) {
	if s.closed {
		return framesource.Frame{}, framesource.ErrEndOfStream
	}
	s.frameID++

	dets := make([]tracker.Detection, 0, len(s.actors))
	for i := range s.actors {
		a := &s.actors[i]
		a.cx = clamp01(a.cx + a.vx)
		a.cy = clamp01(a.cy + a.vy)
		if a.cx <= 0 || a.cx >= 1 {
			a.vx = -a.vx
		}
		if a.cy <= 0 || a.cy >= 1 {
			a.vy = -a.vy
		}

		px, py := a.cx*synthFrameWidth, a.cy*synthFrameHeight
		dets = append(dets, tracker.Detection{
			ClassID:    0,
			Confidence: 0.6 + 0.4*s.rng.Float64(),
			BBoxPx: geometry.BBox{
				X1: math.Max(0, px-synthHalfBox), Y1: math.Max(0, py-synthHalfBox),
				X2: math.Min(synthFrameWidth, px+synthHalfBox), Y2: math.Min(synthFrameHeight, py+synthHalfBox),
			},
		})
	}

	time.Sleep(33 * time.Millisecond) // roughly 30fps pacing

	return framesource.Frame{
		FrameID:     s.frameID,
		MonotonicTS: time.Now(),
		Width:       synthFrameWidth,
		Height:      synthFrameHeight,
		Detections:  dets,
	}, nil
}

func (s *syntheticSource) Close() error {
	s.closed = true
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
