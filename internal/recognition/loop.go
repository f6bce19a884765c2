// Package recognition runs the periodic sample → detect → match → mark cycle.
package recognition

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"classmark/internal/engine"
	"classmark/internal/faceclient"
	"classmark/internal/metrics"
	"classmark/internal/session"
)

// DefaultInterval is the frame sampling period.
const DefaultInterval = time.Second

// ErrNotPermitted means the session gate has not cleared this device to run
// recognition.
var ErrNotPermitted = errors.New("recognition not permitted, scan a session first")

// FrameSource yields video frames. NextFrame blocks until a frame is
// available or the context ends.
type FrameSource interface {
	NextFrame(ctx context.Context) ([]byte, error)
}

// Loop drives recognition while a valid session is active.
type Loop struct {
	face     *faceclient.Client
	eng      *engine.Engine
	gate     *session.Gate
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// NewLoop wires the loop to its collaborators.
func NewLoop(face *faceclient.Client, eng *engine.Engine, gate *session.Gate, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Loop{face: face, eng: eng, gate: gate, interval: interval}
}

// Running reports whether the loop is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Start begins sampling frames from src. Refused while the gate does not
// permit recognition.
func (l *Loop) Start(ctx context.Context, src FrameSource) error {
	if !l.gate.Permitted() {
		return ErrNotPermitted
	}
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.running = true
	l.mu.Unlock()

	go l.run(runCtx, src)
	return nil
}

// Stop cancels the recurring sampling. Safe to call when not running.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.running = false
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (l *Loop) run(ctx context.Context, src FrameSource) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !l.gate.Permitted() {
			log.Printf("recognition: session no longer valid, stopping")
			l.Stop()
			return
		}
		frame, err := src.NextFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("recognition: frame acquisition failed: %v", err)
			continue
		}
		if _, err := l.ProcessFrame(ctx, frame); err != nil {
			// A rejected mark attempt is a hard stop: the camera must not
			// keep running against an invalid target.
			log.Printf("recognition: mark rejected, stopping: %v", err)
			l.Stop()
			return
		}
	}
}

// ProcessFrame runs one detect-and-mark cycle. Per-frame model failures are
// non-fatal and yield no results; a validation failure on the mark path is
// returned and should stop the loop.
func (l *Loop) ProcessFrame(ctx context.Context, frame []byte) ([]engine.MarkResult, error) {
	if !l.gate.Permitted() {
		return nil, ErrNotPermitted
	}
	metrics.FramesProcessed.Inc()
	detections, err := l.face.DetectAll(ctx, frame)
	if err != nil {
		log.Printf("recognition: detection failed: %v", err)
		return nil, nil
	}
	var results []engine.MarkResult
	for _, det := range detections {
		res, err := l.eng.Recognize(ctx, det.Descriptor)
		if err != nil {
			return results, err
		}
		if res != nil {
			results = append(results, *res)
		}
	}
	return results, nil
}

// ChannelSource adapts pushed frames (device uploads) to a FrameSource.
type ChannelSource struct {
	ch chan []byte
}

// NewChannelSource creates a bounded source; Offer drops frames when full.
func NewChannelSource(size int) *ChannelSource {
	if size <= 0 {
		size = 4
	}
	return &ChannelSource{ch: make(chan []byte, size)}
}

// Offer hands a frame to the loop, reporting false when the buffer is full.
func (s *ChannelSource) Offer(frame []byte) bool {
	select {
	case s.ch <- frame:
		return true
	default:
		return false
	}
}

// NextFrame blocks until a frame arrives.
func (s *ChannelSource) NextFrame(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-s.ch:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
