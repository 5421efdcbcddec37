// Package loopback is an in-process media engine. It synthesizes an H.264
// RTP feed for every configured stream and fans frames out to bound sinks, so
// the controller can run end to end without a real decoder pipeline.
package loopback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/rtp"

	"pip-controller/internal/pip"
)

var (
	ErrStreamNotFound = errors.New("stream_not_found")
	ErrNotBound       = errors.New("not_bound")
	ErrClosed         = errors.New("engine_closed")
)

const (
	payloadTypeH264 = 96
	clockRate       = 90000
)

// Config configures the engine. Streams lists the stream ids the engine can
// serve. Zero values fall back to 30 fps, a keyframe every 60 frames and no
// setup delay.
type Config struct {
	FrameRate        int
	KeyframeInterval int
	Streams          []pip.StreamID
	SetupDelay       time.Duration
	Logger           *slog.Logger
}

type feed struct {
	ssrc      uint32
	sequencer rtp.Sequencer
	frame     uint64
	sinks     map[pip.FrameSink]pip.RenderMode
}

// Engine implements pip.Engine. Every sink is fed by at most one stream.
type Engine struct {
	cfg Config
	log *slog.Logger

	mu        sync.RWMutex
	feeds     map[pip.StreamID]*feed
	owners    map[pip.FrameSink]pip.StreamID
	hwDecoder bool
	closed    bool

	quit    chan struct{}
	pending sync.WaitGroup
}

// New returns an engine serving cfg.Streams. Call Run to start the frame clock.
func New(cfg Config) *Engine {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 30
	}
	if cfg.KeyframeInterval <= 0 {
		cfg.KeyframeInterval = 60
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	e := &Engine{
		cfg:    cfg,
		log:    log.With("component", "loopback-engine"),
		feeds:  make(map[pip.StreamID]*feed, len(cfg.Streams)),
		owners: make(map[pip.FrameSink]pip.StreamID),
		quit:   make(chan struct{}),
	}
	for i, id := range cfg.Streams {
		e.feeds[id] = &feed{
			ssrc:      uint32(i + 1),
			sequencer: rtp.NewRandomSequencer(),
			sinks:     make(map[pip.FrameSink]pip.RenderMode),
		}
	}
	return e
}

// Bind implements pip.Engine. A sink already fed by another stream is moved to stream.
func (e *Engine) Bind(stream pip.StreamID, sink pip.FrameSink, mode pip.RenderMode, done func(error)) {
	e.async(done, func() error {
		f, ok := e.feeds[stream]
		if !ok {
			return ErrStreamNotFound
		}
		if prev, ok := e.owners[sink]; ok && prev != stream {
			delete(e.feeds[prev].sinks, sink)
		}
		e.owners[sink] = stream
		f.sinks[sink] = mode
		e.log.Debug("sink bound", "stream_id", string(stream), "mode", mode.String())
		return nil
	})
}

// Unbind implements pip.Engine. It is a no-op if stream no longer feeds sink.
func (e *Engine) Unbind(stream pip.StreamID, sink pip.FrameSink, done func(error)) {
	e.async(done, func() error {
		if _, ok := e.feeds[stream]; !ok {
			return ErrStreamNotFound
		}
		if e.owners[sink] != stream {
			e.log.Debug("unbind skipped, sink fed by another stream", "stream_id", string(stream))
			return nil
		}
		delete(e.owners, sink)
		delete(e.feeds[stream].sinks, sink)
		e.log.Debug("sink unbound", "stream_id", string(stream))
		return nil
	})
}

// SetRenderMode implements pip.Engine.
func (e *Engine) SetRenderMode(stream pip.StreamID, sink pip.FrameSink, mode pip.RenderMode, done func(error)) {
	e.async(done, func() error {
		f, ok := e.feeds[stream]
		if !ok {
			return ErrStreamNotFound
		}
		if _, ok := f.sinks[sink]; !ok {
			return ErrNotBound
		}
		f.sinks[sink] = mode
		e.log.Debug("render mode set", "stream_id", string(stream), "mode", mode.String())
		return nil
	})
}

// EnableHardwareDecoder implements pip.Engine.
func (e *Engine) EnableHardwareDecoder(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hwDecoder = enabled
	e.log.Info("hardware decoder", "enabled", enabled)
}

// HardwareDecoder reports the current decoder preference.
func (e *Engine) HardwareDecoder() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hwDecoder
}

// Sinks returns how many sinks stream currently feeds.
func (e *Engine) Sinks(stream pip.StreamID) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if f, ok := e.feeds[stream]; ok {
		return len(f.sinks)
	}
	return 0
}

// async applies fn under the write lock after the setup delay and reports
// its result to done from a separate goroutine.
func (e *Engine) async(done func(error), fn func() error) {
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		if e.cfg.SetupDelay > 0 {
			select {
			case <-time.After(e.cfg.SetupDelay):
			case <-e.quit:
			}
		}

		e.mu.Lock()
		var err error
		if e.closed {
			err = ErrClosed
		} else {
			err = fn()
		}
		e.mu.Unlock()

		if done != nil {
			done(err)
		}
	}()
}

// Run drives the frame clock until ctx is cancelled or the engine is closed.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(e.cfg.FrameRate))
	defer ticker.Stop()

	e.log.Info("frame clock started", "fps", e.cfg.FrameRate, "streams", len(e.feeds))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.quit:
			return nil
		case <-ticker.C:
			e.tick()
		}
	}
}

// tick emits one frame per stream to every sink that stream feeds.
func (e *Engine) tick() {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, f := range e.feeds {
		if len(f.sinks) == 0 {
			continue
		}
		pkt := e.nextFrame(f)
		for sink := range f.sinks {
			sink.Deliver(pkt)
		}
	}
}

// nextFrame builds the next access unit for f. Only Run's goroutine calls it,
// so the per-feed counters need no lock of their own.
func (e *Engine) nextFrame(f *feed) *rtp.Packet {
	n := f.frame
	f.frame++

	nal := byte(0x41) // non-IDR slice
	if n%uint64(e.cfg.KeyframeInterval) == 0 {
		nal = 0x65 // IDR slice
	}
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         true,
			PayloadType:    payloadTypeH264,
			SequenceNumber: f.sequencer.NextSequenceNumber(),
			Timestamp:      uint32(n * clockRate / uint64(e.cfg.FrameRate)),
			SSRC:           f.ssrc,
		},
		Payload: []byte{nal, 0x88, 0x84, 0x00},
	}
}

// Close stops the frame clock and fails requests that have not run yet.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.quit)
	e.mu.Unlock()
	e.pending.Wait()
}
