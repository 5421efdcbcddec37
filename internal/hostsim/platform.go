// Package hostsim simulates the host's PIP capability and audio session so the
// controller can be driven headless. Callbacks run on their own goroutines,
// like a real platform's completion handlers.
package hostsim

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"pip-controller/internal/pip"
	"pip-controller/internal/surface"
)

// Config configures the simulated platform. StartDelay is how long the
// window takes to appear; a non-empty FailStart makes every Start fail with
// that reason.
type Config struct {
	Supported  bool
	StartDelay time.Duration
	FailStart  string
	Logger     *slog.Logger
}

// Platform implements pip.Platform.
type Platform struct {
	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	handlers  map[pip.PlatformEvent]map[int]func(pip.PlatformNotice)
	next      int
	visible   bool
	autoStart bool
	aspect    pip.AspectRatio
	surface   *surface.Surface

	wg sync.WaitGroup
}

// NewPlatform returns a simulated platform with no window shown.
func NewPlatform(cfg Config) *Platform {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Platform{
		cfg:      cfg,
		log:      log.With("component", "host-platform"),
		handlers: make(map[pip.PlatformEvent]map[int]func(pip.PlatformNotice)),
		aspect:   pip.DefaultAspectRatio,
	}
}

// IsSupported implements pip.Platform.
func (p *Platform) IsSupported() bool { return p.cfg.Supported }

// Start implements pip.Platform.
func (p *Platform) Start(req pip.StartRequest, done func(error)) {
	p.goAsync(func() {
		p.emit(pip.PlatformWillStart, "")
		if p.cfg.StartDelay > 0 {
			time.Sleep(p.cfg.StartDelay)
		}
		if reason := p.cfg.FailStart; reason != "" {
			p.log.Warn("window failed to start", "reason", reason)
			done(errors.New(reason))
			p.emit(pip.PlatformFailedToStart, reason)
			return
		}

		p.mu.Lock()
		p.visible = true
		p.surface = req.Surface
		p.aspect = req.Aspect
		p.mu.Unlock()

		p.log.Info("window shown", "aspect_width", req.Aspect.Width, "aspect_height", req.Aspect.Height)
		done(nil)
		p.emit(pip.PlatformDidStart, "")
	})
}

// Stop implements pip.Platform.
func (p *Platform) Stop(done func()) {
	p.goAsync(func() {
		p.emit(pip.PlatformWillStop, "")
		p.hide()
		done()
		p.emit(pip.PlatformDidStop, "")
	})
}

// Dismiss simulates the user closing the floating window. It does nothing if
// no window is shown.
func (p *Platform) Dismiss() {
	p.mu.Lock()
	visible := p.visible
	p.mu.Unlock()
	if !visible {
		return
	}
	p.goAsync(func() {
		p.emit(pip.PlatformWillStop, "")
		p.hide()
		p.emit(pip.PlatformDidStop, "")
	})
}

func (p *Platform) hide() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visible = false
	p.surface = nil
	p.log.Info("window hidden")
}

// SetAutoStart implements pip.Platform.
func (p *Platform) SetAutoStart(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.autoStart = enabled
}

// SetAspectRatio implements pip.Platform.
func (p *Platform) SetAspectRatio(a pip.AspectRatio) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.aspect = a
}

// Subscribe implements pip.Platform.
func (p *Platform) Subscribe(event pip.PlatformEvent, handler func(pip.PlatformNotice)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handlers[event] == nil {
		p.handlers[event] = make(map[int]func(pip.PlatformNotice))
	}
	id := p.next
	p.next++
	p.handlers[event][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.handlers[event], id)
		})
	}
}

// State reports whether the window is shown, the auto-start flag and the
// current aspect ratio.
func (p *Platform) State() (visible, autoStart bool, aspect pip.AspectRatio) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible, p.autoStart, p.aspect
}

// Surface returns the surface shown in the window, or nil.
func (p *Platform) Surface() *surface.Surface {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.surface
}

// Wait blocks until every pending callback has run.
func (p *Platform) Wait() {
	p.wg.Wait()
}

func (p *Platform) goAsync(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

func (p *Platform) emit(event pip.PlatformEvent, reason string) {
	p.mu.Lock()
	hs := make([]func(pip.PlatformNotice), 0, len(p.handlers[event]))
	for _, h := range p.handlers[event] {
		hs = append(hs, h)
	}
	p.mu.Unlock()

	n := pip.PlatformNotice{Event: event, Reason: reason}
	for _, h := range hs {
		h(n)
	}
}
