package pip

import (
	"io"
	"log/slog"
	"sync"
	"testing"
)

type engineCall struct {
	kind   opKind
	stream StreamID
	sink   FrameSink
	mode   RenderMode
	done   func(error)

	completed bool
}

// complete settles the call once; a second call is a test bug.
func (c *engineCall) complete(t *testing.T, err error) {
	t.Helper()
	if c.completed {
		t.Fatalf("%s %s completed twice", c.kind, c.stream)
	}
	c.completed = true
	c.done(err)
}

// fakeEngine records calls and leaves them pending until the test completes them.
type fakeEngine struct {
	mu        sync.Mutex
	calls     []*engineCall
	hwDecoder []bool
}

func (e *fakeEngine) record(c *engineCall) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, c)
}

func (e *fakeEngine) Bind(stream StreamID, sink FrameSink, mode RenderMode, done func(error)) {
	e.record(&engineCall{kind: opBind, stream: stream, sink: sink, mode: mode, done: done})
}

func (e *fakeEngine) Unbind(stream StreamID, sink FrameSink, done func(error)) {
	e.record(&engineCall{kind: opUnbind, stream: stream, sink: sink, done: done})
}

func (e *fakeEngine) SetRenderMode(stream StreamID, sink FrameSink, mode RenderMode, done func(error)) {
	e.record(&engineCall{kind: opSetRenderMode, stream: stream, sink: sink, mode: mode, done: done})
}

func (e *fakeEngine) EnableHardwareDecoder(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hwDecoder = append(e.hwDecoder, enabled)
}

func (e *fakeEngine) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *fakeEngine) call(t *testing.T, i int) *engineCall {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	if i >= len(e.calls) {
		t.Fatalf("expected engine call #%d, only %d issued", i, len(e.calls))
	}
	return e.calls[i]
}

// pending returns the calls not completed yet, oldest first.
func (e *fakeEngine) pending() []*engineCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*engineCall
	for _, c := range e.calls {
		if !c.completed {
			out = append(out, c)
		}
	}
	return out
}

type fakePlatform struct {
	mu          sync.Mutex
	unsupported bool
	handlers    map[PlatformEvent]map[int]func(PlatformNotice)
	next        int
	starts      []StartRequest
	startDone   []func(error)
	stops       int
	autoStart   bool
	aspect      AspectRatio
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{handlers: make(map[PlatformEvent]map[int]func(PlatformNotice))}
}

func (p *fakePlatform) IsSupported() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.unsupported
}

func (p *fakePlatform) Start(req StartRequest, done func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts = append(p.starts, req)
	p.startDone = append(p.startDone, done)
}

func (p *fakePlatform) Stop(done func()) {
	p.mu.Lock()
	p.stops++
	p.mu.Unlock()
	done()
}

func (p *fakePlatform) SetAutoStart(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.autoStart = enabled
}

func (p *fakePlatform) SetAspectRatio(a AspectRatio) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.aspect = a
}

func (p *fakePlatform) Subscribe(event PlatformEvent, handler func(PlatformNotice)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handlers[event] == nil {
		p.handlers[event] = make(map[int]func(PlatformNotice))
	}
	id := p.next
	p.next++
	p.handlers[event][id] = handler
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.handlers[event], id)
	}
}

func (p *fakePlatform) emit(event PlatformEvent, reason string) {
	p.mu.Lock()
	var hs []func(PlatformNotice)
	for _, h := range p.handlers[event] {
		hs = append(hs, h)
	}
	p.mu.Unlock()
	for _, h := range hs {
		h(PlatformNotice{Event: event, Reason: reason})
	}
}

func (p *fakePlatform) snapshot() (starts, stops int, aspect AspectRatio, autoStart bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.starts), p.stops, p.aspect, p.autoStart
}

type fakeAudio struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (a *fakeAudio) ConfigureForPlaybackAndPIP() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.err
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) of(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	ctrl     *Controller
	engine   *fakeEngine
	platform *fakePlatform
	audio    *fakeAudio
	events   *eventRecorder
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	env := &testEnv{
		engine:   &fakeEngine{},
		platform: newFakePlatform(),
		audio:    &fakeAudio{},
		events:   &eventRecorder{},
	}
	env.ctrl = NewController(Config{
		Engine:   env.engine,
		Platform: env.platform,
		Audio:    env.audio,
		Notifier: env.events,
		Logger:   discardLogger(),
		Options:  opts,
	})
	t.Cleanup(env.ctrl.Close)
	return env
}

// state reads the session and the in-PIP query in one loop turn.
func (e *testEnv) state() (Session, bool) {
	var (
		s     Session
		inPIP bool
	)
	e.ctrl.loop.Do(func() {
		s = e.ctrl.session
		inPIP = e.ctrl.session.State == StateActive
	})
	return s, inPIP
}

// activate drives a fresh session for id to Active.
func (e *testEnv) activate(t *testing.T, id StreamID) {
	t.Helper()
	n := e.engine.count()
	if err := e.ctrl.EnablePIP(id); err != nil {
		t.Fatalf("EnablePIP(%s): %v", id, err)
	}
	e.engine.call(t, n).complete(t, nil)
	if !e.ctrl.IsInPIP() {
		t.Fatalf("expected Active after bind of %s", id)
	}
}

// settle waits for completions already posted to the loop.
func (e *testEnv) settle() {
	e.ctrl.loop.Do(func() {})
}
