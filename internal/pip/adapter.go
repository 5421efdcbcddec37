package pip

import (
	"log/slog"
	"sync"

	"pip-controller/internal/platform/metrics"
	"pip-controller/internal/surface"
)

// Completion is the settled outcome of an adapter request.
type Completion struct {
	Token uint64
	Err   error
}

type opKind int

const (
	opBind opKind = iota
	opUnbind
	opSetRenderMode
)

func (k opKind) String() string {
	switch k {
	case opBind:
		return "bind"
	case opUnbind:
		return "unbind"
	case opSetRenderMode:
		return "set_render_mode"
	default:
		return "unknown"
	}
}

type pipelineOp struct {
	kind    opKind
	key     BindingKey
	surface *surface.Surface
	mode    RenderMode
	token   uint64
	done    func(Completion)
}

// lane serializes engine calls for one stream id.
type lane struct {
	seq      uint64
	inflight *pipelineOp
	pending  []*pipelineOp
}

// Adapter is the facade the controller uses to drive the media engine.
//
// Requests for the same stream id are issued one at a time. A request for a
// binding key replaces any request for that key and surface still waiting in
// the lane, and a completion reaches its callback only if its token is still
// the latest one issued for the key. Requests for a surface that was replaced
// under the same key are still issued, so a discarded surface is always
// unbound. Callbacks run through dispatch, normally Loop.Post.
type Adapter struct {
	engine   Engine
	dispatch func(func())
	log      *slog.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	lanes  map[StreamID]*lane
	latest map[BindingKey]uint64
}

// NewAdapter returns an adapter over engine. If log is nil, slog.Default() is used.
func NewAdapter(engine Engine, dispatch func(func()), log *slog.Logger, m *metrics.Metrics) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		engine:   engine,
		dispatch: dispatch,
		log:      log.With("component", "pipeline-adapter"),
		metrics:  m,
		lanes:    make(map[StreamID]*lane),
		latest:   make(map[BindingKey]uint64),
	}
}

// Bind attaches key's stream to s in the given mode. On success a fresh layer
// for the mode is attached to s before done runs.
func (a *Adapter) Bind(key BindingKey, s *surface.Surface, mode RenderMode, done func(Completion)) uint64 {
	return a.submit(&pipelineOp{kind: opBind, key: key, surface: s, mode: mode, done: done})
}

// Unbind stops delivering key's stream to s. The surface itself is left to the caller.
func (a *Adapter) Unbind(key BindingKey, s *surface.Surface, done func(Completion)) uint64 {
	return a.submit(&pipelineOp{kind: opUnbind, key: key, surface: s, done: done})
}

// SetRenderMode switches an existing binding between platform decode and custom rendering.
func (a *Adapter) SetRenderMode(key BindingKey, s *surface.Surface, mode RenderMode, done func(Completion)) uint64 {
	return a.submit(&pipelineOp{kind: opSetRenderMode, key: key, surface: s, mode: mode, done: done})
}

// EnableHardwareDecoder forwards the decoder preference to the engine.
func (a *Adapter) EnableHardwareDecoder(enabled bool) {
	a.engine.EnableHardwareDecoder(enabled)
}

// Latest returns the most recent token issued for key, or 0.
func (a *Adapter) Latest(key BindingKey) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latest[key]
}

func (a *Adapter) submit(op *pipelineOp) uint64 {
	a.mu.Lock()
	l, ok := a.lanes[op.key.Stream]
	if !ok {
		l = &lane{}
		a.lanes[op.key.Stream] = l
	}
	l.seq++
	op.token = l.seq
	a.latest[op.key] = op.token

	kept := l.pending[:0]
	for _, p := range l.pending {
		if p.key == op.key && p.surface == op.surface {
			a.log.Debug("request superseded before issue",
				"stream_id", string(p.key.Stream), "target", p.key.Target.String(),
				"surface", p.surface.Name(), "op", p.kind.String(), "token", p.token)
			a.metrics.IncSupersededOps()
			continue
		}
		kept = append(kept, p)
	}
	for i := len(kept); i < len(l.pending); i++ {
		l.pending[i] = nil
	}
	l.pending = kept

	if l.inflight != nil {
		l.pending = append(l.pending, op)
		a.mu.Unlock()
		return op.token
	}
	l.inflight = op
	a.mu.Unlock()

	a.issue(op)
	return op.token
}

func (a *Adapter) issue(op *pipelineOp) {
	a.log.Debug("issuing request",
		"stream_id", string(op.key.Stream), "target", op.key.Target.String(),
		"surface", op.surface.Name(), "op", op.kind.String(), "mode", op.mode.String(), "token", op.token)

	settle := func(err error) { a.settle(op, err) }
	switch op.kind {
	case opBind:
		a.engine.Bind(op.key.Stream, op.surface, op.mode, settle)
	case opUnbind:
		a.engine.Unbind(op.key.Stream, op.surface, settle)
	case opSetRenderMode:
		a.engine.SetRenderMode(op.key.Stream, op.surface, op.mode, settle)
	}
}

func (a *Adapter) settle(op *pipelineOp, err error) {
	a.mu.Lock()
	current := a.latest[op.key] == op.token
	if current && err == nil && op.kind != opUnbind {
		op.surface.Attach(surface.NewLayer(op.mode.layerKind()))
	}

	var next *pipelineOp
	if l := a.lanes[op.key.Stream]; l != nil && l.inflight == op {
		l.inflight = nil
		if len(l.pending) > 0 {
			next = l.pending[0]
			l.pending[0] = nil
			l.pending = l.pending[1:]
			l.inflight = next
		}
	}
	a.mu.Unlock()

	if next != nil {
		a.issue(next)
	}

	if !current {
		a.log.Debug("dropping stale completion",
			"stream_id", string(op.key.Stream), "target", op.key.Target.String(),
			"op", op.kind.String(), "token", op.token)
		a.metrics.IncStaleCompletions()
		return
	}
	if op.done == nil {
		return
	}
	res := Completion{Token: op.token, Err: err}
	a.dispatch(func() { op.done(res) })
}
