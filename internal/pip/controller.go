// Package pip owns the picture-in-picture session: the state machine that
// decides when entering and leaving PIP is legal, the binding of streams to
// the floating surface, and the normal playback bindings that run alongside it.
package pip

import (
	"fmt"
	"log/slog"
	"time"

	"pip-controller/internal/platform/metrics"
	"pip-controller/internal/surface"
)

// Options seeds the session at construction. Source is stored for the next
// EnablePIP or auto-PIP start.
type Options struct {
	Source          StreamID
	AutoPIP         bool
	Aspect          AspectRatio
	HardwareDecoder bool
	CustomRender    bool
}

// Config wires a Controller to its collaborators. Engine and Platform are required.
type Config struct {
	Engine   Engine
	Platform Platform
	Audio    AudioSession
	Notifier Notifier
	Store    Store
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Options  Options
}

// pipOp is the single in-flight operation on the PIP surface. displaced is
// set on an unbind that cancels a bind which may already have moved the
// surface off the bound stream.
type pipOp struct {
	kind      opKind
	stream    StreamID
	mode      RenderMode
	token     uint64
	displaced StreamID
}

// Controller is the PIP session state machine. Every command is executed on
// the controller's owner loop; the exported methods block until it has run.
//
// Only one operation on the PIP surface is in flight at a time. Commands update
// the desired (target, targetMode); reconcile issues whatever operation moves
// (bound, boundMode) towards it once the previous one has settled.
type Controller struct {
	loop        *Loop
	adapter     *Adapter
	platform    Platform
	audio       AudioSession
	notifier    Notifier
	bindings    Store
	log         *slog.Logger
	metrics     *metrics.Metrics
	unsubscribe []func()

	pipSurface     *surface.Surface
	session        Session
	audioAttempted bool

	target     StreamID
	targetMode RenderMode
	bound      StreamID
	boundMode  RenderMode
	inflight   *pipOp

	platformSeq   uint64
	platformShown bool
	expectedStops int
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}

// NewController builds a controller and starts its owner loop. Call Close to stop it.
func NewController(cfg Config) *Controller {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	store := cfg.Store
	if store == nil {
		store = NewInMemoryStore()
	}

	opts := cfg.Options
	if !opts.Aspect.Valid() {
		opts.Aspect = DefaultAspectRatio
	}
	if opts.CustomRender {
		opts.HardwareDecoder = false
	}

	loop := NewLoop()
	go loop.Run()

	c := &Controller{
		loop:       loop,
		platform:   cfg.Platform,
		audio:      cfg.Audio,
		notifier:   notifier,
		bindings:   store,
		log:        log.With("component", "pip-controller"),
		metrics:    cfg.Metrics,
		pipSurface: surface.New("pip"),
		session: Session{
			State:                  StateIdle,
			Source:                 opts.Source,
			AutoPIPEnabled:         opts.AutoPIP,
			AspectRatio:            opts.Aspect,
			HardwareDecoderEnabled: opts.HardwareDecoder,
			CustomRenderEnabled:    opts.CustomRender,
		},
	}
	c.adapter = NewAdapter(cfg.Engine, func(fn func()) { loop.Post(fn) }, log, cfg.Metrics)

	for _, ev := range PlatformEvents {
		cancel := c.platform.Subscribe(ev, func(n PlatformNotice) {
			loop.Post(func() { c.handlePlatform(n) })
		})
		c.unsubscribe = append(c.unsubscribe, cancel)
	}
	c.platform.SetAutoStart(opts.AutoPIP)
	c.adapter.EnableHardwareDecoder(opts.HardwareDecoder)
	c.metrics.SetInPIP(false)

	return c
}

// Close unsubscribes from the platform and stops the owner loop.
func (c *Controller) Close() {
	c.loop.Do(func() {
		for _, cancel := range c.unsubscribe {
			cancel()
		}
		c.unsubscribe = nil
	})
	c.loop.Close()
}

// EnablePIP starts PIP for id, or switches the running session to id.
// Activation is reported asynchronously through the notifier.
func (c *Controller) EnablePIP(id StreamID) error {
	err := ErrControllerClosed
	c.loop.Do(func() { err = c.enablePIP(id) })
	return err
}

// StopPIP ends the session. Stopping an idle session is a no-op.
func (c *Controller) StopPIP() error {
	if !c.loop.Do(c.stopPIP) {
		return ErrControllerClosed
	}
	return nil
}

// IsInPIP reports whether the session is Active.
func (c *Controller) IsInPIP() bool {
	var active bool
	c.loop.Do(func() { active = c.session.State == StateActive })
	return active
}

// UpdatePIPSource switches the live session to id, or stores id for the next
// EnablePIP when no session is running.
func (c *Controller) UpdatePIPSource(id StreamID) error {
	err := ErrControllerClosed
	c.loop.Do(func() { err = c.updatePIPSource(id) })
	return err
}

// EnableAutoPIP sets the auto-PIP flag. It never starts or stops a session itself.
func (c *Controller) EnableAutoPIP(enabled bool) {
	c.loop.Do(func() {
		c.session.AutoPIPEnabled = enabled
		c.platform.SetAutoStart(enabled)
		c.log.Info("auto pip updated", "enabled", enabled)
	})
}

// UpdatePIPAspectSize sets the preferred window aspect ratio. Non-positive
// sizes are rejected and leave the previous ratio in place.
func (c *Controller) UpdatePIPAspectSize(width, height float64) error {
	err := ErrControllerClosed
	c.loop.Do(func() { err = c.updateAspect(AspectRatio{Width: width, Height: height}) })
	return err
}

// EnableHardwareDecoder toggles platform hardware decoding. Enabling it
// disables custom rendering.
func (c *Controller) EnableHardwareDecoder(enabled bool) {
	c.loop.Do(func() {
		c.session.HardwareDecoderEnabled = enabled
		if enabled {
			c.session.CustomRenderEnabled = false
		}
		c.adapter.EnableHardwareDecoder(enabled)
		c.applyRenderMode()
	})
}

// EnableCustomVideoRender toggles custom rendering. Enabling it disables the
// hardware decoder.
func (c *Controller) EnableCustomVideoRender(enabled bool) {
	c.loop.Do(func() {
		c.session.CustomRenderEnabled = enabled
		if enabled && c.session.HardwareDecoderEnabled {
			c.session.HardwareDecoderEnabled = false
			c.adapter.EnableHardwareDecoder(false)
		}
		c.applyRenderMode()
	})
}

// EnterBackground is called when the host app leaves the foreground. With
// auto-PIP enabled and a configured source it starts PIP for that source.
func (c *Controller) EnterBackground() error {
	err := ErrControllerClosed
	c.loop.Do(func() {
		err = nil
		s := c.session
		if !s.AutoPIPEnabled || s.State != StateIdle || s.Source == "" {
			c.log.Debug("background without auto pip",
				"auto_pip", s.AutoPIPEnabled, "state", s.State.String(), "source", string(s.Source))
			return
		}
		err = c.enablePIP(s.Source)
	})
	return err
}

// Snapshot returns a copy of the session.
func (c *Controller) Snapshot() Session {
	var s Session
	c.loop.Do(func() { s = c.session })
	return s
}

// PIPSurface returns the floating window's display surface.
func (c *Controller) PIPSurface() *surface.Surface {
	return c.pipSurface
}

func (c *Controller) enablePIP(id StreamID) error {
	if id == "" {
		c.log.Warn("enable pip rejected", "error", "empty stream id")
		return fmt.Errorf("%w: empty stream id", ErrInvalidArgument)
	}
	if !c.platform.IsSupported() {
		c.log.Warn("enable pip rejected", "stream_id", string(id), "error", ErrUnsupportedPlatform)
		return ErrUnsupportedPlatform
	}

	switch c.session.State {
	case StateStopping:
		c.log.Info("enable pip rejected", "stream_id", string(id), "error", ErrStopInProgress)
		return ErrStopInProgress
	case StateStarting, StateActive:
		c.session.Source = id
		c.retarget(id)
		return nil
	}

	c.configureAudio()
	c.session.Source = id
	c.session.State = StateStarting
	c.target = id
	c.targetMode = c.renderMode()
	c.log.Info("pip starting", "stream_id", string(id), "mode", c.targetMode.String())
	c.notify(EventPIPStarting, id, "")
	c.reconcile()
	return nil
}

func (c *Controller) updatePIPSource(id StreamID) error {
	if id == "" {
		c.log.Warn("pip source update rejected", "error", "empty stream id")
		return fmt.Errorf("%w: empty stream id", ErrInvalidArgument)
	}
	c.session.Source = id
	switch c.session.State {
	case StateStarting, StateActive:
		c.retarget(id)
	default:
		c.log.Debug("pip source stored for next enable", "stream_id", string(id))
	}
	return nil
}

// retarget points a starting or active session at id without leaving its state.
func (c *Controller) retarget(id StreamID) {
	if id == c.target {
		return
	}
	c.log.Info("pip source switching", "from", string(c.target), "to", string(id))
	c.target = id
	c.reconcile()
}

func (c *Controller) stopPIP() {
	switch c.session.State {
	case StateIdle, StateStopping:
		c.log.Debug("stop pip ignored", "state", c.session.State.String())
	case StateStarting:
		stream := c.target
		c.log.Info("pip start cancelled", "stream_id", string(stream))
		c.session.State = StateIdle
		c.session.ActiveStreamID = ""
		c.target = ""
		c.cancelInflight()
		c.notify(EventPIPStopped, stream, "cancelled")
		c.reconcile()
	case StateActive:
		c.beginStop(true, "")
	}
}

func (c *Controller) beginStop(stopPlatform bool, reason string) {
	stream := c.session.ActiveStreamID
	c.log.Info("pip stopping", "stream_id", string(stream), "reason", reason)
	c.session.State = StateStopping
	c.target = ""
	c.metrics.SetInPIP(false)
	if stopPlatform {
		c.expectedStops++
		c.platform.Stop(func() {
			c.loop.Post(func() { c.log.Debug("platform window closed") })
		})
	}
	c.notify(EventPIPStopping, stream, reason)
	c.cancelInflight()
	c.reconcile()
}

func (c *Controller) finishStop() {
	stream := c.session.ActiveStreamID
	c.session.State = StateIdle
	c.session.ActiveStreamID = ""
	c.pipSurface.Detach()
	c.log.Info("pip stopped", "stream_id", string(stream))
	c.notify(EventPIPStopped, stream, "")
}

func (c *Controller) activate() {
	c.session.State = StateActive
	c.session.ActiveStreamID = c.bound
	c.metrics.SetInPIP(true)
	c.metrics.IncPIPStarts()
	c.log.Info("pip active", "stream_id", string(c.bound), "mode", c.boundMode.String())
	c.notify(EventPIPStarted, c.bound, "")

	c.platformSeq++
	c.platformShown = false
	seq := c.platformSeq
	c.platform.Start(StartRequest{
		Surface:   c.pipSurface,
		Aspect:    c.session.AspectRatio,
		AutoStart: c.session.AutoPIPEnabled,
	}, func(err error) {
		c.loop.Post(func() { c.onPlatformStarted(seq, err) })
	})
}

// reconcile issues the next PIP surface operation, if one is needed and none is in flight.
func (c *Controller) reconcile() {
	if c.inflight != nil {
		return
	}
	switch c.session.State {
	case StateIdle:
		if c.bound != "" {
			c.issue(opUnbind, c.bound, c.boundMode)
			return
		}
		c.pipSurface.Detach()
	case StateStarting, StateActive:
		switch {
		case c.bound != c.target:
			c.issue(opBind, c.target, c.targetMode)
		case c.boundMode != c.targetMode:
			c.issue(opSetRenderMode, c.target, c.targetMode)
		case c.session.State == StateStarting:
			c.activate()
		}
	case StateStopping:
		if c.bound != "" {
			c.issue(opUnbind, c.bound, c.boundMode)
			return
		}
		c.finishStop()
	}
}

func (c *Controller) issue(kind opKind, id StreamID, mode RenderMode) {
	op := &pipOp{kind: kind, stream: id, mode: mode}
	c.inflight = op
	key := BindingKey{Stream: id, Target: TargetPIP}
	done := func(res Completion) { c.onPIPComplete(op, res) }

	switch kind {
	case opBind:
		op.token = c.adapter.Bind(key, c.pipSurface, mode, done)
	case opUnbind:
		op.token = c.adapter.Unbind(key, c.pipSurface, done)
	case opSetRenderMode:
		op.token = c.adapter.SetRenderMode(key, c.pipSurface, mode, done)
	}
}

// cancelInflight supersedes an in-flight bind or mode switch with an unbind
// on the same key, so the adapter drops the earlier completion.
func (c *Controller) cancelInflight() {
	if c.inflight == nil || c.inflight.kind == opUnbind {
		return
	}
	cancelled := c.inflight
	c.log.Debug("cancelling pip operation",
		"stream_id", string(cancelled.stream), "op", cancelled.kind.String(), "token", cancelled.token)
	c.issue(opUnbind, cancelled.stream, cancelled.mode)
	if cancelled.kind == opBind && c.bound != "" && cancelled.stream != c.bound {
		c.inflight.displaced = c.bound
	}
}

func (c *Controller) onPIPComplete(op *pipOp, res Completion) {
	if c.inflight != op || res.Token != op.token {
		c.log.Debug("ignoring superseded pip completion",
			"stream_id", string(op.stream), "op", op.kind.String(), "token", res.Token)
		c.metrics.IncStaleCompletions()
		return
	}
	c.inflight = nil

	switch {
	case op.kind == opUnbind:
		if res.Err != nil {
			c.log.Warn("pip unbind failed", "stream_id", string(op.stream), "error", res.Err)
		}
		switch {
		case op.stream == c.bound:
			c.bound = ""
		case op.displaced != "" && op.displaced == c.bound && c.session.State == StateActive:
			// Bind the active stream again; the cancelled bind may have taken its place.
			c.log.Info("restoring pip source", "stream_id", string(c.bound))
			c.bound = ""
		}
	case res.Err != nil:
		c.onPIPBindFailed(op, res.Err)
	default:
		prevMode := c.boundMode
		c.bound, c.boundMode = op.stream, op.mode
		if c.session.State == StateActive {
			prev := c.session.ActiveStreamID
			c.session.ActiveStreamID = op.stream
			c.metrics.IncRebinds()
			switch {
			case prev != op.stream:
				c.log.Info("pip source changed", "from", string(prev), "to", string(op.stream))
				c.notify(EventPIPSourceChanged, op.stream, "")
			case prevMode != op.mode:
				c.log.Info("pip render mode changed", "stream_id", string(op.stream), "mode", op.mode.String())
			default:
				c.log.Info("pip source restored", "stream_id", string(op.stream))
			}
		}
	}
	c.reconcile()
}

func (c *Controller) onPIPBindFailed(op *pipOp, cause error) {
	err := fmt.Errorf("%w: %v", ErrBindFailure, cause)
	current := op.stream == c.target && op.mode == c.targetMode
	if !current {
		c.log.Debug("superseded pip request failed", "stream_id", string(op.stream), "error", err)
		return
	}

	switch c.session.State {
	case StateStarting:
		c.log.Warn("pip start failed", "stream_id", string(op.stream), "error", err)
		c.session.State = StateIdle
		c.session.ActiveStreamID = ""
		c.target = ""
	case StateActive:
		if c.bound == "" {
			c.log.Warn("pip rebind failed with no source left, stopping",
				"stream_id", string(op.stream), "error", err)
			c.metrics.IncPIPFailures()
			c.notify(EventPIPFailed, op.stream, cause.Error())
			c.beginStop(true, cause.Error())
			return
		}
		c.log.Warn("pip rebind failed, keeping current source",
			"stream_id", string(op.stream), "current", string(c.bound), "error", err)
		c.target, c.targetMode = c.bound, c.boundMode
		c.restoreRenderFlags(c.boundMode)
	default:
		return
	}
	c.metrics.IncPIPFailures()
	c.notify(EventPIPFailed, op.stream, cause.Error())
}

// restoreRenderFlags points the render flags back at mode after the engine
// rejected a switch away from it.
func (c *Controller) restoreRenderFlags(mode RenderMode) {
	custom := mode == RenderCustom
	if c.session.CustomRenderEnabled == custom {
		return
	}
	c.session.CustomRenderEnabled = custom
	if custom && c.session.HardwareDecoderEnabled {
		c.session.HardwareDecoderEnabled = false
		c.adapter.EnableHardwareDecoder(false)
	}
	c.log.Warn("render mode reverted", "mode", mode.String())
	c.applyRenderMode()
}

func (c *Controller) onPlatformStarted(seq uint64, err error) {
	if err == nil {
		if seq == c.platformSeq {
			c.platformShown = true
		}
		c.log.Debug("platform window shown", "session", seq)
		return
	}
	if seq != c.platformSeq {
		c.log.Debug("ignoring platform result for an earlier session", "session", seq, "error", err)
		return
	}
	c.platformFailed(err.Error())
}

func (c *Controller) platformFailed(reason string) {
	if c.session.State != StateActive {
		c.log.Debug("platform failure ignored", "state", c.session.State.String(), "reason", reason)
		return
	}
	c.log.Warn("platform failed to start pip", "stream_id", string(c.session.ActiveStreamID), "reason", reason)
	c.metrics.IncPIPFailures()
	c.notify(EventPIPFailed, c.session.ActiveStreamID, reason)
	c.beginStop(false, reason)
}

func (c *Controller) handlePlatform(n PlatformNotice) {
	c.log.Debug("platform event", "event", n.Event.String(), "reason", n.Reason, "state", c.session.State.String())
	c.notify(EventPlatform, c.session.ActiveStreamID, n.Event.String())

	switch n.Event {
	case PlatformDidStop:
		if c.expectedStops > 0 {
			c.expectedStops--
			return
		}
		if c.session.State == StateActive {
			c.beginStop(false, "dismissed")
		}
	case PlatformDidStart:
		c.platformShown = true
	case PlatformFailedToStart:
		if c.platformShown {
			c.log.Debug("failure notice ignored, window already shown", "session", c.platformSeq, "reason", n.Reason)
			return
		}
		c.platformFailed(n.Reason)
	}
}

func (c *Controller) configureAudio() {
	if c.audioAttempted || c.audio == nil {
		return
	}
	c.audioAttempted = true
	if err := c.audio.ConfigureForPlaybackAndPIP(); err != nil {
		err = fmt.Errorf("%w: %v", ErrAudioSession, err)
		c.log.Warn("continuing without audio routing", "error", err)
		c.notify(EventAudioSessionFailed, "", err.Error())
	}
}

func (c *Controller) updateAspect(a AspectRatio) error {
	if !a.Valid() {
		c.log.Warn("aspect update rejected", "width", a.Width, "height", a.Height)
		return fmt.Errorf("%w: aspect %gx%g", ErrInvalidArgument, a.Width, a.Height)
	}
	c.session.AspectRatio = a
	if c.session.State == StateActive {
		c.platform.SetAspectRatio(a)
	}
	return nil
}

func (c *Controller) renderMode() RenderMode {
	if c.session.CustomRenderEnabled {
		return RenderCustom
	}
	return RenderPlatformDecoded
}

// applyRenderMode pushes the current flags to the PIP binding and every ready
// playback binding.
func (c *Controller) applyRenderMode() {
	mode := c.renderMode()
	c.log.Info("render mode", "mode", mode.String(),
		"hardware_decoder", c.session.HardwareDecoderEnabled, "custom_render", c.session.CustomRenderEnabled)

	switch c.session.State {
	case StateStarting, StateActive:
		if c.targetMode != mode {
			c.targetMode = mode
			c.reconcile()
		}
	}
	for _, b := range c.bindings.List() {
		if b.Ready && b.Mode != mode {
			c.switchPlaybackMode(b, mode)
		}
	}
}

func (c *Controller) notify(kind EventKind, id StreamID, reason string) {
	c.notifier.Notify(Event{Kind: kind, StreamID: id, Reason: reason, At: time.Now().UTC()})
}
