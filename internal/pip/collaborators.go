package pip

import (
	"github.com/pion/rtp"

	"pip-controller/internal/surface"
)

// FrameSink receives a stream's compressed frames. *surface.Surface implements it.
type FrameSink interface {
	Deliver(pkt *rtp.Packet) bool
}

// Engine is the external media engine the Adapter drives. Every call completes
// asynchronously by invoking done exactly once, from any goroutine.
//
// A sink is fed by at most one stream: binding a sink to a new stream replaces
// the previous feed, and unbinding only detaches the sink if the named stream
// still feeds it.
type Engine interface {
	Bind(stream StreamID, sink FrameSink, mode RenderMode, done func(error))
	Unbind(stream StreamID, sink FrameSink, done func(error))
	SetRenderMode(stream StreamID, sink FrameSink, mode RenderMode, done func(error))
	EnableHardwareDecoder(enabled bool)
}

// PlatformEvent is a lifecycle notification from the host PIP capability.
type PlatformEvent int

const (
	PlatformWillStart PlatformEvent = iota
	PlatformDidStart
	PlatformWillStop
	PlatformDidStop
	PlatformFailedToStart
)

func (e PlatformEvent) String() string {
	switch e {
	case PlatformWillStart:
		return "will_start"
	case PlatformDidStart:
		return "did_start"
	case PlatformWillStop:
		return "will_stop"
	case PlatformDidStop:
		return "did_stop"
	case PlatformFailedToStart:
		return "failed_to_start"
	default:
		return "unknown"
	}
}

// PlatformEvents lists every event the controller subscribes to.
var PlatformEvents = []PlatformEvent{
	PlatformWillStart,
	PlatformDidStart,
	PlatformWillStop,
	PlatformDidStop,
	PlatformFailedToStart,
}

// PlatformNotice is delivered to event handlers. Reason is set for PlatformFailedToStart.
type PlatformNotice struct {
	Event  PlatformEvent
	Reason string
}

// StartRequest asks the platform to show the floating window for a surface.
type StartRequest struct {
	Surface   *surface.Surface
	Aspect    AspectRatio
	AutoStart bool
}

// Platform is the host's PIP capability.
type Platform interface {
	IsSupported() bool
	// Start shows the floating window. done runs once with the outcome.
	Start(req StartRequest, done func(error))
	// Stop hides the floating window. done runs once when it is gone.
	Stop(done func())
	SetAutoStart(enabled bool)
	SetAspectRatio(a AspectRatio)
	// Subscribe registers handler for one event and returns a function that removes it.
	Subscribe(event PlatformEvent, handler func(PlatformNotice)) (cancel func())
}

// AudioSession configures the host audio session for background playback.
type AudioSession interface {
	ConfigureForPlaybackAndPIP() error
}
