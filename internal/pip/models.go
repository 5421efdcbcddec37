package pip

import (
	"time"

	"pip-controller/internal/surface"
)

// StreamID identifies a stream in the media engine. It is opaque to the controller.
type StreamID string

// RenderMode selects who decodes a stream's frames.
type RenderMode int

const (
	// RenderPlatformDecoded hands compressed frames to the platform decoder.
	RenderPlatformDecoded RenderMode = iota
	// RenderCustom delivers frames to a custom renderer.
	RenderCustom
)

func (m RenderMode) String() string {
	switch m {
	case RenderPlatformDecoded:
		return "platform-decoded"
	case RenderCustom:
		return "custom-rendered"
	default:
		return "unknown"
	}
}

// layerKind maps a render mode to the display layer that consumes it.
func (m RenderMode) layerKind() surface.LayerKind {
	if m == RenderCustom {
		return surface.LayerPixelBuffer
	}
	return surface.LayerSampleBuffer
}

// State is the PIP session state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// AspectRatio is the preferred PIP window shape.
type AspectRatio struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Valid reports whether both dimensions are positive.
func (a AspectRatio) Valid() bool {
	return a.Width > 0 && a.Height > 0
}

// DefaultAspectRatio is used until the host sets one.
var DefaultAspectRatio = AspectRatio{Width: 16, Height: 9}

// Session is a snapshot of the PIP session state.
type Session struct {
	State                  State       `json:"-"`
	ActiveStreamID         StreamID    `json:"active_stream_id,omitempty"`
	Source                 StreamID    `json:"source,omitempty"`
	AutoPIPEnabled         bool        `json:"auto_pip_enabled"`
	AspectRatio            AspectRatio `json:"aspect_ratio"`
	HardwareDecoderEnabled bool        `json:"hardware_decoder_enabled"`
	CustomRenderEnabled    bool        `json:"custom_render_enabled"`
}

// Target says which surface a binding feeds.
type Target int

const (
	TargetPIP Target = iota
	TargetView
)

func (t Target) String() string {
	if t == TargetPIP {
		return "pip"
	}
	return "view"
}

// BindingKey identifies one stream-to-surface binding.
type BindingKey struct {
	Stream StreamID
	Target Target
}

// Binding is a normal (non-PIP) playback binding. Mode is the mode the engine
// last confirmed; Ready is set once the first bind succeeded.
type Binding struct {
	StreamID  StreamID
	Surface   *surface.Surface
	Mode      RenderMode
	Ready     bool
	StartedAt time.Time
}
