package surface

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"
)

// maxQueuedFrames bounds how many frames a layer holds before the display drains it.
const maxQueuedFrames = 30

// LayerKind selects how a layer consumes the frames it is fed.
type LayerKind int

const (
	// LayerSampleBuffer takes compressed frames and leaves decoding to the platform.
	LayerSampleBuffer LayerKind = iota
	// LayerPixelBuffer takes frames for a custom renderer.
	LayerPixelBuffer
)

func (k LayerKind) String() string {
	switch k {
	case LayerSampleBuffer:
		return "sample-buffer"
	case LayerPixelBuffer:
		return "pixel-buffer"
	default:
		return "unknown"
	}
}

// Layer is a hardware display layer handle owned by a Surface.
type Layer interface {
	ID() string
	Kind() LayerKind
	// Enqueue queues a frame for display. It is a no-op after Release.
	Enqueue(pkt *rtp.Packet)
	// Flush drops every queued frame.
	Flush()
	// Release frees the layer; it accepts no frames afterwards.
	Release()
	// Drain hands the queued frames to the display and empties the queue.
	Drain() []*rtp.Packet
	Released() bool
}

type bufferLayer struct {
	id   string
	kind LayerKind

	mu               sync.Mutex
	queue            []*rtp.Packet
	awaitingKeyframe bool
	ssrc             uint32
	fed              bool
	released         bool
	dropped          uint64
}

// NewLayer returns an in-memory layer of the given kind.
// Sample-buffer layers discard delta frames until the first keyframe, since a
// platform decoder cannot start mid-GOP. A frame from a different SSRC than the
// previous one flushes the layer, so an engine re-routing the sink to another
// stream never splices that stream's delta frames onto the old picture.
func NewLayer(kind LayerKind) Layer {
	return &bufferLayer{
		id:               uuid.NewString(),
		kind:             kind,
		awaitingKeyframe: kind == LayerSampleBuffer,
	}
}

func (l *bufferLayer) ID() string      { return l.id }
func (l *bufferLayer) Kind() LayerKind { return l.kind }

func (l *bufferLayer) Enqueue(pkt *rtp.Packet) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released || pkt == nil {
		return
	}
	if l.fed && pkt.SSRC != l.ssrc {
		l.flushLocked()
	}
	l.ssrc, l.fed = pkt.SSRC, true
	if l.awaitingKeyframe {
		if !IsKeyframe(pkt.Payload) {
			l.dropped++
			return
		}
		l.awaitingKeyframe = false
	}
	if len(l.queue) >= maxQueuedFrames {
		l.queue = l.queue[1:]
		l.dropped++
	}
	l.queue = append(l.queue, pkt)
}

func (l *bufferLayer) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushLocked()
}

func (l *bufferLayer) flushLocked() {
	l.dropped += uint64(len(l.queue))
	l.queue = nil
	l.awaitingKeyframe = l.kind == LayerSampleBuffer
}

func (l *bufferLayer) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queue = nil
	l.released = true
}

func (l *bufferLayer) Drain() []*rtp.Packet {
	l.mu.Lock()
	defer l.mu.Unlock()
	q := l.queue
	l.queue = nil
	return q
}

func (l *bufferLayer) Released() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}

// H.264 NAL unit types that matter for keyframe detection.
const (
	nalIDR   = 5
	nalSPS   = 7
	nalSTAPA = 24
	nalFUA   = 28
)

// IsKeyframe reports whether an H.264 RTP payload starts a decodable picture
// (IDR slice or SPS), looking through STAP-A aggregation and FU-A fragmentation.
func IsKeyframe(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	switch payload[0] & 0x1F {
	case nalIDR, nalSPS:
		return true
	case nalSTAPA:
		// 1 byte STAP-A header, 2 byte NALU size, then the first aggregated NALU.
		if len(payload) < 4 {
			return false
		}
		t := payload[3] & 0x1F
		return t == nalIDR || t == nalSPS
	case nalFUA:
		if len(payload) < 2 {
			return false
		}
		start := payload[1]&0x80 != 0
		return start && payload[1]&0x1F == nalIDR
	default:
		return false
	}
}
