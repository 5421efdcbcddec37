// Package surface implements the view-attached display surface that video
// frames are delivered to. A Surface owns at most one Layer at a time and can
// swap it without tearing down the view it is attached to.
package surface

import (
	"sync"

	"github.com/pion/rtp"
)

// ViewHandle is an opaque reference to a host view. It is forwarded, never inspected.
type ViewHandle string

// FitMode controls how frames are scaled into the view.
type FitMode int

const (
	FitAspect FitMode = iota
	FitAspectFill
	FitScaleToFill
)

func (f FitMode) String() string {
	switch f {
	case FitAspect:
		return "aspect-fit"
	case FitAspectFill:
		return "aspect-fill"
	case FitScaleToFill:
		return "scale-to-fill"
	default:
		return "unknown"
	}
}

// ParseFitMode maps the bridge's numeric view mode to a FitMode.
// Unknown values fall back to FitAspect.
func ParseFitMode(n int) FitMode {
	switch FitMode(n) {
	case FitAspectFill:
		return FitAspectFill
	case FitScaleToFill:
		return FitScaleToFill
	default:
		return FitAspect
	}
}

// Stats is a point-in-time view of a surface's delivery counters.
type Stats struct {
	Delivered uint64
	Dropped   uint64
	LayerID   string
}

// Surface is a display target for one stream binding. All methods are safe
// for concurrent use; Deliver is serialized with Attach and Detach so that no
// frame reaches a layer once it has been swapped away.
type Surface struct {
	name string

	mu        sync.Mutex
	layer     Layer
	view      ViewHandle
	fit       FitMode
	delivered uint64
	dropped   uint64
}

// New returns a surface with no layer attached.
func New(name string) *Surface {
	return &Surface{name: name}
}

// Name returns the label the surface was created with.
func (s *Surface) Name() string { return s.name }

// Attach makes l the live layer. A previously attached layer is flushed and
// released before l becomes visible.
func (s *Surface) Attach(l Layer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.layer == l {
		return
	}
	s.releaseLocked()
	s.layer = l
}

// Detach releases the live layer, if any.
func (s *Surface) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
}

func (s *Surface) releaseLocked() {
	if s.layer == nil {
		return
	}
	s.layer.Flush()
	s.layer.Release()
	s.layer = nil
}

// Deliver hands pkt to the live layer. It returns false when nothing is attached.
func (s *Surface) Deliver(pkt *rtp.Packet) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.layer == nil {
		s.dropped++
		return false
	}
	s.layer.Enqueue(pkt)
	s.delivered++
	return true
}

// Retarget moves the surface to view with the given fit mode. Moving to a
// different view swaps in a fresh layer of the same kind so that frames queued
// for the old view are never shown in the new one.
func (s *Surface) Retarget(view ViewHandle, fit FitMode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if view != s.view && s.layer != nil {
		kind := s.layer.Kind()
		s.releaseLocked()
		s.layer = NewLayer(kind)
	}
	s.view = view
	s.fit = fit
}

// View returns the view the surface is attached to and its fit mode.
func (s *Surface) View() (ViewHandle, FitMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view, s.fit
}

// Layer returns the live layer or nil.
func (s *Surface) Layer() Layer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layer
}

// Stats returns the delivery counters.
func (s *Surface) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Delivered: s.delivered, Dropped: s.dropped}
	if s.layer != nil {
		st.LayerID = s.layer.ID()
	}
	return st
}
