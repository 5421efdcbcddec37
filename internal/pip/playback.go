package pip

import (
	"fmt"
	"time"

	"pip-controller/internal/surface"
)

func viewKey(id StreamID) BindingKey {
	return BindingKey{Stream: id, Target: TargetView}
}

// StartPlayingStream creates a normal playback binding for id, or reuses the
// existing one. It is independent of the PIP session.
func (c *Controller) StartPlayingStream(id StreamID) error {
	err := ErrControllerClosed
	c.loop.Do(func() { err = c.startPlaying(id) })
	return err
}

// UpdatePlayingStreamView moves id's surface to view with the given fit mode.
// A stream without a binding is logged and ignored.
func (c *Controller) UpdatePlayingStreamView(id StreamID, view surface.ViewHandle, fit surface.FitMode) {
	c.loop.Do(func() {
		b, ok := c.bindings.Get(id)
		if !ok {
			c.log.Warn("view update ignored, stream is not playing", "stream_id", string(id), "view", string(view))
			return
		}
		b.Surface.Retarget(view, fit)
		c.log.Debug("playback view updated", "stream_id", string(id), "view", string(view), "fit", fit.String())
	})
}

// StopPlayingStream tears down id's playback binding. If id feeds the PIP
// session, the session is stopped first.
func (c *Controller) StopPlayingStream(id StreamID) {
	c.loop.Do(func() { c.stopPlaying(id) })
}

// PlayingStreams lists the streams with a playback binding.
func (c *Controller) PlayingStreams() []StreamID {
	var ids []StreamID
	c.loop.Do(func() {
		for _, b := range c.bindings.List() {
			ids = append(ids, b.StreamID)
		}
	})
	return ids
}

// PlaybackSurface returns the surface of id's playback binding.
func (c *Controller) PlaybackSurface(id StreamID) (*surface.Surface, bool) {
	var (
		s  *surface.Surface
		ok bool
	)
	c.loop.Do(func() {
		var b *Binding
		if b, ok = c.bindings.Get(id); ok {
			s = b.Surface
		}
	})
	return s, ok
}

func (c *Controller) startPlaying(id StreamID) error {
	if id == "" {
		c.log.Warn("start playing rejected", "error", "empty stream id")
		return fmt.Errorf("%w: empty stream id", ErrInvalidArgument)
	}
	if _, ok := c.bindings.Get(id); ok {
		c.log.Debug("reusing playback binding", "stream_id", string(id))
		return nil
	}

	b := &Binding{
		StreamID:  id,
		Surface:   surface.New("view:" + string(id)),
		Mode:      c.renderMode(),
		StartedAt: time.Now().UTC(),
	}
	c.bindings.Set(b)
	c.metrics.SetPlayingStreams(c.bindings.Len())
	c.log.Info("playback starting", "stream_id", string(id), "mode", b.Mode.String())

	c.adapter.Bind(viewKey(id), b.Surface, b.Mode, func(res Completion) {
		c.onPlaybackBound(b, res)
	})
	return nil
}

func (c *Controller) onPlaybackBound(b *Binding, res Completion) {
	if cur, ok := c.bindings.Get(b.StreamID); !ok || cur != b {
		return
	}
	if res.Err != nil {
		err := fmt.Errorf("%w: %v", ErrBindFailure, res.Err)
		c.log.Warn("playback bind failed", "stream_id", string(b.StreamID), "error", err)
		c.notify(EventStreamFailed, b.StreamID, res.Err.Error())
		return
	}
	b.Ready = true
	c.log.Debug("playback bound", "stream_id", string(b.StreamID), "token", res.Token)
	if mode := c.renderMode(); mode != b.Mode {
		c.switchPlaybackMode(b, mode)
	}
}

func (c *Controller) switchPlaybackMode(b *Binding, mode RenderMode) {
	c.adapter.SetRenderMode(viewKey(b.StreamID), b.Surface, mode, func(res Completion) {
		if cur, ok := c.bindings.Get(b.StreamID); !ok || cur != b {
			return
		}
		if res.Err != nil {
			c.log.Warn("playback render mode switch failed",
				"stream_id", string(b.StreamID), "mode", mode.String(), "error", res.Err)
			c.notify(EventStreamFailed, b.StreamID, res.Err.Error())
			return
		}
		b.Mode = mode
		c.log.Debug("playback render mode switched", "stream_id", string(b.StreamID), "mode", mode.String())
		if want := c.renderMode(); want != mode {
			c.switchPlaybackMode(b, want)
		}
	})
}

func (c *Controller) stopPlaying(id StreamID) {
	if id == "" {
		return
	}

	switch {
	case c.session.ActiveStreamID == id,
		c.session.State == StateStarting && c.target == id:
		c.log.Info("stream feeding pip is stopping, ending pip first", "stream_id", string(id))
		c.stopPIP()
	case c.session.State == StateActive && c.target == id:
		c.log.Info("stream being switched into pip is stopping, keeping current source",
			"stream_id", string(id), "current", string(c.session.ActiveStreamID))
		c.target = c.session.ActiveStreamID
		if c.inflight != nil && c.inflight.stream == id {
			c.cancelInflight()
		}
	}

	b, ok := c.bindings.Get(id)
	if !ok {
		c.log.Debug("stop playing ignored, stream is not playing", "stream_id", string(id))
		return
	}
	c.bindings.Delete(id)
	c.metrics.SetPlayingStreams(c.bindings.Len())

	c.adapter.Unbind(viewKey(id), b.Surface, func(res Completion) {
		if res.Err != nil {
			c.log.Warn("playback unbind failed", "stream_id", string(id), "error", res.Err)
		}
	})
	b.Surface.Detach()
	c.log.Info("playback stopped", "stream_id", string(id))
}
