package hostsim

import (
	"errors"
	"log/slog"
	"sync"
)

// Audio implements pip.AudioSession.
type Audio struct {
	log *slog.Logger

	mu         sync.Mutex
	fail       bool
	configured bool
	calls      int
}

// NewAudio returns a simulated audio session. With fail set every
// configuration attempt is rejected.
func NewAudio(fail bool, log *slog.Logger) *Audio {
	if log == nil {
		log = slog.Default()
	}
	return &Audio{log: log.With("component", "audio-session"), fail: fail}
}

// ConfigureForPlaybackAndPIP implements pip.AudioSession.
func (a *Audio) ConfigureForPlaybackAndPIP() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.fail {
		return errors.New("audio category rejected")
	}
	a.configured = true
	a.log.Info("audio session set to playback with pip")
	return nil
}

// Configured reports whether configuration succeeded and how often it was attempted.
func (a *Audio) Configured() (ok bool, calls int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.configured, a.calls
}
