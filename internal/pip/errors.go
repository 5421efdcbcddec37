package pip

import "errors"

var (
	// ErrInvalidArgument is returned for empty stream ids and non-positive aspect sizes.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnsupportedPlatform is returned by EnablePIP when the host has no PIP capability.
	ErrUnsupportedPlatform = errors.New("picture-in-picture is not supported")

	// ErrStopInProgress is returned by EnablePIP while a previous session is still stopping.
	ErrStopInProgress = errors.New("picture-in-picture stop in progress")

	// ErrBindFailure wraps engine errors for a stream that could not be attached.
	ErrBindFailure = errors.New("stream bind failed")

	// ErrAudioSession wraps audio session configuration errors. It is never fatal.
	ErrAudioSession = errors.New("audio session configuration failed")

	// ErrControllerClosed is returned by commands issued after Close.
	ErrControllerClosed = errors.New("controller closed")
)
