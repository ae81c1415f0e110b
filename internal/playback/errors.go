package playback

import (
	"errors"
	"fmt"
)

// Sentinel errors for controller operations. These enable callers to
// programmatically distinguish failure modes using errors.Is, in the
// same style as internal/moq/errors.go in the teacher.
var (
	ErrInvalidArgument     = errors.New("playback: invalid argument")
	ErrInvalidState        = errors.New("playback: invalid state for operation")
	ErrCancelled           = errors.New("playback: operation cancelled")
	ErrDisposed            = errors.New("playback: operation on disposed controller")
	ErrAlreadyInitialized  = errors.New("playback: stream already initialized")
	ErrUnsupportedStream   = errors.New("playback: stream configuration not supported")
	ErrNativePlayerFailure = errors.New("playback: native player failure")
)

// UnsupportedStreamError wraps ErrUnsupportedStream with the offending
// descriptor, mirroring moq.ParseError's field-plus-cause shape.
type UnsupportedStreamError struct {
	MimeType string
	Err      error
}

func (e *UnsupportedStreamError) Error() string {
	return fmt.Sprintf("playback: unsupported stream config %q: %v", e.MimeType, e.Err)
}

func (e *UnsupportedStreamError) Unwrap() error {
	return errors.Join(ErrUnsupportedStream, e.Err)
}

// NativePlayerError wraps ErrNativePlayerFailure with the short tag the
// original design attaches to PlaybackError ("Start Failed", "Seek
// Failed", "Restart Error", "Playback Error").
type NativePlayerError struct {
	Tag string
	Err error
}

func (e *NativePlayerError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("playback: %s", e.Tag)
	}
	return fmt.Sprintf("playback: %s: %v", e.Tag, e.Err)
}

func (e *NativePlayerError) Unwrap() error {
	return errors.Join(ErrNativePlayerFailure, e.Err)
}
