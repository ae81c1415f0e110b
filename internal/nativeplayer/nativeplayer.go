// Package nativeplayer defines the boundary interfaces to the opaque
// platform player and data-provider client described in spec.md §6, and
// provides FakePlayer, a deterministic in-memory implementation used by
// tests and cmd/esctl-demo in place of a real platform SDK.
//
// The interfaces here are intentionally small and method-oriented, in
// the style of distribution.Viewer/Broadcaster in the teacher: a
// concrete orchestrator (internal/playback.Controller) depends only on
// what it actually calls.
package nativeplayer

import (
	"context"
	"time"

	"github.com/ariharrison/esctl/internal/media"
)

// BufferStatus is the coarse buffer-level signal the native player
// reports per stream.
type BufferStatus int

const (
	Overrun BufferStatus = iota
	Underrun
)

// ReadyToStartFunc is invoked by PrepareAsync once the native player has
// finished preparing a given stream and that stream's transfer task may
// start submitting packets. It may be invoked from any native thread,
// so the function passed in must be safe to run concurrently with the
// caller's other goroutines.
type ReadyToStartFunc func(kind media.StreamKind)

// ReadyToSeekFunc is the SeekAsync analogue of ReadyToStartFunc.
type ReadyToSeekFunc func(kind media.StreamKind)

// Player is the opaque native platform player (spec.md §6). Its methods
// are called from several goroutines: AppendPacket and SetStreamConfig
// from per-stream transfer tasks, GetPlayingTime from the clock, and the
// lifecycle methods from the controller's public calls and exclusive
// operations, so implementations must be safe for concurrent use.
type Player interface {
	Open() error
	SetTrustZoneUse(enabled bool)
	SetDisplay(handle any)
	SetStreamConfig(cfg media.StreamConfig) error
	AppendPacket(p media.Packet) error
	SetDuration(d time.Duration) error // optional; may return ErrUnsupported
	SetPlaybackRate(rate float64) error // optional; may return ErrUnsupported

	Start() error
	Pause() error
	Resume() error
	Stop() error

	PrepareAsync(ctx context.Context, onReady ReadyToStartFunc) error
	SeekAsync(ctx context.Context, at time.Duration, onReady ReadyToSeekFunc) error

	GetPlayingTime() (time.Duration, error)
	GetState() State

	// Events returns the native player's event streams. Implementations
	// return the same instances for the lifetime of the Player.
	Events() *Events

	Dispose() error
}

// TransientReadError wraps a GetPlayingTime failure the native player
// implementation expects to clear on its own (e.g. a decoder pipeline
// still warming up between ticks). spec.md §4.4 requires clock.Generator
// to log and keep polling on this class of error rather than terminate,
// unlike any other non-cancellation error.
type TransientReadError struct {
	Err error
}

func (e *TransientReadError) Error() string {
	return "nativeplayer: transient read: " + e.Err.Error()
}

func (e *TransientReadError) Unwrap() error { return e.Err }

// State mirrors the small state surface the native player itself
// exposes to Play()'s "interpret native state" logic in spec.md §4.4.
type State int

const (
	StateIdle State = iota
	StateReady
	StatePlaying
	StatePaused
)

// Events bundles the native player's observable event streams
// (spec.md §6): EOSEmitted, ErrorOccurred, BufferStatusChanged.
type Events struct {
	EOS          chan struct{}
	Error        chan string
	BufferStatus chan BufferStatusEvent
}

// BufferStatusEvent is a single BufferStatusChanged notification.
type BufferStatusEvent struct {
	Stream media.StreamKind
	Status BufferStatus
}

// NewEvents allocates the channel set with reasonable buffering so a
// slow-to-schedule consumer doesn't stall native callbacks.
func NewEvents() *Events {
	return &Events{
		EOS:          make(chan struct{}, 1),
		Error:        make(chan string, 4),
		BufferStatus: make(chan BufferStatusEvent, 16),
	}
}

// Client is IPlayerClient (spec.md §6): the interface the core exposes
// to the data-provider side so a client-initiated Seek can reach into
// the controller.
type Client interface {
	// Seek repositions playback to position, returning the actual
	// seeked-to position (after duration clamping) or a cancellation
	// error.
	Seek(ctx context.Context, position time.Duration) (time.Duration, error)
}
