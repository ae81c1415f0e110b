package nativeplayer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ariharrison/esctl/internal/media"
)

// ErrUnsupported is returned by the optional Player methods
// (SetDuration, SetPlaybackRate) when the implementation doesn't
// support them, per spec.md §6.
var ErrUnsupported = errors.New("nativeplayer: unsupported operation")

// ErrBackpressure is returned by AppendPacket when the native player's
// internal buffer is full; EsStream parks the transfer task until
// Wakeup is called, per spec.md §4.3.
var ErrBackpressure = errors.New("nativeplayer: buffer full")

// FakePlayer is a deterministic in-memory Player used by tests and
// cmd/esctl-demo. It has no real decode/render pipeline: PrepareAsync
// and SeekAsync complete after a configurable delay (0 by default) and
// GetPlayingTime advances monotonically while Playing, exactly the
// surface the controller needs to exercise its state machine.
type FakePlayer struct {
	mu     sync.Mutex
	state  State
	events *Events

	configs   map[media.StreamKind]media.StreamConfig
	appended  int
	disposed  bool
	trustZone bool
	display   any

	playingSince time.Time
	position     time.Duration

	// PrepareDelay/SeekDelay simulate native asynchronous work; zero by
	// default so unit tests run fast.
	PrepareDelay time.Duration
	SeekDelay    time.Duration

	// full, when set via SetFull, makes AppendPacket return
	// ErrBackpressure until cleared, simulating a native buffer-full
	// condition (spec.md §4.3).
	full atomic.Bool

	// transientReadFailures, when set via FailNextReadsTransiently,
	// makes the next N GetPlayingTime calls return a TransientReadError
	// before succeeding again, simulating a native read hiccup that
	// clock.Generator is required to swallow.
	transientReadFailures atomic.Int32
	// terminalReadFailure, when set via FailNextReadTerminally, makes
	// the next GetPlayingTime call return this error verbatim.
	terminalReadFailure atomic.Pointer[error]
}

// FailNextReadsTransiently arms the next n GetPlayingTime calls to
// return a *TransientReadError.
func (f *FakePlayer) FailNextReadsTransiently(n int32) {
	f.transientReadFailures.Store(n)
}

// FailNextReadTerminally arms the next GetPlayingTime call to return
// err verbatim (a non-transient, non-cancellation failure).
func (f *FakePlayer) FailNextReadTerminally(err error) {
	f.terminalReadFailure.Store(&err)
}

// SetFull toggles the simulated backpressure condition returned by
// AppendPacket.
func (f *FakePlayer) SetFull(full bool) {
	f.full.Store(full)
}

// NewFakePlayer creates a FakePlayer in StateIdle.
func NewFakePlayer() *FakePlayer {
	return &FakePlayer{
		state:   StateIdle,
		events:  NewEvents(),
		configs: make(map[media.StreamKind]media.StreamConfig),
	}
}

func (f *FakePlayer) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disposed {
		return errors.New("nativeplayer: disposed")
	}
	f.state = StateIdle
	return nil
}

func (f *FakePlayer) SetTrustZoneUse(enabled bool) {
	f.mu.Lock()
	f.trustZone = enabled
	f.mu.Unlock()
}

func (f *FakePlayer) SetDisplay(handle any) {
	f.mu.Lock()
	f.display = handle
	f.mu.Unlock()
}

func (f *FakePlayer) SetStreamConfig(cfg media.StreamConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs[cfg.Kind] = cfg
	return nil
}

func (f *FakePlayer) AppendPacket(p media.Packet) error {
	if f.full.Load() {
		return ErrBackpressure
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disposed {
		return errors.New("nativeplayer: disposed")
	}
	f.appended++
	return nil
}

func (f *FakePlayer) SetDuration(d time.Duration) error { return ErrUnsupported }
func (f *FakePlayer) SetPlaybackRate(r float64) error   { return ErrUnsupported }

func (f *FakePlayer) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StatePlaying
	f.playingSince = time.Now()
	return nil
}

func (f *FakePlayer) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.freezePositionLocked()
	f.state = StatePaused
	return nil
}

func (f *FakePlayer) Resume() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StatePlaying
	f.playingSince = time.Now()
	return nil
}

func (f *FakePlayer) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateIdle
	f.position = 0
	return nil
}

func (f *FakePlayer) freezePositionLocked() {
	if f.state == StatePlaying {
		f.position += time.Since(f.playingSince)
	}
}

func (f *FakePlayer) PrepareAsync(ctx context.Context, onReady ReadyToStartFunc) error {
	if f.PrepareDelay > 0 {
		select {
		case <-time.After(f.PrepareDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	f.state = StateReady
	kinds := make([]media.StreamKind, 0, len(f.configs))
	for k := range f.configs {
		kinds = append(kinds, k)
	}
	f.mu.Unlock()

	for _, k := range kinds {
		if onReady != nil {
			onReady(k)
		}
	}
	return nil
}

func (f *FakePlayer) SeekAsync(ctx context.Context, at time.Duration, onReady ReadyToSeekFunc) error {
	if f.SeekDelay > 0 {
		select {
		case <-time.After(f.SeekDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	f.position = at
	kinds := make([]media.StreamKind, 0, len(f.configs))
	for k := range f.configs {
		kinds = append(kinds, k)
	}
	f.mu.Unlock()

	for _, k := range kinds {
		if onReady != nil {
			onReady(k)
		}
	}
	return nil
}

func (f *FakePlayer) GetPlayingTime() (time.Duration, error) {
	if errPtr := f.terminalReadFailure.Swap(nil); errPtr != nil {
		return 0, *errPtr
	}
	for {
		n := f.transientReadFailures.Load()
		if n <= 0 {
			break
		}
		if f.transientReadFailures.CompareAndSwap(n, n-1) {
			return 0, &TransientReadError{Err: errors.New("nativeplayer: fake transient read failure")}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	pos := f.position
	if f.state == StatePlaying {
		pos += time.Since(f.playingSince)
	}
	return pos, nil
}

// AppendedCount returns the number of packets successfully appended.
func (f *FakePlayer) AppendedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appended
}

func (f *FakePlayer) GetState() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *FakePlayer) Events() *Events {
	return f.events
}

// EmitEOS simulates the native player reaching end of stream.
func (f *FakePlayer) EmitEOS() {
	select {
	case f.events.EOS <- struct{}{}:
	default:
	}
}

// EmitError simulates a native playback error.
func (f *FakePlayer) EmitError(msg string) {
	select {
	case f.events.Error <- msg:
	default:
	}
}

// EmitBufferStatus simulates a native BufferStatusChanged event.
func (f *FakePlayer) EmitBufferStatus(kind media.StreamKind, status BufferStatus) {
	select {
	case f.events.BufferStatus <- BufferStatusEvent{Stream: kind, Status: status}:
	default:
	}
}

func (f *FakePlayer) Dispose() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disposed = true
	return nil
}

var _ Player = (*FakePlayer)(nil)
