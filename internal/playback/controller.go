// Package playback implements StreamController: the orchestration core
// described in spec.md §4.4. It owns the native player handle, the
// per-stream EsStream/PacketStorage/StreamBuffer triples, the clock
// generator, and the operation serializer guarding Prepare/Seek/
// Reconfigure against each other, following the lifecycle-owning-app
// shape of cmd/prism/main.go generalized from a process to a single
// long-lived controller.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ariharrison/esctl/internal/buffer"
	"github.com/ariharrison/esctl/internal/clock"
	"github.com/ariharrison/esctl/internal/config"
	"github.com/ariharrison/esctl/internal/esstream"
	"github.com/ariharrison/esctl/internal/events"
	"github.com/ariharrison/esctl/internal/media"
	"github.com/ariharrison/esctl/internal/metrics"
	"github.com/ariharrison/esctl/internal/nativeplayer"
	"github.com/ariharrison/esctl/internal/packetstore"
)

// PlayerFactory constructs a fresh native player instance; called at
// controller construction and again for each destructive Reconfigure.
type PlayerFactory func() (nativeplayer.Player, error)

// Controller is StreamController (spec.md §4.4).
type Controller struct {
	cfg           config.Config
	newPlr        PlayerFactory
	displayHandle any
	log           *slog.Logger

	sem *semaphore.Weighted

	mu              sync.Mutex
	state           media.PlayerState
	disposed        bool
	inputDisabled   bool
	streams         [media.NumStreamKinds]*esstream.Stream
	accountants     [media.NumStreamKinds]*buffer.Accountant
	initialized     [media.NumStreamKinds]bool
	numInitialized  int
	numConfigured   int
	player          nativeplayer.Player
	seekGen         media.SeekGeneration
	clockGen        *clock.Generator
	clockCancel     context.CancelFunc
	clockFwdDone    chan struct{}
	nativeEvCancel  context.CancelFunc
	reconfigureSubs []*events.Subscription
	errorSubs       []*events.Subscription

	storage *packetstore.Storage

	activeCtx    context.Context
	activeCancel context.CancelFunc

	stateSub         *events.Subject[media.PlayerState]
	errorSub         *events.Subject[string]
	timeSub          *events.Subject[time.Duration]
	seekStartedSub   *events.Subject[SeekStarted]
	seekCompletedSub *events.Subject[SeekCompleted]
}

// New constructs a Controller and opens the first native player.
// displayHandle is passed to the native player's SetDisplay verbatim
// (spec.md §4.4 step 6 requires it at every native player construction,
// not only on Reconfigure); window/display creation itself is out of
// scope (spec.md §1), so callers with no real display pass nil.
func New(cfg config.Config, newPlr PlayerFactory, displayHandle any, log *slog.Logger) (*Controller, error) {
	if newPlr == nil {
		return nil, fmt.Errorf("playback: %w: newPlr is nil", ErrInvalidArgument)
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "playback")

	player, err := newPlr()
	if err != nil {
		return nil, fmt.Errorf("playback: create native player: %w", err)
	}
	if err := player.Open(); err != nil {
		return nil, fmt.Errorf("playback: open native player: %w", err)
	}
	player.SetTrustZoneUse(true)
	player.SetDisplay(displayHandle)

	activeCtx, activeCancel := context.WithCancel(context.Background())

	c := &Controller{
		cfg:              cfg,
		newPlr:           newPlr,
		displayHandle:    displayHandle,
		log:              log,
		sem:              semaphore.NewWeighted(1),
		state:            media.StateIdle,
		player:           player,
		storage:          packetstore.New(),
		activeCtx:        activeCtx,
		activeCancel:     activeCancel,
		stateSub:         events.NewSubject[media.PlayerState](),
		errorSub:         events.NewSubject[string](),
		timeSub:          events.NewSubject[time.Duration](),
		seekStartedSub:   events.NewSubject[SeekStarted](),
		seekCompletedSub: events.NewSubject[SeekCompleted](),
	}

	evCtx, evCancel := context.WithCancel(activeCtx)
	c.nativeEvCancel = evCancel
	go c.watchNativeEvents(evCtx, player.Events())

	return c, nil
}

// Initialize creates the PacketStorage queue, StreamBuffer, and EsStream
// for kind. Calling it twice for the same kind is InvalidArgument.
func (c *Controller) Initialize(kind media.StreamKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}
	if c.initialized[kind] {
		return fmt.Errorf("%w: stream %s", ErrAlreadyInitialized, kind)
	}

	c.storage.Initialize(kind)
	acct := buffer.New(kind, c.cfg.TargetBufferDepth)
	stream := esstream.New(kind, c.storage, acct, c.log)
	if err := stream.SetPlayer(c.player); err != nil {
		return err
	}

	reconfCh, reconfSub := stream.SubscribeReconfigure(4)
	errCh, errSub := stream.SubscribeError(4)
	c.reconfigureSubs = append(c.reconfigureSubs, reconfSub)
	c.errorSubs = append(c.errorSubs, errSub)

	go c.watchStreamReconfigure(kind, reconfCh)
	go c.watchStreamError(kind, errCh)

	c.streams[kind] = stream
	c.accountants[kind] = acct
	c.initialized[kind] = true
	c.numInitialized++

	return nil
}

// AddPacket enqueues p into the corresponding stream's PacketStorage and
// records its arrival with the stream's StreamBuffer.
func (c *Controller) AddPacket(ctx context.Context, p media.Packet) error {
	if err := p.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	if c.inputDisabled {
		c.mu.Unlock()
		return fmt.Errorf("%w: input disabled after EOS/error", ErrInvalidState)
	}
	if !c.initialized[p.Kind] {
		c.mu.Unlock()
		return fmt.Errorf("%w: stream %s not initialized", ErrInvalidArgument, p.Kind)
	}
	acct := c.accountants[p.Kind]
	c.mu.Unlock()

	if err := c.storage.AddPacket(ctx, p); err != nil {
		return err
	}
	if !p.IsEOS {
		acct.DataIn(p.PTS)
	}
	return nil
}

// SetStreamConfig applies cfg to the stream's EsStream, and triggers
// Prepare once every initialized stream has received its first config
// (spec.md §4.4 "triggered when the last initialized stream becomes
// configured").
func (c *Controller) SetStreamConfig(cfg media.StreamConfig) (esstream.ConfigResult, error) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return 0, ErrDisposed
	}
	stream := c.streams[cfg.Kind]
	if stream == nil {
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: stream %s not initialized", ErrInvalidArgument, cfg.Kind)
	}
	c.mu.Unlock()

	res, err := stream.SetStreamConfig(cfg)
	if err != nil {
		return res, err
	}

	if res == esstream.ConfigAccepted {
		c.mu.Lock()
		c.numConfigured++
		ready := c.numConfigured == c.numInitialized && c.state == media.StateIdle
		c.mu.Unlock()
		if ready {
			go c.runExclusive(c.activeCtx, "Prepare", c.prepare)
		}
	}

	return res, nil
}

// State returns the last published PlayerState.
func (c *Controller) State() media.PlayerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ClockRunning reports whether the clock generator is currently active.
// The clock is started at the end of Prepare (before Prepared is
// published) and by Play, and stopped by Pause, Stop, Seek (until it
// restarts the clock) and Dispose.
func (c *Controller) ClockRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clockGen != nil
}

// SubscribeState, SubscribeError, SubscribeTime, SubscribeSeekStarted,
// and SubscribeSeekCompleted expose the controller's observable event
// streams (spec.md §6).
func (c *Controller) SubscribeState(buf int) (<-chan media.PlayerState, *events.Subscription) {
	return c.stateSub.Subscribe(buf)
}

func (c *Controller) SubscribeError(buf int) (<-chan string, *events.Subscription) {
	return c.errorSub.Subscribe(buf)
}

func (c *Controller) SubscribeTime(buf int) (<-chan time.Duration, *events.Subscription) {
	return c.timeSub.Subscribe(buf)
}

func (c *Controller) SubscribeSeekStarted(buf int) (<-chan SeekStarted, *events.Subscription) {
	return c.seekStartedSub.Subscribe(buf)
}

func (c *Controller) SubscribeSeekCompleted(buf int) (<-chan SeekCompleted, *events.Subscription) {
	return c.seekCompletedSub.Subscribe(buf)
}

func (c *Controller) publishState(s media.PlayerState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	metrics.StateTransitionsTotal.WithLabelValues(s.String()).Inc()
	c.stateSub.Publish(s)
}

func (c *Controller) publishError(err error) {
	c.log.Warn("playback error", "error", err)
	metrics.PlaybackErrorsTotal.WithLabelValues(errorTag(err)).Inc()
	c.errorSub.Publish(err.Error())
}

// errorTag extracts the short tag used both in log lines and as the
// PlaybackErrorsTotal label, falling back to the sentinel's own message
// for errors that carry no NativePlayerError/UnsupportedStreamError tag.
func errorTag(err error) string {
	var nerr *NativePlayerError
	if errors.As(err, &nerr) {
		return nerr.Tag
	}
	var uerr *UnsupportedStreamError
	if errors.As(err, &uerr) {
		return "Unsupported Stream"
	}
	return "Playback Error"
}

// enableTransfer starts every initialized stream's transfer task.
func (c *Controller) enableTransfer(ctx context.Context) {
	c.mu.Lock()
	streams := c.streams
	c.mu.Unlock()
	for _, s := range streams {
		if s != nil {
			s.Start(ctx)
		}
	}
}

// disableTransfer parks every initialized stream's transfer task and
// waits for each to settle.
func (c *Controller) disableTransfer() {
	c.mu.Lock()
	streams := c.streams
	c.mu.Unlock()
	for _, s := range streams {
		if s != nil {
			s.Stop()
		}
	}
	for _, s := range streams {
		if s != nil {
			<-s.GetActiveTask()
		}
	}
}

func (c *Controller) startClock(ctx context.Context) {
	c.mu.Lock()
	if c.clockCancel != nil {
		c.mu.Unlock()
		return
	}
	clockCtx, cancel := context.WithCancel(ctx)
	gen := clock.New(c.player, c.cfg.ClockPollInterval, c.log)
	fwdDone := make(chan struct{})
	c.clockGen = gen
	c.clockCancel = cancel
	c.clockFwdDone = fwdDone
	c.mu.Unlock()

	updates, updSub := gen.SubscribeUpdates(4)
	failed, failSub := gen.SubscribeFailed(1)

	go func() {
		defer close(fwdDone)
		defer updSub.Unsubscribe()
		defer failSub.Unsubscribe()
		for {
			select {
			case <-clockCtx.Done():
				return
			case t, ok := <-updates:
				if !ok {
					return
				}
				c.timeSub.Publish(t)
			case err, ok := <-failed:
				if !ok {
					return
				}
				c.publishError(err)
				return
			}
		}
	}()

	go gen.Run(clockCtx)
}

// stopClock cancels the clock's context and blocks until both the clock
// generator's Run loop and its forwarding goroutine have exited, so
// callers (Seek, Reconfigure, Dispose) can rely on no further
// TimeUpdated being published once stopClock returns (spec.md §4.4/§5,
// §8's "no further TimeUpdated events after Pause/Stop/Dispose").
func (c *Controller) stopClock() {
	c.mu.Lock()
	cancel := c.clockCancel
	gen := c.clockGen
	fwdDone := c.clockFwdDone
	c.clockCancel = nil
	c.clockGen = nil
	c.clockFwdDone = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if gen != nil {
		<-gen.Done()
	}
	if fwdDone != nil {
		<-fwdDone
	}
}

// Play requires AllStreamsConfigured and interprets the native player's
// current state (spec.md §4.4 Play).
func (c *Controller) Play() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	if !c.numInitializedConfiguredLocked() {
		c.mu.Unlock()
		return fmt.Errorf("%w: not all streams configured", ErrInvalidState)
	}
	player := c.player
	c.mu.Unlock()

	switch player.GetState() {
	case nativeplayer.StatePlaying:
		// no-op
	case nativeplayer.StateReady:
		if err := player.Start(); err != nil {
			return &NativePlayerError{Tag: "Start Failed", Err: err}
		}
	case nativeplayer.StatePaused:
		if err := player.Resume(); err != nil {
			return &NativePlayerError{Tag: "Start Failed", Err: err}
		}
	default:
		return fmt.Errorf("%w: native player in state %v", ErrInvalidState, player.GetState())
	}

	c.enableTransfer(c.activeCtx)
	c.startClock(c.activeCtx)
	c.publishState(media.StatePlaying)
	return nil
}

func (c *Controller) numInitializedConfiguredLocked() bool {
	return c.numInitialized > 0 && c.numConfigured == c.numInitialized
}

// Pause disables transfer, pauses the native player, and stops the
// clock.
func (c *Controller) Pause() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	player := c.player
	c.mu.Unlock()

	c.disableTransfer()
	if err := player.Pause(); err != nil {
		return &NativePlayerError{Tag: "Pause Failed", Err: err}
	}
	c.stopClock()
	c.publishState(media.StatePaused)
	return nil
}

// Stop is only meaningful when the native player is Playing or Paused;
// otherwise it is a no-op (spec.md §8 idempotence).
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	player := c.player
	c.mu.Unlock()

	switch player.GetState() {
	case nativeplayer.StatePlaying, nativeplayer.StatePaused:
	default:
		return nil
	}

	c.disableTransfer()
	if err := player.Stop(); err != nil {
		return &NativePlayerError{Tag: "Stop Failed", Err: err}
	}
	c.stopClock()
	c.publishState(media.StateIdle)
	return nil
}

// Dispose releases every owned resource: native player, PacketStorage,
// EsStreams, clock, subjects, subscriptions. Idempotent (spec.md §5).
func (c *Controller) Dispose() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	streams := c.streams
	player := c.player
	c.mu.Unlock()

	c.activeCancel()
	c.stopClock()

	for _, s := range streams {
		if s != nil {
			s.Disable()
		}
	}
	c.storage.Dispose()

	for _, sub := range c.reconfigureSubs {
		sub.Unsubscribe()
	}
	for _, sub := range c.errorSubs {
		sub.Unsubscribe()
	}

	var err error
	if player != nil {
		err = player.Dispose()
	}

	c.stateSub.Close()
	c.errorSub.Close()
	c.timeSub.Close()
	c.seekStartedSub.Close()
	c.seekCompletedSub.Close()

	return err
}

// runExclusive acquires the operation serializer for the duration of fn,
// logging (but not propagating) an error from a fire-and-forget caller
// such as SetStreamConfig's auto-triggered Prepare.
func (c *Controller) runExclusive(ctx context.Context, name string, fn func(ctx context.Context) error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		if !errors.Is(err, context.Canceled) {
			c.log.Warn("failed to acquire operation serializer", "op", name, "error", err)
		}
		return
	}
	defer c.sem.Release(1)

	if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Warn("operation failed", "op", name, "error", err)
	}
}

// mergeWithActiveCtx returns a context cancelled when either ctx or
// c.activeCtx is cancelled, and a cancel func the caller must invoke to
// release resources. spec.md §4.4 step 1 captures activeCts.Token
// specifically so Dispose can always interrupt an in-flight Seek;
// Prepare and Reconfigure already run entirely under c.activeCtx
// (dispatched via runExclusive), but Seek is a public entry point that
// accepts an arbitrary caller context, so its cancellation source must
// be merged rather than substituted.
func (c *Controller) mergeWithActiveCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.activeCtx, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
