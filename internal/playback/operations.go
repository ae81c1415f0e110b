package playback

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ariharrison/esctl/internal/esstream"
	"github.com/ariharrison/esctl/internal/media"
	"github.com/ariharrison/esctl/internal/metrics"
	"github.com/ariharrison/esctl/internal/nativeplayer"
)

// prebufferPollInterval is the "1 s delay" of spec.md §4.4's Prepare
// step 2.
const prebufferPollInterval = time.Second

// prebuffer blocks until every initialized stream's PacketStorage has
// accumulated at least cfg.PreBufferDuration, or ctx is cancelled.
func (c *Controller) prebuffer(ctx context.Context, op string) error {
	start := time.Now()
	defer func() {
		metrics.PrebufferWaitDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()
	if c.allStreamsPrebuffered() {
		return nil
	}
	ticker := time.NewTicker(prebufferPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if c.allStreamsPrebuffered() {
				return nil
			}
		}
	}
}

func (c *Controller) allStreamsPrebuffered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for kind := 0; kind < media.NumStreamKinds; kind++ {
		if !c.initialized[kind] {
			continue
		}
		d, _ := c.storage.Duration(media.StreamKind(kind))
		if time.Duration(d) < c.cfg.PreBufferDuration {
			return false
		}
	}
	return true
}

func (c *Controller) streamFor(kind media.StreamKind) *esstream.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[kind]
}

func (c *Controller) currentPlayer() nativeplayer.Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.player
}

// prepare implements spec.md §4.4 Prepare, assuming the operation
// serializer is already held by the caller (runExclusive).
func (c *Controller) prepare(ctx context.Context) error {
	if err := c.prebuffer(ctx, "prepare"); err != nil {
		if errors.Is(err, context.Canceled) {
			c.disableTransfer()
			return err
		}
		c.publishError(err)
		return err
	}

	onReady := func(kind media.StreamKind) {
		// spec.md §9 open question: OnReadyToStartStream may be invoked
		// from any native thread. Start is internally synchronized
		// (esstream.Stream guards its phase with a mutex), so it is safe
		// to call directly without a separate marshaling step.
		if s := c.streamFor(kind); s != nil {
			s.Start(c.activeCtx)
		}
	}

	if err := c.currentPlayer().PrepareAsync(ctx, onReady); err != nil {
		if errors.Is(err, context.Canceled) {
			c.disableTransfer()
			return err
		}
		nerr := &NativePlayerError{Tag: "Start Failed", Err: err}
		c.publishError(nerr)
		return nerr
	}

	c.startClock(c.activeCtx)
	c.publishState(media.StatePrepared)
	return nil
}

// Seek is the external Seek entry point (spec.md §4.4 Seek). It returns
// an Outcome distinguishing success, failure, and cancellation.
func (c *Controller) Seek(ctx context.Context, at time.Duration) Outcome[time.Duration] {
	start := time.Now()
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		metrics.ObserveSeek("cancelled", time.Since(start))
		return Cancelled[time.Duration]()
	}
	c.seekGen++
	gen := c.seekGen
	c.mu.Unlock()

	// Merge the caller's context with c.activeCtx so Dispose always
	// interrupts an in-flight Seek, even if the caller passed a context
	// that never cancels (spec.md §4.4 step 1).
	ctx, cancel := c.mergeWithActiveCtx(ctx)
	defer cancel()

	// SeekStreamInitialize: quiesce transfer and the clock before
	// publishing SeekStarted, so no packet or time-update from the prior
	// generation can race with the seek.
	c.disableTransfer()
	c.stopClock()

	c.publishState(media.StateSeeking)
	c.seekStartedSub.Publish(SeekStarted{ID: uint64(gen), Position: at})

	if err := c.sem.Acquire(ctx, 1); err != nil {
		metrics.ObserveSeek("cancelled", time.Since(start))
		return Cancelled[time.Duration]()
	}
	defer c.sem.Release(1)

	pos, err := c.doSeek(ctx, gen, at)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			metrics.ObserveSeek("cancelled", time.Since(start))
			return Cancelled[time.Duration]()
		}
		nerr := &NativePlayerError{Tag: "Seek Failed", Err: err}
		c.publishError(nerr)
		c.seekCompletedSub.Publish(SeekCompleted{ID: uint64(gen), Position: at})
		metrics.ObserveSeek("failed", time.Since(start))
		return Failed[time.Duration](nerr)
	}

	c.seekCompletedSub.Publish(SeekCompleted{ID: uint64(gen), Position: pos})
	metrics.ObserveSeek("ok", time.Since(start))
	return Ok(pos)
}

func (c *Controller) doSeek(ctx context.Context, gen media.SeekGeneration, at time.Duration) (time.Duration, error) {
	c.mu.Lock()
	streams := c.streams
	c.mu.Unlock()

	// spec.md §4.4 step 5: "call Seek on every initialized stream
	// concurrently; await all". Stream.Seek is itself synchronous, but
	// it is fanned out and awaited via errgroup regardless, matching the
	// spec's per-stream concurrency rather than iterating sequentially.
	var restart atomic.Bool
	var g errgroup.Group
	for _, s := range streams {
		if s == nil {
			continue
		}
		s := s
		g.Go(func() error {
			if res := s.Seek(gen, at); res == esstream.SeekRestartRequired {
				restart.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()

	if restart.Load() {
		if err := c.doReconfigure(ctx, "seek_restart_required"); err != nil {
			return 0, err
		}
		return at, nil
	}

	if err := c.prebuffer(ctx, "seek"); err != nil {
		return 0, err
	}

	onReady := func(kind media.StreamKind) {
		if s := c.streamFor(kind); s != nil {
			s.Start(c.activeCtx)
		}
	}

	if err := c.currentPlayer().SeekAsync(ctx, at, onReady); err != nil {
		return 0, err
	}

	c.startClock(c.activeCtx)
	c.publishState(media.StatePlaying)
	return at, nil
}

// doReconfigure implements spec.md §4.4 Reconfigure, assuming the
// operation serializer is already held (either via runExclusive, or
// because doSeek is itself running under the serializer).
func (c *Controller) doReconfigure(ctx context.Context, trigger string) error {
	metrics.ReconfigureTotal.WithLabelValues(trigger).Inc()
	c.disableTransfer()
	if err := c.prebuffer(ctx, "reconfigure"); err != nil {
		return err
	}
	c.stopClock()

	oldPlayer := c.currentPlayer()
	if oldPlayer != nil {
		_ = oldPlayer.Stop()
		_ = oldPlayer.Dispose()
	}

	newPlayer, err := c.newPlr()
	if err != nil {
		return &NativePlayerError{Tag: "Restart Error", Err: err}
	}
	if err := newPlayer.Open(); err != nil {
		return &NativePlayerError{Tag: "Restart Error", Err: err}
	}
	newPlayer.SetTrustZoneUse(true)
	newPlayer.SetDisplay(c.displayHandle)

	c.mu.Lock()
	c.player = newPlayer
	oldEvCancel := c.nativeEvCancel
	evCtx, evCancel := context.WithCancel(c.activeCtx)
	c.nativeEvCancel = evCancel
	streams := c.streams
	c.mu.Unlock()
	if oldEvCancel != nil {
		oldEvCancel()
	}
	go c.watchNativeEvents(evCtx, newPlayer.Events())

	// spec.md §4.4 step 6's per-stream rebind (SetPlayer, ResetStreamConfig)
	// is fanned out the same way step 5's per-stream Seek is.
	var g errgroup.Group
	for _, s := range streams {
		if s == nil {
			continue
		}
		s := s
		g.Go(func() error {
			if err := s.SetPlayer(newPlayer); err != nil {
				return err
			}
			return s.ResetStreamConfig()
		})
	}
	if err := g.Wait(); err != nil {
		return &NativePlayerError{Tag: "Restart Error", Err: err}
	}

	onReady := func(kind media.StreamKind) {
		if s := c.streamFor(kind); s != nil {
			s.Start(c.activeCtx)
		}
	}
	if err := newPlayer.PrepareAsync(ctx, onReady); err != nil {
		return &NativePlayerError{Tag: "Restart Error", Err: err}
	}

	return c.Play()
}

func (c *Controller) watchStreamReconfigure(kind media.StreamKind, ch <-chan struct{}) {
	for range ch {
		c.log.Info("destructive reconfiguration requested", "stream", kind)
		go c.runExclusive(c.activeCtx, "Reconfigure", func(ctx context.Context) error {
			return c.doReconfigure(ctx, "stream_config_change")
		})
	}
}

func (c *Controller) watchStreamError(kind media.StreamKind, ch <-chan string) {
	for msg := range ch {
		c.publishError(fmt.Errorf("%w: stream %s: %s", ErrNativePlayerFailure, kind, msg))
	}
}

// watchNativeEvents dispatches EOS/Error/BufferStatus notifications from
// one native player generation until ctx is cancelled (e.g. because
// Reconfigure replaced the player, or Dispose ran).
func (c *Controller) watchNativeEvents(ctx context.Context, ev *nativeplayer.Events) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ev.EOS:
			c.onEOS()
		case msg, ok := <-ev.Error:
			if !ok {
				return
			}
			c.onNativeError(msg)
		case bse, ok := <-ev.BufferStatus:
			if !ok {
				return
			}
			c.onBufferStatus(bse)
		}
	}
}

// onEOS implements spec.md §4.4's EOSEmitted handler: EOS from the
// native player is treated as global completion, per the open question
// in spec.md §9 (never independently synthesized from per-stream EOS
// packets).
func (c *Controller) onEOS() {
	c.disableTransfer()
	c.mu.Lock()
	c.inputDisabled = true
	c.mu.Unlock()
	c.publishState(media.StateCompleted)
}

func (c *Controller) onNativeError(msg string) {
	c.disableTransfer()
	c.mu.Lock()
	c.inputDisabled = true
	c.mu.Unlock()
	c.publishError(fmt.Errorf("%w: %s", ErrNativePlayerFailure, msg))
	c.publishState(media.StateError)
}

func (c *Controller) onBufferStatus(evt nativeplayer.BufferStatusEvent) {
	switch evt.Status {
	case nativeplayer.Underrun:
		metrics.BufferUnderrunsTotal.WithLabelValues(evt.Stream.String()).Inc()
		if s := c.streamFor(evt.Stream); s != nil {
			s.Wakeup()
		}
	case nativeplayer.Overrun:
		c.log.Debug("buffer overrun", "stream", evt.Stream)
	}
}
