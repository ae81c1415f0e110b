// Package connector implements DataProviderConnector: a subscription
// bus that wires a DataProvider and a PlayerController together and
// suspends both subscription halves while a client-initiated Seek runs
// (spec.md §4.6).
package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ariharrison/esctl/internal/events"
	"github.com/ariharrison/esctl/internal/media"
	"github.com/ariharrison/esctl/internal/playback"
	"github.com/ariharrison/esctl/internal/playerctl"
)

// ErrInvalidArgument mirrors spec.md §7's InvalidArgument kind.
var ErrInvalidArgument = errors.New("connector: invalid argument")

// PlayerSide is the subset of PlayerController the connector subscribes
// to for the controller-to-provider half of the bus.
type PlayerSide interface {
	CurrentTime() time.Duration
	Duration() time.Duration
	OnTimeUpdated(t time.Duration)
	SubscribeProgress(buf int) (<-chan int, *events.Subscription)
	SubscribeError(buf int) (<-chan string, *events.Subscription)
	SubscribeBuffering(buf int) (<-chan bool, *events.Subscription)
}

// StateSource is the subset of StreamController the connector forwards
// StateChanged/TimeUpdated from.
type StateSource interface {
	SubscribeState(buf int) (<-chan media.PlayerState, *events.Subscription)
	SubscribeTime(buf int) (<-chan time.Duration, *events.Subscription)
}

// providerHandle is the DataProvider surface the connector subscribes
// to and echoes controller-side events back into.
type providerHandle = playerctl.DataProvider

// Connector composes the two subscription sets described in spec.md
// §4.6 and exposes a PlayerClient implementing client-initiated Seek.
type Connector struct {
	log      *slog.Logger
	provider providerHandle
	player   PlayerSide
	states   StateSource

	mu   sync.Mutex
	subs []*events.Subscription
}

// Handle identifies one connect call. It is not used for routing, and
// the connector's own callers discard it.
type Handle struct {
	id uuid.UUID
}

// New wires provider and player together and returns a live Connector.
// Both must be non-nil (spec.md §7 InvalidArgument).
func New(provider providerHandle, player PlayerSide, states StateSource, log *slog.Logger) (*Connector, error) {
	if provider == nil || player == nil {
		return nil, fmt.Errorf("%w: provider and player must be non-nil", ErrInvalidArgument)
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Connector{
		log:      log.With("component", "connector"),
		provider: provider,
		player:   player,
		states:   states,
	}
	c.connect()
	return c, nil
}

// connect (re)builds both subscription halves. Idempotent: an existing
// set is torn down first.
func (c *Connector) connect() Handle {
	c.disconnect()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.states != nil {
		stateCh, stateSub := c.states.SubscribeState(16)
		c.subs = append(c.subs, stateSub)
		go func() {
			for s := range stateCh {
				c.provider.OnStateChanged(s)
			}
		}()

		timeCh, timeSub := c.states.SubscribeTime(16)
		c.subs = append(c.subs, timeSub)
		go func() {
			for t := range timeCh {
				c.player.OnTimeUpdated(t)
				c.provider.OnTimeUpdated(t)
			}
		}()
	}

	bufferingCh, bufferingSub := c.player.SubscribeBuffering(16)
	c.subs = append(c.subs, bufferingSub)
	go func() {
		for b := range bufferingCh {
			c.provider.OnBufferingStateChanged(b)
		}
	}()

	// Progress and Error are UI-facing observables, not part of the
	// DataProvider bus; they are subscribed and drained here without
	// being forwarded anywhere.
	// DataStateChanged (spec.md §4.6) has no source in this build: the
	// buffer.Accountant's DataRequest is internal to StreamBuffer and is
	// not exposed as a StreamController observable, so it is not echoed
	// to the DataProvider.
	progress, progressSub := c.player.SubscribeProgress(16)
	c.subs = append(c.subs, progressSub)
	go func() {
		for range progress {
		}
	}()
	errCh, errSub := c.player.SubscribeError(16)
	c.subs = append(c.subs, errSub)
	go func() {
		for range errCh {
		}
	}()

	return Handle{id: uuid.New()}
}

// Disconnect tears down every subscription owned by this connector.
func (c *Connector) Disconnect() {
	c.disconnect()
}

func (c *Connector) disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, s := range subs {
		s.Unsubscribe()
	}
}

// PlayerClient exposes the client-initiated Seek surface consumed from
// the DataProvider side (spec.md §6's IPlayerClient).
type PlayerClient struct {
	c    *Connector
	seek func(ctx context.Context, at time.Duration) playback.Outcome[time.Duration]
}

// NewPlayerClient wraps seek (typically playback.Controller.Seek or
// playerctl.PlayerController.Seek) so its execution suspends both of
// the connector's subscription halves for its duration.
func (c *Connector) NewPlayerClient(seek func(ctx context.Context, at time.Duration) playback.Outcome[time.Duration]) *PlayerClient {
	return &PlayerClient{c: c, seek: seek}
}

// Seek tears down both subscription sets, invokes the underlying Seek,
// repositions the DataProvider, and rebuilds both sets on every exit
// path (success, failure, or cancellation) — spec.md §4.6.
func (pc *PlayerClient) Seek(ctx context.Context, at time.Duration) playback.Outcome[time.Duration] {
	pc.c.disconnect()
	defer pc.c.connect()

	outcome := pc.seek(ctx, at)
	if outcome.IsOk() {
		if _, err := pc.c.provider.Seek(ctx, outcome.Value()); err != nil {
			return playback.Failed[time.Duration](err)
		}
	}
	return outcome
}
