// Package clock implements the periodic time-update generator described
// in spec.md §4.4: a cancellable ticker loop that reads the native
// player's playing time and republishes it on a Subject, in the same
// shape as the teacher's writeStatsLoop in
// internal/distribution/moq_session.go (ticker + select + swallow
// transient read errors).
package clock

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ariharrison/esctl/internal/events"
	"github.com/ariharrison/esctl/internal/nativeplayer"
)

// TimeReader is the subset of nativeplayer.Player the clock needs.
// Kept minimal so tests can supply a stub without pulling in the full
// player surface.
type TimeReader interface {
	GetPlayingTime() (time.Duration, error)
}

// ErrPlayback is published (wrapped with the failing read's error) via
// the Failed subject when a non-transient read error is observed;
// per spec.md §4.4 this terminates the clock, unlike a transient error
// which is logged and swallowed.
var ErrPlayback = errors.New("clock: playback error")

// Generator runs the clock task: on each tick it reads player's playing
// time and publishes it on Updates. A single instance is single-shot —
// call New again for each Start/Stop cycle, mirroring EsStream's
// per-run lifecycle.
type Generator struct {
	player   TimeReader
	interval time.Duration
	log      *slog.Logger

	updates *events.Subject[time.Duration]
	failed  *events.Subject[error]

	done chan struct{}
}

// New creates a Generator that polls player every interval.
func New(player TimeReader, interval time.Duration, log *slog.Logger) *Generator {
	if log == nil {
		log = slog.Default()
	}
	return &Generator{
		player:   player,
		interval: interval,
		log:      log.With("component", "clock"),
		updates:  events.NewSubject[time.Duration](),
		failed:   events.NewSubject[error](),
		done:     make(chan struct{}),
	}
}

// SubscribeUpdates delivers each successfully read playing time.
func (g *Generator) SubscribeUpdates(buf int) (<-chan time.Duration, *events.Subscription) {
	return g.updates.Subscribe(buf)
}

// SubscribeFailed delivers a terminal read error, at most once.
func (g *Generator) SubscribeFailed(buf int) (<-chan error, *events.Subscription) {
	return g.failed.Subscribe(buf)
}

// Run blocks until ctx is cancelled or a non-transient read error
// occurs, ticking at the configured interval. Intended to be launched
// with `go g.Run(ctx)`; the caller learns of termination either via ctx
// or by subscribing to Failed before calling Run.
func (g *Generator) Run(ctx context.Context) {
	defer close(g.done)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pos, err := g.player.GetPlayingTime()
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				var transient *nativeplayer.TransientReadError
				if errors.As(err, &transient) {
					g.log.Debug("transient playing-time read error, continuing", "error", err)
					continue
				}
				g.log.Warn("playing-time read failed, stopping clock", "error", err)
				g.failed.Publish(errors.Join(ErrPlayback, err))
				return
			}
			g.updates.Publish(pos)
		}
	}
}

// Done reports when Run has returned.
func (g *Generator) Done() <-chan struct{} {
	return g.done
}
