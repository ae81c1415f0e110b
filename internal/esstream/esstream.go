// Package esstream implements EsStream: the per-stream transfer task
// that pumps packets from PacketStorage into the native player,
// honoring start/stop, codec reconfiguration, and seek generations
// (spec.md §4.3).
//
// The transfer loop follows the same prioritized, non-blocking
// dispatch discipline as internal/pipeline.Pipeline.Run in the teacher:
// a single goroutine owns delivery order, atomics carry observability
// counters, and a typed events.Subject fans out control notifications
// instead of a reactive subject.
package esstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ariharrison/esctl/internal/buffer"
	"github.com/ariharrison/esctl/internal/events"
	"github.com/ariharrison/esctl/internal/media"
	"github.com/ariharrison/esctl/internal/metrics"
	"github.com/ariharrison/esctl/internal/nativeplayer"
	"github.com/ariharrison/esctl/internal/packetstore"
)

// Phase is EsStream's own state machine (spec.md §4.3): Idle →
// Configured → Starting → Transferring ⇄ Stopped; any state → Disabled.
type Phase int

const (
	Idle Phase = iota
	Configured
	Starting
	Transferring
	Stopped
	Disabled
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Configured:
		return "configured"
	case Starting:
		return "starting"
	case Transferring:
		return "transferring"
	case Stopped:
		return "stopped"
	case Disabled:
		return "disabled"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// ConfigResult is returned by SetStreamConfig.
type ConfigResult int

const (
	ConfigAccepted ConfigResult = iota
	ConfigQueued
)

// SeekResult is returned by Seek.
type SeekResult int

const (
	SeekOk SeekResult = iota
	SeekRestartRequired
)

// ErrDisabled is returned by operations attempted on a Disabled stream.
var ErrDisabled = errors.New("esstream: stream is disabled")

// Stream is one elementary stream's transfer task.
type Stream struct {
	kind    media.StreamKind
	storage *packetstore.Storage
	acct    *buffer.Accountant
	log     *slog.Logger

	mu            sync.Mutex
	phase         Phase
	currentConfig *media.StreamConfig
	pendingConfig *media.StreamConfig
	targetGen     media.SeekGeneration
	parkRequested bool
	settled       chan struct{}
	resumeCh      chan struct{}
	runCancel     context.CancelFunc

	playerBox atomic.Pointer[playerBox]

	forwarded atomic.Int64
	dropped   atomic.Int64

	reconfigureSub *events.Subject[struct{}]
	errorSub       *events.Subject[string]
}

type playerBox struct{ p nativeplayer.Player }

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// New creates a Stream in Idle phase for kind, backed by storage for
// packet retrieval and acct for buffer-level accounting.
func New(kind media.StreamKind, storage *packetstore.Storage, acct *buffer.Accountant, log *slog.Logger) *Stream {
	if log == nil {
		log = slog.Default()
	}
	return &Stream{
		kind:           kind,
		storage:        storage,
		acct:           acct,
		log:            log.With("component", "esstream", "stream", kind.String()),
		phase:          Idle,
		settled:        closedChan(),
		resumeCh:       make(chan struct{}),
		reconfigureSub: events.NewSubject[struct{}](),
		errorSub:       events.NewSubject[string](),
	}
}

// Phase returns the current phase, for tests and diagnostics.
func (s *Stream) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// SetPlayer binds the underlying native-player reference. Valid in
// Idle, Configured, or Stopped.
func (s *Stream) SetPlayer(p nativeplayer.Player) error {
	s.mu.Lock()
	switch s.phase {
	case Idle, Configured, Stopped:
	default:
		s.mu.Unlock()
		return fmt.Errorf("esstream: SetPlayer invalid in phase %v", s.phase)
	}
	s.mu.Unlock()
	s.playerBox.Store(&playerBox{p: p})
	s.signalResume()
	return nil
}

func (s *Stream) currentPlayer() nativeplayer.Player {
	b := s.playerBox.Load()
	if b == nil {
		return nil
	}
	return b.p
}

// SetStreamConfig applies the first config (Idle→Configured, pushed
// immediately) or queues a second config arriving mid-transfer, per
// spec.md §4.3.
func (s *Stream) SetStreamConfig(cfg media.StreamConfig) (ConfigResult, error) {
	s.mu.Lock()
	if s.phase == Disabled {
		s.mu.Unlock()
		return 0, ErrDisabled
	}
	if s.currentConfig == nil {
		s.currentConfig = &cfg
		if s.phase == Idle {
			s.phase = Configured
		}
		s.mu.Unlock()
		if pl := s.currentPlayer(); pl != nil {
			if err := pl.SetStreamConfig(cfg); err != nil {
				return 0, err
			}
		}
		return ConfigAccepted, nil
	}
	if s.phase == Transferring {
		s.pendingConfig = &cfg
		s.mu.Unlock()
		return ConfigQueued, nil
	}
	s.currentConfig = &cfg
	s.mu.Unlock()
	if pl := s.currentPlayer(); pl != nil {
		if err := pl.SetStreamConfig(cfg); err != nil {
			return 0, err
		}
	}
	return ConfigAccepted, nil
}

// ResetStreamConfig re-applies the active config after the native
// player has been replaced (Reconfigure step 7).
func (s *Stream) ResetStreamConfig() error {
	s.mu.Lock()
	cfg := s.currentConfig
	s.mu.Unlock()
	if cfg == nil {
		return nil
	}
	if pl := s.currentPlayer(); pl != nil {
		return pl.SetStreamConfig(*cfg)
	}
	return nil
}

// Start spawns (or resumes, if parked) the transfer task under ctx.
func (s *Stream) Start(ctx context.Context) {
	s.mu.Lock()
	if s.phase == Disabled {
		s.mu.Unlock()
		return
	}
	if s.phase == Transferring {
		s.parkRequested = false
		s.mu.Unlock()
		s.signalResume()
		return
	}
	s.phase = Transferring
	s.parkRequested = false
	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel
	settled := make(chan struct{})
	s.settled = settled
	s.mu.Unlock()

	go s.run(runCtx, settled)
}

// Stop signals the transfer task to park at the next safe point. It does
// not clear queued packets, is callable from any state, and is
// idempotent.
func (s *Stream) Stop() {
	s.mu.Lock()
	if s.phase == Disabled {
		s.mu.Unlock()
		return
	}
	s.parkRequested = true
	s.mu.Unlock()
	// Wake a task blocked waiting for storage so it reaches the park.
	s.signalResume()
}

// Disable transitions to Disabled, a terminal state for input; the
// active task's context is cancelled so it exits promptly.
func (s *Stream) Disable() {
	s.mu.Lock()
	s.phase = Disabled
	cancel := s.runCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.reconfigureSub.Close()
	s.errorSub.Close()
}

// Seek installs a new target generation, discards any stale packets
// currently buffered, and reports whether the codec config changed
// across the seek boundary (destructive reconfiguration).
func (s *Stream) Seek(gen media.SeekGeneration, at time.Duration) SeekResult {
	s.mu.Lock()
	s.targetGen = gen
	restart := false
	if s.pendingConfig != nil {
		if s.currentConfig == nil || !s.currentConfig.Equal(*s.pendingConfig) {
			restart = true
		}
		s.currentConfig = s.pendingConfig
		s.pendingConfig = nil
	}
	s.mu.Unlock()

	// Packets already sitting in storage were produced before the
	// producer acknowledged this seek, so they necessarily belong to a
	// prior generation; drop them outright rather than inspecting each
	// one, matching "discards storage up to the first packet whose
	// generation matches".
	s.storage.Clear(s.kind)
	s.acct.Reset()

	if restart {
		return SeekRestartRequired
	}
	return SeekOk
}

// GetActiveTask returns a channel closed once the current run has
// become quiescent (parked at a safe point, or exited).
func (s *Stream) GetActiveTask() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settled
}

// Wakeup nudges a parked transfer task, e.g. after a buffer-underrun
// event or once back-pressure from the player has cleared.
func (s *Stream) Wakeup() {
	s.mu.Lock()
	s.parkRequested = false
	s.mu.Unlock()
	s.signalResume()
}

// SubscribeReconfigure delivers a notification whenever a destructive
// codec reconfiguration is required.
func (s *Stream) SubscribeReconfigure(buf int) (<-chan struct{}, *events.Subscription) {
	return s.reconfigureSub.Subscribe(buf)
}

// SubscribeError delivers native/append failures observed while
// transferring.
func (s *Stream) SubscribeError(buf int) (<-chan string, *events.Subscription) {
	return s.errorSub.Subscribe(buf)
}

// Stats returns forwarded/dropped packet counters for diagnostics.
func (s *Stream) Stats() (forwarded, dropped int64) {
	return s.forwarded.Load(), s.dropped.Load()
}

func (s *Stream) signalResume() {
	s.mu.Lock()
	ch := s.resumeCh
	s.resumeCh = make(chan struct{})
	s.mu.Unlock()
	close(ch)
}

func (s *Stream) markSettled(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func (s *Stream) run(ctx context.Context, settled chan struct{}) {
	defer func() {
		s.mu.Lock()
		if s.phase != Disabled {
			s.phase = Stopped
		}
		s.mu.Unlock()
		s.markSettled(settled)
	}()

	var pending *media.Packet

	for {
		s.mu.Lock()
		parked := s.parkRequested
		gen := s.targetGen
		resumeCh := s.resumeCh
		s.mu.Unlock()

		if parked {
			s.markSettled(settled)
			select {
			case <-resumeCh:
				continue
			case <-ctx.Done():
				return
			}
		}

		if pending == nil {
			// The wait for the next packet also ends when resumeCh is
			// closed (Stop, Start, Wakeup, SetPlayer), so a park request
			// is seen even while storage is empty.
			takeCtx, takeCancel := context.WithCancel(ctx)
			go func() {
				select {
				case <-resumeCh:
					takeCancel()
				case <-takeCtx.Done():
				}
			}()
			p, err := s.storage.TakePacket(takeCtx, s.kind)
			takeCancel()
			if err != nil {
				if ctx.Err() == nil && errors.Is(err, context.Canceled) {
					continue
				}
				if errors.Is(err, packetstore.ErrClosed) {
					s.log.Debug("storage closed, transfer task exiting")
				}
				return
			}
			pending = &p
		}

		p := *pending

		if p.Generation < gen {
			s.dropped.Add(1)
			metrics.PacketsDroppedTotal.WithLabelValues(s.kind.String()).Inc()
			pending = nil
			continue
		}

		if p.IsEOS {
			if pl := s.currentPlayer(); pl != nil {
				if err := pl.AppendPacket(p); err != nil {
					s.errorSub.Publish(err.Error())
				}
			}
			s.acct.MarkEosDts()
			pending = nil
			s.park()
			continue
		}

		if p.IsConfig {
			s.handleConfigPacket(p.Config)
			pending = nil
			continue
		}

		pl := s.currentPlayer()
		if pl == nil {
			pending = &p
			s.park()
			continue
		}

		if err := pl.AppendPacket(p); err != nil {
			if errors.Is(err, nativeplayer.ErrBackpressure) {
				pending = &p
				s.park()
				continue
			}
			s.errorSub.Publish(err.Error())
			pending = nil
			continue
		}

		s.acct.DataOut(p.PTS)
		s.forwarded.Add(1)
		metrics.PacketsForwardedTotal.WithLabelValues(s.kind.String()).Inc()
		pending = nil
	}
}

func (s *Stream) park() {
	s.mu.Lock()
	s.parkRequested = true
	s.mu.Unlock()
}

func (s *Stream) handleConfigPacket(cfg media.StreamConfig) {
	s.mu.Lock()
	cur := s.currentConfig
	destructive := cur != nil && !cur.Equal(cfg)
	if destructive {
		s.pendingConfig = &cfg
	} else {
		s.currentConfig = &cfg
	}
	s.mu.Unlock()

	if destructive {
		s.reconfigureSub.Publish(struct{}{})
		return
	}
	if pl := s.currentPlayer(); pl != nil {
		if err := pl.SetStreamConfig(cfg); err != nil {
			s.errorSub.Publish(err.Error())
		}
	}
}
