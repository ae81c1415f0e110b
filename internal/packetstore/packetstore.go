// Package packetstore implements PacketStorage: a per-stream FIFO of
// encoded packets with a running duration estimate, following the
// teacher's per-stream io.Pipe/channel ownership pattern
// (internal/ingest.Registry) generalized from bytes to typed packets.
package packetstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ariharrison/esctl/internal/media"
)

// ErrClosed is returned by TakePacket once the stream has been marked
// complete and drained.
var ErrClosed = errors.New("packetstore: closed")

// queueDepth bounds each stream's channel; large enough to hold a few
// seconds of typical elementary-stream access units without hitting
// backpressure under normal ingest rates.
const queueDepth = 512

// queue is a single stream's FIFO plus duration accounting. lastPTSIn
// and watermark track the running "stored duration" estimate defined
// in spec.md §4.1: (last_pts_in − first_pts_out).
type queue struct {
	ch chan media.Packet

	mu           sync.Mutex
	haveIn       bool
	watermark    int64 // anchor for the duration estimate; see Duration
	lastPTSIn    int64
	closed       bool
	completeOnce sync.Once
}

// Storage owns one queue per StreamKind. Producers (the event scheduler
// side) enqueue via AddPacket; consumers (EsStream transfer tasks)
// dequeue via TakePacket. It is the only cross-goroutine data channel in
// the system (spec.md §5).
type Storage struct {
	mu     sync.RWMutex
	queues [media.NumStreamKinds]*queue
	inited [media.NumStreamKinds]atomic.Bool
}

// New creates an empty Storage. Call Initialize per StreamKind before
// use.
func New() *Storage {
	return &Storage{}
}

// Initialize creates the queue for kind. Calling it twice for the same
// kind is a programmer error and panics, matching spec.md §7's
// InvalidArgument taxonomy for "initializing a stream twice".
func (s *Storage) Initialize(kind media.StreamKind) {
	if !s.inited[kind].CompareAndSwap(false, true) {
		panic("packetstore: stream already initialized: " + kind.String())
	}
	s.mu.Lock()
	s.queues[kind] = &queue{ch: make(chan media.Packet, queueDepth)}
	s.mu.Unlock()
}

func (s *Storage) queueFor(kind media.StreamKind) *queue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queues[kind]
}

// AddPacket enqueues p, updating the running duration estimate. It
// blocks if the stream's queue is full; callers on the event scheduler
// should not call this for a disabled/closed stream.
func (s *Storage) AddPacket(ctx context.Context, p media.Packet) error {
	q := s.queueFor(p.Kind)
	if q == nil {
		return errors.New("packetstore: stream not initialized: " + p.Kind.String())
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if !q.haveIn {
		q.watermark = int64(p.PTS)
		q.haveIn = true
	}
	q.lastPTSIn = int64(p.PTS)
	q.mu.Unlock()

	select {
	case q.ch <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TakePacket suspends until a packet is available for kind, ctx is
// cancelled, or the stream is closed and drained (ErrClosed).
func (s *Storage) TakePacket(ctx context.Context, kind media.StreamKind) (media.Packet, error) {
	q := s.queueFor(kind)
	if q == nil {
		if s.inited[kind].Load() {
			// Initialized once, queue since released by Dispose.
			return media.Packet{}, ErrClosed
		}
		return media.Packet{}, errors.New("packetstore: stream not initialized: " + kind.String())
	}

	select {
	case p, ok := <-q.ch:
		if !ok {
			return media.Packet{}, ErrClosed
		}
		q.mu.Lock()
		q.watermark = int64(p.PTS)
		q.mu.Unlock()
		return p, nil
	case <-ctx.Done():
		return media.Packet{}, ctx.Err()
	}
}

// Duration returns the current stored-duration estimate for kind:
// last_pts_in − first_pts_out (spec.md §4.1). Before any packet has been
// dequeued, the watermark is the PTS of the first packet ever enqueued,
// so Duration reports the full accumulated backlog — the quantity
// Prepare's prebuffer loop polls. Each dequeue advances the watermark to
// the dequeued packet's PTS, so Duration then reports the remaining
// backlog ahead of what has already been handed to the native player.
func (s *Storage) Duration(kind media.StreamKind) (d int64, haveData bool) {
	q := s.queueFor(kind)
	if q == nil {
		return 0, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.haveIn {
		return 0, false
	}
	d = q.lastPTSIn - q.watermark
	if d < 0 {
		d = 0
	}
	return d, true
}

// Clear drains any packets currently queued for kind without closing it.
func (s *Storage) Clear(kind media.StreamKind) {
	q := s.queueFor(kind)
	if q == nil {
		return
	}
	for {
		select {
		case <-q.ch:
		default:
			q.mu.Lock()
			q.haveIn = false
			q.watermark, q.lastPTSIn = 0, 0
			q.mu.Unlock()
			return
		}
	}
}

// MarkComplete closes kind's queue: pending packets can still be drained
// by TakePacket, but subsequent TakePacket calls return ErrClosed once
// drained, and AddPacket returns ErrClosed immediately.
func (s *Storage) MarkComplete(kind media.StreamKind) {
	q := s.queueFor(kind)
	if q == nil {
		return
	}
	q.completeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.ch)
	})
}

// Dispose releases every stream's queue. Idempotent.
func (s *Storage) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, q := range s.queues {
		if q == nil {
			continue
		}
		q.completeOnce.Do(func() {
			q.mu.Lock()
			q.closed = true
			q.mu.Unlock()
			close(q.ch)
		})
		s.queues[i] = nil
	}
}
