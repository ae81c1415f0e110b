// Package events implements the typed, ordered broadcast bus used by
// every observable in the playback controller (PlaybackError,
// TimeUpdated, StateChanged, SeekStarted/SeekCompleted, ...). It replaces
// the reactive-subject pattern of the original design with a manual
// mutex-guarded subscriber map, in the same style distribution.Relay
// uses to fan frames out to viewers: publication never blocks on a slow
// subscriber, and delivery order per subscriber matches publication
// order.
package events

import "sync"

// Subject is a single-value broadcast channel. Subscribers receive
// values published after they subscribe; there is no replay of past
// values (callers needing "last value" semantics should cache it
// themselves, as StreamController does for PlayerState).
type Subject[T any] struct {
	mu   sync.Mutex
	subs map[int]chan T
	next int
}

// NewSubject creates an empty Subject.
func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{subs: make(map[int]chan T)}
}

// Subscription is a handle returned by Subscribe; call Unsubscribe to
// stop receiving values and release the channel.
type Subscription struct {
	unsubscribe func()
}

// Unsubscribe removes the subscriber. Idempotent.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.unsubscribe == nil {
		return
	}
	s.unsubscribe()
}

// Subscribe registers a new subscriber and returns a channel of buffer
// size buf plus a Subscription used to cancel delivery. A slow consumer
// that lets the channel fill will miss subsequent values rather than
// block the publisher, matching the teacher's non-blocking
// trySendVideo/select-default fan-out discipline.
func (s *Subject[T]) Subscribe(buf int) (<-chan T, *Subscription) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan T, buf)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	sub := &Subscription{unsubscribe: func() {
		s.mu.Lock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
		s.mu.Unlock()
	}}
	return ch, sub
}

// Publish delivers v to every current subscriber. Subscribers whose
// channel is full drop the value rather than stall the publisher.
func (s *Subject[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// Close unsubscribes and closes every subscriber's channel. Safe to call
// more than once.
func (s *Subject[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
