package events

import "testing"

func TestSubjectPublishSubscribe(t *testing.T) {
	t.Parallel()

	s := NewSubject[int]()
	ch, sub := s.Subscribe(4)
	defer sub.Unsubscribe()

	s.Publish(1)
	s.Publish(2)

	if got := <-ch; got != 1 {
		t.Fatalf("first value = %d, want 1", got)
	}
	if got := <-ch; got != 2 {
		t.Fatalf("second value = %d, want 2", got)
	}
}

func TestSubjectOrderedPerSubscriber(t *testing.T) {
	t.Parallel()

	s := NewSubject[string]()
	ch, sub := s.Subscribe(8)
	defer sub.Unsubscribe()

	want := []string{"a", "b", "c"}
	for _, v := range want {
		s.Publish(v)
	}

	for _, w := range want {
		if got := <-ch; got != w {
			t.Fatalf("got %q, want %q", got, w)
		}
	}
}

func TestSubjectDropsWhenFull(t *testing.T) {
	t.Parallel()

	s := NewSubject[int]()
	ch, sub := s.Subscribe(1)
	defer sub.Unsubscribe()

	s.Publish(1)
	s.Publish(2) // dropped: subscriber hasn't drained yet

	if got := <-ch; got != 1 {
		t.Fatalf("got %d, want 1", got)
	}
	select {
	case v := <-ch:
		t.Fatalf("unexpected second value %d", v)
	default:
	}
}

func TestSubjectUnsubscribeIdempotent(t *testing.T) {
	t.Parallel()

	s := NewSubject[int]()
	_, sub := s.Subscribe(1)
	sub.Unsubscribe()
	sub.Unsubscribe()
}

func TestSubjectCloseIdempotent(t *testing.T) {
	t.Parallel()

	s := NewSubject[int]()
	ch, _ := s.Subscribe(1)
	s.Close()
	s.Close()

	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed")
	}
}
