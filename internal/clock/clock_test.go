package clock

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ariharrison/esctl/internal/nativeplayer"
)

type stubReader struct {
	pos time.Duration
	err error
}

func (s *stubReader) GetPlayingTime() (time.Duration, error) {
	return s.pos, s.err
}

// flakyReader returns a TransientReadError for its first n calls, then
// succeeds on every call after that.
type flakyReader struct {
	pos       time.Duration
	remaining atomic.Int32
}

func (r *flakyReader) GetPlayingTime() (time.Duration, error) {
	if r.remaining.Add(-1) >= 0 {
		return 0, &nativeplayer.TransientReadError{Err: errors.New("warming up")}
	}
	return r.pos, nil
}

func TestGeneratorPublishesUpdatesUntilCancelled(t *testing.T) {
	t.Parallel()

	r := &stubReader{pos: 3 * time.Second}
	g := New(r, 5*time.Millisecond, nil)
	updates, sub := g.SubscribeUpdates(4)
	defer sub.Unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	go g.Run(ctx)

	select {
	case pos := <-updates:
		if pos != 3*time.Second {
			t.Errorf("pos = %v, want 3s", pos)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for time update")
	}

	cancel()
	select {
	case <-g.Done():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Run to exit")
	}
}

func TestGeneratorPublishesFailedOnReadError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("native read failed")
	r := &stubReader{err: wantErr}
	g := New(r, 5*time.Millisecond, nil)
	failed, sub := g.SubscribeFailed(1)
	defer sub.Unsubscribe()

	go g.Run(context.Background())

	select {
	case err := <-failed:
		if !errors.Is(err, ErrPlayback) || !errors.Is(err, wantErr) {
			t.Errorf("err = %v, want wrapping both ErrPlayback and %v", err, wantErr)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for failed notification")
	}

	select {
	case <-g.Done():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Run to exit after error")
	}
}

func TestGeneratorSwallowsTransientReadErrors(t *testing.T) {
	t.Parallel()

	r := &flakyReader{pos: 7 * time.Second}
	r.remaining.Store(3)
	g := New(r, 5*time.Millisecond, nil)
	updates, updSub := g.SubscribeUpdates(4)
	defer updSub.Unsubscribe()
	failed, failSub := g.SubscribeFailed(1)
	defer failSub.Unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	select {
	case pos := <-updates:
		if pos != 7*time.Second {
			t.Errorf("pos = %v, want 7s", pos)
		}
	case err := <-failed:
		t.Fatalf("clock terminated on a transient error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a time update after transient failures")
	}
}

func TestGeneratorExitsOnContextCancelDuringRead(t *testing.T) {
	t.Parallel()

	r := &stubReader{err: context.Canceled}
	g := New(r, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	select {
	case <-g.Done():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Run to exit on context.Canceled read error")
	}
}
