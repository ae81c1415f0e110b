package packetstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ariharrison/esctl/internal/media"
)

func TestAddTakeRoundTrip(t *testing.T) {
	t.Parallel()

	s := New()
	s.Initialize(media.Audio)
	ctx := context.Background()

	want := media.Packet{Kind: media.Audio, PTS: 100 * time.Millisecond, Data: []byte{1, 2}}
	if err := s.AddPacket(ctx, want); err != nil {
		t.Fatalf("AddPacket: %v", err)
	}

	got, err := s.TakePacket(ctx, media.Audio)
	if err != nil {
		t.Fatalf("TakePacket: %v", err)
	}
	if got.PTS != want.PTS {
		t.Errorf("PTS = %v, want %v", got.PTS, want.PTS)
	}
}

func TestInitializeTwicePanics(t *testing.T) {
	t.Parallel()

	s := New()
	s.Initialize(media.Video)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double Initialize")
		}
	}()
	s.Initialize(media.Video)
}

func TestDurationAccumulatesBeforeAnyDequeue(t *testing.T) {
	t.Parallel()

	s := New()
	s.Initialize(media.Video)
	ctx := context.Background()

	for _, pts := range []time.Duration{0, time.Second, 2 * time.Second} {
		if err := s.AddPacket(ctx, media.Packet{Kind: media.Video, PTS: pts, Data: []byte{1}}); err != nil {
			t.Fatalf("AddPacket: %v", err)
		}
	}

	d, ok := s.Duration(media.Video)
	if !ok {
		t.Fatal("expected haveData true")
	}
	if got, want := time.Duration(d), 2*time.Second; got != want {
		t.Errorf("Duration = %v, want %v", got, want)
	}
}

func TestDurationShrinksAfterDequeue(t *testing.T) {
	t.Parallel()

	s := New()
	s.Initialize(media.Video)
	ctx := context.Background()

	for _, pts := range []time.Duration{0, time.Second, 2 * time.Second} {
		_ = s.AddPacket(ctx, media.Packet{Kind: media.Video, PTS: pts, Data: []byte{1}})
	}
	if _, err := s.TakePacket(ctx, media.Video); err != nil {
		t.Fatalf("TakePacket: %v", err)
	}

	d, _ := s.Duration(media.Video)
	if got, want := time.Duration(d), time.Second; got != want {
		t.Errorf("Duration after one dequeue = %v, want %v", got, want)
	}
}

func TestTakePacketAfterMarkCompleteDrainsThenErrClosed(t *testing.T) {
	t.Parallel()

	s := New()
	s.Initialize(media.Audio)
	ctx := context.Background()

	_ = s.AddPacket(ctx, media.Packet{Kind: media.Audio, Data: []byte{1}})
	s.MarkComplete(media.Audio)

	if _, err := s.TakePacket(ctx, media.Audio); err != nil {
		t.Fatalf("expected queued packet before closed error, got %v", err)
	}
	if _, err := s.TakePacket(ctx, media.Audio); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestAddPacketAfterMarkCompleteFails(t *testing.T) {
	t.Parallel()

	s := New()
	s.Initialize(media.Audio)
	s.MarkComplete(media.Audio)

	if err := s.AddPacket(context.Background(), media.Packet{Kind: media.Audio, Data: []byte{1}}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestTakePacketCancellation(t *testing.T) {
	t.Parallel()

	s := New()
	s.Initialize(media.Video)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := s.TakePacket(ctx, media.Video); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestClearResetsQueueAndDuration(t *testing.T) {
	t.Parallel()

	s := New()
	s.Initialize(media.Audio)
	ctx := context.Background()
	_ = s.AddPacket(ctx, media.Packet{Kind: media.Audio, PTS: time.Second, Data: []byte{1}})

	s.Clear(media.Audio)

	if _, ok := s.Duration(media.Audio); ok {
		t.Fatal("expected Duration to report no data after Clear")
	}
}

func TestDisposeClosesAllQueues(t *testing.T) {
	t.Parallel()

	s := New()
	s.Initialize(media.Audio)
	s.Initialize(media.Video)
	s.Dispose()

	if _, err := s.TakePacket(context.Background(), media.Audio); !errors.Is(err, ErrClosed) {
		t.Errorf("audio: expected ErrClosed, got %v", err)
	}
	if _, err := s.TakePacket(context.Background(), media.Video); !errors.Is(err, ErrClosed) {
		t.Errorf("video: expected ErrClosed, got %v", err)
	}
}
