package playerctl

import (
	"context"
	"testing"
	"time"

	"github.com/ariharrison/esctl/internal/media"
)

func TestSyntheticProviderEmitsConfigsAndPackets(t *testing.T) {
	t.Parallel()

	p := NewSyntheticProvider(2*time.Second, []media.StreamKind{media.Audio, media.Video}, nil)

	cfgCh, cfgSub := p.SubscribeStreamConfigReady(4)
	defer cfgSub.Unsubscribe()
	packetCh, packetSub := p.SubscribePacketReady(16)
	defer packetSub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go p.Run(ctx)

	seen := map[media.StreamKind]bool{}
	deadline := time.After(time.Second)
	for len(seen) < 2 {
		select {
		case cfg := <-cfgCh:
			seen[cfg.Kind] = true
		case <-deadline:
			t.Fatalf("timed out waiting for configs, saw %d/2", len(seen))
		}
	}

	select {
	case pkt := <-packetCh:
		if pkt.Data == nil && !pkt.IsEOS {
			t.Error("expected first packet to carry data or be EOS")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first packet")
	}
}

func TestSyntheticProviderSeekClampsToDuration(t *testing.T) {
	t.Parallel()

	p := NewSyntheticProvider(5*time.Second, []media.StreamKind{media.Audio}, nil)
	pos, err := p.Seek(context.Background(), 10*time.Second)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if pos != 5*time.Second {
		t.Errorf("Seek(10s) with duration=5s = %v, want 5s", pos)
	}
}
