package playerctl

import (
	"context"
	"sync"

	"github.com/ariharrison/esctl/internal/media"
)

// packetStream is the per-stream leaf between a DataProvider and the
// core: it patches extradata captured from an earlier config into
// StreamConfigReady events that carry none, attaches the current DRM
// configuration to outgoing packets, and forwards both to the core
// Player.
type packetStream struct {
	kind   media.StreamKind
	player Player

	mu        sync.Mutex
	drm       *DRMConfiguration
	extradata []byte
}

func newPacketStream(kind media.StreamKind, player Player) *packetStream {
	return &packetStream{kind: kind, player: player}
}

func (ps *packetStream) setDRM(cfg DRMConfiguration) {
	ps.mu.Lock()
	ps.drm = &cfg
	ps.mu.Unlock()
}

// onStreamConfigReady patches in any extradata captured from an earlier
// config for this stream (a native player replaced by Reconfigure may
// need the same extradata resent without the producer re-deriving it)
// and forwards the resulting config to the core.
func (ps *packetStream) onStreamConfigReady(cfg media.StreamConfig) error {
	ps.mu.Lock()
	if len(cfg.Extradata) > 0 {
		ps.extradata = cfg.Extradata
	} else if len(ps.extradata) > 0 {
		cfg.Extradata = ps.extradata
	}
	ps.mu.Unlock()

	_, err := ps.player.SetStreamConfig(cfg)
	return err
}

// onPacketReady attaches the stream's current DRM configuration, if
// any, before forwarding to the core.
func (ps *packetStream) onPacketReady(ctx context.Context, p media.Packet) error {
	ps.mu.Lock()
	drm := ps.drm
	ps.mu.Unlock()

	if drm != nil && p.DRM == nil {
		p.DRM = *drm
	}
	return ps.player.AddPacket(ctx, p)
}
