package playerctl

import (
	"context"
	"log/slog"
	"time"

	"github.com/ariharrison/esctl/internal/events"
	"github.com/ariharrison/esctl/internal/media"
)

// SyntheticProvider is a deterministic DataProvider that manufactures
// codec configs and packets for a fixed clip duration, standing in for
// a real demuxer/manifest-parsing producer. It is used by
// cmd/esctl-demo, matching SPEC_FULL.md §12's rationale for the fake
// native player: the DataProvider is an
// out-of-scope external collaborator, so a synthetic one is required to
// exercise the bus end-to-end.
type SyntheticProvider struct {
	log      *slog.Logger
	duration time.Duration
	kinds    []media.StreamKind

	durationSub  *events.Subject[time.Duration]
	drmInitSub   *events.Subject[DRMInitData]
	drmCfgSub    *events.Subject[DRMConfiguration]
	cfgReadySub  *events.Subject[media.StreamConfig]
	packetSub    *events.Subject[media.Packet]
	streamErrSub *events.Subject[string]
	bufferingSub *events.Subject[bool]
}

// NewSyntheticProvider constructs a provider that will emit configs and
// one packet per second per kind, up to duration.
func NewSyntheticProvider(duration time.Duration, kinds []media.StreamKind, log *slog.Logger) *SyntheticProvider {
	if log == nil {
		log = slog.Default()
	}
	return &SyntheticProvider{
		log:          log.With("component", "syntheticprovider"),
		duration:     duration,
		kinds:        kinds,
		durationSub:  events.NewSubject[time.Duration](),
		drmInitSub:   events.NewSubject[DRMInitData](),
		drmCfgSub:    events.NewSubject[DRMConfiguration](),
		cfgReadySub:  events.NewSubject[media.StreamConfig](),
		packetSub:    events.NewSubject[media.Packet](),
		streamErrSub: events.NewSubject[string](),
		bufferingSub: events.NewSubject[bool](),
	}
}

// Seek reports the requested position as reached immediately; a real
// producer would reposition its demux read cursor here.
func (p *SyntheticProvider) Seek(ctx context.Context, at time.Duration) (time.Duration, error) {
	if at > p.duration {
		at = p.duration
	}
	p.log.Debug("synthetic seek", "position", at)
	return at, nil
}

func (p *SyntheticProvider) OnTimeUpdated(t time.Duration)      {}
func (p *SyntheticProvider) OnStateChanged(s media.PlayerState) {}
func (p *SyntheticProvider) OnBufferingStateChanged(b bool)     {}

func (p *SyntheticProvider) SubscribeClipDurationChanged(buf int) (<-chan time.Duration, *events.Subscription) {
	return p.durationSub.Subscribe(buf)
}
func (p *SyntheticProvider) SubscribeDRMInitDataFound(buf int) (<-chan DRMInitData, *events.Subscription) {
	return p.drmInitSub.Subscribe(buf)
}
func (p *SyntheticProvider) SubscribeSetDrmConfiguration(buf int) (<-chan DRMConfiguration, *events.Subscription) {
	return p.drmCfgSub.Subscribe(buf)
}
func (p *SyntheticProvider) SubscribeStreamConfigReady(buf int) (<-chan media.StreamConfig, *events.Subscription) {
	return p.cfgReadySub.Subscribe(buf)
}
func (p *SyntheticProvider) SubscribePacketReady(buf int) (<-chan media.Packet, *events.Subscription) {
	return p.packetSub.Subscribe(buf)
}
func (p *SyntheticProvider) SubscribeStreamError(buf int) (<-chan string, *events.Subscription) {
	return p.streamErrSub.Subscribe(buf)
}
func (p *SyntheticProvider) SubscribeBufferingStateChanged(buf int) (<-chan bool, *events.Subscription) {
	return p.bufferingSub.Subscribe(buf)
}

// Run publishes ClipDurationChanged, one StreamConfigReady per kind,
// then one Packet per kind per second until duration elapses or ctx is
// cancelled.
func (p *SyntheticProvider) Run(ctx context.Context) error {
	p.durationSub.Publish(p.duration)
	for _, kind := range p.kinds {
		p.cfgReadySub.Publish(media.StreamConfig{Kind: kind, MimeType: "synthetic/" + kind.String()})
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var elapsed time.Duration
	for elapsed < p.duration {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			elapsed += time.Second
			for _, kind := range p.kinds {
				p.packetSub.Publish(media.Packet{
					Kind:     kind,
					PTS:      elapsed,
					DTS:      elapsed,
					Data:     []byte{0x00, 0x01, 0x02},
					Keyframe: elapsed%time.Second == 0,
				})
			}
		}
	}

	for _, kind := range p.kinds {
		p.packetSub.Publish(media.Packet{Kind: kind, IsEOS: true})
	}
	return nil
}
