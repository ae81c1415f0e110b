// Package playerctl implements the glue between a media-producing
// DataProvider and the core StreamController: it routes producer
// events to per-stream PacketStreams (DRM attachment and
// codec-extradata patching) and to the core, tracks current time and
// duration, and turns buffering-state changes into Play/Pause calls.
package playerctl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ariharrison/esctl/internal/esstream"
	"github.com/ariharrison/esctl/internal/events"
	"github.com/ariharrison/esctl/internal/media"
	"github.com/ariharrison/esctl/internal/playback"
)

var (
	// ErrInvalidArgument mirrors spec.md §7's InvalidArgument kind.
	ErrInvalidArgument = errors.New("playerctl: invalid argument")
	// ErrReentrantSeek is returned when Seek is called while a prior
	// Seek on this controller has not yet completed.
	ErrReentrantSeek = errors.New("playerctl: seek already in progress")
)

// Player is the subset of the core StreamController that PlayerController
// drives. It corresponds to spec.md §6's IPlayer, restricted to the
// methods PlayerController actually calls.
type Player interface {
	Play() error
	Pause() error
	Stop() error
	Seek(ctx context.Context, at time.Duration) playback.Outcome[time.Duration]
	SetStreamConfig(cfg media.StreamConfig) (esstream.ConfigResult, error)
	AddPacket(ctx context.Context, p media.Packet) error
}

// DRMInitData is emitted by a DataProvider when it discovers
// license-acquisition data for a stream.
type DRMInitData struct {
	Kind StreamKindOrAll
	Data []byte
}

// DRMConfiguration is pushed down to a PacketStream to decrypt or patch
// subsequent packets of the named stream.
type DRMConfiguration struct {
	Kind media.StreamKind
	KeyID []byte
	Key   []byte
}

// StreamKindOrAll lets DRMInitDataFound refer to a specific stream, or
// to the whole clip when the producer cannot yet attribute the init
// data to one stream.
type StreamKindOrAll struct {
	Kind    media.StreamKind
	AllKind bool
}

// DataProvider is the external producer collaborator (spec.md §6's
// IDataProvider), restricted to the surface PlayerController consumes.
// Its On* methods are the controller-to-provider half of the
// DataProviderConnector's subscription bus (spec.md §4.6); its
// Subscribe* methods are the provider-to-controller half.
type DataProvider interface {
	// Seek repositions the producer at the given target and reports the
	// position it actually seeked to.
	Seek(ctx context.Context, at time.Duration) (time.Duration, error)

	OnTimeUpdated(t time.Duration)
	OnStateChanged(s media.PlayerState)
	OnBufferingStateChanged(buffering bool)

	SubscribeClipDurationChanged(buf int) (<-chan time.Duration, *events.Subscription)
	SubscribeDRMInitDataFound(buf int) (<-chan DRMInitData, *events.Subscription)
	SubscribeSetDrmConfiguration(buf int) (<-chan DRMConfiguration, *events.Subscription)
	SubscribeStreamConfigReady(buf int) (<-chan media.StreamConfig, *events.Subscription)
	SubscribePacketReady(buf int) (<-chan media.Packet, *events.Subscription)
	SubscribeStreamError(buf int) (<-chan string, *events.Subscription)
	SubscribeBufferingStateChanged(buf int) (<-chan bool, *events.Subscription)
}

// PlayerController bridges a DataProvider and the core Player. It owns
// one PacketStream per StreamKind, tracks currentTime/duration/seeking,
// and reports playback progress as 0 (buffering) or 100 (buffered).
type PlayerController struct {
	log      *slog.Logger
	player   Player
	provider DataProvider

	packetStreams [media.NumStreamKinds]*packetStream

	mu          sync.Mutex
	currentTime time.Duration
	duration    time.Duration
	seeking     bool

	progressSub  *events.Subject[int]
	errorSub     *events.Subject[string]
	bufferingSub *events.Subject[bool]

	// Producer subscriptions are installed here, in New, rather than
	// lazily in Run: events.Subject.Publish is non-blocking and does not
	// replay past values, so a producer that starts publishing before
	// Run's select loop is up (e.g. the errgroup-launched goroutines in
	// cmd/esctl-demo) would otherwise lose ClipDurationChanged/
	// StreamConfigReady permanently.
	durationCh     <-chan time.Duration
	durationSub    *events.Subscription
	drmInitCh      <-chan DRMInitData
	drmInitSub     *events.Subscription
	drmCfgCh       <-chan DRMConfiguration
	drmCfgSub      *events.Subscription
	cfgReadyCh     <-chan media.StreamConfig
	cfgReadySub    *events.Subscription
	packetCh       <-chan media.Packet
	packetSub      *events.Subscription
	streamErrCh    <-chan string
	streamErrSub   *events.Subscription
	bufferingCh    <-chan bool
	bufferingChSub *events.Subscription
}

// New constructs a PlayerController. Both player and provider must be
// non-nil (spec.md §7 InvalidArgument).
func New(player Player, provider DataProvider, log *slog.Logger) (*PlayerController, error) {
	if player == nil || provider == nil {
		return nil, fmt.Errorf("%w: player and provider must be non-nil", ErrInvalidArgument)
	}
	if log == nil {
		log = slog.Default()
	}
	pc := &PlayerController{
		log:          log.With("component", "playerctl"),
		player:       player,
		provider:     provider,
		progressSub:  events.NewSubject[int](),
		errorSub:     events.NewSubject[string](),
		bufferingSub: events.NewSubject[bool](),
	}
	for k := 0; k < media.NumStreamKinds; k++ {
		pc.packetStreams[k] = newPacketStream(media.StreamKind(k), player)
	}

	pc.durationCh, pc.durationSub = provider.SubscribeClipDurationChanged(4)
	pc.drmInitCh, pc.drmInitSub = provider.SubscribeDRMInitDataFound(4)
	pc.drmCfgCh, pc.drmCfgSub = provider.SubscribeSetDrmConfiguration(4)
	pc.cfgReadyCh, pc.cfgReadySub = provider.SubscribeStreamConfigReady(16)
	pc.packetCh, pc.packetSub = provider.SubscribePacketReady(256)
	pc.streamErrCh, pc.streamErrSub = provider.SubscribeStreamError(16)
	pc.bufferingCh, pc.bufferingChSub = provider.SubscribeBufferingStateChanged(4)

	return pc, nil
}

// SubscribeProgress delivers 0 on buffering-start and 100 on
// buffering-end, per spec.md §4.5.
func (pc *PlayerController) SubscribeProgress(buf int) (<-chan int, *events.Subscription) {
	return pc.progressSub.Subscribe(buf)
}

// SubscribeError republishes StreamError notifications from the
// provider.
func (pc *PlayerController) SubscribeError(buf int) (<-chan string, *events.Subscription) {
	return pc.errorSub.Subscribe(buf)
}

// SubscribeBuffering republishes the raw BufferingStateChanged value the
// provider sent, for DataProviderConnector to echo back via
// DataProvider.OnBufferingStateChanged.
func (pc *PlayerController) SubscribeBuffering(buf int) (<-chan bool, *events.Subscription) {
	return pc.bufferingSub.Subscribe(buf)
}

// CurrentTime returns the most recently observed clip position.
func (pc *PlayerController) CurrentTime() time.Duration {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.currentTime
}

// Duration returns the most recently observed clip duration.
func (pc *PlayerController) Duration() time.Duration {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.duration
}

// OnTimeUpdated records a TimeUpdated event forwarded from the core, so
// Seek can clamp against the current position if ever needed.
func (pc *PlayerController) OnTimeUpdated(t time.Duration) {
	pc.mu.Lock()
	pc.currentTime = t
	pc.mu.Unlock()
}

// Seek clamps the target to [0, duration], rejects re-entrant calls,
// and forwards to the core Player. It does not itself reposition the
// DataProvider; that is DataProviderConnector's PlayerClient.Seek.
func (pc *PlayerController) Seek(ctx context.Context, at time.Duration) playback.Outcome[time.Duration] {
	pc.mu.Lock()
	if pc.seeking {
		pc.mu.Unlock()
		return playback.Failed[time.Duration](ErrReentrantSeek)
	}
	if at < 0 {
		at = 0
	}
	if pc.duration > 0 && at > pc.duration {
		at = pc.duration
	}
	pc.seeking = true
	pc.mu.Unlock()

	defer func() {
		pc.mu.Lock()
		pc.seeking = false
		pc.mu.Unlock()
	}()

	return pc.player.Seek(ctx, at)
}

// Run dispatches DataProvider events until ctx is cancelled. Each
// producer event is routed to the owning PacketStream (for
// DRM/extradata handling) and, where applicable, to the core Player.
// Subscriptions themselves were installed in New, so events published
// before Run starts draining are still buffered on the channels
// (subject to each Subscribe call's buffer size) rather than lost.
func (pc *PlayerController) Run(ctx context.Context) error {
	defer pc.durationSub.Unsubscribe()
	defer pc.drmInitSub.Unsubscribe()
	defer pc.drmCfgSub.Unsubscribe()
	defer pc.cfgReadySub.Unsubscribe()
	defer pc.packetSub.Unsubscribe()
	defer pc.streamErrSub.Unsubscribe()
	defer pc.bufferingChSub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil

		case d, ok := <-pc.durationCh:
			if !ok {
				return nil
			}
			pc.mu.Lock()
			pc.duration = d
			pc.mu.Unlock()

		case init, ok := <-pc.drmInitCh:
			if !ok {
				return nil
			}
			pc.log.Debug("DRM init data found", "all", init.Kind.AllKind, "stream", init.Kind.Kind)

		case cfg, ok := <-pc.drmCfgCh:
			if !ok {
				return nil
			}
			pc.packetStreams[cfg.Kind].setDRM(cfg)

		case cfg, ok := <-pc.cfgReadyCh:
			if !ok {
				return nil
			}
			if err := pc.packetStreams[cfg.Kind].onStreamConfigReady(cfg); err != nil {
				pc.errorSub.Publish(err.Error())
			}

		case p, ok := <-pc.packetCh:
			if !ok {
				return nil
			}
			if err := pc.packetStreams[p.Kind].onPacketReady(ctx, p); err != nil {
				pc.errorSub.Publish(err.Error())
			}

		case msg, ok := <-pc.streamErrCh:
			if !ok {
				return nil
			}
			pc.errorSub.Publish(msg)

		case buffering, ok := <-pc.bufferingCh:
			if !ok {
				return nil
			}
			pc.onBufferingStateChanged(buffering)
		}
	}
}

func (pc *PlayerController) onBufferingStateChanged(buffering bool) {
	pc.bufferingSub.Publish(buffering)
	if buffering {
		if err := pc.player.Pause(); err != nil {
			pc.log.Warn("pause on buffering failed", "error", err)
		}
		pc.progressSub.Publish(0)
		return
	}
	if err := pc.player.Play(); err != nil {
		pc.log.Warn("play on buffering-end failed", "error", err)
	}
	pc.progressSub.Publish(100)
}
