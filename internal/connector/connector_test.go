package connector

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/ariharrison/esctl/internal/events"
	"github.com/ariharrison/esctl/internal/media"
	"github.com/ariharrison/esctl/internal/playback"
	"github.com/ariharrison/esctl/internal/playerctl"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeProvider struct {
	seekCalls int
	seekAt    time.Duration

	stateEchoes     []media.PlayerState
	timeEchoes      []time.Duration
	bufferingEchoes []bool

	duration    *events.Subject[time.Duration]
	drmInit     *events.Subject[playerctl.DRMInitData]
	drmCfg      *events.Subject[playerctl.DRMConfiguration]
	cfgReady    *events.Subject[media.StreamConfig]
	packetReady *events.Subject[media.Packet]
	streamErr   *events.Subject[string]
	buffering   *events.Subject[bool]
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		duration:    events.NewSubject[time.Duration](),
		drmInit:     events.NewSubject[playerctl.DRMInitData](),
		drmCfg:      events.NewSubject[playerctl.DRMConfiguration](),
		cfgReady:    events.NewSubject[media.StreamConfig](),
		packetReady: events.NewSubject[media.Packet](),
		streamErr:   events.NewSubject[string](),
		buffering:   events.NewSubject[bool](),
	}
}

func (f *fakeProvider) Seek(ctx context.Context, at time.Duration) (time.Duration, error) {
	f.seekCalls++
	f.seekAt = at
	return at, nil
}
func (f *fakeProvider) OnTimeUpdated(t time.Duration)      { f.timeEchoes = append(f.timeEchoes, t) }
func (f *fakeProvider) OnStateChanged(s media.PlayerState) { f.stateEchoes = append(f.stateEchoes, s) }
func (f *fakeProvider) OnBufferingStateChanged(b bool) {
	f.bufferingEchoes = append(f.bufferingEchoes, b)
}

func (f *fakeProvider) SubscribeClipDurationChanged(buf int) (<-chan time.Duration, *events.Subscription) {
	return f.duration.Subscribe(buf)
}
func (f *fakeProvider) SubscribeDRMInitDataFound(buf int) (<-chan playerctl.DRMInitData, *events.Subscription) {
	return f.drmInit.Subscribe(buf)
}
func (f *fakeProvider) SubscribeSetDrmConfiguration(buf int) (<-chan playerctl.DRMConfiguration, *events.Subscription) {
	return f.drmCfg.Subscribe(buf)
}
func (f *fakeProvider) SubscribeStreamConfigReady(buf int) (<-chan media.StreamConfig, *events.Subscription) {
	return f.cfgReady.Subscribe(buf)
}
func (f *fakeProvider) SubscribePacketReady(buf int) (<-chan media.Packet, *events.Subscription) {
	return f.packetReady.Subscribe(buf)
}
func (f *fakeProvider) SubscribeStreamError(buf int) (<-chan string, *events.Subscription) {
	return f.streamErr.Subscribe(buf)
}
func (f *fakeProvider) SubscribeBufferingStateChanged(buf int) (<-chan bool, *events.Subscription) {
	return f.buffering.Subscribe(buf)
}

type fakePlayerSide struct {
	current  time.Duration
	dur      time.Duration
	progress *events.Subject[int]
	errs     *events.Subject[string]
	bufSub   *events.Subject[bool]
}

func newFakePlayerSide() *fakePlayerSide {
	return &fakePlayerSide{
		progress: events.NewSubject[int](),
		errs:     events.NewSubject[string](),
		bufSub:   events.NewSubject[bool](),
	}
}

func (f *fakePlayerSide) CurrentTime() time.Duration     { return f.current }
func (f *fakePlayerSide) Duration() time.Duration        { return f.dur }
func (f *fakePlayerSide) OnTimeUpdated(t time.Duration)  { f.current = t }
func (f *fakePlayerSide) SubscribeProgress(buf int) (<-chan int, *events.Subscription) {
	return f.progress.Subscribe(buf)
}
func (f *fakePlayerSide) SubscribeError(buf int) (<-chan string, *events.Subscription) {
	return f.errs.Subscribe(buf)
}
func (f *fakePlayerSide) SubscribeBuffering(buf int) (<-chan bool, *events.Subscription) {
	return f.bufSub.Subscribe(buf)
}

type fakeStateSource struct {
	states *events.Subject[media.PlayerState]
	times  *events.Subject[time.Duration]
}

func newFakeStateSource() *fakeStateSource {
	return &fakeStateSource{
		states: events.NewSubject[media.PlayerState](),
		times:  events.NewSubject[time.Duration](),
	}
}

func (f *fakeStateSource) SubscribeState(buf int) (<-chan media.PlayerState, *events.Subscription) {
	return f.states.Subscribe(buf)
}
func (f *fakeStateSource) SubscribeTime(buf int) (<-chan time.Duration, *events.Subscription) {
	return f.times.Subscribe(buf)
}

func TestNewRejectsNilCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, newFakePlayerSide(), newFakeStateSource(), nil); err == nil {
		t.Fatal("expected error for nil provider")
	}
	if _, err := New(newFakeProvider(), nil, newFakeStateSource(), nil); err == nil {
		t.Fatal("expected error for nil player")
	}
}

func TestStateAndTimeEchoedToProvider(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	player := newFakePlayerSide()
	states := newFakeStateSource()

	c, err := New(provider, player, states, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Disconnect()

	states.states.Publish(media.StatePlaying)
	states.times.Publish(3 * time.Second)

	deadline := time.After(time.Second)
	for len(provider.stateEchoes) == 0 || len(provider.timeEchoes) == 0 {
		select {
		case <-deadline:
			t.Fatalf("timed out: states=%d times=%d", len(provider.stateEchoes), len(provider.timeEchoes))
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if provider.stateEchoes[0] != media.StatePlaying {
		t.Errorf("stateEchoes[0] = %v, want Playing", provider.stateEchoes[0])
	}
}

func TestBufferingEchoedToProvider(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	player := newFakePlayerSide()
	states := newFakeStateSource()

	c, err := New(provider, player, states, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Disconnect()

	player.bufSub.Publish(true)

	deadline := time.After(time.Second)
	for len(provider.bufferingEchoes) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for buffering echo")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if !provider.bufferingEchoes[0] {
		t.Error("expected first buffering echo to be true")
	}
}

func TestPlayerClientSeekSuspendsAndRebuildsSubscriptions(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	player := newFakePlayerSide()
	states := newFakeStateSource()

	c, err := New(provider, player, states, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Disconnect()

	seekCalled := false
	client := c.NewPlayerClient(func(ctx context.Context, at time.Duration) playback.Outcome[time.Duration] {
		seekCalled = true
		return playback.Ok(at)
	})

	outcome := client.Seek(context.Background(), 5*time.Second)
	if !outcome.IsOk() || outcome.Value() != 5*time.Second {
		t.Fatalf("Seek outcome = %+v, want Ok(5s)", outcome)
	}
	if !seekCalled {
		t.Fatal("expected underlying seek function to be invoked")
	}
	if provider.seekCalls != 1 || provider.seekAt != 5*time.Second {
		t.Fatalf("provider.Seek called %d times at %v, want 1 at 5s", provider.seekCalls, provider.seekAt)
	}

	// Subscriptions should be rebuilt: a state published after Seek
	// returns must still reach the provider.
	states.states.Publish(media.StatePaused)
	deadline := time.After(time.Second)
	for len(provider.stateEchoes) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for post-seek state echo; subscriptions not rebuilt")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestPlayerClientSeekCancellationStillRebuildsSubscriptions(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	player := newFakePlayerSide()
	states := newFakeStateSource()

	c, err := New(provider, player, states, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Disconnect()

	client := c.NewPlayerClient(func(ctx context.Context, at time.Duration) playback.Outcome[time.Duration] {
		return playback.Cancelled[time.Duration]()
	})

	outcome := client.Seek(context.Background(), time.Second)
	if !outcome.IsCancelled() {
		t.Fatal("expected Cancelled outcome")
	}
	if provider.seekCalls != 0 {
		t.Fatal("expected provider.Seek not to be called on cancellation")
	}

	states.states.Publish(media.StateIdle)
	deadline := time.After(time.Second)
	for len(provider.stateEchoes) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for post-cancel state echo; subscriptions not rebuilt")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}
