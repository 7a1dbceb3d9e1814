package render

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAudio struct {
	mu        sync.Mutex
	now       float64
	playCalls []float64
	seekCalls []float64
	pauses    int
}

func (f *fakeAudio) Play(t float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playCalls = append(f.playCalls, t)
}

func (f *fakeAudio) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
}

func (f *fakeAudio) Seek(t float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seekCalls = append(f.seekCalls, t)
}

func (f *fakeAudio) Now() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeAudio) advance(d float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now += d
}

func (f *fakeAudio) seeks() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.seekCalls...)
}

type playerFixture struct {
	player  *Player
	surface *ImageSurface
	sched   *ManualScheduler
	audio   *fakeAudio
	prov    *solidProvider
	times   []float64
}

func newPlayerFixture(t *testing.T, extra ...PlayerOption) *playerFixture {
	t.Helper()
	f := &playerFixture{
		surface: NewImageSurface(64, 36),
		sched:   NewManualScheduler(),
		audio:   &fakeAudio{},
		prov:    &solidProvider{width: 64, height: 36},
	}
	comp := NewCompositor(previewSequence(), map[string]FrameProvider{"m1": f.prov}, hclog.NewNullLogger())
	opts := append([]PlayerOption{
		WithAudio(f.audio),
		WithTimeCallback(func(tt float64) { f.times = append(f.times, tt) }),
	}, extra...)
	f.player = NewPlayer(comp, f.sched, 9.0, 30, hclog.NewNullLogger(), opts...)
	return f
}

func TestPlayerAttachRendersAndDetachStops(t *testing.T) {
	f := newPlayerFixture(t)
	ctx := context.Background()

	assert.Equal(t, StateDetached, f.player.State())
	require.NoError(t, f.player.Attach(ctx, f.surface))
	assert.Equal(t, StateReady, f.player.State())
	assert.Equal(t, 1, f.surface.DrawCount())

	// Double attach is rejected.
	require.Error(t, f.player.Attach(ctx, f.surface))

	f.player.Detach()
	assert.Equal(t, StateDetached, f.player.State())
}

func TestPlayerPlayFollowsAudioClock(t *testing.T) {
	f := newPlayerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.player.Attach(ctx, f.surface))

	require.NoError(t, f.player.Play(ctx))
	assert.Equal(t, StatePlaying, f.player.State())
	assert.Equal(t, []float64{0}, f.audio.playCalls)

	f.audio.advance(1.5)
	require.True(t, f.sched.Tick())
	assert.InDelta(t, 1.5, f.player.Position(), 1e-9)
	require.NotEmpty(t, f.times)
	assert.InDelta(t, 1.5, f.times[len(f.times)-1], 1e-9)

	f.player.Pause()
	assert.Equal(t, StatePaused, f.player.State())
	assert.Equal(t, 1, f.audio.pauses)

	// Paused position does not drift with the clock.
	f.audio.advance(2.0)
	assert.InDelta(t, 1.5, f.player.Position(), 1e-9)
}

func TestPlayerPausesAtSequenceEnd(t *testing.T) {
	f := newPlayerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.player.Attach(ctx, f.surface))
	require.NoError(t, f.player.Play(ctx))

	f.audio.advance(100)
	require.True(t, f.sched.Tick())
	assert.Equal(t, StatePaused, f.player.State())
	assert.InDelta(t, 9.0, f.player.Position(), 1e-9)
	assert.Equal(t, 0, f.sched.Pending())
}

func TestPlayerSeekPausedRedrawsOnce(t *testing.T) {
	f := newPlayerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.player.Attach(ctx, f.surface))
	drawn := f.surface.DrawCount()

	f.player.Seek(ctx, 3.0)
	assert.InDelta(t, 3.0, f.player.Position(), 1e-9)
	assert.Equal(t, drawn+1, f.surface.DrawCount())
	assert.Empty(t, f.audio.seeks())
}

func TestPlayerSeekPlayingDebounces(t *testing.T) {
	f := newPlayerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.player.Attach(ctx, f.surface))
	require.NoError(t, f.player.Play(ctx))

	// A burst of seeks while playing restarts the audio graph once, at the
	// last target.
	f.player.Seek(ctx, 2.0)
	f.player.Seek(ctx, 4.0)
	f.player.Seek(ctx, 6.0)
	assert.Empty(t, f.audio.seeks())

	assert.Eventually(t, func() bool {
		s := f.audio.seeks()
		return len(s) == 1 && s[0] == 6.0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StatePlaying, f.player.State())
}

func TestPlayerSeekClampsToSequence(t *testing.T) {
	f := newPlayerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.player.Attach(ctx, f.surface))

	f.player.Seek(ctx, -2.0)
	assert.Equal(t, 0.0, f.player.Position())
	f.player.Seek(ctx, 100.0)
	assert.Equal(t, 9.0, f.player.Position())
}

func TestPlayerResizeRedrawsAndRestoresState(t *testing.T) {
	f := newPlayerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.player.Attach(ctx, f.surface))

	require.NoError(t, f.player.Resize(ctx, 128, 72))
	w, h := f.surface.Size()
	assert.Equal(t, 128, w)
	assert.Equal(t, 72, h)
	assert.Equal(t, StateReady, f.player.State())

	require.NoError(t, f.player.Play(ctx))
	require.NoError(t, f.player.Resize(ctx, 256, 144))
	assert.Equal(t, StatePlaying, f.player.State())
}

func TestPlayerScrubTogglesTolerance(t *testing.T) {
	var scrubbing []bool
	f := newPlayerFixture(t)
	f.player.setScrub = func(on bool) { scrubbing = append(scrubbing, on) }
	ctx := context.Background()
	require.NoError(t, f.player.Attach(ctx, f.surface))

	f.player.BeginScrub()
	assert.Equal(t, StateScrubbing, f.player.State())
	f.player.Seek(ctx, 4.0)
	f.player.EndScrub()
	assert.Equal(t, StatePaused, f.player.State())
	assert.Equal(t, []bool{true, false}, scrubbing)
}

func TestPlayerHoldsLastFrameOnDecodeFailure(t *testing.T) {
	f := newPlayerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.player.Attach(ctx, f.surface))
	drawn := f.surface.DrawCount()
	last := f.surface.Last()

	f.prov.fail = true
	f.player.Seek(ctx, 3.0)
	assert.Equal(t, drawn, f.surface.DrawCount())
	assert.Equal(t, last, f.surface.Last())

	// Recovery draws again.
	f.prov.fail = false
	f.player.Seek(ctx, 3.1)
	assert.Equal(t, drawn+1, f.surface.DrawCount())
}

func TestPlayerBlanksSurfaceWhenHoldDisabled(t *testing.T) {
	f := newPlayerFixture(t, WithHoldOnDecodeFail(false))
	ctx := context.Background()
	require.NoError(t, f.player.Attach(ctx, f.surface))
	drawn := f.surface.DrawCount()
	last := f.surface.Last()

	f.prov.fail = true
	f.player.Seek(ctx, 3.0)
	assert.Equal(t, drawn+1, f.surface.DrawCount())
	assert.NotEqual(t, last, f.surface.Last())
}

func TestPlayerSeekDebounceConfigurable(t *testing.T) {
	f := newPlayerFixture(t, WithSeekDebounce(150*time.Millisecond))
	ctx := context.Background()
	require.NoError(t, f.player.Attach(ctx, f.surface))
	require.NoError(t, f.player.Play(ctx))

	f.player.Seek(ctx, 2.0)
	// Well past the default 16ms window, the widened one is still coalescing.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, f.audio.seeks())

	assert.Eventually(t, func() bool {
		s := f.audio.seeks()
		return len(s) == 1 && s[0] == 2.0
	}, time.Second, 5*time.Millisecond)
}

func TestPlayerPlayFromEndRestartsAtZero(t *testing.T) {
	f := newPlayerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.player.Attach(ctx, f.surface))
	f.player.Seek(ctx, 9.0)

	require.NoError(t, f.player.Play(ctx))
	assert.Equal(t, []float64{0}, f.audio.playCalls)
}
