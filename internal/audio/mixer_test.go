package audio

import (
	"context"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openreel/engine/internal/timeline"
)

type fakeHandle struct {
	mu           sync.Mutex
	stopped      bool
	disconnected bool
	gain         float64
	onEnded      func()
}

func (h *fakeHandle) Stop()       { h.mu.Lock(); h.stopped = true; h.mu.Unlock() }
func (h *fakeHandle) Disconnect() { h.mu.Lock(); h.disconnected = true; h.mu.Unlock() }
func (h *fakeHandle) SetGain(g float64) {
	h.mu.Lock()
	h.gain = g
	h.mu.Unlock()
}
func (h *fakeHandle) finish() { h.onEnded() }

type scheduled struct {
	clipID       string
	sourceOffset float64
	duration     float64
	gain         float64
}

type fakeOutput struct {
	mu        sync.Mutex
	now       float64
	schedules []scheduled
	handles   []*fakeHandle
}

func (o *fakeOutput) Schedule(clip *timeline.Clip, sourceOffset, duration, gain float64, onEnded func()) SourceHandle {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.schedules = append(o.schedules, scheduled{clip.ID, sourceOffset, duration, gain})
	h := &fakeHandle{gain: gain, onEnded: onEnded}
	o.handles = append(o.handles, h)
	return h
}

func (o *fakeOutput) Now() float64 { return o.now }

func audioSequence() *timeline.Sequence {
	seq := &timeline.Sequence{ID: "seq", FPS: 30, SampleRate: 48000}
	a := &timeline.Track{ID: "A", Kind: timeline.TrackAudio, AllowOverlap: true, Volume: 0.8}
	b := &timeline.Track{ID: "B", Kind: timeline.TrackAudio, AllowOverlap: true, Volume: 0.5}
	a.Clips = []*timeline.Clip{{ID: "ca", MediaID: "m1", Kind: timeline.ClipAudio, Start: 0, Duration: 10, TrimStart: 2, Volume: 1}}
	b.Clips = []*timeline.Clip{{ID: "cb", MediaID: "m2", Kind: timeline.ClipAudio, Start: 4, Duration: 6, Volume: 1}}
	seq.Tracks = []*timeline.Track{a, b}
	seq.Normalize()
	return seq
}

func TestSoloSilencesOtherTracks(t *testing.T) {
	seq := audioSequence()
	seq.Track("B").Soloed = true
	out := &fakeOutput{}
	m := NewMixer(seq, out, hclog.NewNullLogger())

	// A(muted=false, solo=false) is silenced by B's solo; B keeps its volume.
	assert.Equal(t, 0.0, m.TrackGain("A"))
	assert.Equal(t, 0.5, m.TrackGain("B"))
}

func TestMuteWinsOverSolo(t *testing.T) {
	seq := audioSequence()
	seq.Track("A").Soloed = true
	seq.Track("A").Muted = true
	m := NewMixer(seq, &fakeOutput{}, hclog.NewNullLogger())

	assert.Equal(t, 0.0, m.TrackGain("A"))
}

func TestPlaySchedulesActiveClipsWithSourceOffset(t *testing.T) {
	seq := audioSequence()
	out := &fakeOutput{}
	m := NewMixer(seq, out, hclog.NewNullLogger())

	m.Play(5.0)

	require.Len(t, out.schedules, 2)
	byClip := map[string]scheduled{}
	for _, s := range out.schedules {
		byClip[s.clipID] = s
	}
	// ca: trimStart 2 + (5 - 0) = 7, remaining 5s, gain 0.8.
	assert.InDelta(t, 7.0, byClip["ca"].sourceOffset, 1e-9)
	assert.InDelta(t, 5.0, byClip["ca"].duration, 1e-9)
	assert.InDelta(t, 0.8, byClip["ca"].gain, 1e-9)
	// cb: trimStart 0 + (5 - 4) = 1, remaining 5s, gain 0.5.
	assert.InDelta(t, 1.0, byClip["cb"].sourceOffset, 1e-9)
	assert.InDelta(t, 5.0, byClip["cb"].duration, 1e-9)
	assert.InDelta(t, 0.5, byClip["cb"].gain, 1e-9)
}

func TestPlayOutsideClipsSchedulesNothing(t *testing.T) {
	seq := audioSequence()
	out := &fakeOutput{}
	m := NewMixer(seq, out, hclog.NewNullLogger())

	m.Play(20.0)
	assert.Empty(t, out.schedules)
	assert.True(t, m.Playing())
}

func TestPauseStopsAndDisconnects(t *testing.T) {
	seq := audioSequence()
	out := &fakeOutput{}
	m := NewMixer(seq, out, hclog.NewNullLogger())

	m.Play(5.0)
	require.Len(t, out.handles, 2)
	m.Pause()

	for _, h := range out.handles {
		assert.True(t, h.stopped)
		assert.True(t, h.disconnected)
	}
	assert.Equal(t, 0, m.ActiveSources())
	assert.False(t, m.Playing())
}

func TestSeekWhilePausedOnlyMovesCursor(t *testing.T) {
	seq := audioSequence()
	out := &fakeOutput{}
	m := NewMixer(seq, out, hclog.NewNullLogger())

	m.Seek(6.5)
	assert.Empty(t, out.schedules)
	assert.Equal(t, 6.5, m.Cursor())
	assert.False(t, m.Playing())
}

func TestSeekWhilePlayingRestartsAtNewTime(t *testing.T) {
	seq := audioSequence()
	out := &fakeOutput{}
	m := NewMixer(seq, out, hclog.NewNullLogger())

	m.Play(0.0)
	require.Len(t, out.schedules, 1) // only ca is active at 0
	m.Seek(5.0)

	assert.True(t, out.handles[0].stopped, "old source stopped on restart")
	assert.Len(t, out.schedules, 3) // ca again plus cb
	assert.True(t, m.Playing())
	assert.Equal(t, 5.0, m.Cursor())
}

func TestNaturalCompletionRemovesBookkeeping(t *testing.T) {
	seq := audioSequence()
	out := &fakeOutput{}
	m := NewMixer(seq, out, hclog.NewNullLogger())

	m.Play(5.0)
	require.Equal(t, 2, m.ActiveSources())
	out.handles[0].finish()
	assert.Equal(t, 1, m.ActiveSources())
}

func TestStaleCompletionKeepsFreshSources(t *testing.T) {
	seq := audioSequence()
	out := &fakeOutput{}
	m := NewMixer(seq, out, hclog.NewNullLogger())

	m.Play(5.0)
	require.Equal(t, 2, m.ActiveSources())
	stale := out.handles[0]

	// Restart at a new time. The old sources are stopped, but an output may
	// still deliver their completion callbacks afterwards; a late completion
	// must remove only its own handle, never the freshly scheduled ones that
	// share the clip id.
	m.Seek(6.0)
	require.Equal(t, 2, m.ActiveSources())

	stale.finish()
	assert.Equal(t, 2, m.ActiveSources())
}

func TestRefreshGainsAppliesToLiveSources(t *testing.T) {
	seq := audioSequence()
	out := &fakeOutput{}
	m := NewMixer(seq, out, hclog.NewNullLogger())

	m.Play(5.0)
	seq.Track("A").Muted = true
	m.RefreshGains()

	byClip := map[string]*fakeHandle{}
	for i, s := range out.schedules {
		byClip[s.clipID] = out.handles[i]
	}
	assert.Equal(t, 0.0, byClip["ca"].gain)
	assert.Equal(t, 0.5, byClip["cb"].gain)
}

type toneSource struct {
	rate  int
	value float32
}

func (s *toneSource) Samples(_ context.Context, from, duration float64) ([]float32, error) {
	n := int(duration * float64(s.rate))
	out := make([]float32, n*2)
	for i := range out {
		out[i] = s.value
	}
	return out, nil
}

func (s *toneSource) SampleRate() int { return s.rate }

func TestMixdownSumsOverlappingClipsWithGains(t *testing.T) {
	seq := audioSequence()
	sources := map[string]SampleSource{
		"m1": &toneSource{rate: 48000, value: 0.5},
		"m2": &toneSource{rate: 48000, value: 0.5},
	}

	mix, err := Mixdown(context.Background(), seq, sources, 48000, 1.0)
	require.NoError(t, err)
	require.Len(t, mix, int(seq.Duration*48000)*2)

	// At t=1s only ca sounds: 0.5 * 0.8.
	i := 1 * 48000 * 2
	assert.InDelta(t, 0.4, float64(mix[i]), 1e-3)

	// At t=5s both sound: 0.5*0.8 + 0.5*0.5.
	j := 5 * 48000 * 2
	assert.InDelta(t, 0.65, float64(mix[j]), 1e-3)
}

func TestMixdownResamplesPerClipRate(t *testing.T) {
	seq := &timeline.Sequence{ID: "s", SampleRate: 48000}
	tr := &timeline.Track{ID: "A", Kind: timeline.TrackAudio, AllowOverlap: true, Volume: 1}
	tr.Clips = []*timeline.Clip{{ID: "c", MediaID: "m", Kind: timeline.ClipAudio, Start: 0, Duration: 2, Volume: 1}}
	seq.Tracks = []*timeline.Track{tr}
	seq.Normalize()

	mix, err := Mixdown(context.Background(), seq, map[string]SampleSource{
		"m": &toneSource{rate: 44100, value: 0.25},
	}, 48000, 1.0)
	require.NoError(t, err)

	// The 44.1k tone still covers (nearly) the whole 2s at 48k.
	i := int(1.5*48000) * 2
	assert.InDelta(t, 0.25, float64(mix[i]), 1e-3)
}

func TestMixdownClampsToUnitRange(t *testing.T) {
	seq := audioSequence()
	seq.Track("A").Volume = 1
	seq.Track("B").Volume = 1
	sources := map[string]SampleSource{
		"m1": &toneSource{rate: 48000, value: 0.9},
		"m2": &toneSource{rate: 48000, value: 0.9},
	}

	mix, err := Mixdown(context.Background(), seq, sources, 48000, 1.0)
	require.NoError(t, err)
	j := 5 * 48000 * 2
	assert.Equal(t, float32(1.0), mix[j])
}

func TestResampleLengthAndShape(t *testing.T) {
	in := make([]float32, 44100*2)
	for i := range in {
		in[i] = 0.3
	}
	out := Resample(in, 44100, 48000)
	assert.Equal(t, 48000*2, len(out))
	assert.InDelta(t, 0.3, float64(out[1000]), 1e-6)
}
