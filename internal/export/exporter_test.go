package export

import (
	"context"
	"image"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openreel/engine/internal/audio"
	"github.com/openreel/engine/internal/media"
	"github.com/openreel/engine/internal/timeline"
)

func syntheticOpener(string) (media.Source, error) {
	return media.NewSyntheticSource(10.0, 64, 36, 30, 1.0), nil
}

func exportFixture() (*timeline.Sequence, map[string]*timeline.MediaAssetMeta) {
	seq := &timeline.Sequence{
		ID:       "seq1",
		Width:    64,
		Height:   36,
		FPS:      30,
		Duration: 3.0,
		Tracks: []*timeline.Track{
			{
				ID:   "v1",
				Kind: timeline.TrackVideo,
				Clips: []*timeline.Clip{
					{ID: "c1", MediaID: "m1", Kind: timeline.ClipVideo, Start: 0, Duration: 3, Opacity: 1, Volume: 1},
				},
			},
		},
	}
	assets := map[string]*timeline.MediaAssetMeta{
		"m1": {
			ID: "m1", Type: timeline.AssetVideo, Duration: 10,
			Width: 64, Height: 36, FPS: 30,
			Source: "full.mp4", Proxy: "proxy.mp4",
		},
	}
	return seq, assets
}

func TestExportProducesExactFrameCount(t *testing.T) {
	seq, assets := exportFixture()
	enc := NewMemoryEncoder()
	var updates []Progress
	job := NewJob(seq, assets, syntheticOpener, Settings{OutputPath: "out.mp4"}, enc, hclog.NewNullLogger(),
		WithProgress(func(p Progress) { updates = append(updates, p) }))

	require.NoError(t, job.Run(context.Background()))

	// 3 seconds at 30fps is exactly 90 frames, no off-by-one at the tail.
	assert.Equal(t, 90, enc.Frames())
	assert.True(t, enc.Finalized())
	assert.False(t, enc.Aborted())

	require.NotEmpty(t, updates)
	assert.Equal(t, StagePreparing, updates[0].Stage)
	last := updates[len(updates)-1]
	assert.Equal(t, StageDone, last.Stage)
	assert.Equal(t, 100.0, last.Percent)
	for i := 1; i < len(updates); i++ {
		assert.GreaterOrEqual(t, updates[i].Percent, updates[i-1].Percent)
	}
}

func TestExportIsDeterministic(t *testing.T) {
	seq, assets := exportFixture()
	seq.Tracks[0].Clips[0].Effects = []*timeline.Effect{
		{ID: "fx1", Type: timeline.EffectGrain, Params: map[string]float64{"amount": 0.3}, Enabled: true},
	}

	run := func() []uint64 {
		enc := NewMemoryEncoder()
		job := NewJob(seq, assets, syntheticOpener, Settings{OutputPath: "out.mp4"}, enc, hclog.NewNullLogger())
		require.NoError(t, job.Run(context.Background()))
		return enc.Checksums()
	}

	first := run()
	second := run()
	assert.Equal(t, first, second)
}

// cancellingEncoder cancels the job's context after a fixed number of
// frames, simulating a user hitting cancel mid-render.
type cancellingEncoder struct {
	*MemoryEncoder
	cancel context.CancelFunc
	after  int
}

func (e *cancellingEncoder) WriteFrame(img *image.RGBA) error {
	if e.MemoryEncoder.Frames() >= e.after {
		e.cancel()
	}
	return e.MemoryEncoder.WriteFrame(img)
}

func TestExportCancellationAbortsCleanly(t *testing.T) {
	seq, assets := exportFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	enc := &cancellingEncoder{MemoryEncoder: NewMemoryEncoder(), cancel: cancel, after: 10}
	job := NewJob(seq, assets, syntheticOpener, Settings{OutputPath: "out.mp4"}, enc, hclog.NewNullLogger())

	err := job.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.True(t, enc.Aborted())
	assert.Equal(t, 0, enc.Frames())
	assert.False(t, enc.Finalized())
}

type sineSource struct {
	rate int
}

func (s *sineSource) Samples(_ context.Context, _, duration float64) ([]float32, error) {
	n := int(duration * float64(s.rate))
	out := make([]float32, n*2)
	for i := range out {
		out[i] = 0.25
	}
	return out, nil
}

func (s *sineSource) SampleRate() int { return s.rate }

func TestExportMixesAudio(t *testing.T) {
	seq, assets := exportFixture()
	seq.Tracks = append(seq.Tracks, &timeline.Track{
		ID: "a1", Kind: timeline.TrackAudio, Volume: 1,
		Clips: []*timeline.Clip{
			{ID: "ac1", MediaID: "m2", Kind: timeline.ClipAudio, Start: 0, Duration: 3, Volume: 1},
		},
	})
	assets["m2"] = &timeline.MediaAssetMeta{ID: "m2", Type: timeline.AssetAudio, Duration: 10, SampleRate: 48000, Source: "song.wav"}

	enc := NewMemoryEncoder()
	job := NewJob(seq, assets, syntheticOpener, Settings{OutputPath: "out.mp4"}, enc, hclog.NewNullLogger(),
		WithAudioSources(map[string]audio.SampleSource{"m2": &sineSource{rate: 48000}}))

	require.NoError(t, job.Run(context.Background()))
	assert.Len(t, enc.Samples(), 3*48000*2)
	assert.InDelta(t, 0.25, enc.Samples()[48000], 1e-6)
}

func TestExportScalesToDeliveryResolution(t *testing.T) {
	seq, assets := exportFixture()
	enc := NewMemoryEncoder()
	job := NewJob(seq, assets, syntheticOpener,
		Settings{OutputPath: "out.mp4", Width: 128, Height: 128}, enc, hclog.NewNullLogger())

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 90, enc.Frames())
	assert.Equal(t, 128, enc.settings.Width)
}

func TestExportUnknownAssetFails(t *testing.T) {
	seq, assets := exportFixture()
	seq.Tracks[0].Clips[0].MediaID = "ghost"
	enc := NewMemoryEncoder()
	job := NewJob(seq, assets, syntheticOpener, Settings{OutputPath: "out.mp4"}, enc, hclog.NewNullLogger())

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
	assert.True(t, enc.Aborted())
}

func TestPickAudioCodecPreference(t *testing.T) {
	ctx := context.Background()

	codec, err := PickAudioCodec(ctx, func(_ context.Context, c string) bool { return true })
	require.NoError(t, err)
	assert.Equal(t, "aac", codec)

	codec, err = PickAudioCodec(ctx, func(_ context.Context, c string) bool { return c != "aac" })
	require.NoError(t, err)
	assert.Equal(t, "libopus", codec)

	codec, err = PickAudioCodec(ctx, func(_ context.Context, c string) bool { return c == "pcm_s16le" })
	require.NoError(t, err)
	assert.Equal(t, "pcm_s16le", codec)

	// An encoder that cannot write even raw PCM cannot write audio at all.
	_, err = PickAudioCodec(ctx, func(_ context.Context, c string) bool { return false })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable audio encoder")
}
