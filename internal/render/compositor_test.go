package render

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openreel/engine/internal/media"
	"github.com/openreel/engine/internal/timeline"
)

// solidProvider hands out solid-color frames whose color encodes the
// requested source time, so tests can tell which clip frame ended up where.
type solidProvider struct {
	width, height int
	requests      []float64
	fail          bool
}

func (p *solidProvider) GetFrameAt(_ context.Context, t float64) (*media.Frame, error) {
	p.requests = append(p.requests, t)
	if p.fail {
		return nil, media.ErrNoFrame
	}
	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	c := media.ColorAt(t)
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = 255
	}
	return media.NewFrame(t, img, nil), nil
}

func previewSequence() *timeline.Sequence {
	return &timeline.Sequence{
		ID:     "seq1",
		Width:  64,
		Height: 36,
		FPS:    30,
		Tracks: []*timeline.Track{
			{
				ID:   "v1",
				Kind: timeline.TrackVideo,
				Rank: 0,
				Clips: []*timeline.Clip{
					{ID: "c1", MediaID: "m1", Kind: timeline.ClipVideo, Start: 0, Duration: 5, Opacity: 1, Volume: 1},
					{ID: "c2", MediaID: "m1", Kind: timeline.ClipVideo, Start: 5, Duration: 4, TrimStart: 10, Opacity: 1, Volume: 1},
				},
			},
		},
	}
}

func centerColor(img *image.RGBA) color.RGBA {
	b := img.Bounds()
	return img.RGBAAt(b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2)
}

func TestCompositeCutBoundaryShowsIncomingClip(t *testing.T) {
	prov := &solidProvider{width: 64, height: 36}
	comp := NewCompositor(previewSequence(), map[string]FrameProvider{"m1": prov}, hclog.NewNullLogger())

	// Exactly at the cut only c2 is active, so the frame must come from
	// c2's trimmed source position, not c1's last frame.
	img, err := comp.Composite(context.Background(), 5.0)
	require.NoError(t, err)
	require.Len(t, prov.requests, 1)
	assert.InDelta(t, 10.0, prov.requests[0], 1e-9)
	assert.Equal(t, media.ColorAt(10.0), centerColor(img))
}

func TestCompositeEmptyTimeIsBlack(t *testing.T) {
	prov := &solidProvider{width: 64, height: 36}
	comp := NewCompositor(previewSequence(), map[string]FrameProvider{"m1": prov}, hclog.NewNullLogger())

	img, err := comp.Composite(context.Background(), 20.0)
	require.NoError(t, err)
	assert.Empty(t, prov.requests)
	assert.Equal(t, color.RGBA{0, 0, 0, 0}, centerColor(img))
}

func TestCompositeOverlayStacksAboveBase(t *testing.T) {
	seq := previewSequence()
	seq.Tracks = append(seq.Tracks, &timeline.Track{
		ID:   "ov",
		Kind: timeline.TrackOverlay,
		Rank: 1,
		Clips: []*timeline.Clip{
			{ID: "o1", MediaID: "m2", Kind: timeline.ClipVideo, Start: 0, Duration: 10, TrimStart: 50, Opacity: 1, Volume: 1},
		},
	})
	base := &solidProvider{width: 64, height: 36}
	over := &solidProvider{width: 64, height: 36}
	comp := NewCompositor(seq, map[string]FrameProvider{"m1": base, "m2": over}, hclog.NewNullLogger())

	img, err := comp.Composite(context.Background(), 1.0)
	require.NoError(t, err)
	assert.Equal(t, media.ColorAt(51.0), centerColor(img))
}

func TestCompositeOpacityBlends(t *testing.T) {
	seq := previewSequence()
	seq.Tracks[0].Clips = seq.Tracks[0].Clips[:1]
	seq.Tracks[0].Clips[0].Opacity = 0.5
	prov := &solidProvider{width: 64, height: 36}
	comp := NewCompositor(seq, map[string]FrameProvider{"m1": prov}, hclog.NewNullLogger())

	img, err := comp.Composite(context.Background(), 1.0)
	require.NoError(t, err)
	want := media.ColorAt(1.0)
	got := centerColor(img)
	// Half-blended onto black.
	assert.InDelta(t, float64(want.R)/2, float64(got.R), 1.5)
	assert.InDelta(t, float64(want.G)/2, float64(got.G), 1.5)
	assert.InDelta(t, float64(want.B)/2, float64(got.B), 1.5)
}

func TestCompositeTransitionWindow(t *testing.T) {
	seq := previewSequence()
	seq.Tracks[0].Clips[1].Transitions = []*timeline.TransitionSpec{
		{ID: "tr1", Type: TransitionCrossfade, Duration: 1.0, Easing: "linear"},
	}
	prov := &solidProvider{width: 64, height: 36}
	comp := NewCompositor(seq, map[string]FrameProvider{"m1": prov}, hclog.NewNullLogger())

	// Halfway through the window both sides are fetched and mixed 50/50.
	img, err := comp.Composite(context.Background(), 5.5)
	require.NoError(t, err)
	require.Len(t, prov.requests, 2)
	assert.InDelta(t, 10.5, prov.requests[0], 1e-9) // incoming: trim 10 + 0.5
	assert.InDelta(t, 5.5, prov.requests[1], 1e-9)  // outgoing: c1 continues past its cut
	in := media.ColorAt(10.5)
	out := media.ColorAt(5.5)
	got := centerColor(img)
	assert.InDelta(t, float64(out.R)*0.5+float64(in.R)*0.5, float64(got.R), 1.5)
	assert.InDelta(t, float64(out.G)*0.5+float64(in.G)*0.5, float64(got.G), 1.5)

	// Past the window only the incoming clip is fetched.
	prov.requests = nil
	_, err = comp.Composite(context.Background(), 6.5)
	require.NoError(t, err)
	assert.Len(t, prov.requests, 1)
}

func TestCompositeSpeedCurveRemapsSource(t *testing.T) {
	seq := previewSequence()
	seq.Tracks[0].Clips = seq.Tracks[0].Clips[:1]
	seq.Tracks[0].Clips[0].Speed = &timeline.SpeedCurve{
		Keyframes: []timeline.SpeedKeyframe{{Time: 0, Speed: 2.0}},
	}
	prov := &solidProvider{width: 64, height: 36}
	comp := NewCompositor(seq, map[string]FrameProvider{"m1": prov}, hclog.NewNullLogger())

	_, err := comp.Composite(context.Background(), 2.0)
	require.NoError(t, err)
	require.Len(t, prov.requests, 1)
	assert.InDelta(t, 4.0, prov.requests[0], 0.01)
}

func TestCompositeFrameFailureFailsWhole(t *testing.T) {
	prov := &solidProvider{width: 64, height: 36, fail: true}
	comp := NewCompositor(previewSequence(), map[string]FrameProvider{"m1": prov}, hclog.NewNullLogger())

	_, err := comp.Composite(context.Background(), 1.0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, media.ErrNoFrame))
}

func TestCompositeMissingPipeline(t *testing.T) {
	comp := NewCompositor(previewSequence(), map[string]FrameProvider{}, hclog.NewNullLogger())
	_, err := comp.Composite(context.Background(), 1.0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, media.ErrNoFrame))
}

func TestLetterboxWideSourceIntoTallCanvas(t *testing.T) {
	dst := image.NewRGBA(image.Rect(0, 0, 40, 40))
	src := image.NewRGBA(image.Rect(0, 0, 80, 40))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i] = 200
		src.Pix[i+3] = 255
	}
	drawLetterboxed(dst, src, 1.0)

	// 2:1 source in a square canvas scales to 40x20 centered vertically.
	assert.Equal(t, uint8(200), dst.RGBAAt(20, 20).R)
	assert.Equal(t, uint8(0), dst.RGBAAt(20, 5).R)
	assert.Equal(t, uint8(0), dst.RGBAAt(20, 35).R)
}
