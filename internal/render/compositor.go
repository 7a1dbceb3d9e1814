package render

import (
	"context"
	"fmt"
	"image"
	"image/draw"

	"github.com/hashicorp/go-hclog"

	"github.com/openreel/engine/internal/media"
	"github.com/openreel/engine/internal/timeline"
)

// FrameProvider hands out frames for one media asset; satisfied by
// *media.Pipeline.
type FrameProvider interface {
	GetFrameAt(ctx context.Context, t float64) (*media.Frame, error)
}

// Compositor renders one sequence time into a canvas: it resolves the active
// clip per video/overlay track, remaps through each clip's speed curve,
// fetches frames, applies effects and transitions, and stacks tracks in
// compositing order with letterboxing. It holds no playback state, so the
// preview loop and the export iterator share it unchanged.
type Compositor struct {
	logger    hclog.Logger
	seq       *timeline.Sequence
	providers map[string]FrameProvider // media id -> pipeline
}

// NewCompositor creates a compositor over a sequence and its per-asset
// frame providers.
func NewCompositor(seq *timeline.Sequence, providers map[string]FrameProvider, logger hclog.Logger) *Compositor {
	return &Compositor{
		logger:    logger.Named("compositor"),
		seq:       seq,
		providers: providers,
	}
}

// Composite renders the sequence at time t into a fresh canvas. Tracks
// stack bottom-up in rank order; a track whose frame cannot be produced
// fails the whole composite so a partially-drawn frame is never presented.
// A time with no active clips yields a black canvas.
func (c *Compositor) Composite(ctx context.Context, t float64) (*image.RGBA, error) {
	canvas := image.NewRGBA(image.Rect(0, 0, c.seq.Width, c.seq.Height))

	for _, track := range c.seq.Tracks {
		if track.Kind != timeline.TrackVideo && track.Kind != timeline.TrackOverlay {
			continue
		}
		clip := track.ClipAt(t)
		if clip == nil {
			continue
		}
		layer, err := c.renderClip(ctx, track, clip, t)
		if err != nil {
			return nil, err
		}
		drawLetterboxed(canvas, layer, clip.Opacity)
	}
	return canvas, nil
}

// Blank returns a fresh black canvas at the sequence resolution.
func (c *Compositor) Blank() *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, c.seq.Width, c.seq.Height))
}

// renderClip produces the fully-effected frame for one clip at sequence
// time t, including any in-progress transition into it.
func (c *Compositor) renderClip(ctx context.Context, track *timeline.Track, clip *timeline.Clip, t float64) (*image.RGBA, error) {
	incoming, err := c.clipFrame(ctx, clip, t, clip.SourceTime(t))
	if err != nil {
		return nil, err
	}

	spec, outgoing := c.activeTransition(track, clip, t)
	if spec == nil {
		return incoming, nil
	}

	// Both frames are fetched before anything is blended, so one
	// presentation frame always shows a coherent A/B pair. The outgoing clip
	// keeps advancing past its cut for the length of the blend.
	outFrame, err := c.clipFrame(ctx, outgoing, t, outgoing.SourceTimeUnclamped(t))
	if err != nil {
		// The outgoing side is cosmetic once its clip has ended; degrade to
		// the incoming frame alone rather than failing the composite.
		c.logger.Debug("transition outgoing frame unavailable", "clip", outgoing.ID, "error", err)
		return incoming, nil
	}

	progress := Ease(spec.Easing, (t-clip.Start)/spec.Duration)
	blended := image.NewRGBA(incoming.Bounds())
	BlendTransition(blended, outFrame, incoming, spec.Type, progress)
	return blended, nil
}

// activeTransition returns the clip's transition spec and the outgoing
// neighbor when t falls inside the transition window. Transitions attach to
// the incoming clip and are active in [clipStart, clipStart+duration).
func (c *Compositor) activeTransition(track *timeline.Track, clip *timeline.Clip, t float64) (*timeline.TransitionSpec, *timeline.Clip) {
	if len(clip.Transitions) == 0 {
		return nil, nil
	}
	spec := clip.Transitions[0]
	if spec.Duration <= 0 || t >= clip.Start+spec.Duration {
		return nil, nil
	}
	idx := track.ClipIndex(clip.ID)
	if idx <= 0 {
		return nil, nil
	}
	prev := track.Clips[idx-1]
	// Only a clip that runs up to (or into) the incoming clip can hand off.
	if prev.End() < clip.Start-0.001 {
		return nil, nil
	}
	return spec, prev
}

// clipFrame fetches and effects one clip's frame. sourceT is the already
// speed-remapped source-media time; callers pick the clamped or unclamped
// mapping. The decoded frame is copied before effects run so cached pixels
// are never mutated.
func (c *Compositor) clipFrame(ctx context.Context, clip *timeline.Clip, t, sourceT float64) (*image.RGBA, error) {
	provider, ok := c.providers[clip.MediaID]
	if !ok {
		return nil, fmt.Errorf("%w: no pipeline for asset %s", media.ErrNoFrame, clip.MediaID)
	}
	frame, err := provider.GetFrameAt(ctx, sourceT)
	if err != nil {
		return nil, fmt.Errorf("clip %s at %gs: %w", clip.ID, t, err)
	}
	defer frame.Release()

	src := frame.Image()
	img := image.NewRGBA(src.Bounds())
	draw.Draw(img, img.Bounds(), src, src.Bounds().Min, draw.Src)

	if len(clip.Effects) > 0 {
		ApplyEffects(img, clip.Effects, t-clip.Start)
	}
	return img, nil
}

// FitInto scales src into dst preserving aspect ratio, centered with black
// bars. Export uses it when the delivery resolution differs from the
// sequence resolution.
func FitInto(dst, src *image.RGBA) {
	drawLetterboxed(dst, src, 1.0)
}

// drawLetterboxed scales src into dst preserving aspect ratio, centering
// with black bars, and blends with the given opacity.
func drawLetterboxed(dst, src *image.RGBA, opacity float64) {
	if opacity <= 0 {
		return
	}
	if opacity > 1 {
		opacity = 1
	}
	dw, dh := dst.Bounds().Dx(), dst.Bounds().Dy()
	sw, sh := src.Bounds().Dx(), src.Bounds().Dy()
	if sw == 0 || sh == 0 || dw == 0 || dh == 0 {
		return
	}

	scale := float64(dw) / float64(sw)
	if s := float64(dh) / float64(sh); s < scale {
		scale = s
	}
	tw := int(float64(sw) * scale)
	th := int(float64(sh) * scale)
	ox := (dw - tw) / 2
	oy := (dh - th) / 2

	for y := 0; y < th; y++ {
		sy := int(float64(y) / scale)
		if sy >= sh {
			sy = sh - 1
		}
		for x := 0; x < tw; x++ {
			sx := int(float64(x) / scale)
			if sx >= sw {
				sx = sw - 1
			}
			si := sy*src.Stride + sx*4
			di := (y+oy)*dst.Stride + (x+ox)*4
			if opacity >= 1 {
				copy(dst.Pix[di:di+4], src.Pix[si:si+4])
				dst.Pix[di+3] = 255
				continue
			}
			dst.Pix[di] = uint8(float64(dst.Pix[di])*(1-opacity) + float64(src.Pix[si])*opacity)
			dst.Pix[di+1] = uint8(float64(dst.Pix[di+1])*(1-opacity) + float64(src.Pix[si+1])*opacity)
			dst.Pix[di+2] = uint8(float64(dst.Pix[di+2])*(1-opacity) + float64(src.Pix[si+2])*opacity)
			dst.Pix[di+3] = 255
		}
	}
}
