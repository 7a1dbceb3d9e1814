package render

import (
	"image"
	"math"
)

// Transition type tags.
const (
	TransitionCrossfade = "crossfade"
	TransitionFade      = "fade"
	TransitionWipe      = "wipe"
	TransitionSlide     = "slide"
)

// Ease maps linear transition progress in [0,1] through a named easing
// function.
func Ease(name string, p float64) float64 {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	switch name {
	case "ease-in":
		return p * p
	case "ease-out":
		return 1 - (1-p)*(1-p)
	case "ease-in-out":
		if p < 0.5 {
			return 2 * p * p
		}
		return 1 - math.Pow(-2*p+2, 2)/2
	default: // linear
		return p
	}
}

// BlendTransition composites the outgoing and incoming frames into dst
// according to the transition type and eased progress. All three images
// share the same geometry; both source frames are fully fetched before this
// runs, so the presentation frame is always a coherent A/B pair.
func BlendTransition(dst, outgoing, incoming *image.RGBA, kind string, progress float64) {
	switch kind {
	case TransitionWipe:
		wipeBlend(dst, outgoing, incoming, progress)
	case TransitionSlide:
		slideBlend(dst, outgoing, incoming, progress)
	case TransitionFade:
		// Fade through black: the outgoing frame dims out in the first half,
		// the incoming frame rises in the second.
		if progress < 0.5 {
			scaleInto(dst, outgoing, 1-progress*2)
		} else {
			scaleInto(dst, incoming, (progress-0.5)*2)
		}
	default: // crossfade
		crossfadeBlend(dst, outgoing, incoming, progress)
	}
}

func crossfadeBlend(dst, a, b *image.RGBA, p float64) {
	fa := 1 - p
	for i := 0; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = uint8(float64(a.Pix[i])*fa + float64(b.Pix[i])*p)
		dst.Pix[i+1] = uint8(float64(a.Pix[i+1])*fa + float64(b.Pix[i+1])*p)
		dst.Pix[i+2] = uint8(float64(a.Pix[i+2])*fa + float64(b.Pix[i+2])*p)
		dst.Pix[i+3] = 255
	}
}

func scaleInto(dst, src *image.RGBA, level float64) {
	for i := 0; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = uint8(float64(src.Pix[i]) * level)
		dst.Pix[i+1] = uint8(float64(src.Pix[i+1]) * level)
		dst.Pix[i+2] = uint8(float64(src.Pix[i+2]) * level)
		dst.Pix[i+3] = 255
	}
}

func wipeBlend(dst, a, b *image.RGBA, p float64) {
	bounds := dst.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	edge := int(float64(w) * p)
	for y := 0; y < h; y++ {
		row := y * dst.Stride
		for x := 0; x < w; x++ {
			i := row + x*4
			src := a
			if x < edge {
				src = b
			}
			copy(dst.Pix[i:i+4], src.Pix[i:i+4])
		}
	}
}

func slideBlend(dst, a, b *image.RGBA, p float64) {
	bounds := dst.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	offset := int(float64(w) * (1 - p))
	for y := 0; y < h; y++ {
		row := y * dst.Stride
		for x := 0; x < w; x++ {
			i := row + x*4
			// The incoming frame slides in from the right over the outgoing.
			if sx := x - offset; sx >= 0 {
				copy(dst.Pix[i:i+4], b.Pix[row+sx*4:row+sx*4+4])
			} else {
				copy(dst.Pix[i:i+4], a.Pix[i:i+4])
			}
		}
	}
}
