package render

import (
	"image"
	"math"

	"github.com/openreel/engine/internal/timeline"
)

// ApplyEffects runs a clip's enabled effects over the frame in list order,
// mutating it in place. localTime is the clip-local time, used by the
// animated effects (grain).
func ApplyEffects(img *image.RGBA, effects []*timeline.Effect, localTime float64) {
	for _, e := range effects {
		if !e.Enabled {
			continue
		}
		applyEffect(img, e, localTime)
	}
}

func applyEffect(img *image.RGBA, e *timeline.Effect, localTime float64) {
	switch e.Type {
	case timeline.EffectBrightness:
		adjustBrightness(img, e.Param("amount", 0))
	case timeline.EffectContrast:
		adjustContrast(img, e.Param("amount", 0))
	case timeline.EffectSaturation:
		adjustSaturation(img, e.Param("amount", 1))
	case timeline.EffectBlur:
		boxBlur(img, int(e.Param("radius", 1)))
	case timeline.EffectGrain:
		addGrain(img, e.Param("amount", 0.1), localTime)
	case timeline.EffectVignette:
		vignette(img, e.Param("strength", 0.5))
	case timeline.EffectColorGrade:
		colorGrade(img, e.Param("r", 1), e.Param("g", 1), e.Param("b", 1))
	case timeline.EffectFilmLook:
		// A fixed recipe: lifted blacks, warm grade, gentle vignette.
		adjustContrast(img, 0.1)
		colorGrade(img, 1.05, 1.0, 0.92)
		vignette(img, 0.3)
	}
}

// adjustBrightness shifts every channel by amount in [-1, 1].
func adjustBrightness(img *image.RGBA, amount float64) {
	delta := int(amount * 255)
	pix := img.Pix
	for i := 0; i < len(pix); i += 4 {
		pix[i] = clampByte(int(pix[i]) + delta)
		pix[i+1] = clampByte(int(pix[i+1]) + delta)
		pix[i+2] = clampByte(int(pix[i+2]) + delta)
	}
}

// adjustContrast scales channels around mid-gray; amount in [-1, 1].
func adjustContrast(img *image.RGBA, amount float64) {
	factor := 1 + amount
	pix := img.Pix
	for i := 0; i < len(pix); i += 4 {
		pix[i] = clampByte(int((float64(pix[i])-128)*factor + 128))
		pix[i+1] = clampByte(int((float64(pix[i+1])-128)*factor + 128))
		pix[i+2] = clampByte(int((float64(pix[i+2])-128)*factor + 128))
	}
}

// adjustSaturation interpolates between luma (0) and identity (1); values
// above 1 oversaturate.
func adjustSaturation(img *image.RGBA, amount float64) {
	pix := img.Pix
	for i := 0; i < len(pix); i += 4 {
		r, g, b := float64(pix[i]), float64(pix[i+1]), float64(pix[i+2])
		luma := 0.2126*r + 0.7152*g + 0.0722*b
		pix[i] = clampByte(int(luma + (r-luma)*amount))
		pix[i+1] = clampByte(int(luma + (g-luma)*amount))
		pix[i+2] = clampByte(int(luma + (b-luma)*amount))
	}
}

// boxBlur is a separable box blur; radius in pixels.
func boxBlur(img *image.RGBA, radius int) {
	if radius < 1 {
		return
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	tmp := make([]uint8, len(img.Pix))
	copy(tmp, img.Pix)

	// Horizontal pass into tmp, vertical pass back into img.
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var r, g, bl, n int
			for dx := -radius; dx <= radius; dx++ {
				sx := x + dx
				if sx < 0 || sx >= w {
					continue
				}
				i := y*img.Stride + sx*4
				r += int(img.Pix[i])
				g += int(img.Pix[i+1])
				bl += int(img.Pix[i+2])
				n++
			}
			i := y*img.Stride + x*4
			tmp[i] = uint8(r / n)
			tmp[i+1] = uint8(g / n)
			tmp[i+2] = uint8(bl / n)
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var r, g, bl, n int
			for dy := -radius; dy <= radius; dy++ {
				sy := y + dy
				if sy < 0 || sy >= h {
					continue
				}
				i := sy*img.Stride + x*4
				r += int(tmp[i])
				g += int(tmp[i+1])
				bl += int(tmp[i+2])
				n++
			}
			i := y*img.Stride + x*4
			img.Pix[i] = uint8(r / n)
			img.Pix[i+1] = uint8(g / n)
			img.Pix[i+2] = uint8(bl / n)
		}
	}
}

// addGrain overlays deterministic pseudo-random noise. Seeding from the
// local time keeps export renders reproducible frame by frame.
func addGrain(img *image.RGBA, amount, localTime float64) {
	seed := uint64(localTime*1000) | 1
	strength := amount * 255
	pix := img.Pix
	for i := 0; i < len(pix); i += 4 {
		seed = seed*6364136223846793005 + 1442695040888963407
		noise := (float64(seed>>33)/float64(1<<31) - 0.5) * strength
		pix[i] = clampByte(int(float64(pix[i]) + noise))
		pix[i+1] = clampByte(int(float64(pix[i+1]) + noise))
		pix[i+2] = clampByte(int(float64(pix[i+2]) + noise))
	}
}

// vignette darkens toward the corners; strength in [0, 1].
func vignette(img *image.RGBA, strength float64) {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	cx, cy := w/2, h/2
	maxDist := math.Hypot(cx, cy)
	for y := 0; y < int(h); y++ {
		for x := 0; x < int(w); x++ {
			dist := math.Hypot(float64(x)-cx, float64(y)-cy) / maxDist
			factor := 1 - strength*dist*dist
			i := y*img.Stride + x*4
			img.Pix[i] = uint8(float64(img.Pix[i]) * factor)
			img.Pix[i+1] = uint8(float64(img.Pix[i+1]) * factor)
			img.Pix[i+2] = uint8(float64(img.Pix[i+2]) * factor)
		}
	}
}

// colorGrade scales each channel independently.
func colorGrade(img *image.RGBA, r, g, b float64) {
	pix := img.Pix
	for i := 0; i < len(pix); i += 4 {
		pix[i] = clampByte(int(float64(pix[i]) * r))
		pix[i+1] = clampByte(int(float64(pix[i+1]) * g))
		pix[i+2] = clampByte(int(float64(pix[i+2]) * b))
	}
}

func clampByte(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
