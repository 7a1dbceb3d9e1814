package audio

import (
	"context"
	"fmt"

	"github.com/openreel/engine/internal/timeline"
)

// SampleSource provides decoded stereo samples for one asset. Samples are
// interleaved L/R float32 at the source's native rate.
type SampleSource interface {
	// Samples returns duration seconds of audio starting at from (in source
	// time), at the source's native rate.
	Samples(ctx context.Context, from, duration float64) ([]float32, error)
	// SampleRate is the source's native rate.
	SampleRate() int
}

// Resample converts interleaved stereo samples between rates with linear
// interpolation. Good enough for mixdown; anything fancier belongs in the
// encoder.
func Resample(in []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || len(in) < 4 {
		return in
	}
	inFrames := len(in) / 2
	outFrames := int(float64(inFrames) * float64(toRate) / float64(fromRate))
	out := make([]float32, outFrames*2)
	ratio := float64(fromRate) / float64(toRate)
	for i := 0; i < outFrames; i++ {
		pos := float64(i) * ratio
		j := int(pos)
		frac := float32(pos - float64(j))
		k := j + 1
		if k >= inFrames {
			k = inFrames - 1
		}
		out[i*2] = in[j*2]*(1-frac) + in[k*2]*frac
		out[i*2+1] = in[j*2+1]*(1-frac) + in[k*2+1]*frac
	}
	return out
}

// Mixdown renders every audio clip of a sequence into one fixed-length
// interleaved stereo buffer at the target rate, applying clip volume, the
// track gain policy and the master gain, clamping the sum to [-1, 1].
// sources maps media ids to their sample providers; clips whose asset has no
// provider are skipped (silent), matching the degrade-to-silence policy.
func Mixdown(ctx context.Context, seq *timeline.Sequence, sources map[string]SampleSource, targetRate int, masterGain float64) ([]float32, error) {
	totalFrames := int(seq.Duration * float64(targetRate))
	mix := make([]float32, totalFrames*2)

	anySolo := false
	for _, t := range seq.Tracks {
		if t.Kind == timeline.TrackAudio && t.Soloed {
			anySolo = true
			break
		}
	}

	for _, track := range seq.Tracks {
		if track.Kind != timeline.TrackAudio {
			continue
		}
		trackGain := EffectiveGain(track, anySolo) * masterGain
		if trackGain == 0 {
			continue
		}
		for _, clip := range track.Clips {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			src, ok := sources[clip.MediaID]
			if !ok {
				continue
			}
			samples, err := src.Samples(ctx, clip.TrimStart, clip.Duration)
			if err != nil {
				return nil, fmt.Errorf("failed to read audio for clip %s: %w", clip.ID, err)
			}
			samples = Resample(samples, src.SampleRate(), targetRate)
			gain := float32(trackGain * clip.Volume)
			base := int(clip.Start * float64(targetRate))
			for i := 0; i < len(samples)/2; i++ {
				frame := base + i
				if frame >= totalFrames {
					break
				}
				mix[frame*2] += samples[i*2] * gain
				mix[frame*2+1] += samples[i*2+1] * gain
			}
		}
	}

	for i, v := range mix {
		if v > 1 {
			mix[i] = 1
		} else if v < -1 {
			mix[i] = -1
		}
	}
	return mix, nil
}
