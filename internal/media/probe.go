package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"

	"github.com/chai2010/webp"
	"github.com/dhowden/tag"
	"github.com/h2non/filetype"
	"github.com/hashicorp/go-hclog"

	"github.com/openreel/engine/internal/timeline"
)

// DefaultWaveformBuckets is the waveform summary resolution used when the
// caller does not ask for one.
const DefaultWaveformBuckets = 512

// Prober fills in MediaAssetMeta for local files: sniffed type, stream
// properties, an audio waveform summary and a webp thumbnail strip.
type Prober struct {
	logger hclog.Logger
}

// NewProber creates a prober.
func NewProber(logger hclog.Logger) *Prober {
	return &Prober{logger: logger.Named("prober")}
}

// Probe inspects the file at path and returns populated asset metadata.
func (pr *Prober) Probe(ctx context.Context, id, path string) (*timeline.MediaAssetMeta, error) {
	head := make([]byte, 261)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open asset %s: %w", path, err)
	}
	defer f.Close()
	n, _ := f.Read(head)

	kind, err := filetype.Match(head[:n])
	if err != nil {
		return nil, fmt.Errorf("failed to sniff asset %s: %w", path, err)
	}

	meta := &timeline.MediaAssetMeta{ID: id, Name: path, Source: path}
	switch {
	case filetype.IsVideo(head[:n]):
		meta.Type = timeline.AssetVideo
	case filetype.IsAudio(head[:n]):
		meta.Type = timeline.AssetAudio
	case filetype.IsImage(head[:n]):
		meta.Type = timeline.AssetImage
	default:
		return nil, fmt.Errorf("unsupported asset type %q for %s", kind.MIME.Value, path)
	}

	switch meta.Type {
	case timeline.AssetVideo:
		src := NewFFmpegSource()
		if err := src.Open(ctx, path); err != nil {
			return nil, fmt.Errorf("failed to probe video %s: %w", path, err)
		}
		info := src.Info()
		meta.Duration = info.Duration
		meta.Width = info.Width
		meta.Height = info.Height
		meta.FPS = info.FPS
		_ = src.Close()
	case timeline.AssetAudio:
		if _, err := f.Seek(0, 0); err == nil {
			if md, err := tag.ReadFrom(f); err == nil {
				if title := md.Title(); title != "" {
					meta.Name = title
				}
			} else {
				pr.logger.Debug("no audio tags", "path", path, "error", err)
			}
		}
		meta.SampleRate = 48000
	}
	return meta, nil
}

// ThumbnailStrip decodes count frames evenly spaced across the asset and
// returns them webp-encoded, for timeline scrubbing UI. Frames wider than
// width are downscaled first; width <= 0 keeps the source resolution.
func (pr *Prober) ThumbnailStrip(ctx context.Context, pipe *Pipeline, duration float64, count, width int) ([][]byte, error) {
	if count <= 0 || duration <= 0 {
		return nil, nil
	}
	strip := make([][]byte, 0, count)
	step := duration / float64(count)
	for i := 0; i < count; i++ {
		t := (float64(i) + 0.5) * step
		frame, err := pipe.GetFrameAt(ctx, t)
		if err != nil {
			pr.logger.Warn("thumbnail frame unavailable", "time", t, "error", err)
			continue
		}
		var buf bytes.Buffer
		err = webp.Encode(&buf, scaleToWidth(frame.Image(), width), &webp.Options{Quality: 60})
		frame.Release()
		if err != nil {
			return nil, fmt.Errorf("failed to encode thumbnail at %gs: %w", t, err)
		}
		strip = append(strip, buf.Bytes())
	}
	return strip, nil
}

// scaleToWidth nearest-neighbor downscales img to the given width, keeping
// aspect. Images already narrow enough pass through untouched.
func scaleToWidth(img *image.RGBA, width int) *image.RGBA {
	b := img.Bounds()
	if width <= 0 || b.Dx() <= width {
		return img
	}
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		sy := b.Min.Y + y*b.Dy()/height
		for x := 0; x < width; x++ {
			sx := b.Min.X + x*b.Dx()/width
			out.Set(x, y, img.At(sx, sy))
		}
	}
	return out
}

// WaveformSummary reduces interleaved stereo samples to peak buckets in
// [0,1], the shape drawn under audio clips. buckets <= 0 uses
// DefaultWaveformBuckets.
func WaveformSummary(samples []float32, buckets int) []float64 {
	if len(samples) == 0 {
		return nil
	}
	if buckets <= 0 {
		buckets = DefaultWaveformBuckets
	}
	frames := len(samples) / 2
	if frames < buckets {
		buckets = frames
	}
	out := make([]float64, buckets)
	perBucket := frames / buckets
	for b := 0; b < buckets; b++ {
		peak := float32(0)
		base := b * perBucket * 2
		for i := 0; i < perBucket*2; i += 2 {
			l, r := samples[base+i], samples[base+i+1]
			if l < 0 {
				l = -l
			}
			if r < 0 {
				r = -r
			}
			if l > peak {
				peak = l
			}
			if r > peak {
				peak = r
			}
		}
		if peak > 1 {
			peak = 1
		}
		out[b] = float64(peak)
	}
	return out
}
