package export

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/hashicorp/go-hclog"

	"github.com/openreel/engine/internal/audio"
	"github.com/openreel/engine/internal/media"
	"github.com/openreel/engine/internal/render"
	"github.com/openreel/engine/internal/timeline"
)

// ErrCancelled is returned when a job's context is cancelled mid-render.
// A cancelled job aborts its encoder, so no partial output survives.
var ErrCancelled = errors.New("export cancelled")

// Job renders one sequence offline. It owns isolated decode pipelines in
// export mode, so running a job never disturbs the interactive session's
// caches, and an evicted preview frame never changes export output.
type Job struct {
	logger     hclog.Logger
	seq        *timeline.Sequence
	assets     map[string]*timeline.MediaAssetMeta
	opener     media.SourceOpener
	sources    map[string]audio.SampleSource
	settings   Settings
	encoder    Encoder
	onProgress func(Progress)
	masterGain float64
}

// JobOption customizes a Job.
type JobOption func(*Job)

// WithProgress installs the status callback. Emissions are throttled except
// for stage changes and completion.
func WithProgress(fn func(Progress)) JobOption {
	return func(j *Job) { j.onProgress = fn }
}

// WithAudioSources provides per-asset PCM readers for the mixdown. Without
// any, the job exports video only.
func WithAudioSources(sources map[string]audio.SampleSource) JobOption {
	return func(j *Job) { j.sources = sources }
}

// WithMasterGain sets the mixdown master gain (default 1.0).
func WithMasterGain(gain float64) JobOption {
	return func(j *Job) { j.masterGain = gain }
}

// NewJob assembles an export job. Settings zero-values are filled from the
// sequence (resolution, frame rate) and codec defaults.
func NewJob(seq *timeline.Sequence, assets map[string]*timeline.MediaAssetMeta, opener media.SourceOpener, settings Settings, encoder Encoder, logger hclog.Logger, opts ...JobOption) *Job {
	if settings.Width <= 0 {
		settings.Width = seq.Width
	}
	if settings.Height <= 0 {
		settings.Height = seq.Height
	}
	if settings.FPS <= 0 {
		settings.FPS = seq.FPS
	}
	settings.Defaults()
	j := &Job{
		logger:     logger.Named("export").With("sequence", seq.ID),
		seq:        seq,
		assets:     assets,
		opener:     opener,
		settings:   settings,
		encoder:    encoder,
		masterGain: 1.0,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run renders every frame of the sequence and finalizes the output. On
// context cancellation it aborts the encoder and returns ErrCancelled.
func (j *Job) Run(ctx context.Context) (err error) {
	reporter := newProgressReporter(j.onProgress)
	total := timeline.FrameCount(j.seq.Duration, j.settings.FPS)
	if total == 0 {
		return fmt.Errorf("sequence %s has nothing to export", j.seq.ID)
	}
	defer func() {
		if err != nil {
			j.encoder.Abort()
		}
	}()

	reporter.report(StagePreparing, 0, 0, total)
	pipelines, err := j.buildPipelines(ctx)
	if err != nil {
		return err
	}
	defer func() {
		for _, p := range pipelines {
			p.Close()
		}
	}()
	providers := make(map[string]render.FrameProvider, len(pipelines))
	for id, p := range pipelines {
		providers[id] = p
	}
	comp := render.NewCompositor(j.seq, providers, j.logger)

	if err := j.encoder.Begin(ctx, j.settings); err != nil {
		return fmt.Errorf("failed to start encoder: %w", err)
	}

	if len(j.sources) > 0 {
		reporter.report(StageAudio, 2, 0, total)
		samples, mixErr := audio.Mixdown(ctx, j.seq, j.sources, j.settings.SampleRate, j.masterGain)
		if mixErr != nil {
			return fmt.Errorf("failed to mix audio: %w", mixErr)
		}
		if err := j.encoder.WriteAudio(samples); err != nil {
			return err
		}
	}
	reporter.report(StageVideo, 5, 0, total)

	scale := j.settings.Width != j.seq.Width || j.settings.Height != j.seq.Height
	var out *image.RGBA
	if scale {
		out = image.NewRGBA(image.Rect(0, 0, j.settings.Width, j.settings.Height))
	}

	for i := 0; i < total; i++ {
		select {
		case <-ctx.Done():
			j.logger.Info("export cancelled", "frame", i, "total", total)
			return fmt.Errorf("%w at frame %d", ErrCancelled, i)
		default:
		}
		t := float64(i) / j.settings.FPS
		frame, cerr := comp.Composite(ctx, t)
		if cerr != nil {
			return fmt.Errorf("failed to render frame %d: %w", i, cerr)
		}
		if scale {
			clearRGBA(out)
			render.FitInto(out, frame)
			frame = out
		}
		if werr := j.encoder.WriteFrame(frame); werr != nil {
			return fmt.Errorf("failed to encode frame %d: %w", i, werr)
		}
		reporter.report(StageVideo, 5+90*float64(i+1)/float64(total), i+1, total)
	}

	reporter.report(StageFinalize, 95, total, total)
	if err := j.encoder.Finalize(ctx); err != nil {
		return fmt.Errorf("failed to finalize output: %w", err)
	}
	reporter.report(StageDone, 100, total, total)
	j.logger.Info("export complete", "frames", total, "output", j.settings.OutputPath)
	return nil
}

// buildPipelines opens one export-mode pipeline per asset referenced by a
// visible clip. Export mode prefers full-fidelity locations and never trims
// its caches, which keeps output byte-stable across runs.
func (j *Job) buildPipelines(ctx context.Context) (map[string]*media.Pipeline, error) {
	cfg := media.DefaultPipelineConfig()
	cfg.ExportMode = true

	pipelines := make(map[string]*media.Pipeline)
	for _, track := range j.seq.Tracks {
		if track.Kind != timeline.TrackVideo && track.Kind != timeline.TrackOverlay {
			continue
		}
		for _, clip := range track.Clips {
			if _, ok := pipelines[clip.MediaID]; ok {
				continue
			}
			asset, ok := j.assets[clip.MediaID]
			if !ok {
				return nil, fmt.Errorf("clip %s references unknown asset %s", clip.ID, clip.MediaID)
			}
			p := media.NewPipeline(asset, j.opener, cfg, j.logger)
			if err := p.Init(ctx); err != nil {
				for _, opened := range pipelines {
					opened.Close()
				}
				return nil, fmt.Errorf("failed to open asset %s: %w", asset.ID, err)
			}
			pipelines[clip.MediaID] = p
		}
	}
	return pipelines, nil
}

func clearRGBA(img *image.RGBA) {
	for i := range img.Pix {
		img.Pix[i] = 0
	}
}
