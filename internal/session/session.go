// Package session assembles the engine around one open project: model,
// history, decode pipelines, audio mixer, preview player and export jobs,
// behind a single facade the host embeds. All mutation goes through the
// session, which serializes commands into the history (single writer) and
// emits a fresh snapshot after every committed edit.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/openreel/engine/internal/audio"
	"github.com/openreel/engine/internal/config"
	"github.com/openreel/engine/internal/events"
	"github.com/openreel/engine/internal/export"
	"github.com/openreel/engine/internal/history"
	"github.com/openreel/engine/internal/media"
	"github.com/openreel/engine/internal/render"
	"github.com/openreel/engine/internal/timeline"
)

// Session owns one open project and everything rendered from it.
type Session struct {
	mu     sync.Mutex
	logger hclog.Logger
	cfg    *config.Config
	bus    *events.Bus

	project   *timeline.Project
	history   *history.History
	validate  *validator.Validate
	opener    media.SourceOpener
	pipelines map[string]*media.Pipeline
	mixer     *audio.Mixer
	player    *render.Player
	relinker  *media.Relinker

	exportCancel context.CancelFunc
}

// Option customizes session assembly.
type Option func(*Session)

// WithOpener overrides how media locations are opened. The default opener
// spawns ffmpeg-backed sources.
func WithOpener(opener media.SourceOpener) Option {
	return func(s *Session) { s.opener = opener }
}

// New opens a session over a project. The project is validated and
// normalized before any component sees it.
func New(project *timeline.Project, cfg *config.Config, bus *events.Bus, logger hclog.Logger, opts ...Option) (*Session, error) {
	s := &Session{
		logger:    logger.Named("session"),
		cfg:       cfg,
		bus:       bus,
		validate:  validator.New(),
		opener:    media.OpenFFmpegSource,
		pipelines: make(map[string]*media.Pipeline),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.validate.Struct(project); err != nil {
		return nil, fmt.Errorf("invalid project: %w", err)
	}
	for _, seq := range project.Sequences {
		seq.Normalize()
	}
	s.project = project
	s.history = history.New(project, logger,
		history.WithMaxDepth(cfg.Editing.UndoDepth),
		history.WithCommitHook(s.onCommit),
	)

	if cfg.Media.WatchAssets {
		relinker, err := media.NewRelinker(logger, s.onAssetChanged)
		if err != nil {
			s.logger.Warn("asset watching unavailable", "error", err)
		} else {
			s.relinker = relinker
			for id, asset := range project.Assets {
				if asset.Source != "" {
					if werr := relinker.Watch(id, asset.Source); werr != nil {
						s.logger.Debug("cannot watch asset", "asset", id, "error", werr)
					}
				}
			}
		}
	}
	return s, nil
}

// LoadSnapshot replaces the project with an inbound snapshot, e.g. a
// document restored by the host. The snapshot is validated and the undo
// history is cleared: snapshots describe states, not the edits between them.
func (s *Session) LoadSnapshot(data []byte) error {
	var project timeline.Project
	if err := json.Unmarshal(data, &project); err != nil {
		return fmt.Errorf("failed to decode project snapshot: %w", err)
	}
	if err := s.validate.Struct(&project); err != nil {
		return fmt.Errorf("invalid project snapshot: %w", err)
	}
	for _, seq := range project.Sequences {
		seq.Normalize()
	}

	s.mu.Lock()
	s.project = &project
	s.history = history.New(&project, s.logger,
		history.WithMaxDepth(s.cfg.Editing.UndoDepth),
		history.WithCommitHook(s.onCommit),
	)
	s.mu.Unlock()

	s.bus.Publish(events.EventTimelineUpdated, map[string]any{"project": project.ID})
	return nil
}

// Snapshot serializes the current project state.
func (s *Session) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.MarshalIndent(s.project, "", "  ")
}

// Project returns the live project. Callers must treat it as read-only;
// mutation goes through Execute.
func (s *Session) Project() *timeline.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project
}

// Execute runs one edit command through the history, after applying the
// session's editing preferences to it.
func (s *Session) Execute(cmd history.Command) error {
	s.applyEditingPrefs(cmd)
	return s.history.Execute(cmd)
}

// applyEditingPrefs rewrites a command per the configured editing behavior:
// ripple edits widen to every unlocked track, and absolute edit times snap
// to the active sequence's frame grid.
func (s *Session) applyEditingPrefs(cmd history.Command) {
	if s.cfg.Editing.RippleAllTracks {
		switch c := cmd.(type) {
		case *history.RippleTrim:
			c.MultiTrack = true
		case *history.RippleDelete:
			c.MultiTrack = true
		}
	}
	if s.cfg.Editing.SnapToFrames {
		seq, err := s.ActiveSequence()
		if err != nil || seq.FPS <= 0 {
			return
		}
		switch c := cmd.(type) {
		case *history.MoveClip:
			c.NewStart = snapToFrame(c.NewStart, seq.FPS)
		case *history.SlideClip:
			c.NewStart = snapToFrame(c.NewStart, seq.FPS)
		case *history.SplitClip:
			c.SplitTime = snapToFrame(c.SplitTime, seq.FPS)
		}
	}
}

func snapToFrame(t, fps float64) float64 {
	return math.Round(t*fps) / fps
}

// Undo reverts the most recent edit. Returns false on an empty stack.
func (s *Session) Undo() bool { return s.history.Undo() }

// Redo re-applies the most recently undone edit.
func (s *Session) Redo() bool { return s.history.Redo() }

// History exposes the undo stack for host UIs (edit menus, history panels).
func (s *Session) History() *history.History { return s.history }

// onCommit runs after every committed mutation, on the dispatching
// goroutine, preserving edit order in the event stream.
func (s *Session) onCommit(p *timeline.Project) {
	s.bus.Publish(events.EventTimelineUpdated, map[string]any{"project": p.ID})
	s.bus.Publish(events.EventHistoryChanged, map[string]any{
		"can_undo": s.history.CanUndo(),
		"can_redo": s.history.CanRedo(),
	})
}

// onAssetChanged runs when an asset's backing file changes on disk: cached
// frames decoded from the old bytes are dropped before the host hears about
// the change.
func (s *Session) onAssetChanged(assetID string) {
	s.mu.Lock()
	if p, ok := s.pipelines[assetID]; ok {
		p.Invalidate()
	}
	s.mu.Unlock()
	s.bus.Publish(events.EventAssetUpdated, map[string]any{"asset": assetID})
}

// ImportAsset probes a local file, registers it in the project's asset table
// and starts watching its source for relinking. Import is not an edit: it is
// not undoable and does not touch any sequence.
func (s *Session) ImportAsset(ctx context.Context, path string) (*timeline.MediaAssetMeta, error) {
	prober := media.NewProber(s.logger)
	meta, err := prober.Probe(ctx, uuid.NewString(), path)
	if err != nil {
		return nil, err
	}
	s.generatePreviews(ctx, prober, meta)

	s.mu.Lock()
	if s.project.Assets == nil {
		s.project.Assets = make(map[string]*timeline.MediaAssetMeta)
	}
	s.project.Assets[meta.ID] = meta
	s.mu.Unlock()

	if s.relinker != nil {
		if err := s.relinker.Watch(meta.ID, meta.Source); err != nil {
			s.logger.Debug("cannot watch imported asset", "asset", meta.ID, "error", err)
		}
	}
	s.bus.Publish(events.EventAssetImported, map[string]any{"asset": meta.ID, "path": path})
	return meta, nil
}

// generatePreviews fills in the imported asset's scrub thumbnails (video) or
// waveform summary (audio). Preview failures are logged, not fatal: the
// asset stays usable without them.
func (s *Session) generatePreviews(ctx context.Context, prober *media.Prober, meta *timeline.MediaAssetMeta) {
	switch meta.Type {
	case timeline.AssetVideo:
		pipeCfg := s.pipelineConfig()
		pipeCfg.ExportMode = true
		pipe := media.NewPipeline(meta, s.opener, pipeCfg, s.logger)
		if err := pipe.Init(ctx); err != nil {
			s.logger.Warn("no thumbnails for asset", "asset", meta.ID, "error", err)
			return
		}
		defer pipe.Close()
		strip, err := prober.ThumbnailStrip(ctx, pipe, meta.Duration,
			s.cfg.Media.ThumbnailCount, s.cfg.Media.ThumbnailWidth)
		if err != nil {
			s.logger.Warn("no thumbnails for asset", "asset", meta.ID, "error", err)
			return
		}
		meta.Thumbnails = strip
	case timeline.AssetAudio:
		samples, err := media.ReadPCM(ctx, meta.Source, 0, meta.Duration, meta.SampleRate)
		if err != nil {
			s.logger.Warn("no waveform for asset", "asset", meta.ID, "error", err)
			return
		}
		meta.Waveform = media.WaveformSummary(samples, s.cfg.Media.WaveformBuckets)
	}
}

// ActiveSequence resolves the sequence edits and playback apply to.
func (s *Session) ActiveSequence() (*timeline.Sequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq := s.project.ActiveSequence(); seq != nil {
		return seq, nil
	}
	return nil, fmt.Errorf("project %s has no sequences", s.project.ID)
}

// AttachPreview builds the playback stack for the active sequence: one
// decode pipeline per referenced asset, a compositor over them, a mixer on
// the given audio output (nil for silent preview), and a player presenting
// into the surface.
func (s *Session) AttachPreview(ctx context.Context, surface render.Surface, out audio.Output) (*render.Player, error) {
	seq, err := s.ActiveSequence()
	if err != nil {
		return nil, err
	}

	pipeCfg := s.pipelineConfig()

	s.mu.Lock()
	defer s.mu.Unlock()
	providers := make(map[string]render.FrameProvider)
	for _, track := range seq.Tracks {
		if track.Kind != timeline.TrackVideo && track.Kind != timeline.TrackOverlay {
			continue
		}
		for _, clip := range track.Clips {
			if _, ok := s.pipelines[clip.MediaID]; ok {
				providers[clip.MediaID] = s.pipelines[clip.MediaID]
				continue
			}
			asset, ok := s.project.Assets[clip.MediaID]
			if !ok {
				return nil, fmt.Errorf("clip %s references unknown asset %s", clip.ID, clip.MediaID)
			}
			p := media.NewPipeline(asset, s.opener, pipeCfg, s.logger)
			if err := p.Init(ctx); err != nil {
				return nil, fmt.Errorf("failed to open asset %s: %w", asset.ID, err)
			}
			s.pipelines[clip.MediaID] = p
			providers[clip.MediaID] = p
		}
	}

	comp := render.NewCompositor(seq, providers, s.logger)
	opts := []render.PlayerOption{
		render.WithScrubToggle(s.setScrubbing),
		render.WithSeekDebounce(s.cfg.Playback.SeekDebounce),
		render.WithHoldOnDecodeFail(s.cfg.Playback.HoldOnDecodeFail),
		render.WithTimeCallback(func(t float64) {
			s.bus.Publish(events.EventPlaybackTime, map[string]any{"time": t})
		}),
	}
	if out != nil {
		s.mixer = audio.NewMixer(seq, out, s.logger)
		s.mixer.SetMasterGain(s.cfg.Playback.MasterGain)
		opts = append(opts, render.WithAudio(s.mixer))
	}
	player := render.NewPlayer(comp, render.NewIntervalScheduler(s.cfg.Playback.TickFPS),
		seq.Duration, seq.FPS, s.logger, opts...)
	if err := player.Attach(ctx, surface); err != nil {
		return nil, err
	}
	s.player = player
	return player, nil
}

// pipelineConfig maps the decode section of the config onto pipeline
// settings.
func (s *Session) pipelineConfig() media.PipelineConfig {
	return media.PipelineConfig{
		Lookahead:      s.cfg.Decode.Lookahead.Seconds(),
		Behind:         s.cfg.Decode.Behind.Seconds(),
		PlayTolerance:  s.cfg.Decode.PlayTolerance.Seconds(),
		ScrubTolerance: s.cfg.Decode.ScrubTolerance.Seconds(),
		CacheCapacity:  s.cfg.Decode.CacheCapacity,
	}
}

func (s *Session) setScrubbing(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pipelines {
		p.SetScrubbing(on)
	}
}

// StartExport renders the active sequence to settings.OutputPath on its own
// goroutine with isolated pipelines; the session stays interactive. Progress
// and completion are published on the bus. A second export while one runs is
// rejected.
func (s *Session) StartExport(ctx context.Context, settings export.Settings, enc export.Encoder, sources map[string]audio.SampleSource) error {
	seq, err := s.ActiveSequence()
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.exportCancel != nil {
		s.mu.Unlock()
		return fmt.Errorf("an export is already running")
	}
	// The job renders from a deep clone, so edits during the export cannot
	// tear the frames it produces.
	seqCopy := seq.Clone()
	assets := make(map[string]*timeline.MediaAssetMeta, len(s.project.Assets))
	for id, a := range s.project.Assets {
		assets[id] = a.Clone()
	}
	jobCtx, cancel := context.WithCancel(ctx)
	s.exportCancel = cancel
	s.mu.Unlock()

	job := export.NewJob(seqCopy, assets, s.opener, settings, enc, s.logger,
		export.WithAudioSources(sources),
		export.WithMasterGain(s.cfg.Playback.MasterGain),
		export.WithProgress(func(p export.Progress) {
			s.bus.Publish(events.EventExportProgress, map[string]any{
				"stage":   string(p.Stage),
				"percent": p.Percent,
				"frame":   p.Frame,
				"total":   p.TotalFrames,
			})
		}),
	)

	s.bus.Publish(events.EventExportStarted, map[string]any{"output": settings.OutputPath})
	go func() {
		err := job.Run(jobCtx)
		s.mu.Lock()
		s.exportCancel = nil
		s.mu.Unlock()
		if err != nil {
			s.bus.Publish(events.EventExportFailed, map[string]any{"error": err.Error()})
			return
		}
		s.bus.Publish(events.EventExportDone, map[string]any{"output": settings.OutputPath})
	}()
	return nil
}

// Export renders a sequence synchronously and returns the encoded container
// payload. It is the request/response face of the export pipeline; hosts
// that want background rendering use StartExport instead.
func (s *Session) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	if err := s.validate.Struct(&req); err != nil {
		return nil, fmt.Errorf("invalid export request: %w", err)
	}

	s.mu.Lock()
	seq := s.project.Sequence(req.SequenceID)
	if seq == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("unknown sequence %s", req.SequenceID)
	}
	seqCopy := seq.Clone()
	assets := make(map[string]*timeline.MediaAssetMeta, len(s.project.Assets))
	for id, a := range s.project.Assets {
		assets[id] = a.Clone()
	}
	s.mu.Unlock()

	path, err := req.StagePath()
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)
	settings, err := req.Settings(path)
	if err != nil {
		return nil, err
	}
	settings.AudioCodec, err = export.PickAudioCodec(ctx, media.ProbeAudioEncoder)
	if err != nil {
		return nil, err
	}

	opts := []export.JobOption{
		export.WithMasterGain(s.cfg.Playback.MasterGain),
		export.WithProgress(func(p export.Progress) {
			s.bus.Publish(events.EventExportProgress, map[string]any{
				"stage":   string(p.Stage),
				"percent": p.Percent,
				"frame":   p.Frame,
				"total":   p.TotalFrames,
			})
		}),
	}
	if req.IncludeAudio {
		opts = append(opts, export.WithAudioSources(s.audioSources(seqCopy, assets, settings.SampleRate)))
	}

	job := export.NewJob(seqCopy, assets, s.opener, settings, export.NewFFmpegEncoder(), s.logger, opts...)
	if err := job.Run(ctx); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read export output: %w", err)
	}
	return &export.Result{Data: data, MIMEType: req.MIMEType()}, nil
}

// audioSources builds one PCM reader per audio asset the sequence uses.
func (s *Session) audioSources(seq *timeline.Sequence, assets map[string]*timeline.MediaAssetMeta, rate int) map[string]audio.SampleSource {
	sources := make(map[string]audio.SampleSource)
	for _, track := range seq.Tracks {
		if track.Kind != timeline.TrackAudio {
			continue
		}
		for _, clip := range track.Clips {
			if _, ok := sources[clip.MediaID]; ok {
				continue
			}
			asset, ok := assets[clip.MediaID]
			if !ok {
				continue
			}
			if locs := asset.ExportLocations(); len(locs) > 0 {
				sources[clip.MediaID] = media.NewPCMSource(locs[0], rate)
			}
		}
	}
	return sources
}

// CancelExport aborts a running export, if any.
func (s *Session) CancelExport() {
	s.mu.Lock()
	cancel := s.exportCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close tears the session down: playback stops, pipelines close, the asset
// watcher shuts down. The project itself is untouched.
func (s *Session) Close() error {
	s.CancelExport()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player != nil {
		s.player.Detach()
		s.player = nil
	}
	if s.mixer != nil {
		s.mixer.Stop()
		s.mixer = nil
	}
	for id, p := range s.pipelines {
		if err := p.Close(); err != nil {
			s.logger.Warn("failed to close pipeline", "asset", id, "error", err)
		}
		delete(s.pipelines, id)
	}
	if s.relinker != nil {
		if err := s.relinker.Close(); err != nil {
			return fmt.Errorf("failed to close asset watcher: %w", err)
		}
		s.relinker = nil
	}
	return nil
}
