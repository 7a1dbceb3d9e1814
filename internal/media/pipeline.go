package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/openreel/engine/internal/timeline"
)

var (
	// ErrNoFrame means no frame could be produced for the requested time.
	// It is an explicit absence, not a crash: callers degrade (hold the last
	// drawn frame) rather than abort.
	ErrNoFrame = errors.New("no frame available")
	// ErrNoLocation means every candidate location failed to open.
	ErrNoLocation = errors.New("no asset location could be opened")
)

// PipelineConfig tunes one decode pipeline.
type PipelineConfig struct {
	// Lookahead is how far past the requested time a decode window extends.
	Lookahead float64
	// Behind is how much decoded history a trim pass keeps behind the anchor.
	Behind float64
	// PlayTolerance is the nearest-frame fallback window during steady
	// playback; ScrubTolerance the wider one used while scrubbing.
	PlayTolerance  float64
	ScrubTolerance float64
	// ExportMode disables cache trimming so a clip decoded once sequentially
	// is reused for every frame of a deterministic render.
	ExportMode bool
	// CacheCapacity overrides the memory-derived default when positive.
	CacheCapacity int
}

// DefaultPipelineConfig returns interactive-playback defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Lookahead:      2.0,
		Behind:         1.0,
		PlayTolerance:  0.050,
		ScrubTolerance: 0.250,
	}
}

// Pipeline decodes one media asset and feeds the frame cache. One instance
// exists per asset per rendering session; export jobs build their own
// isolated instances.
type Pipeline struct {
	mu        sync.Mutex
	logger    hclog.Logger
	asset     *timeline.MediaAssetMeta
	cfg       PipelineConfig
	opener    SourceOpener
	cache     *FrameCache
	src       Source
	location  string
	scrubbing bool
	opened    bool
}

// NewPipeline creates a pipeline for one asset. Init must be called before
// frames are requested.
func NewPipeline(asset *timeline.MediaAssetMeta, opener SourceOpener, cfg PipelineConfig, logger hclog.Logger) *Pipeline {
	capacity := cfg.CacheCapacity
	if capacity <= 0 {
		capacity = DefaultCapacity(asset.Width, asset.Height)
	}
	if cfg.ExportMode {
		// Export decodes each clip once and replays it; the cache must hold
		// the whole look-ahead worth of frames without evicting.
		if fc := timeline.FrameCount(asset.Duration, asset.FPS); fc > capacity {
			capacity = fc
		}
	}
	return &Pipeline{
		logger: logger.Named("decode-pipeline").With("asset", asset.ID),
		asset:  asset,
		cfg:    cfg,
		opener: opener,
		cache:  NewFrameCache(capacity),
	}
}

// Init opens the asset, walking its locations in fixed fallback order
// (proxy, then source, then raw URL; export order prefers the full-fidelity
// source). It fails only when every candidate fails, and the chosen
// fidelity is kept for the rest of the session.
func (p *Pipeline) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.opened {
		return nil
	}
	locations := p.asset.Locations()
	if p.cfg.ExportMode {
		locations = p.asset.ExportLocations()
	}
	if len(locations) == 0 {
		return fmt.Errorf("%w: asset %s has no locations", ErrNoLocation, p.asset.ID)
	}
	var errs []error
	for _, loc := range locations {
		src, err := p.opener(loc)
		if err == nil {
			err = src.Open(ctx, loc)
		}
		if err != nil {
			p.logger.Warn("location failed, trying next", "location", loc, "error", err)
			errs = append(errs, err)
			continue
		}
		p.src = src
		p.location = loc
		p.opened = true
		p.logger.Debug("asset opened", "location", loc)
		return nil
	}
	return fmt.Errorf("%w: asset %s: %w", ErrNoLocation, p.asset.ID, errors.Join(errs...))
}

// Location returns the location the pipeline is decoding from.
func (p *Pipeline) Location() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.location
}

// SetScrubbing switches the nearest-frame fallback between the tight
// playback tolerance and the looser scrub tolerance.
func (p *Pipeline) SetScrubbing(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrubbing = on
}

// GetFrameAt returns a frame for source time t. Cache hit returns a clone;
// on a miss the window [keyframe<=t, t+lookahead] is decoded and the cache
// re-queried; if the exact frame is still missing the nearest cached frame
// within tolerance is returned. The caller owns the returned handle.
func (p *Pipeline) GetFrameAt(ctx context.Context, t float64) (*Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.opened {
		return nil, fmt.Errorf("pipeline for asset %s not initialized", p.asset.ID)
	}
	if f := p.cache.Get(t); f != nil {
		return f, nil
	}
	if err := p.decodeWindow(ctx, t); err != nil {
		p.logger.Warn("decode window failed", "time", t, "error", err)
	}
	if f := p.cache.Get(t); f != nil {
		return f, nil
	}
	tolerance := p.cfg.PlayTolerance
	if p.scrubbing {
		tolerance = p.cfg.ScrubTolerance
	}
	if f := p.cache.Nearest(t, tolerance); f != nil {
		return f, nil
	}
	return nil, fmt.Errorf("%w: asset %s at %gs", ErrNoFrame, p.asset.ID, t)
}

// Seek flushes the decoder, clears the cache and primes a fresh window
// around t. Any GetFrameAt issued after Seek returns observes the new state.
func (p *Pipeline) Seek(ctx context.Context, t float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.opened {
		return fmt.Errorf("pipeline for asset %s not initialized", p.asset.ID)
	}
	p.src.Flush()
	p.cache.Clear()
	return p.decodeWindow(ctx, t)
}

// Trim releases cached frames outside the sliding window around the current
// playback anchor. Disabled in export mode.
func (p *Pipeline) Trim(anchor float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.ExportMode {
		return
	}
	lo := anchor - p.cfg.Behind
	hi := anchor + p.cfg.Lookahead
	n := p.cache.Sweep(func(t float64) bool { return t < lo || t > hi })
	if n > 0 {
		p.logger.Trace("trimmed frame cache", "released", n, "anchor", anchor)
	}
}

// Invalidate drops every cached frame and flushes the decoder. Called when
// the asset's backing file changed on disk; the next GetFrameAt re-decodes
// from the new bytes.
func (p *Pipeline) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.src != nil {
		p.src.Flush()
	}
	p.cache.Clear()
}

// CacheLen reports how many frames are currently cached.
func (p *Pipeline) CacheLen() int {
	return p.cache.Len()
}

// Close clears the cache and closes the source. Frames handed out earlier
// stay valid until their holders release them.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Clear()
	if p.src != nil {
		err := p.src.Close()
		p.src = nil
		p.opened = false
		return err
	}
	return nil
}

// decodeWindow decodes [nearest keyframe <= t, t+lookahead] into the cache.
// Caller holds the lock.
func (p *Pipeline) decodeWindow(ctx context.Context, t float64) error {
	from := p.nearestKeyframe(t)
	to := t + p.cfg.Lookahead
	pkts, err := p.src.ReadWindow(ctx, from, to)
	if err != nil {
		return fmt.Errorf("failed to read window [%g,%g]: %w", from, to, err)
	}
	for _, pkt := range pkts {
		if err := ctx.Err(); err != nil {
			return err
		}
		img, err := p.src.Decode(ctx, pkt)
		if err != nil {
			// A corrupt packet poisons nothing; later packets may still decode.
			p.logger.Warn("packet decode failed", "pts", pkt.PTS, "error", err)
			continue
		}
		p.cache.Put(pkt.PTS, NewFrame(pkt.PTS, img, nil))
	}
	p.src.Flush()
	return nil
}

func (p *Pipeline) nearestKeyframe(t float64) float64 {
	best := 0.0
	for _, kf := range p.src.Keyframes() {
		if kf <= t && kf >= best {
			best = kf
		}
		if kf > t {
			break
		}
	}
	return best
}
