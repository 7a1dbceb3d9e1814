package export

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Stage labels the coarse phases of an export job.
type Stage string

const (
	StagePreparing Stage = "preparing"
	StageAudio     Stage = "audio"
	StageVideo     Stage = "video"
	StageFinalize  Stage = "finalizing"
	StageDone      Stage = "done"
)

// Progress is one status emission from a running job.
type Progress struct {
	Stage       Stage   `json:"stage"`
	Percent     float64 `json:"percent"`
	Frame       int     `json:"frame"`
	TotalFrames int     `json:"total_frames"`
	Elapsed     time.Duration `json:"elapsed"`
}

// progressReporter throttles per-frame progress so a tight render loop does
// not flood the callback, while stage changes and the terminal emissions
// always pass through. Percent is monotonic: a recompute that would move it
// backwards is clamped to the high-water mark.
type progressReporter struct {
	mu      sync.Mutex
	fn      func(Progress)
	limiter *rate.Limiter
	started time.Time
	high    float64
	stage   Stage
}

func newProgressReporter(fn func(Progress)) *progressReporter {
	return &progressReporter{
		fn:      fn,
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		started: time.Now(),
	}
}

func (r *progressReporter) report(stage Stage, percent float64, frame, total int) {
	if r.fn == nil {
		return
	}
	r.mu.Lock()
	if percent < r.high {
		percent = r.high
	}
	r.high = percent
	stageChanged := stage != r.stage
	r.stage = stage
	terminal := percent >= 100 || stage == StageDone
	r.mu.Unlock()

	if !stageChanged && !terminal && !r.limiter.Allow() {
		return
	}
	r.fn(Progress{
		Stage:       stage,
		Percent:     percent,
		Frame:       frame,
		TotalFrames: total,
		Elapsed:     time.Since(r.started),
	})
}
