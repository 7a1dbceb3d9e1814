// Package render resolves which clips are visible at a timeline time,
// fetches their frames, applies effects, speed remapping and transitions,
// and draws the result into a presentation surface. The same compositing
// core runs under a wall-clock tick loop (preview) and a synchronous
// frame-by-frame iterator (export).
package render

import (
	"sync"
	"time"
)

// Scheduler requests one future render tick at a time: the next tick is
// scheduled only after the current one completes, so renders never overlap.
type Scheduler interface {
	// Request schedules fn once. The returned cancel revokes it if it has
	// not run yet.
	Request(fn func()) (cancel func())
}

// IntervalScheduler runs ticks on a wall-clock frame interval, the live
// preview driver.
type IntervalScheduler struct {
	interval time.Duration
}

// NewIntervalScheduler returns a scheduler ticking at the given frame rate.
func NewIntervalScheduler(fps float64) *IntervalScheduler {
	if fps <= 0 {
		fps = 30
	}
	return &IntervalScheduler{interval: time.Duration(float64(time.Second) / fps)}
}

func (s *IntervalScheduler) Request(fn func()) func() {
	t := time.AfterFunc(s.interval, fn)
	return func() { t.Stop() }
}

// ManualScheduler queues ticks to be advanced explicitly. Tests and the
// export stepper use it to drive the identical render loop without waiting
// on real time.
type ManualScheduler struct {
	mu      sync.Mutex
	pending []*manualTick
}

type manualTick struct {
	fn        func()
	cancelled bool
}

// NewManualScheduler returns an empty manual scheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (s *ManualScheduler) Request(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTick{fn: fn}
	s.pending = append(s.pending, t)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		t.cancelled = true
	}
}

// Tick runs the oldest pending tick. Returns false when nothing ran.
func (s *ManualScheduler) Tick() bool {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return false
		}
		t := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
		if t.cancelled {
			continue
		}
		t.fn()
		return true
	}
}

// Pending reports how many ticks are queued.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
