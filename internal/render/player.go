package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// State is the player lifecycle state.
type State string

const (
	StateDetached  State = "detached"
	StateReady     State = "ready"
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
	StateScrubbing State = "scrubbing"
)

// DefaultSeekDebounce is how long rapid seek requests are coalesced while
// playing before the audio graph is actually restarted.
const DefaultSeekDebounce = 16 * time.Millisecond

// primeTimeout bounds how long Play waits for the first frame before
// starting anyway.
const primeTimeout = 250 * time.Millisecond

// AudioEngine is the audio side of playback as the player drives it;
// satisfied by *audio.Mixer.
type AudioEngine interface {
	Play(fromTime float64)
	Pause()
	Seek(t float64)
	Now() float64
}

// Player owns preview playback for one sequence: it runs the tick loop,
// keeps video slaved to the audio device clock, coalesces redraws, and
// holds the last good frame on the surface when a decode hiccups.
type Player struct {
	mu      sync.Mutex
	logger  hclog.Logger
	comp    *Compositor
	sched   Scheduler
	audio   AudioEngine // nil when the sequence has no audible tracks
	surface Surface

	// setScrub toggles the decode pipelines between play and scrub
	// frame-matching tolerances.
	setScrub func(bool)

	duration     float64
	fps          float64
	seekDebounce time.Duration
	holdOnFail   bool

	state State
	pos   float64

	// Clock origin captured at Play: pos = playOrigin + (now - clockStart).
	playOrigin float64
	clockStart float64
	wallStart  time.Time

	cancelTick func()

	// Render coalescing: at most one composite in flight, at most one queued.
	rendering    bool
	renderQueued bool

	seekTimer *time.Timer

	onTime func(t float64)
}

// PlayerOption customizes a Player.
type PlayerOption func(*Player)

// WithAudio slaves the player clock to an audio engine.
func WithAudio(a AudioEngine) PlayerOption {
	return func(p *Player) { p.audio = a }
}

// WithScrubToggle installs the callback that flips decode pipelines between
// play and scrub tolerances.
func WithScrubToggle(fn func(bool)) PlayerOption {
	return func(p *Player) { p.setScrub = fn }
}

// WithTimeCallback installs the position callback fired on every tick and
// completed seek.
func WithTimeCallback(fn func(t float64)) PlayerOption {
	return func(p *Player) { p.onTime = fn }
}

// WithSeekDebounce overrides the playing-seek coalescing window.
func WithSeekDebounce(d time.Duration) PlayerOption {
	return func(p *Player) {
		if d > 0 {
			p.seekDebounce = d
		}
	}
}

// WithHoldOnDecodeFail controls what a failed composite leaves on the
// surface: the last good frame (true) or a blank one (false).
func WithHoldOnDecodeFail(hold bool) PlayerOption {
	return func(p *Player) { p.holdOnFail = hold }
}

// NewPlayer creates a detached player. Attach a surface before playing.
func NewPlayer(comp *Compositor, sched Scheduler, duration, fps float64, logger hclog.Logger, opts ...PlayerOption) *Player {
	p := &Player{
		logger:       logger.Named("player"),
		comp:         comp,
		sched:        sched,
		duration:     duration,
		fps:          fps,
		seekDebounce: DefaultSeekDebounce,
		holdOnFail:   true,
		state:        StateDetached,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current lifecycle state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Position returns the current playhead time.
func (p *Player) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *Player) positionLocked() float64 {
	if p.state != StatePlaying {
		return p.pos
	}
	var elapsed float64
	if p.audio != nil {
		elapsed = p.audio.Now() - p.clockStart
	} else {
		elapsed = time.Since(p.wallStart).Seconds()
	}
	t := p.playOrigin + elapsed
	if t > p.duration {
		t = p.duration
	}
	return t
}

// Attach binds a presentation surface and renders the current position once.
func (p *Player) Attach(ctx context.Context, surface Surface) error {
	p.mu.Lock()
	if p.state != StateDetached {
		p.mu.Unlock()
		return fmt.Errorf("attach: player already attached (state %s)", p.state)
	}
	p.surface = surface
	p.state = StateReady
	p.mu.Unlock()
	p.renderAt(ctx, p.Position())
	return nil
}

// Detach stops playback and releases the surface. The player can be
// re-attached later.
func (p *Player) Detach() {
	p.mu.Lock()
	p.stopTickLocked()
	if p.audio != nil && p.state == StatePlaying {
		p.audio.Pause()
	}
	p.surface = nil
	p.state = StateDetached
	p.mu.Unlock()
}

// Play starts playback from the current position. The first frame is primed
// with a bounded wait; when priming times out playback starts anyway and the
// tick loop catches up.
func (p *Player) Play(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateReady && p.state != StatePaused {
		state := p.state
		p.mu.Unlock()
		return fmt.Errorf("play: invalid state %s", state)
	}
	from := p.pos
	if from >= p.duration {
		from = 0
		p.pos = 0
	}
	p.mu.Unlock()

	primeCtx, cancel := context.WithTimeout(ctx, primeTimeout)
	p.renderAt(primeCtx, from)
	cancel()

	p.mu.Lock()
	p.state = StatePlaying
	p.playOrigin = from
	p.wallStart = time.Now()
	if p.audio != nil {
		p.audio.Play(from)
		p.clockStart = p.audio.Now()
	}
	p.scheduleTickLocked(ctx)
	p.mu.Unlock()
	return nil
}

// Pause freezes playback at the current position.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePlaying {
		return
	}
	p.pos = p.positionLocked()
	p.stopTickLocked()
	p.state = StatePaused
	if p.audio != nil {
		p.audio.Pause()
	}
}

// Seek moves the playhead. Paused and ready states redraw immediately;
// while playing, rapid seeks are debounced so the audio graph restarts only
// once the playhead settles.
func (p *Player) Seek(ctx context.Context, t float64) {
	p.mu.Lock()
	if t < 0 {
		t = 0
	}
	if t > p.duration {
		t = p.duration
	}
	switch p.state {
	case StateDetached:
		p.pos = t
		p.mu.Unlock()
		return
	case StatePlaying:
		p.pos = t
		if p.seekTimer != nil {
			p.seekTimer.Stop()
		}
		p.seekTimer = time.AfterFunc(p.seekDebounce, func() {
			p.commitPlayingSeek(ctx)
		})
		p.mu.Unlock()
		return
	default: // ready, paused, scrubbing
		p.pos = t
		p.mu.Unlock()
	}

	p.renderAt(ctx, t)
	p.notifyTime(t)
}

// commitPlayingSeek restarts the clock and audio graph at the settled
// seek target.
func (p *Player) commitPlayingSeek(ctx context.Context) {
	p.mu.Lock()
	if p.state != StatePlaying {
		p.mu.Unlock()
		return
	}
	t := p.pos
	p.playOrigin = t
	p.wallStart = time.Now()
	if p.audio != nil {
		p.audio.Seek(t)
		p.clockStart = p.audio.Now()
	}
	p.mu.Unlock()

	p.renderAt(ctx, t)
	p.notifyTime(t)
}

// BeginScrub switches the decode pipelines to the looser scrub tolerance so
// dragging stays responsive. Playback is paused first if needed.
func (p *Player) BeginScrub() {
	p.Pause()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StatePaused || p.state == StateReady {
		p.state = StateScrubbing
		if p.setScrub != nil {
			p.setScrub(true)
		}
	}
}

// EndScrub restores the tight play tolerance and returns to paused.
func (p *Player) EndScrub() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateScrubbing {
		return
	}
	if p.setScrub != nil {
		p.setScrub(false)
	}
	p.state = StatePaused
}

// Resize reconfigures the surface dimensions. Playback is suspended for the
// reconfigure, the current frame is redrawn once at the new size, and
// playback resumes only if it was running before.
func (p *Player) Resize(ctx context.Context, width, height int) error {
	p.mu.Lock()
	if p.state == StateDetached || p.surface == nil {
		p.mu.Unlock()
		return fmt.Errorf("resize: no surface attached")
	}
	resume := p.state == StatePlaying
	p.mu.Unlock()

	if resume {
		p.Pause()
	}
	p.mu.Lock()
	p.surface.Configure(width, height)
	p.mu.Unlock()
	p.renderAt(ctx, p.Position())
	if resume {
		return p.Play(ctx)
	}
	return nil
}

// scheduleTickLocked arms the next frame tick. Caller holds p.mu.
func (p *Player) scheduleTickLocked(ctx context.Context) {
	p.cancelTick = p.sched.Request(func() { p.tick(ctx) })
}

func (p *Player) stopTickLocked() {
	if p.cancelTick != nil {
		p.cancelTick()
		p.cancelTick = nil
	}
	if p.seekTimer != nil {
		p.seekTimer.Stop()
		p.seekTimer = nil
	}
}

// tick advances the playhead off the clock, renders, and re-arms. Playback
// pauses itself at the sequence end.
func (p *Player) tick(ctx context.Context) {
	p.mu.Lock()
	if p.state != StatePlaying {
		p.mu.Unlock()
		return
	}
	t := p.positionLocked()
	p.pos = t
	done := t >= p.duration
	if !done {
		p.scheduleTickLocked(ctx)
	}
	p.mu.Unlock()

	p.renderAt(ctx, t)
	p.notifyTime(t)

	if done {
		p.Pause()
	}
}

// renderAt composites and presents one frame, coalescing: if a composite is
// already in flight the request is noted and a single catch-up render runs
// after it finishes. On failure the surface keeps the last good frame.
func (p *Player) renderAt(ctx context.Context, t float64) {
	p.mu.Lock()
	if p.surface == nil {
		p.mu.Unlock()
		return
	}
	if p.rendering {
		p.renderQueued = true
		p.mu.Unlock()
		return
	}
	p.rendering = true
	surface := p.surface
	p.mu.Unlock()

	frame, err := p.comp.Composite(ctx, t)
	switch {
	case err == nil:
		surface.Draw(frame)
	case p.holdOnFail:
		p.logger.Debug("holding last frame", "time", t, "error", err)
	default:
		p.logger.Debug("blanking surface", "time", t, "error", err)
		surface.Draw(p.comp.Blank())
	}

	p.mu.Lock()
	p.rendering = false
	again := p.renderQueued
	p.renderQueued = false
	p.mu.Unlock()

	if again {
		p.renderAt(ctx, p.Position())
	}
}

func (p *Player) notifyTime(t float64) {
	if p.onTime != nil {
		p.onTime(t)
	}
}
