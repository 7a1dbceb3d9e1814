package history

import (
	"fmt"

	"github.com/openreel/engine/internal/timeline"
)

// rippleShift moves every clip on the track starting strictly after the
// anchor point by delta, flooring at zero, and records the applied shift per
// clip so the inverse replays exactly.
func rippleShift(track *timeline.Track, after float64, delta float64, shifts map[string]float64) {
	for _, c := range track.Clips {
		if c.Start <= after {
			continue
		}
		moved := c.Start + delta
		if moved < 0 {
			moved = 0
		}
		shifts[c.ID] = moved - c.Start
		c.Start = moved
	}
}

func revertShifts(p *timeline.Project, shifts map[string]float64) {
	for id, delta := range shifts {
		if _, _, clip := p.FindClip(id); clip != nil {
			clip.Start -= delta
		}
	}
}

// rippleTracks selects the tracks a ripple applies to. Single-track ripple
// affects only the source track; multi-track ripple affects every unlocked
// track in the sequence.
func rippleTracks(seq *timeline.Sequence, source *timeline.Track, multiTrack bool) []*timeline.Track {
	if !multiTrack {
		return []*timeline.Track{source}
	}
	out := make([]*timeline.Track, 0, len(seq.Tracks))
	for _, t := range seq.Tracks {
		if t.Locked {
			continue
		}
		out = append(out, t)
	}
	return out
}

// RippleTrim changes a clip's out-point duration by Delta and shifts every
// later clip by the same amount so downstream material stays attached.
// Negative Delta shortens the clip and closes the gap.
type RippleTrim struct {
	ClipID     string
	Delta      float64
	MultiTrack bool

	captured     bool
	prevDuration float64
	prevTrimEnd  float64
	shifts       map[string]float64
}

func (c *RippleTrim) Describe() string { return "ripple trim" }

func (c *RippleTrim) Apply(p *timeline.Project) error {
	seq, track, clip, err := findClip(p, c.ClipID)
	if err != nil {
		return err
	}
	if track.Locked {
		return fmt.Errorf("%w: %s", ErrTrackLocked, track.ID)
	}
	candidate := clip.Clone()
	candidate.Duration = clip.Duration + c.Delta
	candidate.TrimEnd = clip.TrimEnd - c.Delta
	if candidate.Duration <= 0 {
		return fmt.Errorf("ripple trim leaves no duration on clip %s", clip.ID)
	}
	if candidate.TrimEnd < 0 {
		candidate.TrimEnd = 0
	}
	if err := candidate.Validate(sourceDuration(p, clip)); err != nil {
		return err
	}

	if !c.captured {
		c.prevDuration = clip.Duration
		c.prevTrimEnd = clip.TrimEnd
		c.captured = true
	}
	c.shifts = make(map[string]float64)
	anchor := clip.Start
	clip.Duration = candidate.Duration
	clip.TrimEnd = candidate.TrimEnd
	for _, t := range rippleTracks(seq, track, c.MultiTrack) {
		rippleShift(t, anchor, c.Delta, c.shifts)
	}
	seq.Normalize()
	return nil
}

func (c *RippleTrim) Revert(p *timeline.Project) error {
	seq, _, clip, err := findClip(p, c.ClipID)
	if err != nil {
		return err
	}
	clip.Duration = c.prevDuration
	clip.TrimEnd = c.prevTrimEnd
	revertShifts(p, c.shifts)
	seq.Normalize()
	return nil
}

// RippleDelete removes a clip and closes the gap it leaves: every clip
// starting after the removed clip shifts left by exactly its duration.
type RippleDelete struct {
	ClipID     string
	MultiTrack bool

	captured bool
	trackID  string
	snapshot *timeline.Clip
	shifts   map[string]float64
}

func (c *RippleDelete) Describe() string { return "ripple delete" }

func (c *RippleDelete) Apply(p *timeline.Project) error {
	seq, track, clip, err := findClip(p, c.ClipID)
	if err != nil {
		return err
	}
	if track.Locked {
		return fmt.Errorf("%w: %s", ErrTrackLocked, track.ID)
	}
	if !c.captured {
		c.trackID = track.ID
		c.snapshot = clip.Clone()
		c.captured = true
	}

	anchor := clip.Start
	removed := clip.Duration
	idx := track.ClipIndex(clip.ID)
	track.Clips = append(track.Clips[:idx], track.Clips[idx+1:]...)

	c.shifts = make(map[string]float64)
	for _, t := range rippleTracks(seq, track, c.MultiTrack) {
		rippleShift(t, anchor, -removed, c.shifts)
	}
	seq.Normalize()
	return nil
}

func (c *RippleDelete) Revert(p *timeline.Project) error {
	seq, track := p.FindTrack(c.trackID)
	if track == nil {
		return fmt.Errorf("%w: %s", ErrTrackNotFound, c.trackID)
	}
	revertShifts(p, c.shifts)
	track.Clips = append(track.Clips, c.snapshot.Clone())
	seq.Normalize()
	return nil
}
