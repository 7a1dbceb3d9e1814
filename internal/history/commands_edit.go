package history

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/openreel/engine/internal/timeline"
)

const (
	// SplitEpsilon rejects splits this close to either clip boundary.
	SplitEpsilon = 0.010
	// MinSplitPiece is the shortest clip a split may leave behind.
	MinSplitPiece = 0.100
)

var ErrSplitOutOfRange = errors.New("split point too close to a clip boundary")

// SplitClip cuts a clip in two at an absolute timeline time. The left piece
// keeps the original effects and transitions; the right piece starts clean.
type SplitClip struct {
	ClipID    string
	SplitTime float64

	captured bool
	trackID  string
	original *timeline.Clip
	rightID  string
}

func (c *SplitClip) Describe() string { return "split clip" }

func (c *SplitClip) Apply(p *timeline.Project) error {
	seq, track, clip, err := findClip(p, c.ClipID)
	if err != nil {
		return err
	}
	if track.Locked {
		return fmt.Errorf("%w: %s", ErrTrackLocked, track.ID)
	}
	offset := c.SplitTime - clip.Start
	if offset < SplitEpsilon || clip.Duration-offset < SplitEpsilon {
		return fmt.Errorf("%w: %g", ErrSplitOutOfRange, c.SplitTime)
	}
	if offset < MinSplitPiece || clip.Duration-offset < MinSplitPiece {
		return fmt.Errorf("%w: pieces shorter than %gs", ErrSplitOutOfRange, MinSplitPiece)
	}

	if !c.captured {
		c.trackID = track.ID
		c.original = clip.Clone()
		c.rightID = uuid.New().String()
		c.captured = true
	}

	right := clip.Clone()
	right.ID = c.rightID
	right.Start = c.SplitTime
	right.Duration = clip.Duration - offset
	right.TrimStart = clip.TrimStart + offset
	right.Effects = nil
	right.Transitions = nil
	right.Speed = nil

	clip.Duration = offset
	clip.TrimEnd += right.Duration

	track.Clips = append(track.Clips, right)
	seq.Normalize()
	return nil
}

func (c *SplitClip) Revert(p *timeline.Project) error {
	seq, track := p.FindTrack(c.trackID)
	if track == nil {
		return fmt.Errorf("%w: %s", ErrTrackNotFound, c.trackID)
	}
	leftIdx := track.ClipIndex(c.ClipID)
	rightIdx := track.ClipIndex(c.rightID)
	if leftIdx < 0 || rightIdx < 0 {
		return fmt.Errorf("%w: split halves missing", ErrClipNotFound)
	}
	track.Clips[leftIdx] = c.original.Clone()
	track.Clips = append(track.Clips[:rightIdx], track.Clips[rightIdx+1:]...)
	seq.Normalize()
	return nil
}

// SlipClip shifts which portion of source media a clip shows. Timeline
// position and duration are unchanged; the trim offsets move in lockstep,
// clamped so the trim-in point stays within [0, sourceDuration-duration].
type SlipClip struct {
	ClipID string
	Offset float64

	captured      bool
	prevTrimStart float64
	prevTrimEnd   float64
}

func (c *SlipClip) Describe() string { return "slip clip" }

func (c *SlipClip) Apply(p *timeline.Project) error {
	seq, track, clip, err := findClip(p, c.ClipID)
	if err != nil {
		return err
	}
	if track.Locked {
		return fmt.Errorf("%w: %s", ErrTrackLocked, track.ID)
	}
	srcDur := sourceDuration(p, clip)
	if srcDur <= 0 {
		return fmt.Errorf("clip %s has no sliptable source", clip.ID)
	}

	newTrimStart := clip.TrimStart + c.Offset
	if newTrimStart < 0 {
		newTrimStart = 0
	}
	if max := srcDur - clip.Duration; newTrimStart > max {
		newTrimStart = max
	}
	applied := newTrimStart - clip.TrimStart

	if !c.captured {
		c.prevTrimStart = clip.TrimStart
		c.prevTrimEnd = clip.TrimEnd
		c.captured = true
	}
	clip.TrimStart = newTrimStart
	clip.TrimEnd -= applied
	if clip.TrimEnd < 0 {
		clip.TrimEnd = 0
	}
	seq.Normalize()
	return nil
}

func (c *SlipClip) Revert(p *timeline.Project) error {
	seq, _, clip, err := findClip(p, c.ClipID)
	if err != nil {
		return err
	}
	clip.TrimStart = c.prevTrimStart
	clip.TrimEnd = c.prevTrimEnd
	seq.Normalize()
	return nil
}

// SlideClip moves a clip while preserving its neighbors' spacing: the
// adjacent clip in the direction of travel is shifted by the same delta so
// the pre-existing gap between the two survives the move.
type SlideClip struct {
	ClipID   string
	NewStart float64

	captured      bool
	prevStart     float64
	neighborID    string
	neighborStart float64
}

func (c *SlideClip) Describe() string { return "slide clip" }

func (c *SlideClip) Apply(p *timeline.Project) error {
	seq, track, clip, err := findClip(p, c.ClipID)
	if err != nil {
		return err
	}
	if track.Locked {
		return fmt.Errorf("%w: %s", ErrTrackLocked, track.ID)
	}
	delta := c.NewStart - clip.Start
	if delta == 0 {
		// A no-op slide still lands on the undo stack, so it must carry the
		// clip's current position for Revert to put back.
		if !c.captured {
			c.prevStart = clip.Start
			c.captured = true
		}
		return nil
	}
	if c.NewStart < 0 {
		return fmt.Errorf("slide start must be non-negative, got %g", c.NewStart)
	}

	var neighbor *timeline.Clip
	idx := track.ClipIndex(clip.ID)
	if delta < 0 && idx > 0 {
		neighbor = track.Clips[idx-1]
	} else if delta > 0 && idx < len(track.Clips)-1 {
		neighbor = track.Clips[idx+1]
	}
	if neighbor != nil && neighbor.Start+delta < 0 {
		return fmt.Errorf("slide pushes clip %s before the timeline origin", neighbor.ID)
	}

	if !c.captured {
		c.prevStart = clip.Start
		if neighbor != nil {
			c.neighborID = neighbor.ID
			c.neighborStart = neighbor.Start
		}
		c.captured = true
	}

	clip.Start = c.NewStart
	if neighbor != nil {
		neighbor.Start += delta
	}
	if !track.AllowOverlap && track.HasOverlap() {
		clip.Start = c.prevStart
		if neighbor != nil {
			neighbor.Start = c.neighborStart
		}
		return fmt.Errorf("%w: slide of clip %s", ErrInvalidPlacement, clip.ID)
	}
	seq.Normalize()
	return nil
}

func (c *SlideClip) Revert(p *timeline.Project) error {
	seq, _, clip, err := findClip(p, c.ClipID)
	if err != nil {
		return err
	}
	clip.Start = c.prevStart
	if c.neighborID != "" {
		if _, _, neighbor := p.FindClip(c.neighborID); neighbor != nil {
			neighbor.Start = c.neighborStart
		}
	}
	seq.Normalize()
	return nil
}
