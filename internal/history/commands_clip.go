package history

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/openreel/engine/internal/timeline"
)

var (
	ErrClipNotFound     = errors.New("clip not found")
	ErrTrackNotFound    = errors.New("track not found")
	ErrTrackLocked      = errors.New("track is locked")
	ErrInvalidPlacement = errors.New("placement overlaps an existing clip")
)

// sourceDuration resolves the asset duration a clip's trim window is bound
// by. Unknown assets and image stills report zero, which skips the bound.
func sourceDuration(p *timeline.Project, c *timeline.Clip) float64 {
	if c.Kind == timeline.ClipImage {
		return 0
	}
	if meta := p.Asset(c.MediaID); meta != nil {
		return meta.Duration
	}
	return 0
}

func findClip(p *timeline.Project, clipID string) (*timeline.Sequence, *timeline.Track, *timeline.Clip, error) {
	seq, track, clip := p.FindClip(clipID)
	if clip == nil {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrClipNotFound, clipID)
	}
	return seq, track, clip, nil
}

// AddClip inserts a new clip on a track.
type AddClip struct {
	TrackID string
	Clip    *timeline.Clip
}

func (c *AddClip) Describe() string { return "add clip" }

func (c *AddClip) Apply(p *timeline.Project) error {
	seq, track := p.FindTrack(c.TrackID)
	if track == nil {
		return fmt.Errorf("%w: %s", ErrTrackNotFound, c.TrackID)
	}
	if track.Locked {
		return fmt.Errorf("%w: %s", ErrTrackLocked, track.ID)
	}
	if err := c.Clip.Validate(sourceDuration(p, c.Clip)); err != nil {
		return err
	}
	if !track.CanPlace(c.Clip, "") {
		return fmt.Errorf("%w: clip %s on track %s", ErrInvalidPlacement, c.Clip.ID, track.ID)
	}
	clip := c.Clip.Clone()
	clip.TrackID = track.ID
	track.Clips = append(track.Clips, clip)
	seq.Normalize()
	return nil
}

func (c *AddClip) Revert(p *timeline.Project) error {
	seq, track, _, err := findClip(p, c.Clip.ID)
	if err != nil {
		return err
	}
	idx := track.ClipIndex(c.Clip.ID)
	track.Clips = append(track.Clips[:idx], track.Clips[idx+1:]...)
	seq.Normalize()
	return nil
}

// DuplicateClip clones an existing clip directly after itself on the same
// track. The duplicate's id is fixed on first apply so redo reproduces the
// identical clip.
type DuplicateClip struct {
	ClipID string

	dupID string
}

func (c *DuplicateClip) Describe() string { return "duplicate clip" }

func (c *DuplicateClip) Apply(p *timeline.Project) error {
	seq, track, clip, err := findClip(p, c.ClipID)
	if err != nil {
		return err
	}
	if track.Locked {
		return fmt.Errorf("%w: %s", ErrTrackLocked, track.ID)
	}
	if c.dupID == "" {
		c.dupID = uuid.New().String()
	}
	dup := clip.Clone()
	dup.ID = c.dupID
	dup.Start = clip.End()
	if !track.CanPlace(dup, "") {
		return fmt.Errorf("%w: no room after clip %s", ErrInvalidPlacement, clip.ID)
	}
	track.Clips = append(track.Clips, dup)
	seq.Normalize()
	return nil
}

func (c *DuplicateClip) Revert(p *timeline.Project) error {
	seq, track, _, err := findClip(p, c.dupID)
	if err != nil {
		return err
	}
	idx := track.ClipIndex(c.dupID)
	track.Clips = append(track.Clips[:idx], track.Clips[idx+1:]...)
	seq.Normalize()
	return nil
}

// MoveClip repositions a clip, optionally onto another track.
type MoveClip struct {
	ClipID      string
	TargetTrack string
	NewStart    float64

	captured  bool
	prevTrack string
	prevStart float64
}

func (c *MoveClip) Describe() string { return "move clip" }

func (c *MoveClip) Apply(p *timeline.Project) error {
	seq, srcTrack, clip, err := findClip(p, c.ClipID)
	if err != nil {
		return err
	}
	targetID := c.TargetTrack
	if targetID == "" {
		targetID = srcTrack.ID
	}
	dstSeq, dstTrack := p.FindTrack(targetID)
	if dstTrack == nil {
		return fmt.Errorf("%w: %s", ErrTrackNotFound, targetID)
	}
	if srcTrack.Locked || dstTrack.Locked {
		return ErrTrackLocked
	}
	if c.NewStart < 0 {
		return fmt.Errorf("clip start must be non-negative, got %g", c.NewStart)
	}

	candidate := clip.Clone()
	candidate.Start = c.NewStart
	candidate.TrackID = dstTrack.ID
	if !dstTrack.CanPlace(candidate, clip.ID) {
		return fmt.Errorf("%w: clip %s at %g on track %s", ErrInvalidPlacement, clip.ID, c.NewStart, dstTrack.ID)
	}

	if !c.captured {
		c.prevTrack = srcTrack.ID
		c.prevStart = clip.Start
		c.captured = true
	}

	if srcTrack != dstTrack {
		idx := srcTrack.ClipIndex(clip.ID)
		srcTrack.Clips = append(srcTrack.Clips[:idx], srcTrack.Clips[idx+1:]...)
		dstTrack.Clips = append(dstTrack.Clips, clip)
	}
	clip.TrackID = dstTrack.ID
	clip.Start = c.NewStart
	seq.Normalize()
	if dstSeq != seq {
		dstSeq.Normalize()
	}
	return nil
}

func (c *MoveClip) Revert(p *timeline.Project) error {
	inverse := &MoveClip{ClipID: c.ClipID, TargetTrack: c.prevTrack, NewStart: c.prevStart, captured: true,
		prevTrack: c.prevTrack, prevStart: c.prevStart}
	return inverse.Apply(p)
}

// TrimClip tightens a clip's in and out points. StartDelta trims source at
// the head, EndDelta at the tail; both shorten the timeline duration while
// the clip's start position stays put.
type TrimClip struct {
	ClipID     string
	StartDelta float64
	EndDelta   float64

	captured      bool
	prevDuration  float64
	prevTrimStart float64
	prevTrimEnd   float64
}

func (c *TrimClip) Describe() string { return "trim clip" }

func (c *TrimClip) Apply(p *timeline.Project) error {
	seq, track, clip, err := findClip(p, c.ClipID)
	if err != nil {
		return err
	}
	if track.Locked {
		return fmt.Errorf("%w: %s", ErrTrackLocked, track.ID)
	}
	newDuration := clip.Duration - c.StartDelta - c.EndDelta
	if newDuration <= 0 {
		return fmt.Errorf("trim leaves no duration on clip %s", clip.ID)
	}
	candidate := clip.Clone()
	candidate.Duration = newDuration
	candidate.TrimStart = clip.TrimStart + c.StartDelta
	candidate.TrimEnd = clip.TrimEnd + c.EndDelta
	if err := candidate.Validate(sourceDuration(p, clip)); err != nil {
		return err
	}

	if !c.captured {
		c.prevDuration = clip.Duration
		c.prevTrimStart = clip.TrimStart
		c.prevTrimEnd = clip.TrimEnd
		c.captured = true
	}
	clip.Duration = candidate.Duration
	clip.TrimStart = candidate.TrimStart
	clip.TrimEnd = candidate.TrimEnd
	seq.Normalize()
	return nil
}

func (c *TrimClip) Revert(p *timeline.Project) error {
	seq, _, clip, err := findClip(p, c.ClipID)
	if err != nil {
		return err
	}
	clip.Duration = c.prevDuration
	clip.TrimStart = c.prevTrimStart
	clip.TrimEnd = c.prevTrimEnd
	seq.Normalize()
	return nil
}

// DeleteClip removes a clip without touching its neighbors.
type DeleteClip struct {
	ClipID string

	captured bool
	trackID  string
	snapshot *timeline.Clip
}

func (c *DeleteClip) Describe() string { return "delete clip" }

func (c *DeleteClip) Apply(p *timeline.Project) error {
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
	idx := track.ClipIndex(clip.ID)
	track.Clips = append(track.Clips[:idx], track.Clips[idx+1:]...)
	seq.Normalize()
	return nil
}

func (c *DeleteClip) Revert(p *timeline.Project) error {
	seq, track := p.FindTrack(c.trackID)
	if track == nil {
		return fmt.Errorf("%w: %s", ErrTrackNotFound, c.trackID)
	}
	track.Clips = append(track.Clips, c.snapshot.Clone())
	seq.Normalize()
	return nil
}
