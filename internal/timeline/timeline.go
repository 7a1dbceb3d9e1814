package timeline

import (
	"fmt"
	"sort"
	"time"
)

// Overlap slop in seconds. Two clips whose spans intersect by less than this
// are treated as merely touching.
const overlapEpsilon = 1e-6

// NewProject returns an empty project with a single main sequence using the
// given canvas settings.
func NewProject(id, title string, width, height int, fps float64, sampleRate int) *Project {
	now := time.Now().UTC()
	return &Project{
		ID:        id,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Sequences: []*Sequence{
			{
				ID:         "sequence-0",
				Name:       "Main",
				Width:      width,
				Height:     height,
				FPS:        fps,
				SampleRate: sampleRate,
			},
		},
		Assets: make(map[string]*MediaAssetMeta),
		Settings: EditorSettings{
			SnapToGrid:     true,
			SnapTolerance:  0.1,
			Zoom:           1.0,
			ActiveSequence: "sequence-0",
		},
	}
}

// Sequence returns the sequence with the given id, or nil.
func (p *Project) Sequence(id string) *Sequence {
	for _, s := range p.Sequences {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// ActiveSequence returns the sequence named by the editor settings, falling
// back to the first sequence.
func (p *Project) ActiveSequence() *Sequence {
	if s := p.Sequence(p.Settings.ActiveSequence); s != nil {
		return s
	}
	if len(p.Sequences) > 0 {
		return p.Sequences[0]
	}
	return nil
}

// Asset returns the metadata for a media asset id, or nil.
func (p *Project) Asset(id string) *MediaAssetMeta {
	return p.Assets[id]
}

// Touch stamps the project as modified.
func (p *Project) Touch() {
	p.UpdatedAt = time.Now().UTC()
}

// FindTrack locates a track anywhere in the project.
func (p *Project) FindTrack(trackID string) (*Sequence, *Track) {
	for _, s := range p.Sequences {
		if t := s.Track(trackID); t != nil {
			return s, t
		}
	}
	return nil, nil
}

// FindClip locates a clip anywhere in the project.
func (p *Project) FindClip(clipID string) (*Sequence, *Track, *Clip) {
	for _, s := range p.Sequences {
		for _, t := range s.Tracks {
			for _, c := range t.Clips {
				if c.ID == clipID {
					return s, t, c
				}
			}
		}
	}
	return nil, nil, nil
}

// Track returns the track with the given id, or nil.
func (s *Sequence) Track(trackID string) *Track {
	for _, t := range s.Tracks {
		if t.ID == trackID {
			return t
		}
	}
	return nil
}

// AddTrack appends a track and keeps compositing order by rank.
func (s *Sequence) AddTrack(t *Track) error {
	if s.Track(t.ID) != nil {
		return fmt.Errorf("track %s already exists", t.ID)
	}
	if t.Volume == 0 {
		t.Volume = 1.0
	}
	if t.Kind == TrackAudio {
		t.AllowOverlap = true
	}
	s.Tracks = append(s.Tracks, t)
	s.SortTracks()
	return nil
}

// RemoveTrack deletes a track and recomputes the derived duration.
func (s *Sequence) RemoveTrack(trackID string) error {
	for i, t := range s.Tracks {
		if t.ID == trackID {
			s.Tracks = append(s.Tracks[:i], s.Tracks[i+1:]...)
			s.Normalize()
			return nil
		}
	}
	return fmt.Errorf("track %s not found", trackID)
}

// SortTracks restores compositing order (rank ascending, stable).
func (s *Sequence) SortTracks() {
	sort.SliceStable(s.Tracks, func(i, j int) bool {
		return s.Tracks[i].Rank < s.Tracks[j].Rank
	})
}

// Normalize restores every derived invariant after a structural edit: clips
// sorted by start on every track, tracks in rank order, duration recomputed.
func (s *Sequence) Normalize() {
	for _, t := range s.Tracks {
		t.SortClips()
	}
	s.SortTracks()
	s.RecomputeDuration()
}

// RecomputeDuration sets Duration to the maximum clip end across all tracks.
func (s *Sequence) RecomputeDuration() {
	max := 0.0
	for _, t := range s.Tracks {
		for _, c := range t.Clips {
			if end := c.End(); end > max {
				max = end
			}
		}
	}
	s.Duration = max
}

// FrameCount returns the number of frames a full render of the sequence
// produces at its own frame rate.
func (s *Sequence) FrameCount() int {
	return FrameCount(s.Duration, s.FPS)
}

// FrameCount returns ceil(duration*fps) without drifting on exact multiples.
func FrameCount(duration, fps float64) int {
	n := int(duration * fps)
	if float64(n) < duration*fps-1e-9 {
		n++
	}
	return n
}

// ActiveVideoClips returns, in compositing order (bottom track first), the
// clip active at time t on each video/overlay track. The clip end boundary is
// exclusive: at a cut point only the incoming clip is returned.
func (s *Sequence) ActiveVideoClips(t float64) []*Clip {
	var out []*Clip
	for _, tr := range s.Tracks {
		if tr.Kind != TrackVideo && tr.Kind != TrackOverlay {
			continue
		}
		if c := tr.ClipAt(t); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// ActiveAudioClips returns every audio-carrying clip active at time t.
// Audio tracks may hold overlapping clips, so more than one clip per track
// can be returned.
func (s *Sequence) ActiveAudioClips(t float64) []*Clip {
	var out []*Clip
	for _, tr := range s.Tracks {
		if tr.Kind != TrackAudio {
			continue
		}
		for _, c := range tr.Clips {
			if c.Contains(t) {
				out = append(out, c)
			}
		}
	}
	return out
}

// Clip returns the clip with the given id, or nil.
func (t *Track) Clip(clipID string) *Clip {
	for _, c := range t.Clips {
		if c.ID == clipID {
			return c
		}
	}
	return nil
}

// ClipIndex returns the position of a clip on the track, or -1.
func (t *Track) ClipIndex(clipID string) int {
	for i, c := range t.Clips {
		if c.ID == clipID {
			return i
		}
	}
	return -1
}

// ClipAt returns the first clip whose span contains t, or nil.
func (t *Track) ClipAt(at float64) *Clip {
	for _, c := range t.Clips {
		if c.Contains(at) {
			return c
		}
	}
	return nil
}

// SortClips restores start ordering.
func (t *Track) SortClips() {
	sort.SliceStable(t.Clips, func(i, j int) bool {
		return t.Clips[i].Start < t.Clips[j].Start
	})
}

// CanPlace reports whether a candidate placement is legal on this track,
// ignoring the clip with ignoreID (used when moving a clip within its own
// track). Overlap is rejected unless the track allows it.
func (t *Track) CanPlace(candidate *Clip, ignoreID string) bool {
	if t.AllowOverlap {
		return true
	}
	for _, c := range t.Clips {
		if c.ID == ignoreID || c.ID == candidate.ID {
			continue
		}
		if clipsOverlap(c, candidate) {
			return false
		}
	}
	return true
}

// HasOverlap reports whether any two clips on the track overlap.
func (t *Track) HasOverlap() bool {
	for i := 0; i < len(t.Clips); i++ {
		for j := i + 1; j < len(t.Clips); j++ {
			if clipsOverlap(t.Clips[i], t.Clips[j]) {
				return true
			}
		}
	}
	return false
}

func clipsOverlap(a, b *Clip) bool {
	lo := a.Start
	if b.Start > lo {
		lo = b.Start
	}
	hi := a.End()
	if b.End() < hi {
		hi = b.End()
	}
	return hi-lo > overlapEpsilon
}

// Validate checks the clip invariants against the source asset duration.
// Image stills carry no intrinsic duration and skip the trim bound check.
func (c *Clip) Validate(sourceDuration float64) error {
	if c.Duration <= 0 {
		return fmt.Errorf("clip %s: duration must be positive, got %g", c.ID, c.Duration)
	}
	if c.Start < 0 {
		return fmt.Errorf("clip %s: start must be non-negative, got %g", c.ID, c.Start)
	}
	if c.TrimStart < 0 || c.TrimEnd < 0 {
		return fmt.Errorf("clip %s: trims must be non-negative", c.ID)
	}
	if c.Kind != ClipImage && sourceDuration > 0 {
		if c.TrimStart+c.Duration > sourceDuration-c.TrimEnd+overlapEpsilon {
			return fmt.Errorf("clip %s: trim window exceeds source duration %g", c.ID, sourceDuration)
		}
	}
	return nil
}
