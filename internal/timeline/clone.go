package timeline

import (
	"encoding/json"
	"reflect"
)

// Clone returns a deep structural copy of the project. The model tree holds
// no back-references, so a field-by-field walk is sufficient.
func (p *Project) Clone() *Project {
	out := *p
	out.Sequences = make([]*Sequence, len(p.Sequences))
	for i, s := range p.Sequences {
		out.Sequences[i] = s.Clone()
	}
	out.Assets = make(map[string]*MediaAssetMeta, len(p.Assets))
	for id, a := range p.Assets {
		out.Assets[id] = a.Clone()
	}
	return &out
}

// Clone returns a deep copy of the sequence.
func (s *Sequence) Clone() *Sequence {
	out := *s
	out.Tracks = make([]*Track, len(s.Tracks))
	for i, t := range s.Tracks {
		out.Tracks[i] = t.Clone()
	}
	return &out
}

// Clone returns a deep copy of the track.
func (t *Track) Clone() *Track {
	out := *t
	out.Clips = make([]*Clip, len(t.Clips))
	for i, c := range t.Clips {
		out.Clips[i] = c.Clone()
	}
	return &out
}

// Clone returns a deep copy of the clip, including effects, transitions and
// the speed curve.
func (c *Clip) Clone() *Clip {
	out := *c
	out.Effects = make([]*Effect, len(c.Effects))
	for i, e := range c.Effects {
		out.Effects[i] = e.Clone()
	}
	out.Transitions = make([]*TransitionSpec, len(c.Transitions))
	for i, tr := range c.Transitions {
		cp := *tr
		out.Transitions[i] = &cp
	}
	if c.Speed != nil {
		out.Speed = c.Speed.Clone()
	}
	return &out
}

// Clone returns a deep copy of the effect.
func (e *Effect) Clone() *Effect {
	out := *e
	out.Params = make(map[string]float64, len(e.Params))
	for k, v := range e.Params {
		out.Params[k] = v
	}
	return &out
}

// Clone returns a deep copy of the asset metadata.
func (m *MediaAssetMeta) Clone() *MediaAssetMeta {
	out := *m
	out.Waveform = append([]float64(nil), m.Waveform...)
	out.Thumbnails = make([][]byte, len(m.Thumbnails))
	for i, th := range m.Thumbnails {
		out.Thumbnails[i] = append([]byte(nil), th...)
	}
	return &out
}

// Equal reports deep structural equality between two projects, ignoring the
// modification timestamp (every committed edit refreshes it).
func (p *Project) Equal(other *Project) bool {
	a := p.Clone()
	b := other.Clone()
	a.UpdatedAt = b.UpdatedAt
	return reflect.DeepEqual(a, b)
}

// Serialize renders the sequence as canonical JSON for snapshot hand-off.
func (s *Sequence) Serialize() ([]byte, error) {
	return json.Marshal(struct {
		Sequence *Sequence `json:"sequence"`
	}{s})
}
