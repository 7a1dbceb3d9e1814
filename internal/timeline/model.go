// Package timeline holds the in-memory editing model: a Project owning
// Sequences, Tracks and Clips, plus the per-clip effect, transition and
// speed-curve data. The model carries no behavior beyond invariant
// maintenance; all structural mutation goes through the history package.
package timeline

import (
	"time"
)

// TrackKind identifies what a track carries and which overlap policy applies.
type TrackKind string

const (
	TrackVideo   TrackKind = "video"
	TrackAudio   TrackKind = "audio"
	TrackOverlay TrackKind = "overlay"
	TrackFx      TrackKind = "fx"
)

// ClipKind identifies the media type a clip renders.
type ClipKind string

const (
	ClipVideo ClipKind = "video"
	ClipAudio ClipKind = "audio"
	ClipImage ClipKind = "image"
)

// AssetType identifies the media type of an imported asset.
type AssetType string

const (
	AssetVideo AssetType = "video"
	AssetAudio AssetType = "audio"
	AssetImage AssetType = "image"
)

// EffectType tags a clip effect. Order within Clip.Effects defines
// application order.
type EffectType string

const (
	EffectBrightness EffectType = "brightness"
	EffectContrast   EffectType = "contrast"
	EffectSaturation EffectType = "saturation"
	EffectBlur       EffectType = "blur"
	EffectGrain      EffectType = "grain"
	EffectColorGrade EffectType = "color-grade"
	EffectVignette   EffectType = "vignette"
	EffectFilmLook   EffectType = "film-look"
	EffectCustom     EffectType = "custom"
)

// Project is the root of the editing model. It owns every sequence and the
// asset metadata table; nothing in the tree points back up, so structural
// clones need no cycle handling.
type Project struct {
	ID        string                     `json:"id" validate:"required"`
	Title     string                     `json:"title"`
	CreatedAt time.Time                  `json:"created_at"`
	UpdatedAt time.Time                  `json:"updated_at"`
	Sequences []*Sequence                `json:"sequences" validate:"min=1,dive"`
	Assets    map[string]*MediaAssetMeta `json:"assets" validate:"dive"`
	Settings  EditorSettings             `json:"settings"`
}

// EditorSettings holds per-project editor preferences.
type EditorSettings struct {
	SnapToGrid     bool    `json:"snap_to_grid"`
	SnapTolerance  float64 `json:"snap_tolerance"`
	Zoom           float64 `json:"zoom"`
	ActiveSequence string  `json:"active_sequence"`
}

// Sequence is one editable timeline. Duration is derived state: it always
// equals the maximum clip end time across all tracks and is recomputed after
// every structural edit, never written directly.
type Sequence struct {
	ID         string   `json:"id" validate:"required"`
	Name       string   `json:"name"`
	Width      int      `json:"width" validate:"gt=0"`
	Height     int      `json:"height" validate:"gt=0"`
	FPS        float64  `json:"fps" validate:"gt=0"`
	SampleRate int      `json:"sample_rate" validate:"gt=0"`
	Duration   float64  `json:"duration"`
	Tracks     []*Track `json:"tracks" validate:"dive"`
}

// Track orders clips of one kind. Clips are kept sorted by Start; whether
// overlapping placements are legal depends on the track kind (video tracks
// reject overlap, audio tracks allow it).
type Track struct {
	ID           string    `json:"id" validate:"required"`
	Kind         TrackKind `json:"kind" validate:"required,oneof=video audio overlay fx"`
	Rank         int       `json:"rank"`
	Muted        bool      `json:"muted"`
	Soloed       bool      `json:"soloed"`
	Locked       bool      `json:"locked"`
	AllowOverlap bool      `json:"allow_overlap"`
	Volume       float64   `json:"volume"`
	Clips        []*Clip   `json:"clips" validate:"dive"`
}

// Clip is a placed, trimmed instance of a media asset. Invariants:
// Duration > 0, TrimStart/TrimEnd >= 0, and
// TrimStart + Duration <= sourceDuration - TrimEnd.
type Clip struct {
	ID            string           `json:"id" validate:"required"`
	MediaID       string           `json:"media_id" validate:"required"`
	TrackID       string           `json:"track_id"`
	Kind          ClipKind         `json:"kind" validate:"required,oneof=video audio image"`
	Start         float64          `json:"start" validate:"gte=0"`
	Duration      float64          `json:"duration" validate:"gt=0"`
	TrimStart     float64          `json:"trim_start" validate:"gte=0"`
	TrimEnd       float64          `json:"trim_end" validate:"gte=0"`
	Opacity       float64          `json:"opacity"`
	Volume        float64          `json:"volume"`
	Effects       []*Effect        `json:"effects"`
	Transitions   []*TransitionSpec `json:"transitions"`
	Speed         *SpeedCurve      `json:"speed,omitempty"`
	PreservePitch bool             `json:"preserve_pitch"`
}

// End returns the exclusive end time of the clip on the timeline.
func (c *Clip) End() float64 {
	return c.Start + c.Duration
}

// Contains reports whether t falls inside the clip's timeline span. The end
// boundary is exclusive, so at the exact cut point between two adjacent clips
// only the incoming clip is active.
func (c *Clip) Contains(t float64) bool {
	return t >= c.Start && t < c.End()
}

// Effect is one entry in a clip's ordered effect chain.
type Effect struct {
	ID      string             `json:"id"`
	Type    EffectType         `json:"type"`
	Params  map[string]float64 `json:"params"`
	Enabled bool               `json:"enabled"`
}

// Param returns the named parameter or the given default when absent.
func (e *Effect) Param(name string, def float64) float64 {
	if v, ok := e.Params[name]; ok {
		return v
	}
	return def
}

// TransitionSpec describes a transition attached to the incoming clip. It is
// active only inside the window [clipStart, clipStart+Duration), blending
// from the preceding clip on the same track.
type TransitionSpec struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	Duration float64 `json:"duration" validate:"gte=0"`
	Easing   string  `json:"easing"`
}

// MediaAssetMeta describes an imported media asset and where its bytes can be
// resolved. Proxy is the low-fidelity location preferred for interactive use;
// Source is the full-fidelity location required for export; URL is the raw
// last-resort location.
type MediaAssetMeta struct {
	ID         string    `json:"id" validate:"required"`
	Name       string    `json:"name"`
	Type       AssetType `json:"type" validate:"required,oneof=video audio image"`
	Duration   float64   `json:"duration"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
	FPS        float64   `json:"fps,omitempty"`
	SampleRate int       `json:"sample_rate,omitempty"`
	Proxy      string    `json:"proxy,omitempty"`
	Source     string    `json:"source,omitempty"`
	URL        string    `json:"url,omitempty"`
	Waveform   []float64 `json:"waveform,omitempty"`
	Thumbnails [][]byte  `json:"thumbnails,omitempty"`
}

// Locations returns the asset's resolvable locations in fixed fallback order:
// proxy first, then authoritative source, then raw URL.
func (m *MediaAssetMeta) Locations() []string {
	out := make([]string, 0, 3)
	for _, loc := range []string{m.Proxy, m.Source, m.URL} {
		if loc != "" {
			out = append(out, loc)
		}
	}
	return out
}

// ExportLocations returns the locations in export preference order: the
// full-fidelity source first, never the proxy unless nothing else resolves.
func (m *MediaAssetMeta) ExportLocations() []string {
	out := make([]string, 0, 3)
	for _, loc := range []string{m.Source, m.URL, m.Proxy} {
		if loc != "" {
			out = append(out, loc)
		}
	}
	return out
}
