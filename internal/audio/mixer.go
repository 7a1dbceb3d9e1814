// Package audio schedules and gains per-track, per-clip audio against a
// shared clock. Tracks are two-stage gain nodes (track gain into master
// gain); the mixer never decodes samples itself, it drives an Output that
// owns the actual audio device or graph.
package audio

import (
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/openreel/engine/internal/timeline"
)

// Output abstracts the platform audio graph. Schedule starts one source
// playing clip media at sourceOffset for duration seconds, at the given
// initial gain; the returned handle controls that source until it either
// completes naturally (onEnded fires) or is stopped. Disconnect tears the
// source out of the graph so already-buffered audio cannot keep sounding,
// which stopping alone does not guarantee. onEnded fires from the output's
// own completion path, never from inside Schedule.
type Output interface {
	Schedule(clip *timeline.Clip, sourceOffset, duration, gain float64, onEnded func()) SourceHandle
	Now() float64
}

// SourceHandle controls one scheduled audio source.
type SourceHandle interface {
	Stop()
	Disconnect()
	SetGain(gain float64)
}

// Mixer owns playback scheduling for every audio track of one sequence.
type Mixer struct {
	mu         sync.Mutex
	logger     hclog.Logger
	out        Output
	seq        *timeline.Sequence
	masterGain float64
	playing    bool
	cursor     float64
	active     map[string][]SourceHandle // clip id -> live sources
}

// NewMixer creates a mixer over the given output.
func NewMixer(seq *timeline.Sequence, out Output, logger hclog.Logger) *Mixer {
	return &Mixer{
		logger:     logger.Named("audio-mixer"),
		out:        out,
		seq:        seq,
		masterGain: 1.0,
		active:     make(map[string][]SourceHandle),
	}
}

// EffectiveGain computes a track's gain under the global mute/solo policy:
// muted is silent regardless (mute wins over solo on the same track); if any
// track is soloed, only soloed tracks sound; otherwise the track's volume.
func EffectiveGain(track *timeline.Track, anySolo bool) float64 {
	if track.Muted {
		return 0
	}
	if anySolo && !track.Soloed {
		return 0
	}
	return track.Volume
}

// anySolo reports whether any audio track on this mixer's sequence is
// soloed. Solo is a global policy across the clock, not a per-track one.
func (m *Mixer) anySolo() bool {
	for _, t := range m.seq.Tracks {
		if t.Kind == timeline.TrackAudio && t.Soloed {
			return true
		}
	}
	return false
}

// TrackGain returns the current effective gain for one track.
func (m *Mixer) TrackGain(trackID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	track := m.seq.Track(trackID)
	if track == nil {
		return 0
	}
	return EffectiveGain(track, m.anySolo()) * m.masterGain
}

// RefreshGains re-applies the mute/solo/volume policy to every live source.
// Must be called whenever mute, solo or volume changes on any audio track,
// since one track's solo silences the rest.
func (m *Mixer) RefreshGains() {
	m.mu.Lock()
	defer m.mu.Unlock()
	anySolo := m.anySolo()
	for _, track := range m.seq.Tracks {
		if track.Kind != timeline.TrackAudio {
			continue
		}
		gain := EffectiveGain(track, anySolo) * m.masterGain
		for _, clip := range track.Clips {
			for _, h := range m.active[clip.ID] {
				h.SetGain(gain * clip.Volume)
			}
		}
	}
}

// SetMasterGain updates the master stage and re-applies gains.
func (m *Mixer) SetMasterGain(gain float64) {
	m.mu.Lock()
	m.masterGain = gain
	m.mu.Unlock()
	m.RefreshGains()
}

// Play stops anything already sounding and schedules every clip active at
// fromTime. Each source starts at sourceOffset = trimStart + (fromTime -
// clipStart), clipped to the clip's remaining length, and removes its own
// bookkeeping entry when it completes naturally.
func (m *Mixer) Play(fromTime float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopAllLocked(false)
	m.playing = true
	m.cursor = fromTime
	anySolo := m.anySolo()

	for _, track := range m.seq.Tracks {
		if track.Kind != timeline.TrackAudio {
			continue
		}
		trackGain := EffectiveGain(track, anySolo) * m.masterGain
		for _, clip := range track.Clips {
			if !clip.Contains(fromTime) {
				continue
			}
			clipID := clip.ID
			offset := clip.TrimStart + (fromTime - clip.Start)
			remaining := clip.End() - fromTime
			// onEnded never fires inside Schedule and takes m.mu, so h is
			// always assigned before the closure can observe it.
			var h SourceHandle
			h = m.out.Schedule(clip, offset, remaining, trackGain*clip.Volume, func() {
				m.mu.Lock()
				m.removeHandleLocked(clipID, h)
				m.mu.Unlock()
			})
			m.active[clip.ID] = append(m.active[clip.ID], h)
			m.logger.Debug("scheduled audio source",
				"clip", clip.ID, "offset", offset, "duration", remaining, "gain", trackGain*clip.Volume)
		}
	}
}

// Seek moves the time cursor, preserving play/pause state: while playing the
// graph is stopped and restarted at the new time; while paused only the
// cursor moves.
func (m *Mixer) Seek(t float64) {
	m.mu.Lock()
	playing := m.playing
	m.cursor = t
	m.mu.Unlock()
	if playing {
		m.Play(t)
	}
}

// Pause stops and disconnects every active source. Disconnection matters:
// stopped sources can still flush already-buffered audio audibly.
func (m *Mixer) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopAllLocked(true)
	m.playing = false
}

// Stop is Pause plus a cursor reset.
func (m *Mixer) Stop() {
	m.Pause()
	m.mu.Lock()
	m.cursor = 0
	m.mu.Unlock()
}

// Playing reports whether the mixer is in the playing state.
func (m *Mixer) Playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

// Cursor returns the stored time cursor.
func (m *Mixer) Cursor() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor
}

// Now exposes the output device clock in seconds. The device clock is the
// only time base that stays in sync with what is actually audible.
func (m *Mixer) Now() float64 {
	return m.out.Now()
}

// ActiveSources reports how many sources are currently scheduled.
func (m *Mixer) ActiveSources() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, hs := range m.active {
		n += len(hs)
	}
	return n
}

// removeHandleLocked drops one completed source from the clip's bookkeeping,
// leaving any other live sources for the same clip id in place.
func (m *Mixer) removeHandleLocked(clipID string, h SourceHandle) {
	hs := m.active[clipID]
	for i, cand := range hs {
		if cand == h {
			m.active[clipID] = append(hs[:i], hs[i+1:]...)
			break
		}
	}
	if len(m.active[clipID]) == 0 {
		delete(m.active, clipID)
	}
}

func (m *Mixer) stopAllLocked(disconnect bool) {
	for id, hs := range m.active {
		for _, h := range hs {
			h.Stop()
			if disconnect {
				h.Disconnect()
			}
		}
		delete(m.active, id)
	}
}
