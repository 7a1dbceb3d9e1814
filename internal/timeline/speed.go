package timeline

import "sort"

// SpeedKeyframe pins a playback-rate multiplier at a normalized position in
// the clip (0 = clip start, 1 = clip end).
type SpeedKeyframe struct {
	Time  float64 `json:"time" validate:"gte=0,lte=1"`
	Speed float64 `json:"speed" validate:"gt=0"`
}

// SpeedCurve remaps timeline-local clip time to source-media time. A nil
// curve means constant 1x speed. The mapping integrates the piecewise-linear
// speed over elapsed clip time: source advance between two instants is the
// area under the speed curve, not a simple scale.
type SpeedCurve struct {
	Keyframes []SpeedKeyframe `json:"keyframes" validate:"min=1,dive"`
}

// NewSpeedCurve returns a curve over sorted copies of the given keyframes.
func NewSpeedCurve(keyframes ...SpeedKeyframe) *SpeedCurve {
	kfs := append([]SpeedKeyframe(nil), keyframes...)
	sort.SliceStable(kfs, func(i, j int) bool { return kfs[i].Time < kfs[j].Time })
	return &SpeedCurve{Keyframes: kfs}
}

// Clone returns a deep copy of the curve.
func (sc *SpeedCurve) Clone() *SpeedCurve {
	return &SpeedCurve{Keyframes: append([]SpeedKeyframe(nil), sc.Keyframes...)}
}

// SpeedAt returns the interpolated speed multiplier at a normalized position.
func (sc *SpeedCurve) SpeedAt(norm float64) float64 {
	if sc == nil || len(sc.Keyframes) == 0 {
		return 1.0
	}
	kfs := sc.Keyframes
	if norm <= kfs[0].Time {
		return kfs[0].Speed
	}
	last := kfs[len(kfs)-1]
	if norm >= last.Time {
		return last.Speed
	}
	for i := 1; i < len(kfs); i++ {
		if norm <= kfs[i].Time {
			prev, next := kfs[i-1], kfs[i]
			span := next.Time - prev.Time
			if span <= 0 {
				return next.Speed
			}
			f := (norm - prev.Time) / span
			return prev.Speed + f*(next.Speed-prev.Speed)
		}
	}
	return last.Speed
}

// SourceOffset integrates the curve from the clip start to localTime and
// returns the source-media offset consumed, relative to the clip's trim-in
// point. clipDuration normalizes localTime onto the curve's [0,1] domain.
func (sc *SpeedCurve) SourceOffset(localTime, clipDuration float64) float64 {
	if localTime <= 0 || clipDuration <= 0 {
		return 0
	}
	if sc == nil || len(sc.Keyframes) == 0 {
		return localTime
	}
	// Past the clip end the curve holds its final speed, so integration may
	// run beyond the [0,1] domain for outgoing-transition lookups.
	// Trapezoidal integration over a fixed step keeps the mapping monotonic
	// and cheap enough to run once per rendered frame.
	const steps = 128
	end := localTime / clipDuration
	dt := end / steps
	sum := 0.0
	prev := sc.SpeedAt(0)
	for i := 1; i <= steps; i++ {
		cur := sc.SpeedAt(float64(i) * dt)
		sum += (prev + cur) / 2 * dt
		prev = cur
	}
	return sum * clipDuration
}

// SourceTime maps a timeline time inside the clip to the corresponding
// source-media time, honoring the trim-in point and the speed curve. Times
// past the clip's out point pin to the last source frame.
func (c *Clip) SourceTime(timelineTime float64) float64 {
	local := timelineTime - c.Start
	if local > c.Duration {
		local = c.Duration
	}
	return c.sourceTimeAt(local)
}

// SourceTimeUnclamped is SourceTime without the out-point pin: the mapping
// keeps advancing past the cut, which is what an outgoing clip needs while a
// transition into its successor is still blending.
func (c *Clip) SourceTimeUnclamped(timelineTime float64) float64 {
	return c.sourceTimeAt(timelineTime - c.Start)
}

func (c *Clip) sourceTimeAt(local float64) float64 {
	if local < 0 {
		local = 0
	}
	if c.Speed == nil {
		return c.TrimStart + local
	}
	return c.TrimStart + c.Speed.SourceOffset(local, c.Duration)
}
