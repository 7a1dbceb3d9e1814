package media

import (
	"context"
	"image"
	"image/color"
	"math"
	"sync"
)

// Packet is one compressed unit read from a source. Data stays opaque to the
// pipeline; only the source that produced a packet can decode it.
type Packet struct {
	PTS      float64
	Keyframe bool
	Data     []byte
}

// SourceInfo describes an opened media source.
type SourceInfo struct {
	Duration float64
	Width    int
	Height   int
	FPS      float64
}

// Source is the codec-facing contract of the decode pipeline. The pipeline
// drives it strictly sequentially: ReadWindow from a keyframe, Decode each
// packet, Flush, and on seek Flush before the next ReadWindow.
type Source interface {
	// Open probes and opens the given location.
	Open(ctx context.Context, location string) error
	// Info reports stream properties; valid after Open.
	Info() SourceInfo
	// Keyframes lists keyframe times in ascending order.
	Keyframes() []float64
	// ReadWindow returns every packet with from <= PTS <= to, starting at a
	// packet boundary at or before from.
	ReadWindow(ctx context.Context, from, to float64) ([]*Packet, error)
	// Decode turns one packet into pixels.
	Decode(ctx context.Context, pkt *Packet) (*image.RGBA, error)
	// Flush resets decoder state between windows.
	Flush()
	// Close releases the underlying handle.
	Close() error
}

// SourceOpener builds a Source for a location; the pipeline walks an asset's
// locations in fallback order until one opens.
type SourceOpener func(location string) (Source, error)

// SyntheticSource is an in-process Source producing deterministic frames at
// a fixed rate: each frame is a solid color derived from its timestamp.
// It backs image stills, placeholder media and tests; the decode step is
// instant but otherwise follows the same keyframe/window discipline as a
// real codec.
type SyntheticSource struct {
	mu       sync.Mutex
	info     SourceInfo
	gop      float64
	open     bool
	decoded  int
	location string

	// FailOpen forces Open to fail, for exercising location fallback.
	FailOpen bool
}

// NewSyntheticSource creates a synthetic source with the given geometry.
// Keyframes fall every gop seconds.
func NewSyntheticSource(duration float64, width, height int, fps, gop float64) *SyntheticSource {
	if gop <= 0 {
		gop = 1.0
	}
	return &SyntheticSource{
		info: SourceInfo{Duration: duration, Width: width, Height: height, FPS: fps},
		gop:  gop,
	}
}

func (s *SyntheticSource) Open(_ context.Context, location string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailOpen {
		return &OpenError{Location: location, Reason: "synthetic open failure"}
	}
	s.open = true
	s.location = location
	return nil
}

func (s *SyntheticSource) Info() SourceInfo { return s.info }

func (s *SyntheticSource) Keyframes() []float64 {
	n := int(s.info.Duration/s.gop) + 1
	out := make([]float64, 0, n)
	for t := 0.0; t <= s.info.Duration; t += s.gop {
		out = append(out, t)
	}
	return out
}

func (s *SyntheticSource) ReadWindow(_ context.Context, from, to float64) ([]*Packet, error) {
	if to > s.info.Duration {
		to = s.info.Duration
	}
	step := 1.0 / s.info.FPS
	start := math.Floor(from/step) * step
	var pkts []*Packet
	for t := start; t <= to+1e-9; t += step {
		pkts = append(pkts, &Packet{
			PTS:      t,
			Keyframe: math.Mod(t, s.gop) < step,
		})
	}
	return pkts, nil
}

func (s *SyntheticSource) Decode(_ context.Context, pkt *Packet) (*image.RGBA, error) {
	s.mu.Lock()
	s.decoded++
	s.mu.Unlock()
	img := image.NewRGBA(image.Rect(0, 0, s.info.Width, s.info.Height))
	// Encode the timestamp into the fill color so tests can assert which
	// source time a composited pixel came from.
	c := ColorAt(pkt.PTS)
	for y := 0; y < s.info.Height; y++ {
		for x := 0; x < s.info.Width; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img, nil
}

func (s *SyntheticSource) Flush() {}

func (s *SyntheticSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}

// DecodedPackets reports how many packets this source has decoded.
func (s *SyntheticSource) DecodedPackets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decoded
}

// Location returns the location the source was opened from.
func (s *SyntheticSource) Location() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.location
}

// ColorAt derives the deterministic fill color a synthetic source uses for a
// given source time.
func ColorAt(t float64) color.RGBA {
	ms := int64(math.Round(t * 1000))
	return color.RGBA{
		R: uint8(ms % 251),
		G: uint8((ms / 251) % 251),
		B: uint8((ms / 63001) % 251),
		A: 255,
	}
}

// OpenError reports a failed probe of one candidate location.
type OpenError struct {
	Location string
	Reason   string
}

func (e *OpenError) Error() string {
	return "failed to open " + e.Location + ": " + e.Reason
}
