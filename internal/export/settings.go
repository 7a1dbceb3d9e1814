// Package export renders a sequence offline, frame by frame, through the same
// compositing core the preview uses, and encodes the result to a file.
// Export jobs run against their own pipelines and caches so an interactive
// session keeps scrubbing while a render is underway.
package export

import (
	"context"
	"fmt"
)

// Settings describes one export job's output.
type Settings struct {
	OutputPath   string  `json:"output_path" validate:"required"`
	Width        int     `json:"width" validate:"gt=0"`
	Height       int     `json:"height" validate:"gt=0"`
	FPS          float64 `json:"fps" validate:"gt=0"`
	VideoCodec   string  `json:"video_codec"`
	AudioCodec   string  `json:"audio_codec"`
	SampleRate   int     `json:"sample_rate"`
	VideoBitrate string  `json:"video_bitrate"`
}

// Defaults fills unset fields from the sequence-independent defaults.
func (s *Settings) Defaults() {
	if s.VideoCodec == "" {
		s.VideoCodec = "libx264"
	}
	if s.SampleRate <= 0 {
		s.SampleRate = 48000
	}
	if s.VideoBitrate == "" {
		s.VideoBitrate = "8M"
	}
}

// audioCodecPreference is tried in order; the first codec the local encoder
// supports wins, with uncompressed PCM as the floor.
var audioCodecPreference = []string{"aac", "libopus", "pcm_s16le"}

// PickAudioCodec returns the most preferred audio codec the probe accepts.
// probe reports whether the named codec can actually encode on this machine;
// an encoder that accepts none of them, PCM included, cannot write audio at
// all and fails the pick.
func PickAudioCodec(ctx context.Context, probe func(ctx context.Context, codec string) bool) (string, error) {
	for _, codec := range audioCodecPreference {
		if probe(ctx, codec) {
			return codec, nil
		}
	}
	return "", fmt.Errorf("no usable audio encoder, tried %v", audioCodecPreference)
}
