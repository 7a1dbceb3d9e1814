package export

import (
	"fmt"
	"os"
	"path/filepath"
)

// Request is the host-facing export contract: which sequence, at what
// delivery resolution and quality, into which container.
type Request struct {
	SequenceID   string  `json:"sequence_id" validate:"required"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	FPS          float64 `json:"fps"`
	Container    string  `json:"container"` // mp4 (default) or webm
	Quality      string  `json:"quality"`   // low, medium (default), high
	IncludeAudio bool    `json:"include_audio"`
}

// Result is a finished export: the encoded container bytes and their type.
type Result struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
}

var qualityBitrate = map[string]string{
	"low":    "2M",
	"medium": "8M",
	"high":   "20M",
}

// containerFormats maps container names to their codec pairing and MIME type.
var containerFormats = map[string]struct {
	videoCodec string
	mime       string
}{
	"mp4":  {videoCodec: "libx264", mime: "video/mp4"},
	"webm": {videoCodec: "libvpx-vp9", mime: "video/webm"},
}

// Settings translates the request into encoder settings writing to
// outputPath. Unknown containers and qualities are rejected, not defaulted
// silently.
func (r Request) Settings(outputPath string) (Settings, error) {
	container := r.Container
	if container == "" {
		container = "mp4"
	}
	format, ok := containerFormats[container]
	if !ok {
		return Settings{}, fmt.Errorf("unsupported container %q", container)
	}
	quality := r.Quality
	if quality == "" {
		quality = "medium"
	}
	bitrate, ok := qualityBitrate[quality]
	if !ok {
		return Settings{}, fmt.Errorf("unsupported quality %q", quality)
	}
	s := Settings{
		OutputPath:   outputPath,
		Width:        r.Width,
		Height:       r.Height,
		FPS:          r.FPS,
		VideoCodec:   format.videoCodec,
		VideoBitrate: bitrate,
	}
	s.Defaults()
	return s, nil
}

// MIMEType returns the container's MIME type, defaulting like Settings.
func (r Request) MIMEType() string {
	container := r.Container
	if container == "" {
		container = "mp4"
	}
	if format, ok := containerFormats[container]; ok {
		return format.mime
	}
	return "application/octet-stream"
}

// StagePath returns a temp output path for the request's container, used
// when the caller wants the payload in memory rather than a named file.
func (r Request) StagePath() (string, error) {
	container := r.Container
	if container == "" {
		container = "mp4"
	}
	f, err := os.CreateTemp("", "export-*."+container)
	if err != nil {
		return "", fmt.Errorf("failed to stage export output: %w", err)
	}
	path := f.Name()
	f.Close()
	// The encoder creates the file itself; only the name is needed.
	os.Remove(path)
	return filepath.Clean(path), nil
}
