package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// ffprobeFormat mirrors the ffprobe JSON fields the engine reads.
type ffprobeFormat struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		SampleRate   string `json:"sample_rate"`
	} `json:"streams"`
	Frames []struct {
		PTSTime string `json:"pts_time"`
	} `json:"frames"`
}

// FFmpegSource decodes real media by shelling out to ffmpeg/ffprobe. Packets
// carry already-decoded rawvideo RGBA planes: a window read maps to one
// `ffmpeg -ss <keyframe> -t <span>` invocation emitting fixed-size frames on
// stdout, which keeps the pipeline's packet discipline while leaving all
// codec work to ffmpeg.
type FFmpegSource struct {
	mu        sync.Mutex
	location  string
	info      SourceInfo
	keyframes []float64
	open      bool
}

// NewFFmpegSource returns an unopened ffmpeg-backed source.
func NewFFmpegSource() *FFmpegSource {
	return &FFmpegSource{}
}

// OpenFFmpegSource is a SourceOpener for real media files and URLs.
func OpenFFmpegSource(string) (Source, error) {
	return NewFFmpegSource(), nil
}

func (s *FFmpegSource) Open(ctx context.Context, location string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	probe, err := runFFprobe(ctx, location,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
	)
	if err != nil {
		return &OpenError{Location: location, Reason: err.Error()}
	}

	info := SourceInfo{}
	if probe.Format.Duration != "" {
		info.Duration, _ = strconv.ParseFloat(probe.Format.Duration, 64)
	}
	for _, st := range probe.Streams {
		if st.CodecType != "video" {
			continue
		}
		info.Width = st.Width
		info.Height = st.Height
		info.FPS = parseRate(st.RFrameRate)
		break
	}
	if info.Width == 0 || info.Height == 0 {
		return &OpenError{Location: location, Reason: "no video stream"}
	}
	if info.FPS == 0 {
		info.FPS = 30
	}

	kfs, err := probeKeyframes(ctx, location)
	if err != nil {
		// Keyframe probing is best effort; decoding from t=0 still works.
		kfs = []float64{0}
	}

	s.location = location
	s.info = info
	s.keyframes = kfs
	s.open = true
	return nil
}

func (s *FFmpegSource) Info() SourceInfo { return s.info }

func (s *FFmpegSource) Keyframes() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.keyframes...)
}

func (s *FFmpegSource) ReadWindow(ctx context.Context, from, to float64) ([]*Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, fmt.Errorf("source not open")
	}
	if to > s.info.Duration {
		to = s.info.Duration
	}
	span := to - from
	if span <= 0 {
		return nil, nil
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-v", "error",
		"-ss", fmt.Sprintf("%.3f", from),
		"-i", s.location,
		"-t", fmt.Sprintf("%.3f", span),
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", s.info.Width, s.info.Height),
		"pipe:1",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	frameBytes := s.info.Width * s.info.Height * 4
	step := 1.0 / s.info.FPS
	var pkts []*Packet
	for i := 0; ; i++ {
		buf := make([]byte, frameBytes)
		if _, err := io.ReadFull(stdout, buf); err != nil {
			break
		}
		pts := from + float64(i)*step
		pkts = append(pkts, &Packet{
			PTS:      pts,
			Keyframe: i == 0,
			Data:     buf,
		})
	}
	if err := cmd.Wait(); err != nil && len(pkts) == 0 {
		return nil, fmt.Errorf("ffmpeg decode failed: %v: %s", err, stderr.String())
	}
	return pkts, nil
}

func (s *FFmpegSource) Decode(_ context.Context, pkt *Packet) (*image.RGBA, error) {
	if len(pkt.Data) != s.info.Width*s.info.Height*4 {
		return nil, fmt.Errorf("short frame at pts %g", pkt.PTS)
	}
	img := &image.RGBA{
		Pix:    pkt.Data,
		Stride: s.info.Width * 4,
		Rect:   image.Rect(0, 0, s.info.Width, s.info.Height),
	}
	return img, nil
}

func (s *FFmpegSource) Flush() {}

func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}

// ReadPCM decodes a span of an asset's audio into interleaved stereo float32
// samples at the requested rate, via ffmpeg.
func ReadPCM(ctx context.Context, location string, from, duration float64, rate int) ([]float32, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-v", "error",
		"-ss", fmt.Sprintf("%.3f", from),
		"-i", location,
		"-t", fmt.Sprintf("%.3f", duration),
		"-f", "f32le",
		"-ac", "2",
		"-ar", strconv.Itoa(rate),
		"pipe:1",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	raw, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg pcm decode failed: %v: %s", err, stderr.String())
	}
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		bits := uint32(raw[i*4]) | uint32(raw[i*4+1])<<8 | uint32(raw[i*4+2])<<16 | uint32(raw[i*4+3])<<24
		samples[i] = math.Float32frombits(bits)
	}
	return samples, nil
}

// PCMSource reads an asset's audio through ffmpeg on demand. It satisfies
// the mixdown's sample source contract.
type PCMSource struct {
	location string
	rate     int
}

// NewPCMSource creates a sample source decoding from location at rate.
func NewPCMSource(location string, rate int) *PCMSource {
	return &PCMSource{location: location, rate: rate}
}

func (p *PCMSource) Samples(ctx context.Context, from, duration float64) ([]float32, error) {
	return ReadPCM(ctx, p.location, from, duration, p.rate)
}

func (p *PCMSource) SampleRate() int { return p.rate }

// ProbeAudioEncoder reports whether the local ffmpeg can encode with the
// given codec. Export uses it to walk the codec preference order.
func ProbeAudioEncoder(ctx context.Context, codec string) bool {
	out, err := exec.CommandContext(ctx, "ffmpeg", "-v", "quiet", "-encoders").Output()
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == codec {
			return true
		}
	}
	return false
}

func runFFprobe(ctx context.Context, location string, args ...string) (*ffprobeFormat, error) {
	cmd := exec.CommandContext(ctx, "ffprobe", append(args, location)...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed: %v: %s", err, stderr.String())
	}
	var probe ffprobeFormat
	if err := json.Unmarshal(out.Bytes(), &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	return &probe, nil
}

func probeKeyframes(ctx context.Context, location string) ([]float64, error) {
	probe, err := runFFprobe(ctx, location,
		"-v", "quiet",
		"-print_format", "json",
		"-select_streams", "v:0",
		"-skip_frame", "nokey",
		"-show_frames",
		"-show_entries", "frame=pts_time",
	)
	if err != nil {
		return nil, err
	}
	var kfs []float64
	for _, f := range probe.Frames {
		if t, err := strconv.ParseFloat(f.PTSTime, 64); err == nil {
			kfs = append(kfs, t)
		}
	}
	if len(kfs) == 0 {
		kfs = []float64{0}
	}
	return kfs, nil
}

func parseRate(r string) float64 {
	parts := strings.SplitN(r, "/", 2)
	if len(parts) == 2 {
		num, _ := strconv.ParseFloat(parts[0], 64)
		den, _ := strconv.ParseFloat(parts[1], 64)
		if den != 0 {
			return num / den
		}
		return 0
	}
	v, _ := strconv.ParseFloat(r, 64)
	return v
}
