package export

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
)

// Encoder receives the rendered output of an export job. Begin is called
// once before any payload, WriteFrame once per video frame in presentation
// order, WriteAudio once with the full mixdown, and exactly one of Finalize
// or Abort ends the job. Abort must leave no partial output behind.
type Encoder interface {
	Begin(ctx context.Context, settings Settings) error
	WriteFrame(img *image.RGBA) error
	WriteAudio(samples []float32) error
	Finalize(ctx context.Context) error
	Abort()
}

// MemoryEncoder captures encoded output in memory for tests and dry runs.
type MemoryEncoder struct {
	mu        sync.Mutex
	settings  Settings
	frames    int
	checksums []uint64
	samples   []float32
	began     bool
	finalized bool
	aborted   bool
}

func NewMemoryEncoder() *MemoryEncoder {
	return &MemoryEncoder{}
}

func (e *MemoryEncoder) Begin(_ context.Context, settings Settings) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings = settings
	e.began = true
	return nil
}

func (e *MemoryEncoder) WriteFrame(img *image.RGBA) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.began {
		return fmt.Errorf("encoder: frame written before Begin")
	}
	var sum uint64 = 14695981039346656037 // FNV-1a
	for _, b := range img.Pix {
		sum ^= uint64(b)
		sum *= 1099511628211
	}
	e.checksums = append(e.checksums, sum)
	e.frames++
	return nil
}

func (e *MemoryEncoder) WriteAudio(samples []float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.samples = append(e.samples, samples...)
	return nil
}

func (e *MemoryEncoder) Finalize(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finalized = true
	return nil
}

func (e *MemoryEncoder) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aborted = true
	e.frames = 0
	e.checksums = nil
	e.samples = nil
}

func (e *MemoryEncoder) Frames() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}

func (e *MemoryEncoder) Checksums() []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]uint64(nil), e.checksums...)
}

func (e *MemoryEncoder) Samples() []float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.samples
}

func (e *MemoryEncoder) Finalized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finalized
}

func (e *MemoryEncoder) Aborted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aborted
}

// FFmpegEncoder muxes raw RGBA frames and a float PCM mixdown into the
// output container with one ffmpeg process. Audio is staged to a temp file
// before the process starts so ffmpeg reads both inputs concurrently without
// interleaving on a single pipe.
type FFmpegEncoder struct {
	settings  Settings
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	audioPath string
	wroteAny  bool
}

func NewFFmpegEncoder() *FFmpegEncoder {
	return &FFmpegEncoder{}
}

func (e *FFmpegEncoder) Begin(ctx context.Context, settings Settings) error {
	e.settings = settings
	return nil
}

// WriteAudio stages the mixdown. It must be called before the first
// WriteFrame because the ffmpeg process is started lazily with both inputs.
func (e *FFmpegEncoder) WriteAudio(samples []float32) error {
	if e.wroteAny {
		return fmt.Errorf("encoder: audio must be written before video frames")
	}
	f, err := os.CreateTemp(filepath.Dir(e.settings.OutputPath), ".mixdown-*.pcm")
	if err != nil {
		return fmt.Errorf("failed to stage mixdown: %w", err)
	}
	defer f.Close()
	buf := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	if _, err := f.Write(buf); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("failed to stage mixdown: %w", err)
	}
	e.audioPath = f.Name()
	return nil
}

func (e *FFmpegEncoder) WriteFrame(img *image.RGBA) error {
	if e.cmd == nil {
		if err := e.start(); err != nil {
			return err
		}
	}
	e.wroteAny = true
	if _, err := e.stdin.Write(img.Pix); err != nil {
		return fmt.Errorf("failed to write frame to encoder: %w", err)
	}
	return nil
}

func (e *FFmpegEncoder) start() error {
	s := e.settings
	args := []string{
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", s.Width, s.Height),
		"-r", strconv.FormatFloat(s.FPS, 'f', -1, 64),
		"-i", "-",
	}
	if e.audioPath != "" {
		args = append(args,
			"-f", "f32le",
			"-ar", strconv.Itoa(s.SampleRate),
			"-ac", "2",
			"-i", e.audioPath,
			"-c:a", s.AudioCodec,
		)
	}
	args = append(args,
		"-c:v", s.VideoCodec,
		"-b:v", s.VideoBitrate,
		"-pix_fmt", "yuv420p",
		"-shortest",
		s.OutputPath,
	)
	cmd := exec.Command("ffmpeg", args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open encoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg encoder: %w", err)
	}
	e.cmd = cmd
	e.stdin = stdin
	return nil
}

func (e *FFmpegEncoder) Finalize(context.Context) error {
	defer e.cleanup()
	if e.cmd == nil {
		return fmt.Errorf("encoder: finalize with no frames written")
	}
	if err := e.stdin.Close(); err != nil {
		return fmt.Errorf("failed to close encoder pipe: %w", err)
	}
	if err := e.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg encoder failed: %w", err)
	}
	return nil
}

// Abort kills the encoder and removes the partial output file.
func (e *FFmpegEncoder) Abort() {
	if e.cmd != nil {
		e.stdin.Close()
		e.cmd.Process.Kill()
		e.cmd.Wait()
	}
	os.Remove(e.settings.OutputPath)
	e.cleanup()
}

func (e *FFmpegEncoder) cleanup() {
	if e.audioPath != "" {
		os.Remove(e.audioPath)
		e.audioPath = ""
	}
}
