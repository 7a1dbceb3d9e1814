package render

import (
	"image"
	"image/draw"
	"sync"
)

// Surface is the presentation target the renderer draws into. Implementations
// wrap whatever the host platform offers; the engine ships an in-memory one.
type Surface interface {
	// Size returns the drawable area in pixels.
	Size() (width, height int)
	// Draw presents one complete frame. Implementations must treat the image
	// as read-only and must not retain it past the call.
	Draw(img *image.RGBA)
	// Configure resizes the drawable area.
	Configure(width, height int)
}

// ImageSurface is an in-memory Surface retaining the last presented frame.
type ImageSurface struct {
	mu     sync.Mutex
	w, h   int
	last   *image.RGBA
	drawn  int
}

// NewImageSurface creates a surface of the given size.
func NewImageSurface(width, height int) *ImageSurface {
	return &ImageSurface{w: width, h: height}
}

func (s *ImageSurface) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w, s.h
}

func (s *ImageSurface) Draw(img *image.RGBA) {
	cp := image.NewRGBA(img.Bounds())
	draw.Draw(cp, cp.Bounds(), img, img.Bounds().Min, draw.Src)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = cp
	s.drawn++
}

func (s *ImageSurface) Configure(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w, s.h = width, height
}

// Last returns the most recently presented frame, or nil.
func (s *ImageSurface) Last() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// DrawCount reports how many frames have been presented.
func (s *ImageSurface) DrawCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drawn
}
