// Package media owns everything between compressed bytes and displayable
// frames: per-asset decode pipelines, the bounded frame cache, asset probing
// and the re-link watcher. Decoded frames are explicitly refcounted; every
// pixel buffer that enters the cache leaves it through exactly one release.
package media

import (
	"image"
	"sync"
	"sync/atomic"
)

// frameData is the shared backing store behind one or more Frame handles.
type frameData struct {
	img       *image.RGBA
	refs      int32
	onRelease func()
	released  int32
}

// Frame is a refcounted handle to one decoded frame. Clone hands ownership
// of a new reference to the caller; Release drops this handle's reference.
// The underlying buffer's release hook runs exactly once, when the last
// handle goes away. Release on an already-released handle is a defensive
// no-op, since eviction and explicit disposal can race during teardown.
type Frame struct {
	pts      float64
	data     *frameData
	released int32
}

// NewFrame wraps a decoded image into a single-reference frame. onRelease
// may be nil; when set it fires exactly once after every handle is released.
func NewFrame(pts float64, img *image.RGBA, onRelease func()) *Frame {
	return &Frame{
		pts: pts,
		data: &frameData{
			img:       img,
			refs:      1,
			onRelease: onRelease,
		},
	}
}

// PTS returns the frame's presentation time in seconds.
func (f *Frame) PTS() float64 { return f.pts }

// Image returns the decoded pixels. The caller must not use the image after
// releasing its handle.
func (f *Frame) Image() *image.RGBA { return f.data.img }

// Clone returns a new handle sharing the underlying buffer. The clone must
// be released independently.
func (f *Frame) Clone() *Frame {
	atomic.AddInt32(&f.data.refs, 1)
	return &Frame{pts: f.pts, data: f.data}
}

// Release drops this handle's reference. Safe to call more than once on the
// same handle.
func (f *Frame) Release() {
	if !atomic.CompareAndSwapInt32(&f.released, 0, 1) {
		return
	}
	if atomic.AddInt32(&f.data.refs, -1) > 0 {
		return
	}
	if atomic.CompareAndSwapInt32(&f.data.released, 0, 1) {
		if f.data.onRelease != nil {
			f.data.onRelease()
		}
		f.data.img = nil
	}
}

// framePool recycles RGBA buffers between decodes of the same geometry.
type framePool struct {
	mu     sync.Mutex
	w, h   int
	bufs   []*image.RGBA
	limit  int
}

func newFramePool(w, h, limit int) *framePool {
	return &framePool{w: w, h: h, limit: limit}
}

func (p *framePool) get() *image.RGBA {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.bufs); n > 0 {
		img := p.bufs[n-1]
		p.bufs = p.bufs[:n-1]
		return img
	}
	return image.NewRGBA(image.Rect(0, 0, p.w, p.h))
}

func (p *framePool) put(img *image.RGBA) {
	if img == nil || img.Bounds().Dx() != p.w || img.Bounds().Dy() != p.h {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.bufs) < p.limit {
		p.bufs = append(p.bufs, img)
	}
}
