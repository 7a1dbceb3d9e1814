package media

import (
	"container/list"
	"math"
	"sync"

	"github.com/shirou/gopsutil/v4/mem"
)

// timePrecision quantizes cache keys to whole milliseconds so that float
// jitter between a request and the decode that produced it still hits.
const timePrecision = 1000

// QuantizeTime maps a time in seconds to its cache key.
func QuantizeTime(t float64) int64 {
	return int64(math.Round(t * timePrecision))
}

// KeyTime maps a cache key back to seconds.
func KeyTime(key int64) float64 {
	return float64(key) / timePrecision
}

type cacheEntry struct {
	key   int64
	frame *Frame
}

// FrameCache is a fixed-capacity LRU store of decoded frames keyed by
// quantized time. The cache owns one reference to every stored frame; every
// path that removes an entry (eviction, sweep, clear, replacement) releases
// that reference exactly once. Get hands out independent clones, so callers
// releasing their copy never touch the cache's own.
type FrameCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List               // front = most recent
	entries  map[int64]*list.Element
}

// NewFrameCache creates a cache bounded to capacity frames.
func NewFrameCache(capacity int) *FrameCache {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[int64]*list.Element),
	}
}

// DefaultCapacity sizes a cache from available system memory: a tenth of
// what is free, divided by the frame footprint, clamped to a sane window.
func DefaultCapacity(width, height int) int {
	const minFrames, maxFrames = 24, 240
	vm, err := mem.VirtualMemory()
	if err != nil || vm.Available == 0 {
		return 64
	}
	frameBytes := uint64(width * height * 4)
	if frameBytes == 0 {
		return 64
	}
	n := int(vm.Available / 10 / frameBytes)
	if n < minFrames {
		return minFrames
	}
	if n > maxFrames {
		return maxFrames
	}
	return n
}

// Get returns a clone of the cached frame at t, promoting the entry, or nil
// on a miss. The caller owns the returned handle.
func (c *FrameCache) Get(t float64) *Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[QuantizeTime(t)]
	if !ok {
		return nil
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).frame.Clone()
}

// Nearest returns a clone of the cached frame closest to t within tolerance
// seconds, or nil. Recency is not promoted; this is the degraded-path lookup
// used when an exact decode is not available yet.
func (c *FrameCache) Nearest(t, tolerance float64) *Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var best *cacheEntry
	bestDist := tolerance
	for _, el := range c.entries {
		e := el.Value.(*cacheEntry)
		dist := math.Abs(KeyTime(e.key) - t)
		if dist <= bestDist {
			best = e
			bestDist = dist
		}
	}
	if best == nil {
		return nil
	}
	return best.frame.Clone()
}

// Put stores a frame at time t, taking ownership of the given handle. A
// frame already stored at the same key is released and replaced. When the
// cache is over capacity the least-recently-used entry is evicted and its
// frame released.
func (c *FrameCache) Put(t float64, f *Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := QuantizeTime(t)
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*cacheEntry)
		e.frame.Release()
		e.frame = f
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&cacheEntry{key: key, frame: f})
	c.entries[key] = el
	for c.order.Len() > c.capacity {
		c.evictOldest()
	}
}

func (c *FrameCache) evictOldest() {
	el := c.order.Back()
	if el == nil {
		return
	}
	e := el.Value.(*cacheEntry)
	c.order.Remove(el)
	delete(c.entries, e.key)
	e.frame.Release()
}

// Sweep releases and removes every entry whose time matches the predicate.
// Used to bound memory to a sliding window around the playback anchor.
func (c *FrameCache) Sweep(pred func(t float64) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*cacheEntry)
		if pred(KeyTime(e.key)) {
			c.order.Remove(el)
			delete(c.entries, e.key)
			e.frame.Release()
			removed++
		}
		el = next
	}
	return removed
}

// Clear releases and removes everything.
func (c *FrameCache) Clear() {
	c.Sweep(func(float64) bool { return true })
}

// Len returns the number of cached frames.
func (c *FrameCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Capacity returns the configured bound.
func (c *FrameCache) Capacity() int {
	return c.capacity
}
