package media

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// Relinker watches resolved asset locations on disk. When an asset's backing
// file changes (re-rendered proxy, replaced source) the owning session must
// drop its cached frames, so the relinker reports the asset id to a single
// callback and leaves the sweeping to the caller.
type Relinker struct {
	mu       sync.Mutex
	logger   hclog.Logger
	watcher  *fsnotify.Watcher
	byPath   map[string]string // location -> asset id
	onChange func(assetID string)
	done     chan struct{}
}

// NewRelinker starts a watcher delivering change notifications to onChange.
func NewRelinker(logger hclog.Logger, onChange func(assetID string)) (*Relinker, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create asset watcher: %w", err)
	}
	r := &Relinker{
		logger:   logger.Named("relinker"),
		watcher:  w,
		byPath:   make(map[string]string),
		onChange: onChange,
		done:     make(chan struct{}),
	}
	go r.run()
	return r, nil
}

// Watch registers a local asset location.
func (r *Relinker) Watch(assetID, location string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.watcher.Add(location); err != nil {
		return fmt.Errorf("failed to watch %s: %w", location, err)
	}
	r.byPath[location] = assetID
	return nil
}

// Close stops the watcher.
func (r *Relinker) Close() error {
	close(r.done)
	return r.watcher.Close()
}

func (r *Relinker) run() {
	for {
		select {
		case <-r.done:
			return
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			r.mu.Lock()
			assetID, known := r.byPath[ev.Name]
			r.mu.Unlock()
			if !known {
				continue
			}
			r.logger.Info("asset changed on disk", "asset", assetID, "path", ev.Name, "op", ev.Op.String())
			if r.onChange != nil {
				r.onChange(assetID)
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("asset watcher error", "error", err)
		}
	}
}
