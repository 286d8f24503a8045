package manifest

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for edits to settle.
const DefaultDebounce = 250 * time.Millisecond

// LoaderFunc builds a complete manifest set, typically Load(dir) plus overrides.
type LoaderFunc func() (*Set, error)

// Watcher reloads the manifest directory on change and swaps the whole set
// into a Holder. A set that fails to load or validate is logged and ignored,
// leaving the previous set in place.
type Watcher struct {
	dir      string
	holder   *Holder
	load     LoaderFunc
	debounce time.Duration
	watcher  *fsnotify.Watcher

	// OnReload, if set, is called after every reload attempt.
	OnReload func(set *Set, err error)

	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher for dir. Call Start to begin watching.
func NewWatcher(dir string, holder *Holder, load LoaderFunc, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create manifest watcher: %w", err)
	}
	return &Watcher{
		dir:      dir,
		holder:   holder,
		load:     load,
		debounce: debounce,
		watcher:  fw,
		done:     make(chan struct{}),
	}, nil
}

// Start watches the directory until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	go w.loop(ctx)
	return nil
}

// Stop ends watching. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isManifestFile(filepath.Base(event.Name)) {
				continue
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[Manifest] Watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	set, err := w.load()
	if err != nil {
		log.Printf("[Manifest] Reload rejected, keeping previous manifests: %v", err)
	} else {
		w.holder.Swap(set)
		log.Printf("[Manifest] Reloaded %d manifests from %s", set.Len(), w.dir)
	}
	if w.OnReload != nil {
		w.OnReload(set, err)
	}
}
