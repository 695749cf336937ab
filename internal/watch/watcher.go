// Package watch implements spec.md component C: a per-MonitoredFolder
// recursive filesystem watcher with debounce. It is grounded on
// Yakitrak-obsidian-cli's pkg/cache/service.go, which uses
// github.com/fsnotify/fsnotify the same way — a directory-granularity
// watcher that adds new subdirectories as they appear (addWatch/watchLoop)
// — adapted here from a "mark dirty, reconcile on Refresh" cache model onto
// the debounce-then-deliver model spec.md §4.C requires.
package watch

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/LoopeyTheGreat/next-prism/internal/corelog"
	"github.com/LoopeyTheGreat/next-prism/internal/fileops"
	"github.com/LoopeyTheGreat/next-prism/internal/model"
)

// StableFunc is invoked once a path has been quiescent for the debounce
// window (spec.md §4.C). Implementations must not block for long, since it
// runs on the shared tick goroutine.
type StableFunc func(path string, folder *model.MonitoredFolder)

// Watcher installs a recursive fsnotify subscription for a single
// MonitoredFolder and tracks pending (not-yet-stable) paths.
type Watcher struct {
	folder   *model.MonitoredFolder
	fsw      *fsnotify.Watcher
	debounce time.Duration
	onStable StableFunc
	log      *logrus.Entry

	mu          sync.Mutex
	pending     map[string]time.Time // PendingFile: absolute path -> last event time
	watchedDirs map[string]struct{}

	done chan struct{}
}

// New installs a recursive watch rooted at folder.Path and returns a
// Watcher. The caller must call Tick on a fixed cadence to release stable
// paths (spec.md §4.J: "invoked by the Orchestrator on a fixed cadence").
func New(folder *model.MonitoredFolder, debounce time.Duration, onStable StableFunc) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		folder:      folder,
		fsw:         fsw,
		debounce:    debounce,
		onStable:    onStable,
		log:         corelog.WithFolder(corelog.For("watch"), folder.Path),
		pending:     make(map[string]time.Time),
		watchedDirs: make(map[string]struct{}),
		done:        make(chan struct{}),
	}

	if err := w.addTree(folder.Path); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	go w.loop()

	return w, nil
}

// Close stops the watcher's event loop and releases the underlying fsnotify
// subscription.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

// addTree walks dir and installs a watch on every subdirectory, mirroring
// Yakitrak's initialCrawl phase 1/2 split (walk, then register watches).
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			w.addDir(path)
		}
		return nil
	})
}

func (w *Watcher) addDir(path string) {
	w.mu.Lock()
	if _, ok := w.watchedDirs[path]; ok {
		w.mu.Unlock()
		return
	}
	w.watchedDirs[path] = struct{}{}
	w.mu.Unlock()

	if err := w.fsw.Add(path); err != nil {
		w.log.WithError(err).WithField("dir", path).Warn("failed to add watch")
	}
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("watcher error")
		}
	}
}

// handleEvent applies the reject rules from spec.md §4.C step 1-2 and, for
// surviving create/modify events, refreshes the PendingFile timestamp (step
// 3). New directories are watched immediately so files written into them
// are not missed, matching Yakitrak's "if a new directory is created, start
// watching it" handling in watchLoop.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		if event.Op&fsnotify.Remove != 0 || event.Op&fsnotify.Rename != 0 {
			w.forget(event.Name)
		}
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if event.Op&fsnotify.Create != 0 {
			w.addDir(event.Name)
			_ = w.addTree(event.Name)
		}
		return
	}

	if !fileops.IsImage(event.Name, w.folder.Extensions) {
		return
	}
	if fileops.IsHiddenOrTemp(event.Name) {
		return
	}

	w.mu.Lock()
	w.pending[event.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	w.mu.Unlock()
}

// Tick scans PendingFiles and delivers onStable for every path whose last
// event is older than the debounce window, provided the path still exists
// as a regular file (spec.md §4.C). A debounce of zero delivers every
// pending event immediately on the next Tick.
//
// Ordering guarantee: a path is removed from pending before onStable is
// invoked, so at most one onStable invocation is in flight for that path at
// any time (spec.md §4.C, invariant 1); a later event re-adds it to pending
// only after that delivery has started.
func (w *Watcher) Tick() {
	now := time.Now()

	w.mu.Lock()
	var ready []string
	for path, last := range w.pending {
		if now.Sub(last) >= w.debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || !info.Mode().IsRegular() {
			continue
		}
		w.onStable(path, w.folder)
	}
}

// PendingCount reports the number of paths currently awaiting stabilisation;
// exposed for tests and diagnostics.
func (w *Watcher) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
