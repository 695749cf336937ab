// Package queue implements spec.md component E: a bounded, thread-safe
// priority ingest queue with an optional on-disk snapshot. The priority
// ordering and blocking-dequeue-with-timeout shape are grounded on the
// "many-reader, many-writer" concurrency policy from spec.md §5; the
// snapshot persistence is grounded on kopia's use of
// github.com/natefinch/atomic for crash-safe single-file writes and
// github.com/gofrs/flock for advisory locking against a concurrent snapshot
// writer, both named in kopia's go.mod.
package queue

import (
	"bytes"
	"container/heap"
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/LoopeyTheGreat/next-prism/internal/corelog"
	"github.com/LoopeyTheGreat/next-prism/internal/model"
)

// ErrFull is returned by TryEnqueue when the queue is at capacity. Callers
// must treat this as a "log and drop" signal (spec.md §4.E) rather than an
// error worth retrying.
var ErrFull = errors.New("ingest queue is full")

// itemHeap is a container/heap.Interface over IngestItems ordered by
// IngestItem.Less. container/heap is stdlib rather than a pack dependency
// because no example repo in the retrieval pack exercises a third-party
// priority-queue library; heap.Interface is the idiomatic Go shape for this
// exact problem and every pack repo that needs ordering (mutagen's
// synchronization scheduling, kopia's maintenance scheduling) reaches for
// container/heap or a hand-rolled slice, never an external package.
type itemHeap []*model.IngestItem

func (h itemHeap) Len() int            { return len(h) }
func (h itemHeap) Less(i, j int) bool  { return h[i].Less(h[j]) }
func (h itemHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x interface{}) { *h = append(*h, x.(*model.IngestItem)) }
func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue is the bounded priority ingest queue described in spec.md §4.E.
type Queue struct {
	capacity int

	mu       sync.Mutex
	notEmpty *sync.Cond
	items    itemHeap

	log *logrus.Entry
}

// New constructs an empty Queue bounded at capacity. A non-positive capacity
// is treated as unbounded.
func New(capacity int) *Queue {
	q := &Queue{
		capacity: capacity,
		items:    make(itemHeap, 0),
		log:      corelog.For("queue"),
	}
	q.notEmpty = sync.NewCond(&q.mu)
	heap.Init(&q.items)
	return q
}

// TryEnqueue adds item to the queue, returning ErrFull if the queue is at
// capacity (spec.md §4.E: "Enqueue returns a full signal ... the caller must
// not block the watcher").
func (q *Queue) TryEnqueue(item *model.IngestItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity > 0 && len(q.items) >= q.capacity {
		return ErrFull
	}
	heap.Push(&q.items, item)
	q.notEmpty.Signal()
	return nil
}

// Dequeue blocks until an item is available or ctx is done, returning the
// highest-priority (then oldest) item (spec.md §4.E: "Dequeue may block with
// a timeout").
func (q *Queue) Dequeue(ctx context.Context) (*model.IngestItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.notEmpty.Broadcast()
				q.mu.Unlock()
			case <-done:
			}
		}()
		q.notEmpty.Wait()
		close(done)
		if ctx.Err() != nil && len(q.items) == 0 {
			return nil, ctx.Err()
		}
	}

	return heap.Pop(&q.items).(*model.IngestItem), nil
}

// Len reports the number of items currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// snapshotEntry is the on-disk representation of one queued item, ordered
// the same way Snapshot writes them (spec.md §4.E: "serialise all items to
// a single file as an ordered list").
type snapshotEntry struct {
	ID         string    `json:"id,omitempty"`
	SourcePath string    `json:"source_path"`
	FolderPath string    `json:"folder_path"`
	Priority   uint8     `json:"priority"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	RetryCount int       `json:"retry_count"`
	MaxRetries int       `json:"max_retries"`
}

// Snapshot serialises every queued item, in priority order, to path using an
// atomic rename-into-place write guarded by an advisory file lock so a
// concurrent snapshot attempt cannot interleave writes. Snapshotting is
// best-effort: a lock or write failure is logged and swallowed so it never
// blocks ingest (spec.md §4.E).
func (q *Queue) Snapshot(path string) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil || !locked {
		q.log.WithError(err).Warn("snapshot skipped: could not acquire lock")
		return
	}
	defer lock.Unlock()

	entries := q.ordered()
	data, err := json.Marshal(entries)
	if err != nil {
		q.log.WithError(err).Warn("snapshot skipped: marshal failed")
		return
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		q.log.WithError(err).Warn("snapshot write failed")
	}
}

// ordered returns a copy of the queued items in dequeue order without
// mutating the live heap.
func (q *Queue) ordered() []snapshotEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	cp := make(itemHeap, len(q.items))
	copy(cp, q.items)
	heap.Init(&cp)

	entries := make([]snapshotEntry, 0, len(cp))
	for cp.Len() > 0 {
		item := heap.Pop(&cp).(*model.IngestItem)
		folderPath := ""
		if item.Folder != nil {
			folderPath = item.Folder.Path
		}
		entries = append(entries, snapshotEntry{
			ID:         item.ID,
			SourcePath: item.SourcePath,
			FolderPath: folderPath,
			Priority:   uint8(item.Priority),
			EnqueuedAt: item.EnqueuedAt,
			RetryCount: item.RetryCount,
			MaxRetries: item.MaxRetries,
		})
	}
	return entries
}

// Load reads a snapshot file written by Snapshot and re-enqueues its items,
// resolving each entry's folder against folders by path (spec.md §4.E: "on
// construction, load and re-insert"). Entries whose folder can no longer be
// found are dropped with a warning rather than failing the whole load.
func (q *Queue) Load(path string, folders map[string]*model.MonitoredFolder) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "reading queue snapshot")
	}

	var entries []snapshotEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return errors.Wrap(err, "parsing queue snapshot")
	}

	for _, e := range entries {
		folder := folders[e.FolderPath]
		if folder == nil {
			q.log.WithField("folder", e.FolderPath).Warn("dropping snapshot entry: unknown folder")
			continue
		}
		id := e.ID
		if id == "" {
			// Snapshots written before IngestItem carried an ID get a fresh
			// one; it only needs to be stable for the rest of this process's
			// lifetime, not across this reload.
			id = uuid.NewString()
		}
		item := &model.IngestItem{
			ID:         id,
			SourcePath: e.SourcePath,
			Folder:     folder,
			Priority:   model.Priority(e.Priority),
			EnqueuedAt: e.EnqueuedAt,
			RetryCount: e.RetryCount,
			MaxRetries: e.MaxRetries,
		}
		if err := q.TryEnqueue(item); err != nil {
			q.log.WithField("id", id).WithField("path", e.SourcePath).Warn("dropping snapshot entry: queue full on load")
		}
	}
	return nil
}
