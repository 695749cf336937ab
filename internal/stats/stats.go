// Package stats implements the "Stats counter bag" from spec.md §3: monotonic
// counters for files-processed, files-moved, duplicates-skipped, errors and
// total-bytes, reset only through an explicit Reset call. It is backed by
// prometheus client_golang counters (named in kopia's go.mod) registered on
// a private registry, so the out-of-scope web collaborator can expose them
// on a /metrics endpoint without the core knowing anything about HTTP.
package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Bag is the process-wide counter bag described in spec.md §3. All
// increments are atomic via the underlying prometheus counters, satisfying
// the "Stats counters: atomic increments" shared-resource policy in §5.
type Bag struct {
	registry *prometheus.Registry

	FilesProcessed    prometheus.Counter
	FilesMoved        prometheus.Counter
	DuplicatesSkipped prometheus.Counter
	Errors            prometheus.Counter
	TotalBytes        prometheus.Counter
}

// New constructs a Bag with a fresh private registry.
func New() *Bag {
	registry := prometheus.NewRegistry()

	b := &Bag{
		registry: registry,
		FilesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nextprism",
			Name:      "files_processed_total",
			Help:      "Total ingest items that reached a terminal status.",
		}),
		FilesMoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nextprism",
			Name:      "files_moved_total",
			Help:      "Total files moved into the import directory.",
		}),
		DuplicatesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nextprism",
			Name:      "duplicates_skipped_total",
			Help:      "Total ingest items short-circuited by dedup.",
		}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nextprism",
			Name:      "errors_total",
			Help:      "Total ingest items that terminated in Failed, plus events dropped because the ingest queue was full.",
		}),
		TotalBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nextprism",
			Name:      "bytes_moved_total",
			Help:      "Total bytes moved into the import directory.",
		}),
	}

	registry.MustRegister(
		b.FilesProcessed,
		b.FilesMoved,
		b.DuplicatesSkipped,
		b.Errors,
		b.TotalBytes,
	)

	return b
}

// Registry exposes the private prometheus registry so a collaborator's HTTP
// surface can serve it; the core never imports net/http itself.
func (b *Bag) Registry() *prometheus.Registry {
	return b.registry
}

// Reset replaces every counter with a fresh one and re-registers them,
// implementing the "reset only by explicit API" invariant from spec.md §3 —
// prometheus counters cannot be decremented, so a reset must swap them out.
func (b *Bag) Reset() {
	fresh := New()
	b.registry = fresh.registry
	b.FilesProcessed = fresh.FilesProcessed
	b.FilesMoved = fresh.FilesMoved
	b.DuplicatesSkipped = fresh.DuplicatesSkipped
	b.Errors = fresh.Errors
	b.TotalBytes = fresh.TotalBytes
}

// Snapshot is a point-in-time read of every counter, useful for the CLI
// `stats` command and for tests.
type Snapshot struct {
	FilesProcessed    float64
	FilesMoved        float64
	DuplicatesSkipped float64
	Errors            float64
	TotalBytes        float64
}

// Snapshot reads the current counter values.
func (b *Bag) Snapshot() Snapshot {
	return Snapshot{
		FilesProcessed:    readCounter(b.FilesProcessed),
		FilesMoved:        readCounter(b.FilesMoved),
		DuplicatesSkipped: readCounter(b.DuplicatesSkipped),
		Errors:            readCounter(b.Errors),
		TotalBytes:        readCounter(b.TotalBytes),
	}
}

func readCounter(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
