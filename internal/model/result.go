package model

import (
	"time"

	"github.com/LoopeyTheGreat/next-prism/internal/corerr"
)

// Status is the terminal state of a SyncResult (spec.md §3).
type Status uint8

const (
	StatusCompleted Status = iota
	StatusSkippedDuplicate
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusSkippedDuplicate:
		return "skipped-duplicate"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SyncResult is the outcome of running a single IngestItem through the Sync
// Engine state machine (spec.md §3, §4.I).
type SyncResult struct {
	Item        *IngestItem
	SourcePath  string
	Status      Status
	Destination string
	ErrKind     corerr.Kind
	Err         error
	Hash        string
	Size        int64
	At          time.Time
}
