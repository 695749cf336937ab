// Package syncengine implements spec.md component I: the per-file state
// machine that drives one IngestItem from Pending through to a terminal
// status. It composes internal/fileops (hash/move/archive) and
// internal/dedup exactly the way the original source's
// sync_engine/deduplicator.py composes hashing and the duplicate index, but
// expressed as explicit Go states rather than a linear function, matching
// mutagen's pkg/tunneling/errors.go preference for naming states/severities
// as enums instead of branching on strings.
package syncengine

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LoopeyTheGreat/next-prism/internal/corelog"
	"github.com/LoopeyTheGreat/next-prism/internal/corerr"
	"github.com/LoopeyTheGreat/next-prism/internal/dedup"
	"github.com/LoopeyTheGreat/next-prism/internal/fileops"
	"github.com/LoopeyTheGreat/next-prism/internal/model"
)

// ImportDir is the PhotoPrism-style import directory every processed item
// moves into (spec.md §4.I: "destination is the PhotoPrism import
// directory").
type Config struct {
	ImportDir string
}

// Engine runs the Sync Engine state machine for one IngestItem at a time.
// It holds no per-item state between calls; callers drive it from the
// Orchestrator's processor loop.
type Engine struct {
	cfg   Config
	cache *dedup.Cache
	log   *logrus.Entry
}

// New constructs an Engine backed by cache.
func New(cfg Config, cache *dedup.Cache) *Engine {
	return &Engine{cfg: cfg, cache: cache, log: corelog.For("syncengine")}
}

// Process runs item through Pending -> Hashing -> CheckingDuplicate ->
// Moving -> Recording -> Completed/SkippedDuplicate/Failed (spec.md §4.I).
func (e *Engine) Process(item *model.IngestItem) *model.SyncResult {
	log := corelog.WithFolder(e.log, folderPath(item)).WithField("path", item.SourcePath)

	info, err := os.Stat(item.SourcePath)
	if err != nil || !info.Mode().IsRegular() {
		return e.fail(item, corerr.KindNotFound, corerr.New(corerr.KindNotFound, "source file missing: %s", item.SourcePath))
	}

	hash, err := fileops.Hash(item.SourcePath)
	if err != nil {
		return e.fail(item, corerr.KindHashFailure, err)
	}

	if dup, existing := e.cache.IsDuplicate(hash); dup {
		e.handleDuplicate(item, log, existing)
		return &model.SyncResult{
			Item:        item,
			SourcePath:  item.SourcePath,
			Status:      model.StatusSkippedDuplicate,
			Destination: existing,
			Hash:        hash,
			Size:        info.Size(),
			At:          time.Now(),
		}
	}

	moveResult, err := fileops.Move(item.SourcePath, e.cfg.ImportDir, true, fileops.CollisionRename)
	if err != nil {
		return e.fail(item, corerr.KindMoveFailure, err)
	}

	e.cache.Record(moveResult.DestPath, hash)

	return &model.SyncResult{
		Item:        item,
		SourcePath:  item.SourcePath,
		Status:      model.StatusCompleted,
		Destination: moveResult.DestPath,
		Hash:        hash,
		Size:        info.Size(),
		At:          time.Now(),
	}
}

// handleDuplicate implements the "archive-or-delete source" leg on a
// duplicate hit (spec.md §4.I): archive when the folder has archive-on-move
// set, otherwise unlink directly. A failed archive never downgrades the
// result; it is logged and the source is still removed.
func (e *Engine) handleDuplicate(item *model.IngestItem, log *logrus.Entry, existing string) {
	if item.Folder != nil && item.Folder.ArchiveOnMove {
		if _, err := fileops.Archive(item.SourcePath, item.Folder.ArchiveBase(), false); err != nil {
			log.WithError(err).Warn("archive-on-duplicate failed, removing source without archiving")
		}
	}
	if err := os.Remove(item.SourcePath); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("failed to remove duplicate source")
	}
}

func (e *Engine) fail(item *model.IngestItem, kind corerr.Kind, err error) *model.SyncResult {
	corelog.WithFolder(e.log, folderPath(item)).WithField("path", item.SourcePath).WithError(err).Warn("sync item failed")
	return &model.SyncResult{
		Item:       item,
		SourcePath: item.SourcePath,
		Status:     model.StatusFailed,
		ErrKind:    kind,
		Err:        err,
		At:         time.Now(),
	}
}

func folderPath(item *model.IngestItem) string {
	if item.Folder == nil {
		return ""
	}
	return item.Folder.Path
}
