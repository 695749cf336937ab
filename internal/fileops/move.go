package fileops

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/LoopeyTheGreat/next-prism/internal/corerr"
)

// CollisionPolicy selects how Move resolves a filename collision at the
// destination (spec.md §4.A).
type CollisionPolicy uint8

const (
	// CollisionRename appends "_YYYYMMDD_HHMMSS" then "_<n>" until unique.
	CollisionRename CollisionPolicy = iota
	// CollisionSkip leaves the source in place and reports already-exists.
	CollisionSkip
	// CollisionOverwrite replaces the destination unconditionally.
	CollisionOverwrite
)

// MoveResult carries the outcome of Move without relying on exceptions for
// control flow (spec.md §9's "result value" redesign).
type MoveResult struct {
	// DestPath is the final destination path on success. When CollisionSkip
	// left the source untouched it holds the source path instead.
	DestPath string
	// AlreadyExists is set when CollisionSkip left the source untouched;
	// this is a non-error outcome per spec.md §4.A.
	AlreadyExists bool
}

// now is overridable in tests so the rename-collision suffix is
// deterministic.
var now = time.Now

// Move implements the File Operations move contract from spec.md §4.A:
// create destDir if absent, resolve collisions per policy, optionally verify
// the post-move digest against the pre-move digest, and prefer a
// same-filesystem rename over copy-then-unlink.
func Move(src, destDir string, verify bool, policy CollisionPolicy) (MoveResult, error) {
	info, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return MoveResult{}, corerr.Wrap(corerr.KindNotFound, err, "source file not found: "+src)
		}
		return MoveResult{}, corerr.Wrap(corerr.KindMoveFailure, err, "stat source: "+src)
	}
	if info.IsDir() {
		return MoveResult{}, corerr.New(corerr.KindMoveFailure, "source is not a file: %s", src)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return MoveResult{}, corerr.Wrap(corerr.KindMoveFailure, err, "create destination dir: "+destDir)
	}

	destPath := filepath.Join(destDir, filepath.Base(src))
	if _, statErr := os.Stat(destPath); statErr == nil {
		switch policy {
		case CollisionSkip:
			return MoveResult{DestPath: src, AlreadyExists: true}, nil
		case CollisionRename:
			destPath = uniqueRenamedPath(destPath)
		case CollisionOverwrite:
			// Fall through; os.Rename/copy below replaces it unconditionally.
		}
	}

	var sourceHash string
	if verify {
		sourceHash, err = Hash(src)
		if err != nil {
			return MoveResult{}, err
		}
	}

	if err := moveFile(src, destPath); err != nil {
		return MoveResult{}, corerr.Wrap(corerr.KindMoveFailure, err, "move "+src+" to "+destPath)
	}

	if verify {
		destHash, err := Hash(destPath)
		if err != nil {
			_ = os.Remove(destPath)
			return MoveResult{}, corerr.Wrap(corerr.KindVerifyMismatch, err, "hash destination after move: "+destPath)
		}
		if destHash != sourceHash {
			_ = os.Remove(destPath)
			return MoveResult{}, corerr.New(corerr.KindVerifyMismatch, "hash mismatch after move: %s", destPath)
		}
	}

	return MoveResult{DestPath: destPath}, nil
}

// moveFile renames src to dst, falling back to copy-then-unlink when rename
// fails across filesystem boundaries (spec.md §4.A: "same-filesystem rename
// MUST be used when available, otherwise copy-then-unlink").
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	if err := copyFile(src, dst); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// uniqueRenamedPath appends a timestamp, and then a numeric suffix if
// needed, until the path is free (spec.md §4.A CollisionRename).
func uniqueRenamedPath(path string) string {
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(filepath.Base(path), ext)

	candidate := filepath.Join(dir, fmt.Sprintf("%s_%s%s", stem, now().Format("20060102_150405"), ext))
	if _, err := os.Stat(candidate); err != nil {
		return candidate
	}

	for n := 1; ; n++ {
		numbered := filepath.Join(dir, fmt.Sprintf("%s_%s_%d%s", stem, now().Format("20060102_150405"), n, ext))
		if _, err := os.Stat(numbered); err != nil {
			return numbered
		}
	}
}
