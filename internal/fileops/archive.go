package fileops

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/LoopeyTheGreat/next-prism/internal/corerr"
)

// Archive copies src into archiveBase, preserving the immediate parent
// directory name when preserveStructure is set (spec.md §4.A). Collisions
// append a timestamp suffix. Archive failures are non-fatal to the caller
// (spec.md §7 KindArchiveFailure) but are still returned so the caller can
// log them.
func Archive(src, archiveBase string, preserveStructure bool) (string, error) {
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return "", corerr.Wrap(corerr.KindArchiveFailure, err, "source file not found: "+src)
		}
		return "", corerr.Wrap(corerr.KindArchiveFailure, err, "stat source: "+src)
	}

	var archiveDir string
	if preserveStructure {
		parent := filepath.Base(filepath.Dir(src))
		archiveDir = filepath.Join(archiveBase, parent)
	} else {
		archiveDir = archiveBase
	}

	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", corerr.Wrap(corerr.KindArchiveFailure, err, "create archive dir: "+archiveDir)
	}

	archivePath := filepath.Join(archiveDir, filepath.Base(src))
	if _, err := os.Stat(archivePath); err == nil {
		ext := filepath.Ext(archivePath)
		stem := archivePath[:len(archivePath)-len(ext)]
		archivePath = fmt.Sprintf("%s_%s%s", stem, now().Format("20060102_150405"), ext)
	}

	if err := copyFile(src, archivePath); err != nil {
		return "", corerr.Wrap(corerr.KindArchiveFailure, err, "copy to archive: "+archivePath)
	}

	return archivePath, nil
}
