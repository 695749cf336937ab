// Package fileops implements spec.md component A: content hashing, the
// atomic move/verify/collision transaction, archiving, and the image
// extension filter. It is grounded on the original source's
// src/utils/file_ops.py and file_mover.py, reworked into Go result values
// (no exception-for-control-flow, per spec.md §9) and accelerated hashing
// from github.com/minio/sha256-simd, named in kopia's go.mod as a drop-in
// crypto/sha256 replacement.
package fileops

import (
	"encoding/hex"
	"io"
	"os"

	"github.com/minio/sha256-simd"

	"github.com/LoopeyTheGreat/next-prism/internal/corerr"
)

// chunkSize is the read buffer size used while hashing (spec.md §4.A
// reference: 64 KiB).
const chunkSize = 64 * 1024

// Hash computes the hex-encoded SHA-256 digest of path, reading it in fixed
// chunks. Hashing a missing path is a hard failure (spec.md §4.A).
func Hash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", corerr.Wrap(corerr.KindNotFound, err, "source file not found: "+path)
		}
		return "", corerr.Wrap(corerr.KindHashFailure, err, "open for hashing: "+path)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", corerr.Wrap(corerr.KindHashFailure, err, "read for hashing: "+path)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
