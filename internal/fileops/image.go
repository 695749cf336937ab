package fileops

import (
	"path/filepath"
	"strings"
)

// DefaultExtensions is the reference image extension set from the original
// source's is_image_file default list (src/utils/file_ops.py), used when a
// MonitoredFolder does not narrow it further.
var DefaultExtensions = []string{
	"jpg", "jpeg", "png", "gif", "bmp", "tiff", "tif",
	"heic", "heif", "webp", "raw", "cr2", "nef", "arw",
	"dng", "orf", "rw2", "pef", "srw",
}

// IsImage reports whether path's extension (case-insensitive, dot-less) is
// present in extSet (spec.md §4.A).
func IsImage(path string, extSet map[string]struct{}) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		return false
	}
	_, ok := extSet[ext]
	return ok
}

// ExtensionSet builds the lookup set used by IsImage and
// model.MonitoredFolder.Extensions from a slice of extensions.
func ExtensionSet(extensions []string) map[string]struct{} {
	set := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		set[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}
	return set
}

// IsHiddenOrTemp applies the watcher's filename heuristic from spec.md §4.C:
// reject leading '.' or '~', trailing ".tmp" or ".part".
func IsHiddenOrTemp(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~") {
		return true
	}
	if strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, ".part") {
		return true
	}
	return false
}
