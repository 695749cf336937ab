// Package model holds the data types shared across the ingestion core:
// MonitoredFolder, IngestItem, SyncResult and the priority enum, as described
// in spec.md §3. Keeping them in one leaf package lets every component
// (watch, queue, syncengine, orchestrator) depend on the same vocabulary
// without importing each other.
package model

// FolderKind distinguishes a Nextcloud per-user photo folder from an
// arbitrary operator-supplied directory.
type FolderKind uint8

const (
	// FolderKindUserRoot is a per-user Nextcloud photo folder discovered by
	// internal/discovery.
	FolderKindUserRoot FolderKind = iota
	// FolderKindCustom is an arbitrary path the operator configured directly.
	FolderKindCustom
)

func (k FolderKind) String() string {
	if k == FolderKindUserRoot {
		return "user-root"
	}
	return "custom"
}

// MonitoredFolder is an immutable description of a single folder under
// watch. Instances are replaced wholesale on config reload (spec.md §9's
// "immutable config value, atomically published" redesign); nothing in the
// core mutates a MonitoredFolder in place.
type MonitoredFolder struct {
	// Path is the absolute path to the folder.
	Path string
	// Kind records how this folder was configured.
	Kind FolderKind
	// Enabled gates whether the watcher installs a subscription and whether
	// RescanFolder(nil, ...) includes this folder.
	Enabled bool
	// Cron is an optional per-folder schedule string, opaque to the core;
	// it is consumed only by the (out-of-scope) scheduler collaborator.
	Cron string
	// ArchiveOnMove selects the duplicate-hit policy in internal/syncengine:
	// archive-then-unlink instead of a bare unlink.
	ArchiveOnMove bool
	// ArchiveRoot overrides the default "<folder>/.archive" archive base.
	ArchiveRoot string
	// Extensions is the lowercase, dot-less set of allowed extensions, e.g.
	// {"jpg": {}, "png": {}}.
	Extensions map[string]struct{}
}

// ArchiveBase returns the effective archive root for this folder, applying
// the "<folder>/.archive" default from spec.md §4.I.
func (f *MonitoredFolder) ArchiveBase() string {
	if f.ArchiveRoot != "" {
		return f.ArchiveRoot
	}
	return f.Path + "/.archive"
}

// AllowsExtension reports whether ext (without a leading dot, any case) is
// in the folder's allowed set.
func (f *MonitoredFolder) AllowsExtension(ext string) bool {
	if f.Extensions == nil {
		return false
	}
	_, ok := f.Extensions[normalizeExt(ext)]
	return ok
}

func normalizeExt(ext string) string {
	out := make([]byte, 0, len(ext))
	for i := 0; i < len(ext); i++ {
		c := ext[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
