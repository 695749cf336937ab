// Package discovery implements spec.md component D: enumerating per-user
// Nextcloud photo folders under a data root. It is grounded on the original
// source's NextcloudUserDetector (src/monitoring/watcher.py), ported from a
// Set[str] of usernames into a slice of resolved MonitoredFolder values
// ready to hand to internal/watch.
package discovery

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/LoopeyTheGreat/next-prism/internal/model"
)

// reservedPrefixes and reservedNames implement the "system reserved name"
// rule from spec.md §4.D, taken from detect_users' skip list.
var reservedNames = map[string]struct{}{
	"__groupfolders": {},
	"files_external": {},
	".ocdata":        {},
}

var reservedPrefixes = []string{"appdata_"}

// isReserved reports whether name is a system-reserved top-level entry that
// is never a Nextcloud user directory.
func isReserved(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	if _, ok := reservedNames[name]; ok {
		return true
	}
	for _, prefix := range reservedPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// candidatePhotoDirs is tried in order for each user, implementing the
// "Photos then photos (case fallback)" rule from spec.md §4.D.
var candidatePhotoDirs = []string{"Photos", "photos"}

// User describes one discovered Nextcloud user and the resolved photo path,
// the unit the config collaborator turns into a model.MonitoredFolder.
type User struct {
	Name       string
	PhotosPath string
}

// Enumerate scans dataRoot's immediate subdirectories, applies the
// include/exclude filters (whitelist then blacklist, spec.md §4.D), and
// resolves each surviving user's photo path. Users whose photo directory
// cannot be resolved are skipped, not reported as an error.
func Enumerate(dataRoot string, include, exclude []string) ([]User, error) {
	entries, err := os.ReadDir(dataRoot)
	if err != nil {
		return nil, err
	}

	includeSet := toSet(include)
	excludeSet := toSet(exclude)

	var users []User
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if isReserved(name) {
			continue
		}

		userDir := filepath.Join(dataRoot, name)
		filesDir := filepath.Join(userDir, "files")
		info, err := os.Stat(filesDir)
		if err != nil || !info.IsDir() {
			continue
		}

		if len(includeSet) > 0 {
			if _, ok := includeSet[name]; !ok {
				continue
			}
		}
		if _, ok := excludeSet[name]; ok {
			continue
		}

		photosPath, ok := resolvePhotosPath(filesDir)
		if !ok {
			continue
		}

		users = append(users, User{Name: name, PhotosPath: photosPath})
	}

	return users, nil
}

func resolvePhotosPath(filesDir string) (string, bool) {
	for _, candidate := range candidatePhotoDirs {
		path := filepath.Join(filesDir, candidate)
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return path, true
		}
	}
	return "", false
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

// ToMonitoredFolders converts discovered users into MonitoredFolder values
// using a shared extension set and archive policy, for callers that want the
// config collaborator's typed records directly rather than the raw User
// list.
func ToMonitoredFolders(users []User, extensions map[string]struct{}, archiveOnMove bool) []*model.MonitoredFolder {
	folders := make([]*model.MonitoredFolder, 0, len(users))
	for _, u := range users {
		folders = append(folders, &model.MonitoredFolder{
			Path:          u.PhotosPath,
			Kind:          model.FolderKindUserRoot,
			Enabled:       true,
			ArchiveOnMove: archiveOnMove,
			Extensions:    extensions,
		})
	}
	return folders
}
