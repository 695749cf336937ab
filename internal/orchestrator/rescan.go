package orchestrator

import (
	"os"
	"path/filepath"

	"github.com/LoopeyTheGreat/next-prism/internal/fileops"
	"github.com/LoopeyTheGreat/next-prism/internal/model"
	"github.com/LoopeyTheGreat/next-prism/internal/watch"
)

// rescanOne walks folder's tree and invokes onStable for every file that
// would have passed the watcher's stability checks, implementing
// RescanFolder's "enumerates that folder's current contents as if each file
// had just stabilised" behavior (spec.md §6).
func rescanOne(folder *model.MonitoredFolder, onStable watch.StableFunc) error {
	return filepath.WalkDir(folder.Path, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !fileops.IsImage(path, folder.Extensions) || fileops.IsHiddenOrTemp(path) {
			return nil
		}
		onStable(path, folder)
		return nil
	})
}
