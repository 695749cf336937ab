// Package dedup implements spec.md component B: an in-memory content-hash
// index of the destination library. It is grounded on the original source's
// Deduplicator.build_directory_hash_index/check_duplicate_fast
// (src/sync_engine/deduplicator.py), reworked from a single dict behind no
// lock into a sharded map so concurrent Sync Engine workers can record
// without serializing on one mutex (spec.md §5: "many-reader, many-writer;
// per-bucket consistency is enough").
package dedup

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/LoopeyTheGreat/next-prism/internal/corelog"
	"github.com/LoopeyTheGreat/next-prism/internal/fileops"
)

// shardCount bounds lock contention across hash buckets; the cache never
// needs more concurrency than this to keep pace with a handful of sync
// workers.
const shardCount = 32

type shard struct {
	mu    sync.RWMutex
	paths map[string][]string // hash -> destination paths
}

// Cache is the content-hash index described in spec.md §3/§4.B. The zero
// value is not usable; construct with New.
type Cache struct {
	shards [shardCount]*shard
	log    *logrus.Entry
}

// New constructs an empty Cache.
func New() *Cache {
	c := &Cache{log: defaultLogger()}
	for i := range c.shards {
		c.shards[i] = &shard{paths: make(map[string][]string)}
	}
	return c
}

func (c *Cache) shardFor(hash string) *shard {
	if len(hash) == 0 {
		return c.shards[0]
	}
	return c.shards[int(hash[0])%shardCount]
}

// Record adds path as a known location for hash. Record is monotonic
// between Clear calls: nothing is ever evicted by a successful record
// (spec.md §4.B invariant).
func (c *Cache) Record(path, hash string) {
	s := c.shardFor(hash)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.paths[hash] {
		if existing == path {
			return
		}
	}
	s.paths[hash] = append(s.paths[hash], path)
}

// IsDuplicate reports whether hash is already known, along with the first
// recorded path. The caller must tolerate false positives (the path may
// have since been deleted): spec.md §4.B treats this as advisory.
func (c *Cache) IsDuplicate(hash string) (bool, string) {
	s := c.shardFor(hash)
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := s.paths[hash]
	if len(paths) == 0 {
		return false, ""
	}
	return true, paths[0]
}

// Clear removes every entry, the only operation permitted to evict
// (spec.md §4.B).
func (c *Cache) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.paths = make(map[string][]string)
		s.mu.Unlock()
	}
}

// Len returns the total number of distinct hashes recorded, for stats/tests.
func (c *Cache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.paths)
		s.mu.RUnlock()
	}
	return total
}

// LoadFromDirectory recursively hashes every regular file under dir and
// records hash -> path, implementing the startup scan from spec.md §4.B.
// Individual hash failures are logged and skipped rather than aborting the
// whole walk, matching build_directory_hash_index's "warn and continue"
// behavior in the original source.
func (c *Cache) LoadFromDirectory(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		hash, err := fileops.Hash(path)
		if err != nil {
			c.log.WithError(err).WithField("path", path).Warn("skipping file during dedup cache load")
			return nil
		}
		c.Record(path, hash)
		return nil
	})
}

func defaultLogger() *logrus.Entry {
	return corelog.For("dedup")
}
