package dedup

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_RecordThenIsDuplicate(t *testing.T) {
	c := New()
	ok, _ := c.IsDuplicate("abc")
	assert.False(t, ok)

	c.Record("/imp/a.jpg", "abc")
	ok, path := c.IsDuplicate("abc")
	assert.True(t, ok)
	assert.Equal(t, "/imp/a.jpg", path)
}

func TestCache_ClearEvictsEverything(t *testing.T) {
	c := New()
	c.Record("/imp/a.jpg", "abc")
	c.Clear()
	ok, _ := c.IsDuplicate("abc")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_RecordIsIdempotent(t *testing.T) {
	c := New()
	c.Record("/imp/a.jpg", "abc")
	c.Record("/imp/a.jpg", "abc")
	assert.Equal(t, 1, c.Len())
}

func TestCache_ConcurrentReadWrite(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		i := i
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Record(filepath.Join("/imp", "f"), hashFor(i))
		}()
		go func() {
			defer wg.Done()
			c.IsDuplicate(hashFor(i))
		}()
	}
	wg.Wait()
	assert.Equal(t, 64, c.Len())
}

func TestCache_LoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("content-a"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.jpg"), []byte("content-b"), 0o644))

	c := New()
	require.NoError(t, c.LoadFromDirectory(dir))
	assert.Equal(t, 2, c.Len())
}

func hashFor(i int) string {
	const hex = "0123456789abcdef"
	return string([]byte{hex[i%16], hex[(i/16)%16]})
}
