package fileops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestMove_HappyPath(t *testing.T) {
	srcDir := t.TempDir()
	destDir := filepath.Join(t.TempDir(), "import")

	src := filepath.Join(srcDir, "a.jpg")
	writeFile(t, src, "photo bytes")

	result, err := Move(src, destDir, true, CollisionRename)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(destDir, "a.jpg"), result.DestPath)
	assert.NoFileExists(t, src)
	assert.FileExists(t, result.DestPath)
}

func TestMove_CollisionSkip(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()

	writeFile(t, filepath.Join(destDir, "a.jpg"), "existing")
	src := filepath.Join(srcDir, "a.jpg")
	writeFile(t, src, "new bytes")

	result, err := Move(src, destDir, true, CollisionSkip)
	require.NoError(t, err)
	assert.True(t, result.AlreadyExists)
	assert.FileExists(t, src, "skip policy must leave source in place")
}

func TestMove_CollisionOverwrite(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()

	dest := filepath.Join(destDir, "a.jpg")
	writeFile(t, dest, "old bytes")
	src := filepath.Join(srcDir, "a.jpg")
	writeFile(t, src, "new bytes")

	result, err := Move(src, destDir, true, CollisionOverwrite)
	require.NoError(t, err)
	assert.Equal(t, dest, result.DestPath)

	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "new bytes", string(content))
}

func TestMove_CollisionRename(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	origNow := now
	now = func() time.Time { return fixed }
	defer func() { now = origNow }()

	srcDir := t.TempDir()
	destDir := t.TempDir()
	writeFile(t, filepath.Join(destDir, "a.jpg"), "existing-x")

	src := filepath.Join(srcDir, "a.jpg")
	writeFile(t, src, "new-y")

	result, err := Move(src, destDir, true, CollisionRename)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(destDir, "a_20240101_000000.jpg"), result.DestPath)

	// A second "a.jpg" collides with both the original and the renamed
	// target, so it must fall back to the numeric suffix.
	src2 := filepath.Join(t.TempDir(), "a.jpg")
	writeFile(t, src2, "new-w")
	result2, err := Move(src2, destDir, true, CollisionRename)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(destDir, "a_20240101_000000_1.jpg"), result2.DestPath)
}

func TestMove_VerifyTrueProducesMatchingDigest(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()
	src := filepath.Join(srcDir, "a.jpg")
	writeFile(t, src, "bytes")

	preHash, err := Hash(src)
	require.NoError(t, err)

	result, err := Move(src, destDir, true, CollisionRename)
	require.NoError(t, err)

	postHash, err := Hash(result.DestPath)
	require.NoError(t, err)
	assert.Equal(t, preHash, postHash)
}

func TestMove_MissingSource(t *testing.T) {
	_, err := Move(filepath.Join(t.TempDir(), "missing.jpg"), t.TempDir(), true, CollisionRename)
	require.Error(t, err)
}

func TestMove_CreatesDestDir(t *testing.T) {
	srcDir := t.TempDir()
	destDir := filepath.Join(t.TempDir(), "nested", "import")
	src := filepath.Join(srcDir, "a.jpg")
	writeFile(t, src, "bytes")

	result, err := Move(src, destDir, false, CollisionRename)
	require.NoError(t, err)
	assert.DirExists(t, destDir)
	assert.FileExists(t, result.DestPath)
}
