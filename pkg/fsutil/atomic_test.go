package fsutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nammalakes/nodeup/pkg/fsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWrite_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.json")
	data := []byte(`{"key": "value"}`)

	err := fsutil.AtomicWrite(path, data, 0644)
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, content)
}

func TestAtomicWrite_OverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.json")
	os.WriteFile(path, []byte("old"), 0644)

	err := fsutil.AtomicWrite(path, []byte("new"), 0644)
	require.NoError(t, err)

	content, _ := os.ReadFile(path)
	assert.Equal(t, "new", string(content))
}

func TestAtomicWrite_NoTmpLeftOnSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.json")
	fsutil.AtomicWrite(path, []byte("data"), 0644)

	entries, _ := os.ReadDir(dir)
	assert.Len(t, entries, 1, "only the target file should exist")
}

func TestRenameAndSync(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	os.WriteFile(src, []byte("data"), 0644)

	err := fsutil.RenameAndSync(src, dst)
	require.NoError(t, err)

	assert.NoFileExists(t, src)
	content, _ := os.ReadFile(dst)
	assert.Equal(t, "data", string(content))
}

func TestDirExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	os.WriteFile(file, []byte("x"), 0644)

	ok, err := fsutil.DirExists(dir)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = fsutil.DirExists(file)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = fsutil.DirExists(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoveTree_MissingIsNoop(t *testing.T) {
	assert.NoError(t, fsutil.RemoveTree(filepath.Join(t.TempDir(), "nope")))
}

func TestSiblingPath(t *testing.T) {
	p := fsutil.SiblingPath("/srv/nodes/n1_backup", "staging", "abcd")
	assert.Equal(t, "/srv/nodes/.n1_backup.staging-abcd", p)
}

func TestAtomicWrite_MissingDirLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	err := fsutil.AtomicWrite(filepath.Join(dir, "absent", "f"), []byte("x"), 0644)
	require.Error(t, err)

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestAtomicWrite_AppliesPerm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lease")
	require.NoError(t, fsutil.AtomicWrite(path, []byte("x"), 0600))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
