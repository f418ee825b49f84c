package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSFileSystem_Exists(t *testing.T) {
	fsys := OSFileSystem{}

	if !fsys.Exists("filesystem.go") {
		t.Error("expected filesystem.go to exist")
	}
	if fsys.Exists("nonexistent_file_xyz.go") {
		t.Error("expected nonexistent file to not exist")
	}
}

func TestOSFileSystem_MkdirClaimsOnce(t *testing.T) {
	fsys := OSFileSystem{}
	dir := filepath.Join(t.TempDir(), "capture")

	require.NoError(t, fsys.Mkdir(dir, 0o755))
	err := fsys.Mkdir(dir, 0o755)
	if !errors.Is(err, fs.ErrExist) {
		t.Fatalf("second Mkdir error = %v, want fs.ErrExist", err)
	}
}

func TestOSFileSystem_WriteRenameRead(t *testing.T) {
	fsys := OSFileSystem{}
	dir := t.TempDir()
	tmp := filepath.Join(dir, "meta.json.partial")
	final := filepath.Join(dir, "meta.json")

	require.NoError(t, fsys.WriteFile(tmp, []byte(`{"ok":true}`), 0o644))
	require.NoError(t, fsys.Rename(tmp, final))
	assert.False(t, fsys.Exists(tmp))

	data, err := fsys.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))

	entries, err := fsys.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "meta.json", entries[0].Name())
}

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	mfs := NewMemoryFileSystem()

	testData := []byte("hello, world")
	if err := mfs.WriteFile("test.txt", testData, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	data, err := mfs.ReadFile("test.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != string(testData) {
		t.Errorf("expected %q, got %q", testData, data)
	}

	// Returned slices are copies.
	data[0] = 'H'
	again, _ := mfs.ReadFile("test.txt")
	assert.Equal(t, "hello, world", string(again))
}

func TestMemoryFileSystem_WriteRequiresParent(t *testing.T) {
	mfs := NewMemoryFileSystem()

	err := mfs.WriteFile("captures/a/frame.jpg", []byte{1}, 0o644)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	require.NoError(t, mfs.MkdirAll("captures/a", 0o755))
	assert.NoError(t, mfs.WriteFile("captures/a/frame.jpg", []byte{1}, 0o644))
}

func TestMemoryFileSystem_Mkdir(t *testing.T) {
	mfs := NewMemoryFileSystem()
	require.NoError(t, mfs.MkdirAll("captures", 0o755))

	require.NoError(t, mfs.Mkdir("captures/one", 0o755))
	assert.ErrorIs(t, mfs.Mkdir("captures/one", 0o755), fs.ErrExist)
	assert.ErrorIs(t, mfs.Mkdir("missing/one", 0o755), fs.ErrNotExist)

	info, err := mfs.Stat("captures/one")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestMemoryFileSystem_RenameAndReadDir(t *testing.T) {
	mfs := NewMemoryFileSystem()
	require.NoError(t, mfs.MkdirAll("root/b", 0o755))
	require.NoError(t, mfs.MkdirAll("root/a", 0o755))
	require.NoError(t, mfs.WriteFile("root/z.partial", []byte("z"), 0o644))
	require.NoError(t, mfs.Rename("root/z.partial", "root/z"))

	entries, err := mfs.ReadDir("root")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"a", "b", "z"}, names)
	assert.True(t, entries[0].IsDir())
	assert.False(t, entries[2].IsDir())

	err = mfs.Rename("root/nope", "root/x")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestMemoryFileSystem_Faults(t *testing.T) {
	mfs := NewMemoryFileSystem()
	require.NoError(t, mfs.MkdirAll("c", 0o755))

	mfs.FailOn(OpWriteFile, "depth.bin", syscall.ENOSPC)
	err := mfs.WriteFile("c/depth.bin", []byte{1, 2, 3}, 0o644)
	assert.ErrorIs(t, err, syscall.ENOSPC)
	assert.False(t, mfs.Exists("c/depth.bin"))

	// Other paths are unaffected.
	assert.NoError(t, mfs.WriteFile("c/frame.jpg", []byte{1}, 0o644))

	mfs.ClearFaults()
	mfs.FailWriteAfter("meta.json", 2, syscall.EIO)
	err = mfs.WriteFile("c/meta.json", []byte("{}\n"), 0o644)
	assert.ErrorIs(t, err, syscall.EIO)
	data, err := mfs.ReadFile("c/meta.json")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	mfs.FailOn(OpRename, "frame.jpg", syscall.EROFS)
	assert.ErrorIs(t, mfs.Rename("c/meta.json", "c/frame.jpg"), syscall.EROFS)
}

func TestMemoryFileSystem_RemoveAll(t *testing.T) {
	mfs := NewMemoryFileSystem()
	require.NoError(t, mfs.MkdirAll("a/b", 0o755))
	require.NoError(t, mfs.WriteFile("a/b/x", nil, 0o644))
	require.NoError(t, mfs.WriteFile("a/y", nil, 0o644))

	assert.Error(t, mfs.Remove("a/b"), "non-empty directory")
	require.NoError(t, mfs.RemoveAll("a"))
	assert.Empty(t, mfs.Files())
	assert.False(t, mfs.Exists("a/b"))
}
