package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestCopyTree(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "main.go"), "package main")
	writeFile(t, filepath.Join(src, "pkg", "lib", "lib.go"), "package lib")
	require.NoError(t, os.Symlink("main.go", filepath.Join(src, "link.go")))

	dst := filepath.Join(t.TempDir(), "copy")
	require.NoError(t, CopyTree(src, dst))

	assert.Equal(t, "package main", readFile(t, filepath.Join(dst, "main.go")))
	assert.Equal(t, "package lib", readFile(t, filepath.Join(dst, "pkg", "lib", "lib.go")))

	link, err := os.Readlink(filepath.Join(dst, "link.go"))
	require.NoError(t, err)
	assert.Equal(t, "main.go", link)
}

func TestCopyTreeExcept(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "keep.txt"), "k")
	writeFile(t, filepath.Join(src, ".ada_sandbox", "task_x", "repo", "keep.txt"), "nested")

	dst := filepath.Join(t.TempDir(), "copy")
	require.NoError(t, CopyTreeExcept(src, dst, filepath.Join(src, ".ada_sandbox")))

	assert.FileExists(t, filepath.Join(dst, "keep.txt"))
	assert.NoDirExists(t, filepath.Join(dst, ".ada_sandbox"))
}

func TestCopyTree_SourceNotDir(t *testing.T) {
	src := filepath.Join(t.TempDir(), "file")
	writeFile(t, src, "x")
	assert.Error(t, CopyTree(src, t.TempDir()))
}

func TestDigest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a"), "same")
	writeFile(t, filepath.Join(dir, "b"), "same")
	writeFile(t, filepath.Join(dir, "c"), "different")

	da, err := Digest(filepath.Join(dir, "a"))
	require.NoError(t, err)
	db, err := Digest(filepath.Join(dir, "b"))
	require.NoError(t, err)
	dc, err := Digest(filepath.Join(dir, "c"))
	require.NoError(t, err)

	assert.Equal(t, da, db)
	assert.NotEqual(t, da, dc)
	assert.Len(t, da, 64)
}

func TestReconcile(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	writeFile(t, filepath.Join(src, "x.txt"), "new file")
	writeFile(t, filepath.Join(src, "same.txt"), "unchanged")
	writeFile(t, filepath.Join(src, "edit.txt"), "after")
	writeFile(t, filepath.Join(src, "pkg", "a.go"), "package pkg")

	writeFile(t, filepath.Join(dst, "same.txt"), "unchanged")
	writeFile(t, filepath.Join(dst, "edit.txt"), "before")
	writeFile(t, filepath.Join(dst, "pkg", "stale.go"), "package pkg // stale")
	writeFile(t, filepath.Join(dst, "keep.txt"), "only in destination")

	report, err := Reconcile(src, dst)
	require.NoError(t, err)

	assert.Equal(t, "new file", readFile(t, filepath.Join(dst, "x.txt")))
	assert.Equal(t, "after", readFile(t, filepath.Join(dst, "edit.txt")))
	assert.Equal(t, "package pkg", readFile(t, filepath.Join(dst, "pkg", "a.go")))
	assert.NoFileExists(t, filepath.Join(dst, "pkg", "stale.go"), "directories are replaced wholesale")
	assert.FileExists(t, filepath.Join(dst, "keep.txt"))

	assert.ElementsMatch(t, []string{"x.txt", "edit.txt"}, report.Copied)
	assert.ElementsMatch(t, []string{"same.txt"}, report.Unchanged)
	assert.ElementsMatch(t, []string{"pkg"}, report.Replaced)
}

func TestReconcile_FileReplacesDirectory(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(src, "thing"), "now a file")
	writeFile(t, filepath.Join(dst, "thing", "inner.txt"), "was a dir")

	_, err := Reconcile(src, dst)
	require.NoError(t, err)
	assert.Equal(t, "now a file", readFile(t, filepath.Join(dst, "thing")))
}

func TestReconcileExcept_MergesDirectoryHoldingSkippedPath(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	sandbox := filepath.Join(dst, "pkg", "sandbox")

	writeFile(t, filepath.Join(src, "pkg", "old.go"), "package pkg // edited")
	writeFile(t, filepath.Join(src, "pkg", "new.go"), "package pkg // new")
	writeFile(t, filepath.Join(src, "pkg", "sub", "a.go"), "package sub")

	writeFile(t, filepath.Join(dst, "pkg", "old.go"), "package pkg")
	writeFile(t, filepath.Join(dst, "pkg", "sub", "stale.go"), "package sub // stale")
	writeFile(t, filepath.Join(sandbox, "task_x", "repo", "live.txt"), "workspace")

	report, err := ReconcileExcept(src, dst, sandbox)
	require.NoError(t, err)

	assert.Equal(t, "package pkg // edited", readFile(t, filepath.Join(dst, "pkg", "old.go")))
	assert.Equal(t, "package pkg // new", readFile(t, filepath.Join(dst, "pkg", "new.go")))
	assert.FileExists(t, filepath.Join(sandbox, "task_x", "repo", "live.txt"))
	assert.FileExists(t, filepath.Join(dst, "pkg", "sub", "a.go"))
	assert.NoFileExists(t, filepath.Join(dst, "pkg", "sub", "stale.go"))
	assert.Equal(t, []string{"pkg"}, report.Merged)
	assert.Empty(t, report.Replaced)
}

func TestReconcileExcept_LeavesSkippedPathAlone(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(src, ".sandbox", "stray.txt"), "from workspace")
	writeFile(t, filepath.Join(dst, ".sandbox", "task_x", "keep.txt"), "live")

	_, err := ReconcileExcept(src, dst, filepath.Join(dst, ".sandbox"))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dst, ".sandbox", "task_x", "keep.txt"))
	assert.NoFileExists(t, filepath.Join(dst, ".sandbox", "stray.txt"))
}
