package fsutil

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/zeebo/blake3"
)

// CopyTree recursively copies src into dst, creating dst if needed.
// Regular files keep their permission bits; symlinks are recreated as links
// rather than followed.
func CopyTree(src, dst string) error {
	return CopyTreeExcept(src, dst)
}

// CopyTreeExcept is CopyTree that leaves out the given absolute paths and
// everything beneath them.
func CopyTreeExcept(src, dst string, skip ...string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("copy tree: %s is not a directory", src)
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != src && slices.Contains(skip, path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			fi, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, fi.Mode().Perm()|0o700)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("readlink %s: %w", path, err)
			}
			os.Remove(target)
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			return CopyFile(path, target)
		default:
			// sockets, devices and pipes are not part of a repository
			return nil
		}
	})
}

// CopyFile copies a single regular file, overwriting dst.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(dst), err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s -> %s: %w", src, dst, err)
	}
	return out.Close()
}

// Digest returns the hex blake3 digest of a file's content.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ReconcileReport lists what Reconcile did, by top-level entry name.
type ReconcileReport struct {
	Copied    []string `json:"copied"`
	Unchanged []string `json:"unchanged"`
	Replaced  []string `json:"replaced"`
	Merged    []string `json:"merged,omitempty"`
}

// Reconcile copies the top level of src back over dst: files are overwritten
// (new files added) and directories are replaced wholesale. Files whose
// content is already identical are left untouched and reported as unchanged.
// Entries present only in dst are kept.
func Reconcile(src, dst string) (*ReconcileReport, error) {
	return ReconcileExcept(src, dst)
}

// ReconcileExcept is Reconcile that never removes the given absolute paths.
// A destination directory holding one of them is merged into entry by entry
// instead of being replaced.
func ReconcileExcept(src, dst string, skip ...string) (*ReconcileReport, error) {
	entries, err := os.ReadDir(src)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", src, err)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dst, err)
	}

	report := &ReconcileReport{}
	for _, entry := range entries {
		from := filepath.Join(src, entry.Name())
		to := filepath.Join(dst, entry.Name())

		if slices.Contains(skip, to) {
			continue
		}
		if holdsAny(to, skip) {
			if !entry.IsDir() {
				return report, fmt.Errorf("reconcile %s: would remove %s", entry.Name(), to)
			}
			if _, err := ReconcileExcept(from, to, skip...); err != nil {
				return report, fmt.Errorf("merge dir %s: %w", entry.Name(), err)
			}
			report.Merged = append(report.Merged, entry.Name())
			continue
		}

		switch {
		case entry.IsDir():
			if err := os.RemoveAll(to); err != nil {
				return report, fmt.Errorf("remove %s: %w", to, err)
			}
			if err := CopyTree(from, to); err != nil {
				return report, fmt.Errorf("copy dir %s: %w", entry.Name(), err)
			}
			report.Replaced = append(report.Replaced, entry.Name())
		case entry.Type().IsRegular():
			same, err := sameContent(from, to)
			if err != nil {
				return report, err
			}
			if same {
				report.Unchanged = append(report.Unchanged, entry.Name())
				continue
			}
			if fi, err := os.Lstat(to); err == nil && fi.IsDir() {
				if err := os.RemoveAll(to); err != nil {
					return report, fmt.Errorf("remove %s: %w", to, err)
				}
			}
			if err := CopyFile(from, to); err != nil {
				return report, err
			}
			report.Copied = append(report.Copied, entry.Name())
		}
	}
	return report, nil
}

// holdsAny reports whether one of paths lies strictly beneath dir.
func holdsAny(dir string, paths []string) bool {
	for _, p := range paths {
		rel, err := filepath.Rel(dir, p)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return true
	}
	return false
}

func sameContent(a, b string) (bool, error) {
	bi, err := os.Stat(b)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", b, err)
	}
	ai, err := os.Stat(a)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", a, err)
	}
	if !bi.Mode().IsRegular() || ai.Size() != bi.Size() {
		return false, nil
	}
	da, err := Digest(a)
	if err != nil {
		return false, err
	}
	db, err := Digest(b)
	if err != nil {
		return false, err
	}
	return da == db, nil
}
