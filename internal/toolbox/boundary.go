package toolbox

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ignoredDirs are never listed or searched. Dotfiles are skipped separately.
var ignoredDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	"vendor":       true,
	".ada":         true,
}

func isIgnored(name string, dir bool) bool {
	if dir && ignoredDirs[name] {
		return true
	}
	return strings.HasPrefix(name, ".")
}

// within reports whether p equals root or lies beneath it. Both must be clean.
func within(root, p string) bool {
	if p == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}

// resolve maps a tool-supplied path onto the workspace. Relative and empty
// paths are taken relative to the root. The lexical result and its
// symlink-resolved form must both stay inside the root.
func (t *Toolset) resolve(op, path string) (string, error) {
	var p string
	switch {
	case path == "":
		p = t.root
	case filepath.IsAbs(path):
		p = filepath.Clean(path)
	default:
		p = filepath.Join(t.root, path)
	}

	if !within(t.root, p) && !within(t.realRoot, p) {
		return "", &SecurityError{Op: op, Path: path, Reason: "path escapes workspace"}
	}

	real, err := realPath(p)
	if err != nil {
		return "", &ExecutionError{Op: op, Path: path, Err: err}
	}
	if !within(t.realRoot, real) {
		return "", &SecurityError{Op: op, Path: path, Reason: "symlink escapes workspace"}
	}
	return p, nil
}

// realPath resolves symlinks on the deepest existing ancestor of p and
// re-attaches the components that do not exist yet.
func realPath(p string) (string, error) {
	var rest []string
	cur := p
	for {
		if _, err := os.Lstat(cur); err == nil {
			break
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		rest = append(rest, filepath.Base(cur))
		cur = parent
	}

	real, err := filepath.EvalSymlinks(cur)
	if err != nil {
		return "", err
	}
	for i := len(rest) - 1; i >= 0; i-- {
		real = filepath.Join(real, rest[i])
	}
	return real, nil
}

// rel returns p relative to the root using forward slashes.
func (t *Toolset) rel(p string) string {
	base := t.root
	if !within(t.root, p) {
		base = t.realRoot
	}
	r, err := filepath.Rel(base, p)
	if err != nil {
		return p
	}
	return filepath.ToSlash(r)
}
