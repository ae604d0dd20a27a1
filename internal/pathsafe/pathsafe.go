// Package pathsafe validates client-supplied relative paths against a task's
// output directory. It is the only defense against path traversal on the
// download route and must sit in front of every file-serving call.
package pathsafe

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidPath marks a path that escapes the task output directory.
var ErrInvalidPath = errors.New("path escapes task output directory")

// Resolve joins relative onto baseDir and returns the absolute target path.
// The target is accepted only if its canonical form stays under the canonical
// base directory; traversal sequences, absolute overrides, and symlinks
// pointing outside all yield ErrInvalidPath.
func Resolve(baseDir, relative string) (string, error) {
	if relative == "" || filepath.IsAbs(relative) {
		return "", ErrInvalidPath
	}
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return "", ErrInvalidPath
	}
	base = canonical(base)
	target := filepath.Join(base, filepath.FromSlash(relative))
	if !within(base, target) {
		return "", ErrInvalidPath
	}
	// A symlink inside the output dir may still point elsewhere; re-check the
	// canonical form when the target exists.
	if resolved, err := filepath.EvalSymlinks(target); err == nil {
		if !within(base, resolved) {
			return "", ErrInvalidPath
		}
		return resolved, nil
	}
	return target, nil
}

// canonical resolves symlinks in base when it exists; a missing base keeps its
// lexical form so validation still applies before any file is created.
func canonical(base string) string {
	if resolved, err := filepath.EvalSymlinks(base); err == nil {
		return resolved
	}
	return filepath.Clean(base)
}

func within(base, target string) bool {
	if target == base {
		return true
	}
	return strings.HasPrefix(target, base+string(os.PathSeparator))
}
