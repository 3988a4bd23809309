// Package pathsandbox resolves user-supplied file paths (profile,
// stimulus, container files) against an optional base directory,
// rejecting traversal outside of it. Adapted from the teacher's
// FileIODevice sanitizePath helper (file_io.go), which guarded the VM's
// host filesystem bridge the same way; gcore reuses it everywhere a verb
// argument names a file (set-profile/reads/writes/load).
package pathsandbox

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Sandbox resolves paths against a base directory. A zero-value Sandbox
// (empty Base) performs no containment check and simply cleans the path,
// for callers that operate over the whole filesystem (the CLI invoked
// directly with absolute paths).
type Sandbox struct {
	Base string
}

// New creates a Sandbox rooted at baseDir. baseDir is converted to an
// absolute path; if that fails the original string is kept as-is, mirroring
// the teacher's fallback behavior rather than failing construction.
func New(baseDir string) Sandbox {
	if baseDir == "" {
		return Sandbox{}
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		abs = baseDir
	}
	return Sandbox{Base: abs}
}

// Resolve rejects absolute paths and ".." components when a base
// directory is configured, then joins and cleans against it. Without a
// base directory it only cleans the path.
func (s Sandbox) Resolve(path string) (string, error) {
	if s.Base == "" {
		return filepath.Clean(path), nil
	}
	if filepath.IsAbs(path) || strings.Contains(path, "..") {
		return "", fmt.Errorf("pathsandbox: path traversal rejected: %q", path)
	}
	full := filepath.Join(s.Base, path)
	rel, err := filepath.Rel(s.Base, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("pathsandbox: path escapes sandbox: %q", path)
	}
	return full, nil
}
