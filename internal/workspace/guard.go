package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrAccessDenied is returned whenever a path falls outside the project root,
// or when no root is configured at all.
var ErrAccessDenied = errors.New("access denied: path outside project root")

// Guard scopes every file-system operation to a single project root. The zero
// value has no root and fails every check closed.
type Guard struct {
	root string
}

// NewGuard builds a guard for the given directory. The root is stored in
// absolute, cleaned form.
func NewGuard(root string) (Guard, error) {
	if root == "" {
		return Guard{}, errors.New("project root must not be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return Guard{}, fmt.Errorf("resolve root: %w", err)
	}
	return Guard{root: filepath.Clean(abs)}, nil
}

// Root returns the absolute project root, or "" when none is set.
func (g Guard) Root() string {
	return g.root
}

// IsWithinRoot reports whether the normalized target lies inside the root.
// With no root configured it is always false.
func (g Guard) IsWithinRoot(target string) bool {
	_, err := g.Resolve(target)
	return err == nil
}

// Resolve turns a workspace-relative (or absolute) path into an absolute path
// under the root. Containment is checked on the separator-normalized,
// case-folded forms of both paths.
func (g Guard) Resolve(path string) (string, error) {
	if g.root == "" {
		return "", ErrAccessDenied
	}
	var target string
	if path == "" {
		target = g.root
	} else if filepath.IsAbs(path) {
		target = path
	} else {
		target = filepath.Join(g.root, path)
	}
	cleaned, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	folded := strings.ToLower(filepath.ToSlash(cleaned))
	rootFolded := strings.ToLower(filepath.ToSlash(g.root))
	if folded != rootFolded && !strings.HasPrefix(folded, rootFolded+"/") {
		return "", fmt.Errorf("%w: %s", ErrAccessDenied, path)
	}
	return cleaned, nil
}

// Rel converts an absolute path back to its workspace-relative form for
// display. Paths outside the root are returned unchanged.
func (g Guard) Rel(path string) string {
	if g.root == "" {
		return path
	}
	rel, err := filepath.Rel(g.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

// ValidateDir checks that the root still exists as a directory on disk.
func (g Guard) ValidateDir() error {
	if g.root == "" {
		return ErrAccessDenied
	}
	info, err := os.Stat(g.root)
	if err != nil {
		return fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", g.root)
	}
	return nil
}
