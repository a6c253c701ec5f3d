package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestGuardResolvesInsideRoot(t *testing.T) {
	root := t.TempDir()
	guard, err := NewGuard(root)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}

	abs, err := guard.Resolve("src/app.js")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want, _ := filepath.EvalSymlinks(root)
	if !filepath.IsAbs(abs) || !guard.IsWithinRoot(abs) {
		t.Fatalf("resolved path %q not under %q", abs, want)
	}
}

func TestGuardRejectsEscapes(t *testing.T) {
	guard, err := NewGuard(t.TempDir())
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	for _, path := range []string{"..", "../../etc/passwd", "a/../../escape"} {
		if _, err := guard.Resolve(path); !errors.Is(err, ErrAccessDenied) {
			t.Fatalf("Resolve(%q) err = %v, want ErrAccessDenied", path, err)
		}
	}
}

func TestZeroGuardFailsClosed(t *testing.T) {
	var guard Guard
	if _, err := guard.Resolve("anything"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("zero guard resolved a path: %v", err)
	}
	if guard.IsWithinRoot("/tmp") {
		t.Fatal("zero guard accepted a path")
	}
}

func TestGuardRel(t *testing.T) {
	root := t.TempDir()
	guard, err := NewGuard(root)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	abs, err := guard.Resolve("src/app.js")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if rel := guard.Rel(abs); rel != "src/app.js" {
		t.Fatalf("rel = %q", rel)
	}
}

func TestManagerPersistsLastRoot(t *testing.T) {
	configDir := t.TempDir()
	root := t.TempDir()

	m, err := NewManager(configDir)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if _, err := m.Open(root); err != nil {
		t.Fatalf("open: %v", err)
	}

	// A fresh manager over the same config dir restores the root.
	m2, err := NewManager(configDir)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	guard, err := m2.Restore()
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	want, _ := filepath.EvalSymlinks(root)
	got, _ := filepath.EvalSymlinks(guard.Root())
	if got != want {
		t.Fatalf("restored root = %q, want %q", got, want)
	}
}

func TestManagerRestoreWithoutHistory(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	guard, err := m.Restore()
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if guard.Root() != "" {
		t.Fatalf("expected closed guard, got root %q", guard.Root())
	}
}

func TestManagerRestoreSkipsVanishedRoot(t *testing.T) {
	configDir := t.TempDir()
	root := t.TempDir()

	m, err := NewManager(configDir)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if _, err := m.Open(root); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := os.RemoveAll(root); err != nil {
		t.Fatalf("remove: %v", err)
	}

	m2, err := NewManager(configDir)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	guard, err := m2.Restore()
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if guard.Root() != "" {
		t.Fatalf("vanished root restored: %q", guard.Root())
	}
}

func TestOpenRejectsFile(t *testing.T) {
	configDir := t.TempDir()
	file := filepath.Join(t.TempDir(), "plain.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := NewManager(configDir)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if _, err := m.Open(file); err == nil {
		t.Fatal("opening a file as workspace must fail")
	}
}
