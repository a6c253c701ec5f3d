package ledger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/marker"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/workspace"
)

func newTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	root := t.TempDir()
	guard, err := workspace.NewGuard(root)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	return New(guard, nil), root
}

func TestAcceptWritesProposedContent(t *testing.T) {
	l, root := newTestLedger(t)
	l.Register(marker.Proposal{
		ID:              "edit-1",
		Kind:            "write",
		TargetPath:      "src/app.js",
		BaseContent:     "",
		ProposedContent: "console.log('hi');\n",
	})

	if err := l.Accept("edit-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(root, "src", "app.js"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "console.log('hi');\n" {
		t.Fatalf("wrong content: %q", got)
	}
	edit, _ := l.Get("edit-1")
	if edit.Status != StatusApplied {
		t.Fatalf("status = %s, want applied", edit.Status)
	}
}

func TestRejectNeverTouchesDisk(t *testing.T) {
	l, root := newTestLedger(t)
	l.Register(marker.Proposal{
		ID:              "edit-1",
		Kind:            "write",
		TargetPath:      "new.txt",
		ProposedContent: "content",
	})

	if err := l.Reject("edit-1"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "new.txt")); !os.IsNotExist(err) {
		t.Fatalf("rejected edit created a file, err=%v", err)
	}
	edit, _ := l.Get("edit-1")
	if edit.Status != StatusRejected {
		t.Fatalf("status = %s, want rejected", edit.Status)
	}
}

func TestRepeatDecisionsAreNoOps(t *testing.T) {
	l, root := newTestLedger(t)
	l.Register(marker.Proposal{ID: "edit-1", Kind: "write", TargetPath: "f.txt", ProposedContent: "v1"})

	if err := l.Accept("edit-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	// A later decision on a resolved edit changes nothing.
	if err := l.Reject("edit-1"); err != nil {
		t.Fatalf("reject after accept: %v", err)
	}
	if err := l.Accept("edit-1"); err != nil {
		t.Fatalf("second accept: %v", err)
	}
	got, _ := os.ReadFile(filepath.Join(root, "f.txt"))
	if string(got) != "v1" {
		t.Fatalf("content changed by repeat decision: %q", got)
	}
	edit, _ := l.Get("edit-1")
	if edit.Status != StatusApplied {
		t.Fatalf("status flipped to %s", edit.Status)
	}
}

func TestAcceptStaleEditFailsAndStaysPending(t *testing.T) {
	l, root := newTestLedger(t)
	path := filepath.Join(root, "f.txt")
	if err := os.WriteFile(path, []byte("original"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	l.Register(marker.Proposal{
		ID:              "edit-1",
		Kind:            "patch",
		TargetPath:      "f.txt",
		BaseContent:     "original",
		ProposedContent: "patched",
	})

	// Something else rewrites the file before the user decides.
	if err := os.WriteFile(path, []byte("changed underneath"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	err := l.Accept("edit-1")
	if !errors.Is(err, ErrStaleEdit) {
		t.Fatalf("err = %v, want ErrStaleEdit", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "changed underneath" {
		t.Fatalf("stale accept mutated file: %q", got)
	}
	edit, _ := l.Get("edit-1")
	if edit.Status != StatusPending {
		t.Fatalf("status = %s, want pending after stale failure", edit.Status)
	}
}

func TestAcceptNewFileStaleWhenFileAppears(t *testing.T) {
	l, root := newTestLedger(t)
	l.Register(marker.Proposal{
		ID:              "edit-1",
		Kind:            "write",
		TargetPath:      "f.txt",
		BaseContent:     "",
		ProposedContent: "proposed",
	})
	if err := os.WriteFile(filepath.Join(root, "f.txt"), []byte("raced in"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := l.Accept("edit-1"); !errors.Is(err, ErrStaleEdit) {
		t.Fatalf("err = %v, want ErrStaleEdit", err)
	}
}

func TestAcceptStaleWhenBaselineFileDeleted(t *testing.T) {
	l, root := newTestLedger(t)
	path := filepath.Join(root, "f.txt")
	if err := os.WriteFile(path, []byte("original"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	l.Register(marker.Proposal{
		ID:              "edit-1",
		Kind:            "patch",
		TargetPath:      "f.txt",
		BaseContent:     "original",
		ProposedContent: "patched",
	})
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if err := l.Accept("edit-1"); !errors.Is(err, ErrStaleEdit) {
		t.Fatalf("err = %v, want ErrStaleEdit", err)
	}
}

func TestRegisterDuplicateIDIgnored(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Register(marker.Proposal{ID: "edit-1", Kind: "write", TargetPath: "a.txt", ProposedContent: "first"})
	l.Register(marker.Proposal{ID: "edit-1", Kind: "write", TargetPath: "a.txt", ProposedContent: "second"})

	edit, err := l.Get("edit-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if edit.ProposedContent != "first" {
		t.Fatalf("duplicate registration replaced the original: %q", edit.ProposedContent)
	}
	if len(l.Pending()) != 1 {
		t.Fatalf("pending count = %d, want 1", len(l.Pending()))
	}
}

func TestUnknownEditID(t *testing.T) {
	l, _ := newTestLedger(t)
	if err := l.Accept("nope"); !errors.Is(err, ErrUnknownEdit) {
		t.Fatalf("accept err = %v", err)
	}
	if err := l.Reject("nope"); !errors.Is(err, ErrUnknownEdit) {
		t.Fatalf("reject err = %v", err)
	}
}

func TestAppliedHookFires(t *testing.T) {
	root := t.TempDir()
	guard, err := workspace.NewGuard(root)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	var notified []string
	l := New(guard, nil, WithAppliedHook(func(rel string) { notified = append(notified, rel) }))

	l.Register(marker.Proposal{ID: "edit-1", Kind: "write", TargetPath: "f.txt", ProposedContent: "x"})
	if err := l.Accept("edit-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if len(notified) != 1 || notified[0] != "f.txt" {
		t.Fatalf("hook calls = %v", notified)
	}
}

func TestAuditTrailRecordsLifecycle(t *testing.T) {
	root := t.TempDir()
	guard, err := workspace.NewGuard(root)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	l := New(guard, nil, WithAudit(dbPath))
	defer l.Close()

	l.Register(marker.Proposal{ID: "edit-1", Kind: "write", TargetPath: "f.txt", ProposedContent: "x"})
	if err := l.Accept("edit-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	events, err := l.History(10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("event count = %d, want 2", len(events))
	}
	seen := map[string]bool{}
	for _, ev := range events {
		seen[ev.Event] = true
	}
	if !seen["proposed"] || !seen["accepted"] {
		t.Fatalf("missing lifecycle events: %+v", events)
	}
}

func TestDiffShowsAddedAndRemovedLines(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Register(marker.Proposal{
		ID:              "edit-1",
		Kind:            "patch",
		TargetPath:      "f.txt",
		BaseContent:     "keep\nold line\n",
		ProposedContent: "keep\nnew line\n",
	})

	diff, err := l.Diff("edit-1")
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if !strings.Contains(diff, "- old line") || !strings.Contains(diff, "+ new line") {
		t.Fatalf("diff missing change lines:\n%s", diff)
	}
	if !strings.Contains(diff, "  keep") {
		t.Fatalf("diff missing context:\n%s", diff)
	}
}
