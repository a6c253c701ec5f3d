// Package ledger tracks edit proposals through their two-phase lifecycle:
// a tool proposes a full replacement, the user accepts or rejects it, and
// only an accepted proposal ever reaches disk.
package ledger

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/marker"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/workspace"
)

var (
	// ErrUnknownEdit is returned when an id does not match any tracked edit.
	ErrUnknownEdit = errors.New("unknown edit")
	// ErrStaleEdit is returned when the target file changed after the
	// proposal captured its baseline. The edit stays pending.
	ErrStaleEdit = errors.New("edit is stale: file changed since it was proposed")
)

// Status is the lifecycle state of a tracked edit.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApplied  Status = "applied"
	StatusRejected Status = "rejected"
)

// PendingEdit is one proposed file change awaiting a user decision.
type PendingEdit struct {
	ID              string
	Kind            string // "write" or "patch"
	TargetPath      string // workspace-relative
	BaseContent     string // file content when the proposal was made; "" for a new file
	ProposedContent string
	Status          Status
	CreatedAt       time.Time
	ResolvedAt      time.Time
}

// Ledger holds all edits proposed during a session. Accept is the only
// code path in the program that writes model-authored content to disk.
type Ledger struct {
	mu        sync.Mutex
	guard     workspace.Guard
	edits     map[string]*PendingEdit
	order     []string
	audit     *auditStore
	onApplied func(relPath string)
	logger    *log.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithAudit attaches a durable audit trail at the given sqlite path.
func WithAudit(path string) Option {
	return func(l *Ledger) {
		store, err := newAuditStore(path)
		if err != nil {
			if l.logger != nil {
				l.logger.Printf("audit trail disabled: %v", err)
			}
			return
		}
		l.audit = store
	}
}

// WithAppliedHook registers a callback invoked after every successful
// commit, with the workspace-relative path that changed.
func WithAppliedHook(fn func(relPath string)) Option {
	return func(l *Ledger) { l.onApplied = fn }
}

func New(guard workspace.Guard, logger *log.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		guard:  guard,
		edits:  make(map[string]*PendingEdit),
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetGuard swaps the workspace root, e.g. after the user opens a new
// project. Pending edits against the old root become uncommittable;
// they stay listed so the user can reject them.
func (l *Ledger) SetGuard(guard workspace.Guard) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.guard = guard
}

// Register records a decoded proposal. Duplicate ids are ignored, which
// makes re-decoding a growing stream safe.
func (l *Ledger) Register(p marker.Proposal) {
	if p.ID == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.edits[p.ID]; ok {
		return
	}
	edit := &PendingEdit{
		ID:              p.ID,
		Kind:            p.Kind,
		TargetPath:      p.TargetPath,
		BaseContent:     p.BaseContent,
		ProposedContent: p.ProposedContent,
		Status:          StatusPending,
		CreatedAt:       time.Now(),
	}
	l.edits[p.ID] = edit
	l.order = append(l.order, p.ID)
	l.recordAudit(edit, "proposed", "")
}

// Get returns a copy of the tracked edit.
func (l *Ledger) Get(id string) (PendingEdit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	edit, ok := l.edits[id]
	if !ok {
		return PendingEdit{}, ErrUnknownEdit
	}
	return *edit, nil
}

// Pending returns pending edits in proposal order.
func (l *Ledger) Pending() []PendingEdit {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []PendingEdit
	for _, id := range l.order {
		if edit := l.edits[id]; edit.Status == StatusPending {
			out = append(out, *edit)
		}
	}
	return out
}

// All returns every tracked edit in proposal order, any status.
func (l *Ledger) All() []PendingEdit {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]PendingEdit, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.edits[id])
	}
	return out
}

// Accept commits a pending edit to disk. The file must still match the
// captured baseline; otherwise the commit fails with ErrStaleEdit and
// the edit remains pending. Accepting an already-resolved edit is a
// no-op.
func (l *Ledger) Accept(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	edit, ok := l.edits[id]
	if !ok {
		return ErrUnknownEdit
	}
	if edit.Status != StatusPending {
		return nil
	}

	abs, err := l.guard.Resolve(edit.TargetPath)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", edit.TargetPath, err)
	}
	if err := l.checkBaseline(abs, edit); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("prepare directory for %s: %w", edit.TargetPath, err)
	}
	if err := os.WriteFile(abs, []byte(edit.ProposedContent), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", edit.TargetPath, err)
	}

	edit.Status = StatusApplied
	edit.ResolvedAt = time.Now()
	l.recordAudit(edit, "accepted", "")
	if l.logger != nil {
		l.logger.Printf("edit %s applied to %s (%d bytes)", edit.ID, edit.TargetPath, len(edit.ProposedContent))
	}
	if l.onApplied != nil {
		l.onApplied(edit.TargetPath)
	}
	return nil
}

// Reject marks a pending edit as rejected without touching the
// filesystem. Rejecting an already-resolved edit is a no-op.
func (l *Ledger) Reject(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	edit, ok := l.edits[id]
	if !ok {
		return ErrUnknownEdit
	}
	if edit.Status != StatusPending {
		return nil
	}
	edit.Status = StatusRejected
	edit.ResolvedAt = time.Now()
	l.recordAudit(edit, "rejected", "")
	if l.logger != nil {
		l.logger.Printf("edit %s rejected (%s)", edit.ID, edit.TargetPath)
	}
	return nil
}

// checkBaseline verifies the target file still matches what the proposal
// captured. A new-file proposal is stale if anything now exists at the
// path; an existing-file proposal is stale if the file vanished or its
// content hash drifted.
func (l *Ledger) checkBaseline(abs string, edit *PendingEdit) error {
	current, err := os.ReadFile(abs)
	switch {
	case err == nil:
		if edit.BaseContent == "" && len(current) > 0 {
			l.recordAudit(edit, "stale", "file created since proposal")
			return ErrStaleEdit
		}
		if edit.BaseContent != "" && sha256.Sum256(current) != sha256.Sum256([]byte(edit.BaseContent)) {
			l.recordAudit(edit, "stale", "content hash mismatch")
			return ErrStaleEdit
		}
		return nil
	case os.IsNotExist(err):
		if edit.BaseContent != "" {
			l.recordAudit(edit, "stale", "file deleted since proposal")
			return ErrStaleEdit
		}
		return nil
	default:
		return fmt.Errorf("read %s: %w", edit.TargetPath, err)
	}
}

func (l *Ledger) recordAudit(edit *PendingEdit, event, detail string) {
	if l.audit == nil {
		return
	}
	if err := l.audit.record(edit, event, detail); err != nil && l.logger != nil {
		l.logger.Printf("audit record failed: %v", err)
	}
}

// History returns recent audit trail entries, newest first. It returns
// nil when no audit trail is attached.
func (l *Ledger) History(limit int) ([]AuditEvent, error) {
	if l.audit == nil {
		return nil, nil
	}
	return l.audit.events(limit)
}

// Close releases the audit trail, if one is attached.
func (l *Ledger) Close() error {
	if l.audit != nil {
		return l.audit.Close()
	}
	return nil
}
