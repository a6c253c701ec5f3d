package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// auditStore persists every edit lifecycle event so a session's file
// changes can be reconstructed after the fact.
type auditStore struct {
	db   *sql.DB
	path string
}

func newAuditStore(path string) (*auditStore, error) {
	if path == "" {
		return nil, errors.New("audit store path must be set")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare audit store dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), `
CREATE TABLE IF NOT EXISTS edit_events (
	id TEXT PRIMARY KEY,
	edit_id TEXT NOT NULL,
	event TEXT NOT NULL,
	kind TEXT NOT NULL,
	target_path TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	content_bytes INTEGER NOT NULL,
	recorded_at TIMESTAMP NOT NULL
)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init audit schema: %w", err)
	}
	return &auditStore{db: db, path: path}, nil
}

func (s *auditStore) record(edit *PendingEdit, event, detail string) error {
	_, err := s.db.ExecContext(context.Background(), `
INSERT INTO edit_events (id, edit_id, event, kind, target_path, detail, content_bytes, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), edit.ID, event, edit.Kind, edit.TargetPath, detail, len(edit.ProposedContent), time.Now())
	return err
}

// AuditEvent is one recorded lifecycle event.
type AuditEvent struct {
	EditID     string
	Event      string
	Kind       string
	TargetPath string
	Detail     string
	RecordedAt time.Time
}

func (s *auditStore) events(limit int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(context.Background(), `
SELECT edit_id, event, kind, target_path, detail, recorded_at
FROM edit_events
ORDER BY recorded_at DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var ev AuditEvent
		if err := rows.Scan(&ev.EditID, &ev.Event, &ev.Kind, &ev.TargetPath, &ev.Detail, &ev.RecordedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *auditStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
