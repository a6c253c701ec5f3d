package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Manager owns the current project root and persists the last-opened one.
// The root is replaced wholesale on every Open; nothing mutates it in place.
type Manager struct {
	mu       sync.RWMutex
	guard    Guard
	filePath string
}

type persistedWorkspace struct {
	LastRoot string `json:"last_root"`
}

// NewManager creates a manager whose state file lives under configDir.
func NewManager(configDir string) (*Manager, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	return &Manager{filePath: filepath.Join(configDir, "workspace.json")}, nil
}

// Open switches the manager to a new project root and records it on disk.
func (m *Manager) Open(root string) (Guard, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return Guard{}, fmt.Errorf("resolve path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return Guard{}, fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return Guard{}, fmt.Errorf("%s is not a directory", absRoot)
	}
	guard, err := NewGuard(absRoot)
	if err != nil {
		return Guard{}, err
	}

	m.mu.Lock()
	m.guard = guard
	err = m.saveLocked()
	m.mu.Unlock()
	if err != nil {
		return Guard{}, err
	}
	return guard, nil
}

// Restore re-opens the last persisted root. Returns a closed guard when the
// state file is missing or the directory disappeared.
func (m *Manager) Restore() (Guard, error) {
	data, err := os.ReadFile(m.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return Guard{}, nil
		}
		return Guard{}, fmt.Errorf("read workspace state: %w", err)
	}
	var persisted persistedWorkspace
	if err := json.Unmarshal(data, &persisted); err != nil {
		return Guard{}, fmt.Errorf("parse workspace state: %w", err)
	}
	if persisted.LastRoot == "" {
		return Guard{}, nil
	}
	if info, err := os.Stat(persisted.LastRoot); err != nil || !info.IsDir() {
		return Guard{}, nil
	}
	guard, err := NewGuard(persisted.LastRoot)
	if err != nil {
		return Guard{}, err
	}
	m.mu.Lock()
	m.guard = guard
	m.mu.Unlock()
	return guard, nil
}

// Current returns the active guard; zero value when no root is open.
func (m *Manager) Current() Guard {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.guard
}

func (m *Manager) saveLocked() error {
	payload := persistedWorkspace{LastRoot: m.guard.Root()}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal workspace state: %w", err)
	}
	if err := os.WriteFile(m.filePath, data, 0o644); err != nil {
		return fmt.Errorf("write workspace state: %w", err)
	}
	return nil
}
