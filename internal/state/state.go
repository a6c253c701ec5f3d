package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrUnknownState is returned when operations reference an undefined key.
	ErrUnknownState = errors.New("unknown state")

	fileExtension = ".json"
	keySanitizer  = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)
)

// Message mirrors the OpenAI-style chat schema so that stored history can be
// reused verbatim in requests.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall represents a function call request emitted by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall is embedded inside ToolCall for OpenAI-compatible schemas.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Conversation is a named, mutable list of chat messages with persistence metadata.
type Conversation struct {
	key         string
	messages    []Message
	storagePath string
	createdAt   time.Time
	updatedAt   time.Time
}

// Key returns the identifier assigned to the conversation.
func (c *Conversation) Key() string {
	return c.key
}

// Messages exposes a copy of the history for serialization.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Append adds a new chat message to the history. The turn sequence is
// append-only; nothing ever reorders it.
func (c *Conversation) Append(msg Message) {
	c.messages = append(c.messages, msg)
	c.touch()
}

// Clear removes all history and reinstates the system prompt when given.
func (c *Conversation) Clear(systemPrompt string) {
	c.messages = c.messages[:0]
	if systemPrompt != "" {
		c.messages = append(c.messages, Message{Role: "system", Content: systemPrompt})
	}
	c.touch()
}

// CreatedAt returns when the conversation was first persisted.
func (c *Conversation) CreatedAt() time.Time {
	return c.createdAt
}

// UpdatedAt returns when the conversation last changed.
func (c *Conversation) UpdatedAt() time.Time {
	return c.updatedAt
}

func (c *Conversation) touch() {
	now := time.Now()
	if c.createdAt.IsZero() {
		c.createdAt = now
	}
	c.updatedAt = now
}

func newConversation(key, systemPrompt string) *Conversation {
	conv := &Conversation{key: key}
	if systemPrompt != "" {
		conv.messages = append(conv.messages, Message{Role: "system", Content: systemPrompt})
	}
	conv.touch()
	return conv
}

// Summary describes a stored conversation without loading its content.
type Summary struct {
	Key          string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MessageCount int
}

type persistedConversation struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

// Manager orchestrates multiple named conversations backed by disk persistence.
type Manager struct {
	mu           sync.RWMutex
	states       map[string]*Conversation
	currentKey   string
	systemPrompt string
	root         string
	logger       *log.Logger
}

// NewManager sets up the container for managing multiple conversations.
func NewManager(systemPrompt, root string, logger *log.Logger) (*Manager, error) {
	if root == "" {
		root = "conversations"
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation dir: %w", err)
	}
	mgr := &Manager{
		states:       make(map[string]*Conversation),
		systemPrompt: systemPrompt,
		root:         root,
		logger:       logger,
	}
	if err := mgr.loadExisting(); err != nil {
		return nil, err
	}
	return mgr, nil
}

// EnsureState fetches or creates a conversation for the provided key.
func (m *Manager) EnsureState(key string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key == "" {
		key = fmt.Sprintf("session-%s", time.Now().Format("20060102-150405"))
	}
	if conv, ok := m.states[key]; ok {
		m.currentKey = key
		return conv, nil
	}
	conv := newConversation(key, m.systemPrompt)
	if err := m.persistLocked(conv); err != nil {
		return nil, err
	}
	m.states[key] = conv
	m.currentKey = key
	return conv, nil
}

// NewState explicitly creates a fresh conversation and errors if the key exists.
func (m *Manager) NewState(key string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.states[key]; exists {
		return nil, fmt.Errorf("state %s already exists", key)
	}
	conv := newConversation(key, m.systemPrompt)
	if err := m.persistLocked(conv); err != nil {
		return nil, err
	}
	m.states[key] = conv
	m.currentKey = key
	return conv, nil
}

// Use switches to an existing conversation.
func (m *Manager) Use(key string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.states[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownState, key)
	}
	m.currentKey = key
	return conv, nil
}

// Delete removes a stored conversation from memory and disk.
func (m *Manager) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.states[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownState, key)
	}
	if conv.storagePath != "" {
		if err := os.Remove(conv.storagePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", conv.storagePath, err)
		}
	}
	delete(m.states, key)
	if m.currentKey == key {
		m.currentKey = ""
	}
	return nil
}

// Current returns the active conversation, creating one when none is selected.
func (m *Manager) Current() *Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentKey == "" {
		m.currentKey = fmt.Sprintf("session-%s", time.Now().Format("20060102-150405"))
	}
	if conv, ok := m.states[m.currentKey]; ok {
		return conv
	}
	conv := newConversation(m.currentKey, m.systemPrompt)
	if err := m.persistLocked(conv); err != nil {
		m.logger.Printf("persist conversation failed: %v", err)
	}
	m.states[m.currentKey] = conv
	return conv
}

// ListKeys returns the known conversation keys sorted alphabetically.
func (m *Manager) ListKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.states))
	for key := range m.states {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Summaries reports stored conversations newest-first.
func (m *Manager) Summaries() []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	summaries := make([]Summary, 0, len(m.states))
	for key, conv := range m.states {
		summaries = append(summaries, Summary{
			Key:          key,
			CreatedAt:    conv.createdAt,
			UpdatedAt:    conv.updatedAt,
			MessageCount: len(conv.messages),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries
}

// ClearCurrent wipes the active conversation history.
func (m *Manager) ClearCurrent() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.states[m.currentKey]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownState, m.currentKey)
	}
	conv.Clear(m.systemPrompt)
	return m.persistLocked(conv)
}

// SetSystemPrompt updates the default system prompt used for new conversations.
func (m *Manager) SetSystemPrompt(prompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.systemPrompt = prompt
}

// Save writes the provided conversation to disk.
func (m *Manager) Save(conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conv == nil {
		return fmt.Errorf("conversation is nil")
	}
	if _, ok := m.states[conv.key]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownState, conv.key)
	}
	return m.persistLocked(conv)
}

func (m *Manager) loadExisting() error {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return fmt.Errorf("read conversation root: %w", err)
	}
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != fileExtension {
			continue
		}
		path := filepath.Join(m.root, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			m.logger.Printf("read %s failed: %v", path, err)
			continue
		}
		var persisted persistedConversation
		if err := json.Unmarshal(data, &persisted); err != nil {
			m.logger.Printf("parse %s failed: %v", path, err)
			continue
		}
		key := persisted.Key
		if key == "" {
			key = strings.TrimSuffix(entry.Name(), fileExtension)
		}
		conv := &Conversation{
			key:         key,
			messages:    persisted.Messages,
			storagePath: path,
			createdAt:   persisted.CreatedAt,
			updatedAt:   persisted.UpdatedAt,
		}
		if conv.createdAt.IsZero() {
			if info, statErr := os.Stat(path); statErr == nil {
				conv.createdAt = info.ModTime()
			} else {
				conv.createdAt = time.Now()
			}
		}
		if conv.updatedAt.IsZero() {
			conv.updatedAt = conv.createdAt
		}
		m.states[key] = conv
		loaded++
	}
	if loaded > 0 {
		m.logger.Printf("loaded %d stored conversations", loaded)
		var mostRecent *Conversation
		for _, conv := range m.states {
			if mostRecent == nil || conv.updatedAt.After(mostRecent.updatedAt) {
				mostRecent = conv
			}
		}
		if mostRecent != nil {
			m.currentKey = mostRecent.key
		}
	}
	return nil
}

func (m *Manager) persistLocked(conv *Conversation) error {
	if conv.storagePath == "" {
		sanitized := sanitizeKey(conv.key)
		conv.storagePath = filepath.Join(m.root, sanitized+fileExtension)
	}
	payload := persistedConversation{
		Key:       conv.key,
		CreatedAt: conv.createdAt,
		UpdatedAt: conv.updatedAt,
		Messages:  conv.messages,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal conversation %s: %w", conv.key, err)
	}
	if err := os.WriteFile(conv.storagePath, data, 0o644); err != nil {
		return fmt.Errorf("write conversation %s: %w", conv.key, err)
	}
	return nil
}

func sanitizeKey(key string) string {
	sanitized := keySanitizer.ReplaceAllString(key, "-")
	sanitized = strings.Trim(sanitized, "-")
	if sanitized == "" {
		sanitized = "conversation"
	}
	return sanitized
}
