package state

import (
	"errors"
	"path/filepath"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager("you are a test assistant", t.TempDir(), nil)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m
}

func TestEnsureStateSeedsSystemPrompt(t *testing.T) {
	m := newTestManager(t)
	conv, err := m.EnsureState("alpha")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	msgs := conv.Messages()
	if len(msgs) != 1 || msgs[0].Role != "system" {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].Content != "you are a test assistant" {
		t.Fatalf("system prompt = %q", msgs[0].Content)
	}
}

func TestAppendAndPersistAcrossManagers(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager("sys", dir, nil)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	conv, err := m.EnsureState("session")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	conv.Append(Message{Role: "user", Content: "hello"})
	conv.Append(Message{Role: "assistant", Content: "hi"})
	if err := m.Save(conv); err != nil {
		t.Fatalf("save: %v", err)
	}

	m2, err := NewManager("sys", dir, nil)
	if err != nil {
		t.Fatalf("reload manager: %v", err)
	}
	conv2, err := m2.Use("session")
	if err != nil {
		t.Fatalf("use: %v", err)
	}
	msgs := conv2.Messages()
	if len(msgs) != 3 {
		t.Fatalf("message count = %d, want 3", len(msgs))
	}
	if msgs[1].Content != "hello" || msgs[2].Content != "hi" {
		t.Fatalf("messages lost: %+v", msgs)
	}
}

func TestToolCallsSurvivePersistence(t *testing.T) {
	dir := t.TempDir()
	m, _ := NewManager("sys", dir, nil)
	conv, _ := m.EnsureState("s")
	conv.Append(Message{
		Role: "assistant",
		ToolCalls: []ToolCall{{
			ID:       "call-1",
			Type:     "function",
			Function: FunctionCall{Name: "read_file", Arguments: `{"path":"a.txt"}`},
		}},
	})
	conv.Append(Message{Role: "tool", Name: "read_file", ToolCallID: "call-1", Content: "1 | x"})
	if err := m.Save(conv); err != nil {
		t.Fatalf("save: %v", err)
	}

	m2, _ := NewManager("sys", dir, nil)
	conv2, err := m2.Use("s")
	if err != nil {
		t.Fatalf("use: %v", err)
	}
	msgs := conv2.Messages()
	call := msgs[1].ToolCalls
	if len(call) != 1 || call[0].Function.Name != "read_file" {
		t.Fatalf("tool calls lost: %+v", msgs[1])
	}
	if msgs[2].ToolCallID != "call-1" {
		t.Fatalf("tool result link lost: %+v", msgs[2])
	}
}

func TestUseUnknownState(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Use("ghost"); !errors.Is(err, ErrUnknownState) {
		t.Fatalf("err = %v, want ErrUnknownState", err)
	}
}

func TestClearCurrentKeepsSystemPrompt(t *testing.T) {
	m := newTestManager(t)
	conv, _ := m.EnsureState("s")
	conv.Append(Message{Role: "user", Content: "hello"})
	if err := m.ClearCurrent(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	msgs := m.Current().Messages()
	if len(msgs) != 1 || msgs[0].Role != "system" {
		t.Fatalf("cleared state = %+v", msgs)
	}
}

func TestDeleteRemovesStateAndFile(t *testing.T) {
	dir := t.TempDir()
	m, _ := NewManager("sys", dir, nil)
	if _, err := m.EnsureState("gone"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := m.Delete("gone"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.Use("gone"); !errors.Is(err, ErrUnknownState) {
		t.Fatalf("state survived delete: %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*.json"))
	if len(matches) != 0 {
		t.Fatalf("files left behind: %v", matches)
	}
}

func TestSanitizeKeyMakesSafeFilenames(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.EnsureState("weird/../key name"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	keys := m.ListKeys()
	if len(keys) != 1 {
		t.Fatalf("keys = %v", keys)
	}
}
