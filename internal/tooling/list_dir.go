package tooling

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/workspace"
)

// ListFilesTool lists the immediate children of a directory.
type ListFilesTool struct {
	guard workspace.Guard
}

func (ListFilesTool) Definition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunction{
			Name:        "list_directory",
			Description: "List the immediate children of a directory, each annotated as file or directory. An empty path means the project root.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Directory path relative to the project root (empty for the root itself).",
					},
				},
			},
		},
	}
}

func (l ListFilesTool) Call(ctx context.Context, args map[string]any) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	target := ""
	if provided, ok := stringArg(args, "path"); ok {
		target = provided
	}
	abs, err := l.guard.Resolve(target)
	if err != nil {
		if errors.Is(err, workspace.ErrAccessDenied) {
			return fmt.Sprintf("Error: access denied: %s is outside the project root", target), nil
		}
		return fmt.Sprintf("Error: %v", err), nil
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("Error: directory not found: %s", target), nil
		}
		return fmt.Sprintf("Error: %v", err), nil
	}
	if !info.IsDir() {
		return fmt.Sprintf("Error: %s is not a directory", target), nil
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return fmt.Sprintf("Error listing %s: %v", target, err), nil
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	if len(entries) == 0 {
		return "(empty directory)", nil
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "[%s] %s\n", typeOf(e.IsDir()), e.Name())
	}
	return b.String(), nil
}
