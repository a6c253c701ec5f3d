package tooling

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/workspace"
)

// ReadFileTool returns file contents annotated with 1-based line numbers.
type ReadFileTool struct {
	guard workspace.Guard
}

func (ReadFileTool) Definition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunction{
			Name:        "read_file",
			Description: "Read a UTF-8 text file and return its contents with 1-based line numbers. The path must stay within the project root.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Path to the file to read, relative to the project root.",
					},
				},
				"required": []string{"path"},
			},
		},
	}
}

func (r ReadFileTool) Call(ctx context.Context, args map[string]any) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return "Error: path is required", nil
	}
	abs, err := r.guard.Resolve(path)
	if err != nil {
		if errors.Is(err, workspace.ErrAccessDenied) {
			return fmt.Sprintf("Error: access denied: %s is outside the project root", path), nil
		}
		return fmt.Sprintf("Error: %v", err), nil
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("Error: file not found: %s", path), nil
		}
		return fmt.Sprintf("Error reading %s: %v", path, err), nil
	}
	return numberLines(string(data)), nil
}

// numberLines prefixes each line with its 1-based number, right-aligned the
// way compiler output does.
func numberLines(content string) string {
	if content == "" {
		return "(empty file)"
	}
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	width := len(fmt.Sprintf("%d", len(lines)))
	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "%*d | %s\n", width, i+1, line)
	}
	return b.String()
}
