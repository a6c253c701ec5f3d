package tooling

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/marker"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/workspace"
)

// WriteFileTool proposes a full-content write. It never touches disk itself:
// the encoded proposal travels up the text stream and the ledger commits it
// once the user approves.
type WriteFileTool struct {
	guard workspace.Guard
}

func NewWriteFileTool(guard workspace.Guard) *WriteFileTool {
	return &WriteFileTool{guard: guard}
}

func (t *WriteFileTool) Definition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunction{
			Name:        "write_file",
			Description: "Propose writing the complete content of a file. The change is NOT applied immediately: it is shown to the user as a diff and only written to disk after they approve it. Use this for new files or full rewrites; prefer edit_file for targeted changes.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Path to the file relative to the project root.",
					},
					"content": map[string]any{
						"type":        "string",
						"description": "Full proposed content of the file.",
					},
				},
				"required": []string{"path", "content"},
			},
		},
	}
}

func (t *WriteFileTool) Call(ctx context.Context, args map[string]any) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return "Error: path is required", nil
	}
	content, ok := stringArg(args, "content")
	if !ok {
		return "Error: content is required", nil
	}

	abs, err := t.guard.Resolve(path)
	if err != nil {
		if errors.Is(err, workspace.ErrAccessDenied) {
			return fmt.Sprintf("Error: access denied: %s is outside the project root", path), nil
		}
		return fmt.Sprintf("Error: %v", err), nil
	}

	// Baseline is the current content; an absent file contributes an empty
	// baseline so a rejected proposal never creates it.
	baseline := ""
	if data, err := os.ReadFile(abs); err == nil {
		baseline = string(data)
	} else if !os.IsNotExist(err) {
		return fmt.Sprintf("Error reading %s: %v", path, err), nil
	}

	proposal := marker.Proposal{
		ID:              newEditID(),
		Kind:            "write",
		TargetPath:      t.guard.Rel(abs),
		BaseContent:     baseline,
		ProposedContent: content,
	}
	return marker.EncodeProposal(proposal), nil
}

// newEditID allocates a time-based unique proposal id.
func newEditID() string {
	return fmt.Sprintf("edit-%d", time.Now().UnixNano())
}
