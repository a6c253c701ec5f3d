package tooling

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/marker"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/workspace"
)

// EditFileTool proposes exact string replacements. Like write_file it only
// computes the proposal in memory; the disk write happens at approval.
type EditFileTool struct {
	guard workspace.Guard
}

func NewEditFileTool(guard workspace.Guard) *EditFileTool {
	return &EditFileTool{guard: guard}
}

func (EditFileTool) Definition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunction{
			Name:        "edit_file",
			Description: "Propose one or more exact string replacements in a file. Each edit's old_text must match exactly (including whitespace and indentation); use read_file first to see the current content. Edits are applied in order against the in-memory content. The result is shown to the user as a diff and only written after approval. If no edit matches, re-read the file and retry with corrected text.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Path to the file to edit, relative to the project root.",
					},
					"edits": map[string]any{
						"type":        "array",
						"description": "Ordered list of replacements.",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"old_text": map[string]any{
									"type":        "string",
									"description": "The exact text to replace.",
								},
								"new_text": map[string]any{
									"type":        "string",
									"description": "The replacement text.",
								},
							},
							"required": []string{"old_text", "new_text"},
						},
					},
				},
				"required": []string{"path", "edits"},
			},
		},
	}
}

type replacement struct {
	oldText string
	newText string
}

func (e *EditFileTool) Call(ctx context.Context, args map[string]any) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return "Error: path is required", nil
	}
	edits, err := parseEdits(args["edits"])
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}

	abs, err := e.guard.Resolve(path)
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

	baseline := string(data)
	content := baseline
	matched, skipped := 0, 0
	for _, edit := range edits {
		if edit.oldText == "" || !strings.Contains(content, edit.oldText) {
			skipped++
			continue
		}
		content = strings.Replace(content, edit.oldText, edit.newText, 1)
		matched++
	}

	if matched == 0 {
		return fmt.Sprintf("No edits applied: none of the %d old_text values were found in %s. Re-read the file and retry with exact text.", len(edits), path), nil
	}

	proposal := marker.Proposal{
		ID:              newEditID(),
		Kind:            "patch",
		TargetPath:      e.guard.Rel(abs),
		BaseContent:     baseline,
		ProposedContent: content,
	}
	out := marker.EncodeProposal(proposal)
	if skipped > 0 {
		out += fmt.Sprintf("\n(%d of %d edits did not match and were skipped)", skipped, len(edits))
	}
	return out, nil
}

func parseEdits(raw any) ([]replacement, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, errors.New("edits must be an array of {old_text, new_text} objects")
	}
	if len(list) == 0 {
		return nil, errors.New("edits must not be empty")
	}
	edits := make([]replacement, 0, len(list))
	for idx, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("edit %d is not an object", idx)
		}
		oldText, ok := stringArg(obj, "old_text")
		if !ok {
			return nil, fmt.Errorf("edit %d missing old_text", idx)
		}
		newText, ok := stringArg(obj, "new_text")
		if !ok {
			return nil, fmt.Errorf("edit %d missing new_text", idx)
		}
		edits = append(edits, replacement{oldText: oldText, newText: newText})
	}
	return edits, nil
}
