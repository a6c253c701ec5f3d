// Package prompts holds the built-in system prompt and the per-turn
// workspace preamble.
package prompts

import (
	_ "embed"
	"fmt"
	"path/filepath"
	"strings"
)

//go:embed system_monolith.txt
var baseSystemPrompt string

// Base returns the built-in Monolith system prompt.
func Base() string {
	return strings.TrimSpace(baseSystemPrompt)
}

// Combine joins the built-in prompt with an optional user-provided
// prompt from the config file.
func Combine(user string) string {
	trimmed := strings.TrimSpace(user)
	if trimmed == "" {
		return Base()
	}
	return Base() + "\n\n" + trimmed
}

// Preamble describes the workspace context that precedes a user turn,
// so the model knows where it is working without having to ask.
type Preamble struct {
	Root       string // absolute workspace root
	TreeText   string // rendered expanded tree, may be empty
	ActivePath string // workspace-relative path of the open file, may be empty
	ActiveText string // content of the open file
}

// Render formats the preamble as markdown.
func (p Preamble) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Workspace\n\n**Project**: %s\n**Path**: %s\n", filepath.Base(p.Root), p.Root)
	if tree := strings.TrimSpace(p.TreeText); tree != "" {
		fmt.Fprintf(&b, "\n### Project tree\n\n```\n%s\n```\n", tree)
	}
	if p.ActivePath != "" {
		fmt.Fprintf(&b, "\n### Active file: %s\n\n```\n%s\n```\n", p.ActivePath, p.ActiveText)
	}
	return b.String()
}
