package tooling

import (
	"context"
	"fmt"

	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/workspace"
)

// ToolDefinition is the JSON-schema description sent to the provider.
type ToolDefinition struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Tool is one agent-invocable operation. Call never mutates disk: the write
// path lives behind the edit ledger's commit step. Errors worth surfacing to
// the model are returned as textual results, not as Go errors.
type Tool interface {
	Definition() ToolDefinition
	Call(ctx context.Context, args map[string]any) (string, error)
}

type Registry struct {
	tools       map[string]Tool
	definitions []ToolDefinition
}

func NewRegistry(tools ...Tool) *Registry {
	bucket := make(map[string]Tool, len(tools))
	defs := make([]ToolDefinition, 0, len(tools))
	for _, tool := range tools {
		def := tool.Definition()
		bucket[def.Function.Name] = tool
		defs = append(defs, def)
	}
	return &Registry{tools: bucket, definitions: defs}
}

func (r *Registry) Definitions() []ToolDefinition {
	out := make([]ToolDefinition, len(r.definitions))
	copy(out, r.definitions)
	return out
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

func (r *Registry) MustGet(name string) Tool {
	tool, ok := r.Lookup(name)
	if !ok {
		panic(fmt.Sprintf("tool %s is not registered", name))
	}
	return tool
}

// DefaultTools returns the fixed catalogue scoped to the given guard.
func DefaultTools(guard workspace.Guard) []Tool {
	return []Tool{
		ReadFileTool{guard: guard},
		ListFilesTool{guard: guard},
		NewWriteFileTool(guard),
		NewEditFileTool(guard),
	}
}

func stringArg(args map[string]any, key string) (string, bool) {
	val, ok := args[key]
	if !ok {
		return "", false
	}
	switch cast := val.(type) {
	case string:
		return cast, true
	default:
		return fmt.Sprintf("%v", cast), true
	}
}

func typeOf(isDir bool) string {
	if isDir {
		return "directory"
	}
	return "file"
}
