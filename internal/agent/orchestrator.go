// Package agent drives the conversation loop: it sends the conversation
// to the model, executes requested tools, and folds the results back in
// until the model produces a plain answer.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/config"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/ledger"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/llm"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/logging"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/marker"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/state"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/tooling"
)

// StreamFunc receives chunks of the response stream: prose, tool status
// markers, and edit proposal markers, in the order they occur.
type StreamFunc func(chunk string)

// maxToolResultSize caps what a single tool result may feed back to the
// model.
const maxToolResultSize = 50000

// Orchestrator owns one conversation loop against the model.
type Orchestrator struct {
	client llm.Client
	cfg    config.Config
	states *state.Manager
	tools  *tooling.Registry
	edits  *ledger.Ledger
	logger *log.Logger
}

func NewOrchestrator(client llm.Client, cfg config.Config, states *state.Manager, tools *tooling.Registry, edits *ledger.Ledger, logger *log.Logger) *Orchestrator {
	return &Orchestrator{
		client: client,
		cfg:    cfg,
		states: states,
		tools:  tools,
		edits:  edits,
		logger: logger,
	}
}

// SetModel switches the active model for subsequent requests.
func (o *Orchestrator) SetModel(model string) {
	o.cfg.Model = model
}

// Model returns the active model identifier.
func (o *Orchestrator) Model() string {
	return o.cfg.Model
}

// SetTools swaps the tool registry, used when the workspace root
// changes and the tools need a guard for the new root.
func (o *Orchestrator) SetTools(tools *tooling.Registry) {
	o.tools = tools
}

// Respond runs one user turn to completion. The preamble, when not
// empty, is prepended to the user input so the model sees the current
// workspace context. The final assistant text is returned; everything
// user-visible is also delivered through stream as it happens.
func (o *Orchestrator) Respond(ctx context.Context, userInput, preamble string, stream StreamFunc) (string, error) {
	conv := o.states.Current()
	if conv == nil {
		var err error
		if conv, err = o.states.EnsureState("default"); err != nil {
			return "", err
		}
	}

	content := userInput
	if preamble != "" {
		content = preamble + "\n\n" + userInput
	}
	conv.Append(state.Message{Role: "user", Content: content})
	if err := o.states.Save(conv); err != nil {
		return "", fmt.Errorf("save conversation: %w", err)
	}

	for round := 0; ; round++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if round >= o.cfg.MaxToolIterations {
			msg := fmt.Sprintf("Stopped after %d tool rounds without reaching a final answer. Ask me to continue if you want me to keep going.", o.cfg.MaxToolIterations)
			logging.ErrorLog("tool iteration limit (%d) reached", o.cfg.MaxToolIterations)
			return o.finishTurn(conv, msg, stream)
		}

		req := llm.ChatRequest{
			Model:       o.cfg.Model,
			Messages:    conv.Messages(),
			Tools:       o.tools.Definitions(),
			Temperature: o.cfg.Temperature,
			MaxTokens:   o.cfg.MaxOutputTokens,
		}
		o.logger.Printf("[agent] invoking %s with %d messages", o.cfg.Model, len(conv.Messages()))

		resp, err := o.client.Chat(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			// Provider failures surface to the user as-is. The user
			// decides whether to retry; the loop never does.
			var perr *llm.ProviderError
			if errors.As(err, &perr) {
				logging.ErrorLog("provider failure: %v", perr)
				return o.finishTurn(conv, perr.Error(), stream)
			}
			return "", fmt.Errorf("chat completion: %w", err)
		}
		if resp.Usage != nil {
			logging.DevLog("token usage: prompt=%d completion=%d total=%d",
				resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("no choices returned")
		}

		choice := resp.Choices[0]
		conv.Append(choice.Message)
		if err := o.states.Save(conv); err != nil {
			return "", fmt.Errorf("save conversation: %w", err)
		}

		if choice.Message.Content != "" && stream != nil {
			stream(choice.Message.Content)
		}
		if len(choice.Message.ToolCalls) == 0 {
			return choice.Message.Content, nil
		}

		if err := o.processToolCalls(ctx, conv, choice.Message.ToolCalls, stream); err != nil {
			return "", err
		}
	}
}

// finishTurn records text as the closing assistant message and streams
// it.
func (o *Orchestrator) finishTurn(conv *state.Conversation, text string, stream StreamFunc) (string, error) {
	conv.Append(state.Message{Role: "assistant", Content: text})
	if err := o.states.Save(conv); err != nil {
		return "", fmt.Errorf("save conversation: %w", err)
	}
	if stream != nil {
		stream(text)
	}
	return text, nil
}

func (o *Orchestrator) processToolCalls(ctx context.Context, conv *state.Conversation, calls []state.ToolCall, stream StreamFunc) error {
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return err
		}

		args, argErr := decodeArgs(call.Function.Arguments)
		path, _ := args["path"].(string)

		emit(stream, marker.EncodeStatus(marker.ToolStatus{
			ID:       call.ID,
			ToolName: call.Function.Name,
			Path:     path,
			Status:   marker.StatusRunning,
		}))

		result, failed := o.executeCall(ctx, call, args, argErr)

		decoded := marker.Decode(result)
		for _, p := range decoded.Proposals {
			o.edits.Register(p)
			emit(stream, marker.EncodeProposal(p))
		}

		modelResult := modelView(decoded)
		if len(modelResult) > maxToolResultSize {
			modelResult = modelResult[:maxToolResultSize] +
				fmt.Sprintf("\n\n[TRUNCATED: tool result was %d chars. Use more specific paths or ranges.]", len(modelResult))
		}
		conv.Append(state.Message{Role: "tool", Name: call.Function.Name, Content: modelResult, ToolCallID: call.ID})
		if err := o.states.Save(conv); err != nil {
			return fmt.Errorf("save tool result: %w", err)
		}

		status := marker.StatusSuccess
		if failed {
			status = marker.StatusError
		}
		emit(stream, marker.EncodeStatus(marker.ToolStatus{
			ID:       call.ID,
			ToolName: call.Function.Name,
			Path:     path,
			Status:   status,
			Summary:  summarize(decoded.Prose, decoded.Proposals),
		}))
	}
	return nil
}

// executeCall runs one tool call. Failures become textual results so
// the model can read them and correct itself; failed reports whether
// anything went wrong.
func (o *Orchestrator) executeCall(ctx context.Context, call state.ToolCall, args map[string]any, argErr error) (result string, failed bool) {
	if argErr != nil {
		msg := fmt.Sprintf("invalid arguments for %s: %v", call.Function.Name, argErr)
		logging.ErrorLog(msg)
		return msg, true
	}
	tool, ok := o.tools.Lookup(call.Function.Name)
	if !ok {
		msg := fmt.Sprintf("tool %s not registered", call.Function.Name)
		logging.ErrorLog(msg)
		return msg, true
	}

	logging.UserLog("Executing tool: %s", call.Function.Name)
	start := time.Now()
	result, err := tool.Call(ctx, args)
	dur := time.Since(start).Round(time.Millisecond)
	if err != nil {
		logging.ErrorLog("tool %s failed after %s: %v", call.Function.Name, dur, err)
		return fmt.Sprintf("tool error: %v", err), true
	}
	logging.DevLog("tool %s completed: %d bytes in %s", call.Function.Name, len(result), dur)
	return result, strings.HasPrefix(result, "Error:") || strings.HasPrefix(result, "No edits applied")
}

// modelView rebuilds a tool result for the model: prose survives, but
// each proposal collapses into a short acknowledgement. The model never
// needs the full proposed content back, and must not believe the edit
// already happened.
func modelView(decoded marker.Decoded) string {
	parts := []string{strings.TrimSpace(decoded.Prose)}
	for _, p := range decoded.Proposals {
		parts = append(parts, fmt.Sprintf("Edit %s proposed for %s. It is pending user review and has NOT been applied.", p.ID, p.TargetPath))
	}
	var nonEmpty []string
	for _, part := range parts {
		if part != "" {
			nonEmpty = append(nonEmpty, part)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}

func summarize(prose string, proposals []marker.Proposal) string {
	if len(proposals) > 0 {
		return fmt.Sprintf("proposed edit to %s", proposals[0].TargetPath)
	}
	line := strings.TrimSpace(prose)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if len(line) > 120 {
		line = line[:120]
	}
	return line
}

func decodeArgs(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}

func emit(stream StreamFunc, chunk string) {
	if stream != nil {
		stream(chunk)
	}
}
