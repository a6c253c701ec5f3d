package mockclient

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/llm"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/state"
)

// Client is a deterministic llm.Client used for tests and CI.
type Client struct {
	prefix string

	mu       sync.Mutex
	scripted []llm.ChatResponse
	requests []llm.ChatRequest
	err      error
}

// New returns a mock client that echoes the last user message.
func New() *Client {
	return &Client{prefix: "MOCK"}
}

// Enqueue appends a scripted response returned ahead of the echo behavior.
func (c *Client) Enqueue(resp llm.ChatResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripted = append(c.scripted, resp)
}

// EnqueueToolCall scripts a single-round response asking for one tool call.
func (c *Client) EnqueueToolCall(id, name, arguments string) {
	c.Enqueue(llm.ChatResponse{
		Choices: []llm.ChatChoice{{
			Message: state.Message{
				Role: "assistant",
				ToolCalls: []state.ToolCall{{
					ID:   id,
					Type: "function",
					Function: state.FunctionCall{
						Name:      name,
						Arguments: arguments,
					},
				}},
			},
			FinishReason: "tool_calls",
		}},
	})
}

// EnqueueText scripts a plain final completion.
func (c *Client) EnqueueText(content string) {
	c.Enqueue(llm.ChatResponse{
		Choices: []llm.ChatChoice{{
			Message:      state.Message{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
	})
}

// Fail makes every subsequent call return err.
func (c *Client) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Requests returns every request seen so far.
func (c *Client) Requests() []llm.ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.ChatRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

// Chat satisfies the llm.Client interface.
func (c *Client) Chat(_ context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.err != nil {
		return llm.ChatResponse{}, c.err
	}
	if len(c.scripted) > 0 {
		resp := c.scripted[0]
		c.scripted = c.scripted[1:]
		return resp, nil
	}

	response := state.Message{Role: "assistant"}
	if n := len(req.Messages); n > 0 {
		last := strings.TrimSpace(req.Messages[n-1].Content)
		if last == "" {
			response.Content = fmt.Sprintf("%s RESPONSE", c.prefix)
		} else {
			response.Content = fmt.Sprintf("%s RESPONSE: %s", c.prefix, last)
		}
	} else {
		response.Content = fmt.Sprintf("%s RESPONSE", c.prefix)
	}

	return llm.ChatResponse{
		Choices: []llm.ChatChoice{
			{
				Index:        0,
				Message:      response,
				FinishReason: "stop",
			},
		},
		Usage: &llm.Usage{
			PromptTokens:     42,
			CompletionTokens: 7,
			TotalTokens:      49,
		},
	}, nil
}
