package agent

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/config"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/ledger"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/llm"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/llm/mockclient"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/marker"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/state"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/tooling"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/workspace"
)

type fixture struct {
	client *mockclient.Client
	orc    *Orchestrator
	edits  *ledger.Ledger
	root   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	guard, err := workspace.NewGuard(root)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	logger := log.New(os.Stderr, "", 0)
	states, err := state.NewManager("system prompt", t.TempDir(), logger)
	if err != nil {
		t.Fatalf("states: %v", err)
	}
	client := mockclient.New()
	edits := ledger.New(guard, logger)
	cfg := config.Config{Model: "test-model", MaxToolIterations: 5}
	registry := tooling.NewRegistry(tooling.DefaultTools(guard)...)
	return &fixture{
		client: client,
		orc:    NewOrchestrator(client, cfg, states, registry, edits, logger),
		edits:  edits,
		root:   root,
	}
}

func collect(chunks *[]string) StreamFunc {
	return func(chunk string) { *chunks = append(*chunks, chunk) }
}

func TestRespondPlainAnswer(t *testing.T) {
	f := newFixture(t)
	f.client.EnqueueText("hello there")

	var chunks []string
	got, err := f.orc.Respond(context.Background(), "hi", "", collect(&chunks))
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if got != "hello there" {
		t.Fatalf("response = %q", got)
	}
	if len(chunks) != 1 || chunks[0] != "hello there" {
		t.Fatalf("stream = %v", chunks)
	}
}

func TestRespondRunsToolThenAnswers(t *testing.T) {
	f := newFixture(t)
	if err := os.WriteFile(filepath.Join(f.root, "a.txt"), []byte("content\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.client.EnqueueToolCall("call-1", "read_file", `{"path":"a.txt"}`)
	f.client.EnqueueText("the file has one line")

	var chunks []string
	got, err := f.orc.Respond(context.Background(), "what is in a.txt?", "", collect(&chunks))
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if got != "the file has one line" {
		t.Fatalf("response = %q", got)
	}

	// The stream carries a running status before the result and a
	// success status after it.
	all := strings.Join(chunks, "")
	decoded := marker.Decode(all)
	if len(decoded.Statuses) != 1 {
		t.Fatalf("status count = %d, want 1 (latest wins)", len(decoded.Statuses))
	}
	if decoded.Statuses[0].Status != marker.StatusSuccess {
		t.Fatalf("final status = %s", decoded.Statuses[0].Status)
	}
	running := marker.Decode(chunks[0])
	if len(running.Statuses) != 1 || running.Statuses[0].Status != marker.StatusRunning {
		t.Fatalf("first chunk not a running status: %q", chunks[0])
	}

	// The tool result went back to the model in the second request.
	reqs := f.client.Requests()
	if len(reqs) != 2 {
		t.Fatalf("request count = %d", len(reqs))
	}
	msgs := reqs[1].Messages
	last := msgs[len(msgs)-1]
	if last.Role != "tool" || last.ToolCallID != "call-1" {
		t.Fatalf("tool result missing: %+v", last)
	}
	if !strings.Contains(last.Content, "content") {
		t.Fatalf("tool result content: %q", last.Content)
	}
}

func TestRespondRegistersProposalAndAcksModel(t *testing.T) {
	f := newFixture(t)
	f.client.EnqueueToolCall("call-1", "write_file", `{"path":"new.txt","content":"hi"}`)
	f.client.EnqueueText("proposed the file")

	var chunks []string
	if _, err := f.orc.Respond(context.Background(), "create new.txt", "", collect(&chunks)); err != nil {
		t.Fatalf("respond: %v", err)
	}

	pending := f.edits.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if pending[0].TargetPath != "new.txt" || pending[0].ProposedContent != "hi" {
		t.Fatalf("registered edit wrong: %+v", pending[0])
	}

	// Nothing hits the disk until the user accepts.
	if _, err := os.Stat(filepath.Join(f.root, "new.txt")); !os.IsNotExist(err) {
		t.Fatalf("file created before accept, err=%v", err)
	}

	// The model sees an acknowledgement, not the proposed content.
	reqs := f.client.Requests()
	msgs := reqs[1].Messages
	last := msgs[len(msgs)-1]
	if !strings.Contains(last.Content, "pending user review") {
		t.Fatalf("model view missing ack: %q", last.Content)
	}
	if strings.Contains(last.Content, "[DIFF_BLOCK]") {
		t.Fatalf("model view leaked raw proposal marker: %q", last.Content)
	}

	// The UI stream carries the proposal marker.
	decoded := marker.Decode(strings.Join(chunks, ""))
	if len(decoded.Proposals) != 1 || decoded.Proposals[0].TargetPath != "new.txt" {
		t.Fatalf("proposal not streamed: %+v", decoded.Proposals)
	}
}

func TestRespondToolFailureFeedsModel(t *testing.T) {
	f := newFixture(t)
	f.client.EnqueueToolCall("call-1", "read_file", `{"path":"missing.txt"}`)
	f.client.EnqueueText("the file does not exist")

	var chunks []string
	if _, err := f.orc.Respond(context.Background(), "read it", "", collect(&chunks)); err != nil {
		t.Fatalf("respond: %v", err)
	}

	all := marker.Decode(strings.Join(chunks, ""))
	if len(all.Statuses) != 1 || all.Statuses[0].Status != marker.StatusError {
		t.Fatalf("expected error status: %+v", all.Statuses)
	}
	reqs := f.client.Requests()
	msgs := reqs[1].Messages
	if !strings.Contains(msgs[len(msgs)-1].Content, "not found") {
		t.Fatalf("model never saw the failure: %q", msgs[len(msgs)-1].Content)
	}
}

func TestRespondUnknownToolReported(t *testing.T) {
	f := newFixture(t)
	f.client.EnqueueToolCall("call-1", "run_shell", `{}`)
	f.client.EnqueueText("understood")

	var chunks []string
	if _, err := f.orc.Respond(context.Background(), "go", "", collect(&chunks)); err != nil {
		t.Fatalf("respond: %v", err)
	}
	reqs := f.client.Requests()
	msgs := reqs[1].Messages
	if !strings.Contains(msgs[len(msgs)-1].Content, "not registered") {
		t.Fatalf("missing registration error: %q", msgs[len(msgs)-1].Content)
	}
}

func TestRespondProviderErrorSurfacesVerbatimWithoutRetry(t *testing.T) {
	f := newFixture(t)
	perr := llm.NewProviderError("openrouter", llm.ErrorTypeRateLimit, "429", "rate limited")
	f.client.Fail(perr)

	var chunks []string
	got, err := f.orc.Respond(context.Background(), "hi", "", collect(&chunks))
	if err != nil {
		t.Fatalf("provider failures must end the turn, not error out: %v", err)
	}
	if got != perr.Error() {
		t.Fatalf("response = %q, want %q", got, perr.Error())
	}
	if len(f.client.Requests()) != 1 {
		t.Fatalf("request count = %d, want 1 (no retry)", len(f.client.Requests()))
	}
}

func TestRespondIterationCap(t *testing.T) {
	f := newFixture(t)
	// Script more tool rounds than the budget allows.
	for i := 0; i < 10; i++ {
		f.client.EnqueueToolCall("call-1", "list_directory", `{"path":""}`)
	}

	var chunks []string
	got, err := f.orc.Respond(context.Background(), "loop forever", "", collect(&chunks))
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if !strings.Contains(got, "Stopped after 5 tool rounds") {
		t.Fatalf("cap message missing: %q", got)
	}
	if len(f.client.Requests()) != 5 {
		t.Fatalf("request count = %d, want 5", len(f.client.Requests()))
	}
}

func TestRespondHonorsCancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.orc.Respond(ctx, "hi", "", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRespondPrependsPreamble(t *testing.T) {
	f := newFixture(t)
	f.client.EnqueueText("ok")

	if _, err := f.orc.Respond(context.Background(), "hi", "## Workspace\n\n**Path**: /tmp/p", nil); err != nil {
		t.Fatalf("respond: %v", err)
	}
	reqs := f.client.Requests()
	msgs := reqs[0].Messages
	user := msgs[len(msgs)-1]
	if !strings.HasPrefix(user.Content, "## Workspace") || !strings.HasSuffix(user.Content, "hi") {
		t.Fatalf("preamble not prepended: %q", user.Content)
	}
}
