package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/config"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/ledger"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/logging"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/marker"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/prompts"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/state"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/tooling"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/tree"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/workspace"
)

var commandSuggestions = []prompt.Suggest{
	{Text: ":help", Description: "show this text"},
	{Text: ":edits", Description: "list pending edit proposals"},
	{Text: ":accept", Description: "apply a pending edit (:accept <id>)"},
	{Text: ":reject", Description: "discard a pending edit (:reject <id>)"},
	{Text: ":diff", Description: "show an edit's diff (:diff <id>)"},
	{Text: ":tree", Description: "show the project tree (:tree [expand|collapse <path>])"},
	{Text: ":open", Description: "open a workspace folder or set the active file"},
	{Text: ":tools", Description: "list registered tools"},
	{Text: ":states", Description: "list known conversation keys"},
	{Text: ":use", Description: "switch to an existing state"},
	{Text: ":new", Description: "create and switch to a blank state"},
	{Text: ":clear", Description: "wipe the current state's history"},
	{Text: ":drop", Description: "delete a stored state"},
	{Text: ":history", Description: "show the edit audit trail"},
	{Text: ":quit", Description: "exit the program"},
	{Text: ":exit", Description: "exit the program"},
}

type interruptTracker struct {
	mu     sync.Mutex
	last   time.Time
	window time.Duration
}

func newInterruptTracker(window time.Duration) *interruptTracker {
	return &interruptTracker{window: window}
}

func (t *interruptTracker) secondPress() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if !t.last.IsZero() && now.Sub(t.last) < t.window {
		t.last = time.Time{}
		return true
	}
	t.last = now
	return false
}

type promptExit struct{}

// Repl is the interactive front end: it reads lines, dispatches agent
// turns, renders the response stream, and hosts the edit and tree
// commands.
type Repl struct {
	orc        *Orchestrator
	cfg        config.Config
	states     *state.Manager
	edits      *ledger.Ledger
	treeStore  *tree.Store
	workspaces *workspace.Manager
	watcher    *tree.Watcher
	render     *glamour.TermRenderer
	isTTY      bool
	activeFile string

	requestCancelMu sync.Mutex
	requestCancel   context.CancelFunc
}

func NewRepl(orc *Orchestrator, cfg config.Config, states *state.Manager, edits *ledger.Ledger, treeStore *tree.Store, workspaces *workspace.Manager, watcher *tree.Watcher) *Repl {
	var renderer *glamour.TermRenderer
	if term.IsTerminal(int(os.Stdout.Fd())) {
		if r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(0),
		); err == nil {
			renderer = r
		}
	}
	return &Repl{
		orc:        orc,
		cfg:        cfg,
		states:     states,
		edits:      edits,
		treeStore:  treeStore,
		workspaces: workspaces,
		watcher:    watcher,
		render:     renderer,
		isTTY:      term.IsTerminal(int(os.Stdin.Fd())),
	}
}

// Run starts the prompt loop and blocks until the session finishes.
func (r *Repl) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracker := newInterruptTracker(2 * time.Second)
	if r.isTTY {
		return r.runPrompt(ctx, cancel, tracker)
	}
	go r.handleInterrupts(ctx, cancel, tracker)
	return r.runNonInteractive(ctx, cancel)
}

// RunOneShot executes a single prompt and exits.
func (r *Repl) RunOneShot(ctx context.Context, input string) error {
	_, err := r.orc.Respond(ctx, input, r.preamble(), r.streamRenderer())
	if err != nil {
		return fmt.Errorf("respond: %w", err)
	}
	return nil
}

func (r *Repl) runPrompt(ctx context.Context, cancel context.CancelFunc, tracker *interruptTracker) (err error) {
	fmt.Println("Welcome to Monolith. Type ':help' for commands; send prompts to talk to the agent.")
	r.printWorkspaceBanner()

	history := loadInputHistory(r.cfg.HistoryPath)

	var restore func()
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		if st, terr := term.GetState(fd); terr == nil {
			restore = func() { _ = term.Restore(fd, st) }
		}
	}
	if restore != nil {
		defer restore()
	}

	var exitRequested atomic.Bool
	defer func() {
		if rec := recover(); rec != nil {
			if _, ok := rec.(promptExit); ok {
				err = nil
				return
			}
			panic(rec)
		}
	}()

	executor := func(in string) {
		if exitRequested.Load() || ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(in)
		if line == "" {
			return
		}
		history.Add(line)
		if exit := r.handleLine(ctx, line); exit {
			exitRequested.Store(true)
			cancel()
			panic(promptExit{})
		}
	}

	p := prompt.New(
		executor,
		r.commandCompleter(),
		prompt.OptionHistory(history.Entries()),
		prompt.OptionTitle("Monolith"),
		prompt.OptionLivePrefix(func() (string, bool) {
			current := r.states.Current()
			key := "default"
			if current != nil {
				key = current.Key()
			}
			return fmt.Sprintf("[%s] > ", key), true
		}),
		prompt.OptionAddKeyBind(
			prompt.KeyBind{
				Key: prompt.ControlC,
				Fn: func(buf *prompt.Buffer) {
					if r.cancelInFlightRequest() {
						fmt.Println("\n(Current request cancelled.)")
						return
					}
					if tracker.secondPress() {
						fmt.Println("\nReceived second Ctrl+C, exiting.")
						exitRequested.Store(true)
						cancel()
						panic(promptExit{})
					}
					fmt.Println("\n(Press Ctrl+C again within 2s to exit)")
				},
			},
			prompt.KeyBind{
				Key: prompt.ControlD,
				Fn: func(buf *prompt.Buffer) {
					if buf.Text() == "" {
						exitRequested.Store(true)
						cancel()
						panic(promptExit{})
					}
				},
			},
		),
		prompt.OptionSetExitCheckerOnInput(func(string, bool) bool {
			if exitRequested.Load() {
				return true
			}
			select {
			case <-ctx.Done():
				return true
			default:
				return false
			}
		}),
	)

	p.Run()
	return nil
}

func (r *Repl) commandCompleter() func(prompt.Document) []prompt.Suggest {
	return func(doc prompt.Document) []prompt.Suggest {
		word := doc.GetWordBeforeCursor()
		prefix := strings.TrimLeft(doc.TextBeforeCursor(), " \t")
		if !strings.HasPrefix(prefix, ":") {
			return nil
		}
		return prompt.FilterHasPrefix(commandSuggestions, word, true)
	}
}

func (r *Repl) runNonInteractive(ctx context.Context, cancel context.CancelFunc) error {
	reader := bufio.NewReader(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		current := r.states.Current()
		key := "default"
		if current != nil {
			key = current.Key()
		}
		fmt.Printf("[%s] > ", key)

		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Println()
				return nil
			}
			if ctx.Err() != nil {
				fmt.Println()
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		if exit := r.handleLine(ctx, strings.TrimRight(line, "\r\n")); exit {
			cancel()
			return nil
		}
	}
}

func (r *Repl) handleInterrupts(ctx context.Context, cancel context.CancelFunc, tracker *interruptTracker) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			if tracker.secondPress() {
				fmt.Println("\nReceived second Ctrl+C, exiting.")
				cancel()
				return
			}
			fmt.Println("\n(Press Ctrl+C again within 2s to exit)")
		}
	}
}

func (r *Repl) handleLine(ctx context.Context, input string) bool {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return false
	}
	if strings.HasPrefix(trimmed, ":") {
		return r.handleCommand(trimmed)
	}

	logging.DevLog("dispatching prompt: %d chars", len(input))
	reqCtx, reqCancel := context.WithCancel(ctx)
	r.setInFlightCancel(reqCancel)
	_, err := r.orc.Respond(reqCtx, input, r.preamble(), r.streamRenderer())
	r.clearInFlightCancel()
	reqCancel()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Println("(Request cancelled.)")
			return false
		}
		logging.ErrorLog("agent error: %v", err)
	}
	return false
}

// preamble describes the current workspace to the model.
func (r *Repl) preamble() string {
	guard := r.workspaces.Current()
	if guard.Root() == "" {
		return ""
	}
	p := prompts.Preamble{
		Root:     guard.Root(),
		TreeText: r.treeStore.Render(),
	}
	if r.activeFile != "" {
		if abs, err := guard.Resolve(r.activeFile); err == nil {
			if data, err := os.ReadFile(abs); err == nil {
				p.ActivePath = r.activeFile
				p.ActiveText = string(data)
			}
		}
	}
	return p.Render()
}

// streamRenderer converts the agent's marker stream into terminal
// output: status lines for tool activity, diffs for edit proposals,
// rendered markdown for prose.
func (r *Repl) streamRenderer() StreamFunc {
	return func(chunk string) {
		decoded := marker.Decode(chunk)
		for _, s := range decoded.Statuses {
			switch s.Status {
			case marker.StatusRunning:
				fmt.Printf("* %s %s ...\n", s.ToolName, s.Path)
			case marker.StatusError:
				fmt.Printf("x %s %s failed: %s\n", s.ToolName, s.Path, s.Summary)
			default:
				fmt.Printf("+ %s %s: %s\n", s.ToolName, s.Path, s.Summary)
			}
		}
		for _, p := range decoded.Proposals {
			r.printProposal(p)
		}
		if prose := strings.TrimSpace(decoded.Prose); prose != "" {
			r.printMarkdown(prose)
		}
	}
}

func (r *Repl) printProposal(p marker.Proposal) {
	edit, err := r.edits.Get(p.ID)
	if err != nil {
		return
	}
	added, removed := ledger.ChangeCounts(edit)
	fmt.Printf("\nProposed edit %s (%s, +%d/-%d) for %s\n", edit.ID, edit.Kind, added, removed, edit.TargetPath)
	if diff, err := r.edits.Diff(p.ID); err == nil {
		fmt.Print(diff)
	}
	fmt.Printf("Use :accept %s or :reject %s\n\n", edit.ID, edit.ID)
}

func (r *Repl) printMarkdown(text string) {
	if r.render == nil {
		fmt.Printf("%s\n", text)
		return
	}
	rendered, err := r.render.Render(text)
	if err != nil {
		fmt.Printf("%s\n", text)
		return
	}
	fmt.Print(strings.TrimRight(rendered, "\n") + "\n")
}

func (r *Repl) printWorkspaceBanner() {
	guard := r.workspaces.Current()
	if guard.Root() == "" {
		fmt.Println("No workspace open. Use ':open <folder>' to pick one.")
		return
	}
	fmt.Printf("Workspace: %s\n", guard.Root())
}

func (r *Repl) setInFlightCancel(cancel context.CancelFunc) {
	r.requestCancelMu.Lock()
	r.requestCancel = cancel
	r.requestCancelMu.Unlock()
}

func (r *Repl) clearInFlightCancel() {
	r.requestCancelMu.Lock()
	r.requestCancel = nil
	r.requestCancelMu.Unlock()
}

func (r *Repl) cancelInFlightRequest() bool {
	r.requestCancelMu.Lock()
	cancel := r.requestCancel
	r.requestCancel = nil
	r.requestCancelMu.Unlock()
	if cancel != nil {
		cancel()
		return true
	}
	return false
}

// openWorkspace switches every root-scoped component to a new folder.
func (r *Repl) openWorkspace(root string) error {
	guard, err := r.workspaces.Open(root)
	if err != nil {
		return err
	}
	r.treeStore.SetGuard(guard)
	r.edits.SetGuard(guard)
	r.orc.SetTools(tooling.NewRegistry(tooling.DefaultTools(guard)...))
	r.activeFile = ""

	if r.watcher != nil {
		_ = r.watcher.Stop()
	}
	watcher, err := tree.NewWatcher(guard, r.treeStore, r.cfg.TreeDebounce(), nil)
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}
	r.watcher = watcher

	if _, err := r.treeStore.Expand("."); err != nil {
		return err
	}
	fmt.Printf("Workspace: %s\n", guard.Root())
	return nil
}

func sortedCopy(keys []string) []string {
	cpy := make([]string, len(keys))
	copy(cpy, keys)
	sort.Strings(cpy)
	return cpy
}
