package agent

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/ledger"
)

// handleCommand runs one ':' command. It returns true when the REPL
// should exit.
func (r *Repl) handleCommand(cmd string) bool {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false
	}
	switch parts[0] {
	case ":help":
		fmt.Println(`Commands:
  :help            show this text
  :edits           list pending edit proposals
  :accept <id>     apply a pending edit to disk
  :reject <id>     discard a pending edit
  :diff <id>       show what an edit would change
  :tree            show the project tree
  :tree expand <path>    expand a folder
  :tree collapse <path>  collapse a folder
  :open <path>     open a workspace folder, or set the active file
  :tools           list registered tools
  :states          list known conversation keys
  :use <key>       switch to an existing state (creates if missing)
  :new <key>       create and switch to a blank state
  :clear           wipe the current state's history
  :drop <key>      delete a stored state
  :history [n]     show the edit audit trail (default 20)
  :quit            exit the program`)
	case ":edits":
		r.cmdEdits()
	case ":accept":
		if len(parts) < 2 {
			fmt.Println(":accept requires an edit id")
			return false
		}
		r.cmdAccept(parts[1])
	case ":reject":
		if len(parts) < 2 {
			fmt.Println(":reject requires an edit id")
			return false
		}
		r.cmdReject(parts[1])
	case ":diff":
		if len(parts) < 2 {
			fmt.Println(":diff requires an edit id")
			return false
		}
		diff, err := r.edits.Diff(parts[1])
		if err != nil {
			fmt.Println(err)
			return false
		}
		fmt.Print(diff)
	case ":tree":
		r.cmdTree(parts[1:])
	case ":open":
		if len(parts) < 2 {
			r.printWorkspaceBanner()
			return false
		}
		r.cmdOpen(strings.Join(parts[1:], " "))
	case ":tools":
		defs := r.orc.tools.Definitions()
		if len(defs) == 0 {
			fmt.Println("No tools registered.")
			return false
		}
		for _, def := range defs {
			fmt.Printf("  %s - %s\n", def.Function.Name, def.Function.Description)
		}
	case ":states":
		keys := r.states.ListKeys()
		if len(keys) == 0 {
			fmt.Println("No states yet. Use :new <name> to create one.")
			return false
		}
		fmt.Printf("States: %s\n", strings.Join(sortedCopy(keys), ", "))
	case ":use":
		if len(parts) < 2 {
			fmt.Println(":use requires a key")
			return false
		}
		if _, err := r.states.EnsureState(parts[1]); err != nil {
			fmt.Println(err)
			return false
		}
		fmt.Printf("Switched to %s\n", parts[1])
	case ":new":
		if len(parts) < 2 {
			fmt.Println(":new requires a key")
			return false
		}
		if _, err := r.states.NewState(parts[1]); err != nil {
			fmt.Println(err)
			return false
		}
		fmt.Printf("Created new state %s\n", parts[1])
	case ":clear":
		if err := r.states.ClearCurrent(); err != nil {
			fmt.Printf("Clear failed: %v\n", err)
			return false
		}
		fmt.Println("Cleared current state.")
	case ":drop":
		if len(parts) < 2 {
			fmt.Println(":drop requires a key")
			return false
		}
		if err := r.states.Delete(parts[1]); err != nil {
			fmt.Println(err)
			return false
		}
		fmt.Printf("Removed state %s\n", parts[1])
	case ":history":
		r.cmdHistory()
	case ":quit", ":exit":
		return true
	default:
		fmt.Printf("Unknown command %s. Try :help.\n", parts[0])
	}
	return false
}

func (r *Repl) cmdEdits() {
	pending := r.edits.Pending()
	if len(pending) == 0 {
		fmt.Println("No pending edits.")
		return
	}
	for _, edit := range pending {
		added, removed := ledger.ChangeCounts(edit)
		fmt.Printf("  %s  %-5s  +%d/-%d  %s\n", edit.ID, edit.Kind, added, removed, edit.TargetPath)
	}
}

func (r *Repl) cmdAccept(id string) {
	edit, err := r.edits.Get(id)
	if err != nil {
		fmt.Println(err)
		return
	}
	if err := r.edits.Accept(id); err != nil {
		if errors.Is(err, ledger.ErrStaleEdit) {
			fmt.Printf("Edit %s is stale: %s changed since it was proposed. Ask the agent to redo the edit against the current file.\n", id, edit.TargetPath)
			return
		}
		fmt.Printf("Accept failed: %v\n", err)
		return
	}
	fmt.Printf("Applied %s to %s\n", id, edit.TargetPath)
}

func (r *Repl) cmdReject(id string) {
	if err := r.edits.Reject(id); err != nil {
		fmt.Printf("Reject failed: %v\n", err)
		return
	}
	fmt.Printf("Rejected %s\n", id)
}

func (r *Repl) cmdTree(args []string) {
	if len(args) == 0 {
		if !r.treeStore.IsExpanded(".") {
			if _, err := r.treeStore.Expand("."); err != nil {
				fmt.Printf("Tree unavailable: %v\n", err)
				return
			}
		}
		fmt.Print(r.treeStore.Render())
		return
	}
	if len(args) < 2 {
		fmt.Println("usage: :tree [expand|collapse <path>]")
		return
	}
	switch args[0] {
	case "expand":
		if _, err := r.treeStore.Expand(args[1]); err != nil {
			fmt.Println(err)
			return
		}
		fmt.Print(r.treeStore.Render())
	case "collapse":
		r.treeStore.Collapse(args[1])
		fmt.Print(r.treeStore.Render())
	default:
		fmt.Println("usage: :tree [expand|collapse <path>]")
	}
}

// cmdOpen opens a directory as the new workspace root, or marks a file
// inside the current workspace as the active file for context.
func (r *Repl) cmdOpen(path string) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		if err := r.openWorkspace(path); err != nil {
			fmt.Printf("Open failed: %v\n", err)
		}
		return
	}
	guard := r.workspaces.Current()
	if guard.Root() == "" {
		fmt.Println("No workspace open. Use ':open <folder>' first.")
		return
	}
	abs, err := guard.Resolve(path)
	if err != nil {
		fmt.Println(err)
		return
	}
	if _, err := os.Stat(abs); err != nil {
		fmt.Printf("No such file: %s\n", path)
		return
	}
	r.activeFile = guard.Rel(abs)
	fmt.Printf("Active file: %s\n", r.activeFile)
}

func (r *Repl) cmdHistory() {
	events, err := r.edits.History(20)
	if err != nil {
		fmt.Printf("History unavailable: %v\n", err)
		return
	}
	if len(events) == 0 {
		fmt.Println("No edit history recorded.")
		return
	}
	for _, ev := range events {
		line := fmt.Sprintf("  %s  %-9s %s %s", ev.RecordedAt.Format("15:04:05"), ev.Event, ev.EditID, ev.TargetPath)
		if ev.Detail != "" {
			line += " (" + ev.Detail + ")"
		}
		fmt.Println(line)
	}
}
