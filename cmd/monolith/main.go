package main

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/agent"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/config"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/ledger"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/llm"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/llm/mockclient"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/logging"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/openrouter"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/prompts"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/state"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/tooling"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/tree"
	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/workspace"
)

// Version is set via -ldflags during build
var Version = "dev"

func main() {
	var (
		rootFlag     = flag.String("root", "", "Workspace folder to open (default: last opened)")
		resumeKey    = flag.String("resume", "", "Resume an existing session key")
		listSessions = flag.Bool("list-sessions", false, "List stored sessions for this workspace and exit")
		promptFlag   = flag.String("p", "", "Execute a single prompt and exit (non-interactive mode)")
		versionFlag  = flag.Bool("version", false, "Print version and exit")
	)
	flag.StringVar(promptFlag, "prompt", "", "Execute a single prompt and exit (non-interactive mode)")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("Monolith version %s\n", Version)
		return
	}

	cfg, err := config.LoadUserConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if root := strings.TrimSpace(*rootFlag); root != "" {
		cfg.OverrideWorkspaceRoot(root)
	}

	// Restore the last workspace unless one was given explicitly.
	workspaces, err := workspace.NewManager(config.GetConfigDir())
	if err != nil {
		log.Fatalf("Failed to init workspace manager: %v", err)
	}
	var guard workspace.Guard
	if cfg.WorkspaceRoot != "" {
		absRoot, err := filepath.Abs(cfg.WorkspaceRoot)
		if err != nil {
			log.Fatalf("Failed to resolve workspace root: %v", err)
		}
		if err := os.MkdirAll(absRoot, 0o755); err != nil {
			log.Fatalf("Failed to create workspace root: %v", err)
		}
		if guard, err = workspaces.Open(absRoot); err != nil {
			log.Fatalf("Failed to open workspace: %v", err)
		}
	} else {
		if guard, err = workspaces.Restore(); err != nil {
			log.Fatalf("Failed to restore workspace: %v", err)
		}
	}

	dataRoot := projectStorageRoot(guard.Root())
	if err := os.MkdirAll(dataRoot, 0o755); err != nil {
		log.Fatalf("Failed to create project storage root: %v", err)
	}
	cfg.ConversationDir = filepath.Join(dataRoot, "conversations")
	cfg.HistoryPath = filepath.Join(dataRoot, ".history")
	if cfg.LedgerDBPath == "" {
		cfg.LedgerDBPath = filepath.Join(dataRoot, "edits.db")
	}
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(dataRoot, "monolith.log")
	}

	logging.UseFile(cfg.LogFile, false)
	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer logFile.Close()
	logger := log.New(logFile, "monolith ", log.LstdFlags|log.Lmicroseconds)

	var client llm.Client
	if os.Getenv("MONOLITH_MOCK_LLM") == "1" {
		logger.Println("MONOLITH_MOCK_LLM=1 detected; using mock LLM client")
		client = mockclient.New()
	} else {
		apiKey := cfg.APIKey
		if env := os.Getenv("MONOLITH_API_KEY"); env != "" {
			apiKey = env
		}
		if apiKey == "" {
			log.Fatal("No API key configured. Set api_key in the config file or MONOLITH_API_KEY.")
		}
		client = openrouter.NewClient(cfg.BaseURL, apiKey, cfg.RequestTimeout(), logger)
	}

	combinedPrompt := prompts.Combine(cfg.SystemPrompt)
	states, err := state.NewManager(combinedPrompt, cfg.ConversationDir, logger)
	if err != nil {
		log.Fatalf("Failed to init state manager: %v", err)
	}
	if *listSessions {
		keys := states.ListKeys()
		if len(keys) == 0 {
			fmt.Println("No stored sessions for this workspace.")
			return
		}
		for _, key := range keys {
			fmt.Println(key)
		}
		return
	}
	if key := strings.TrimSpace(*resumeKey); key != "" {
		if _, err := states.Use(key); err != nil {
			log.Fatalf("Failed to resume session %s: %v", key, err)
		}
	} else if _, err := states.EnsureState("default"); err != nil {
		log.Fatalf("Failed to init session: %v", err)
	}

	treeStore := tree.NewStore(guard, logger)
	edits := ledger.New(guard, logger,
		ledger.WithAudit(cfg.LedgerDBPath),
		ledger.WithAppliedHook(func(rel string) {
			if err := treeStore.Refresh(filepath.ToSlash(filepath.Dir(rel))); err != nil {
				logger.Printf("tree refresh after edit: %v", err)
			}
		}),
	)
	defer edits.Close()

	var watcher *tree.Watcher
	if guard.Root() != "" {
		if _, err := treeStore.Expand("."); err != nil {
			logger.Printf("initial tree expand failed: %v", err)
		}
		if watcher, err = tree.NewWatcher(guard, treeStore, cfg.TreeDebounce(), logger); err != nil {
			log.Fatalf("Failed to init file watcher: %v", err)
		}
		if err := watcher.Start(); err != nil {
			log.Fatalf("Failed to start file watcher: %v", err)
		}
		defer watcher.Stop()
	}

	tools := tooling.NewRegistry(tooling.DefaultTools(guard)...)
	orc := agent.NewOrchestrator(client, cfg, states, tools, edits, logger)
	repl := agent.NewRepl(orc, cfg, states, edits, treeStore, workspaces, watcher)

	ctx := context.Background()
	if p := strings.TrimSpace(*promptFlag); p != "" {
		if err := repl.RunOneShot(ctx, p); err != nil {
			log.Fatalf("Prompt failed: %v", err)
		}
		return
	}
	if err := repl.Run(ctx); err != nil {
		log.Fatalf("Session failed: %v", err)
	}
}

// projectStorageRoot maps a workspace to its per-project data directory
// under the user config dir; the hash keeps same-named folders apart.
func projectStorageRoot(workspaceRoot string) string {
	if workspaceRoot == "" {
		return filepath.Join(config.GetConfigDir(), "projects", "no-workspace")
	}
	clean := filepath.Clean(workspaceRoot)
	base := sanitizeSlug(filepath.Base(clean))
	if base == "" {
		base = "workspace"
	}
	sum := sha1.Sum([]byte(clean))
	return filepath.Join(config.GetConfigDir(), "projects", fmt.Sprintf("%s-%s", base, hex.EncodeToString(sum[:8])))
}

func sanitizeSlug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-._")
}
