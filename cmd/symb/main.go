package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xonecas/symb/internal/config"
	"github.com/xonecas/symb/internal/convo"
	"github.com/xonecas/symb/internal/executor"
	"github.com/xonecas/symb/internal/ids"
	"github.com/xonecas/symb/internal/llm"
	"github.com/xonecas/symb/internal/lsp"
	"github.com/xonecas/symb/internal/mcp"
	"github.com/xonecas/symb/internal/provider"
	"github.com/xonecas/symb/internal/shell"
	"github.com/xonecas/symb/internal/store"
	"github.com/xonecas/symb/internal/tools"
	"github.com/xonecas/symb/internal/treesitter"
)

func main() {
	if err := setupFileLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to setup logging: %v\n", err)
	}

	flagSession := flag.String("s", "", "resume a session by ID")
	flagList := flag.Bool("l", false, "list sessions")
	flagContinue := flag.Bool("c", false, "continue most recent session")
	flag.StringVar(flagSession, "session", "", "resume a session by ID")
	flag.BoolVar(flagList, "list", false, "list sessions")
	flag.BoolVar(flagContinue, "continue", false, "continue most recent session")
	flag.Parse()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		fmt.Printf("Error loading credentials: %v\n", err)
		os.Exit(1)
	}

	cacheDB := openCacheDB(cfg)
	if cacheDB != nil {
		defer cacheDB.Close()
	}

	if *flagList {
		listSessions(cacheDB)
		return
	}

	registry := buildProviderRegistry(cfg, creds)
	providerName, providerCfg := resolveProvider(cfg, registry)
	prov, err := registry.Create(providerName, providerCfg.Model, provider.Options{Temperature: providerCfg.Temperature})
	if err != nil {
		fmt.Printf("Error creating provider: %v\n", err)
		os.Exit(1)
	}
	defer prov.Close()

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Printf("Warning: failed to get working directory: %v\n", err)
		cwd = "."
	}

	outline := treesitter.NewIndex(cwd)
	if err := outline.Build(); err != nil {
		log.Warn().Err(err).Msg("tree-sitter index build failed")
	}

	toolRegistry := buildToolRegistry(cwd, cacheDB, creds)
	systemPrompt := llm.BuildSystemPrompt(providerCfg.Model, outline)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lspManager := lsp.NewManager()
	defer lspManager.StopAll(ctx)

	if cfg.MCP.Upstream != "" {
		proxy := mcp.NewProxy(mcp.NewClient(cfg.MCP.Upstream))
		defer proxy.Close()
		if n, err := tools.RegisterMCPTools(ctx, toolRegistry, proxy); err != nil {
			log.Warn().Err(err).Str("upstream", cfg.MCP.Upstream).Msg("MCP upstream unavailable")
		} else {
			log.Info().Int("tools", n).Str("upstream", cfg.MCP.Upstream).Msg("registered MCP tools")
		}
	}

	truncDir, err := config.EnsureDataDir()
	if err != nil {
		truncDir = filepath.Join(os.TempDir(), "symb-truncate")
	} else {
		truncDir = filepath.Join(truncDir, "truncate")
	}

	profile := executor.AgentProfile{
		Provider:     prov,
		ModelID:      providerCfg.Model,
		ModelName:    providerCfg.Model,
		SystemPrompt: systemPrompt,
		Registry:     toolRegistry,
		Outline:      outline,
		LSP:          lspManager,
		WorkDir:      cwd,
		Store:        cacheDB,
		AskUser:      askUserPrompt,
	}
	bus := executor.New(profile, truncDir)
	go bus.Run(ctx)

	sessionID := resolveSessionID(*flagSession, *flagContinue, cacheDB)

	initID := bus.Submit(executor.Operation{Kind: executor.OpInitAgent, SessionID: sessionID})
	drainUntilTerminal(bus, initID)

	runREPL(bus, sessionID)
}

// stdin is shared between the REPL read loop and askUserPrompt; only one
// reads at a time (the REPL blocks in drainUntilTerminal while a task —
// and therefore any AskUserQuestion — is in flight).
var stdin = func() *bufio.Scanner {
	s := bufio.NewScanner(os.Stdin)
	s.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return s
}()

// askUserPrompt resolves AskUserQuestion tool calls on the terminal.
func askUserPrompt(ctx context.Context, question string, options []string) (string, error) {
	fmt.Printf("\n[question] %s\n", question)
	for i, opt := range options {
		fmt.Printf("  %d. %s\n", i+1, opt)
	}
	fmt.Print("answer> ")
	if !stdin.Scan() {
		return "", fmt.Errorf("input closed")
	}
	answer := strings.TrimSpace(stdin.Text())
	if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(options) {
		return options[n-1], nil
	}
	return answer, nil
}

// runREPL is the thin stdin/stdout consumer that drives the Executor:
// each line submitted becomes a user_input operation, and every event
// the bus emits for this session is rendered until the turn's terminal
// event arrives. A richer UI (cmd/symbtui) can subscribe to bus.Events()
// the same way.
func runREPL(bus *executor.Bus, sessionID string) {
	fmt.Printf("symb session %s - type your request, Ctrl-D to exit\n", sessionID)

	for {
		fmt.Print("> ")
		if !stdin.Scan() {
			break
		}
		text := strings.TrimSpace(stdin.Text())
		if text == "" {
			continue
		}

		if text == "/undo" {
			affected, err := bus.Undo(sessionID)
			if err != nil {
				fmt.Printf("undo: %v\n", err)
				continue
			}
			fmt.Printf("Reverted %d file(s):\n", len(affected))
			for _, p := range affected {
				fmt.Printf("  %s\n", p)
			}
			continue
		}

		subID := bus.Submit(executor.Operation{Kind: executor.OpUserInput, SessionID: sessionID, Text: text})
		drainUntilTerminal(bus, subID)
	}
}

func drainUntilTerminal(bus *executor.Bus, subID string) {
	done := make(chan struct{})
	go func() {
		bus.WaitFor(subID)
		close(done)
	}()

	for {
		select {
		case evt := <-bus.Events():
			renderEvent(evt)
		case <-done:
			return
		}
	}
}

func renderEvent(evt executor.Event) {
	if evt.Err != nil {
		fmt.Printf("error: %v\n", evt.Err)
	}
	if !evt.HasItem {
		return
	}
	switch evt.Item.Kind {
	case convo.KindAssistantMessageDelta:
		lastDeltaResponse = evt.Item.ResponseID
		fmt.Print(evt.Item.Content)
	case convo.KindAssistantMessage:
		if evt.Item.ResponseID == lastDeltaResponse && lastDeltaResponse != "" {
			// Content already streamed via the deltas above.
			fmt.Println()
		} else if evt.Item.Content != "" {
			fmt.Printf("\n%s\n", evt.Item.Content)
		}
	case convo.KindToolCall:
		fmt.Printf("[tool] %s %s\n", evt.Item.ToolName, string(evt.Item.ArgumentsJSON))
	case convo.KindToolResult:
		fmt.Printf("[result %s] %s\n", evt.Item.Status, truncatePreview(evt.Item.Output))
	case convo.KindDeveloperMessage:
		fmt.Printf("[notice] %s\n", truncatePreview(evt.Item.Content))
	case convo.KindStreamError:
		fmt.Printf("[stream error] %s\n", evt.Item.Err)
	}
}

// lastDeltaResponse remembers which response id already streamed its
// content as deltas, so the finalized message isn't printed twice while
// replayed history (which has no deltas) still renders in full.
var lastDeltaResponse string

func truncatePreview(s string) string {
	const max = 300
	if len(s) > max {
		return s[:max] + "…"
	}
	return s
}

func resolveConfigPath() string {
	configPath := filepath.Join(".", "config.toml")
	if dataDir, err := config.DataDir(); err == nil {
		dataDirPath := filepath.Join(dataDir, "config.toml")
		if _, err := os.Stat(dataDirPath); err == nil {
			configPath = dataDirPath
		}
	}
	return configPath
}

func buildProviderRegistry(cfg *config.Config, creds *config.Credentials) *provider.Registry {
	registry := provider.NewRegistry()
	for name, providerCfg := range cfg.Providers {
		apiKey := creds.GetAPIKey(name)
		switch providerCfg.Type {
		case "vllm":
			registry.RegisterFactory(name, provider.NewVLLMFactory(name, providerCfg.Endpoint, apiKey))
		case "opencode":
			registry.RegisterFactory(name, provider.NewOpenCodeFactory(name, providerCfg.Endpoint, apiKey))
		case "zen":
			registry.RegisterFactory(name, provider.NewZenFactory(name, apiKey, providerCfg.Endpoint))
		default:
			registry.RegisterFactory(name, provider.NewOllamaFactory(name, providerCfg.Endpoint))
		}
	}
	return registry
}

func resolveProvider(cfg *config.Config, registry *provider.Registry) (string, config.ProviderConfig) {
	name := cfg.DefaultProvider
	if name == "" {
		providers := registry.List()
		if len(providers) == 0 {
			fmt.Println("Error: No providers configured")
			os.Exit(1)
		}
		name = providers[0]
	}
	pcfg, ok := cfg.Providers[name]
	if !ok {
		fmt.Printf("Error: Provider %q not found\n", name)
		os.Exit(1)
	}
	return name, pcfg
}

// buildToolRegistry registers every tool the root agent may call. root is
// the workspace directory every path-taking tool resolves against.
func buildToolRegistry(root string, cache *store.Cache, creds *config.Credentials) *tools.Registry {
	reg := tools.NewRegistry()
	reg.Register(tools.ReadTool{})
	reg.Register(tools.EditTool{})
	reg.Register(tools.WriteTool{})
	reg.Register(tools.ApplyPatchTool{})
	reg.Register(tools.BashTool{Shell: shell.New(root, shell.DefaultBlockFuncs())})
	reg.Register(tools.TodoWriteTool{})
	reg.Register(tools.AskUserQuestionTool{})
	reg.Register(tools.SubAgentTool{})
	reg.Register(tools.GitStatusTool{})
	reg.Register(tools.GitDiffTool{})
	reg.Register(tools.WebFetchTool{Cache: cache})
	if apiKey := creds.GetAPIKey("exa"); apiKey != "" {
		reg.Register(tools.WebSearchTool{Cache: cache, APIKey: apiKey})
	}
	return reg
}

func openCacheDB(cfg *config.Config) *store.Cache {
	cacheDir, err := config.EnsureDataDir()
	if err != nil {
		fmt.Printf("Warning: cache dir failed: %v\n", err)
		return nil
	}
	cacheTTL := time.Duration(cfg.Cache.CacheTTLOrDefault()) * time.Hour
	cache, err := store.Open(filepath.Join(cacheDir, "cache.db"), cacheTTL)
	if err != nil {
		fmt.Printf("Warning: cache open failed: %v\n", err)
		return nil
	}
	return cache
}

func resolveSessionID(flagSession string, flagContinue bool, db *store.Cache) string {
	switch {
	case flagSession != "":
		if db != nil {
			if ok, err := db.SessionExists(flagSession); err != nil || !ok {
				fmt.Printf("Session %q not found\n", flagSession)
				os.Exit(1)
			}
		}
		return flagSession

	case flagContinue:
		if db == nil {
			fmt.Println("No cache available")
			os.Exit(1)
		}
		id, err := db.LatestSessionID()
		if err != nil {
			fmt.Printf("No sessions to continue: %v\n", err)
			os.Exit(1)
		}
		return id

	default:
		return ids.NewSessionID()
	}
}

func setupFileLogging() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	dataDir, err := config.DataDir()
	if err != nil {
		return err
	}

	logDir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return err
	}

	logFile := filepath.Join(logDir, "symb.log")
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	log.Logger = log.Output(file)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	return nil
}

func listSessions(db *store.Cache) {
	if db == nil {
		fmt.Println("No cache available")
		return
	}
	sessions, err := db.ListSessions()
	if err != nil {
		fmt.Printf("Error listing sessions: %v\n", err)
		return
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions found")
		return
	}
	for _, s := range sessions {
		ts := s.Timestamp.Format("2006-01-02 15:04")
		preview := strings.ReplaceAll(s.Preview, "\n", " ")
		if len(preview) > 50 {
			preview = preview[:50]
		}
		fmt.Printf("%s  %s  %s\n", s.ID, ts, preview)
	}
}
