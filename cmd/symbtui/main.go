// Command symbtui is the richer terminal front end for the symb agent:
// the same Executor bus cmd/symb drives line-by-line, rendered as a
// full-screen bubbletea program with streaming output.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/rs/zerolog/log"

	"github.com/xonecas/symb/internal/config"
	"github.com/xonecas/symb/internal/executor"
	"github.com/xonecas/symb/internal/ids"
	"github.com/xonecas/symb/internal/llm"
	"github.com/xonecas/symb/internal/lsp"
	"github.com/xonecas/symb/internal/provider"
	"github.com/xonecas/symb/internal/shell"
	"github.com/xonecas/symb/internal/store"
	"github.com/xonecas/symb/internal/tools"
	"github.com/xonecas/symb/internal/treesitter"
	"github.com/xonecas/symb/internal/tui"
)

func main() {
	flagSession := flag.String("s", "", "resume a session by ID")
	flag.StringVar(flagSession, "session", "", "resume a session by ID")
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

	providerName := cfg.DefaultProvider
	if providerName == "" {
		names := registry.List()
		if len(names) == 0 {
			fmt.Println("Error: No providers configured")
			os.Exit(1)
		}
		providerName = names[0]
	}
	providerCfg := cfg.Providers[providerName]
	prov, err := registry.Create(providerName, providerCfg.Model, provider.Options{Temperature: providerCfg.Temperature})
	if err != nil {
		fmt.Printf("Error creating provider: %v\n", err)
		os.Exit(1)
	}
	defer prov.Close()

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}

	outline := treesitter.NewIndex(cwd)
	if err := outline.Build(); err != nil {
		log.Warn().Err(err).Msg("tree-sitter index build failed")
	}

	var cache *store.Cache
	dataDir, err := config.EnsureDataDir()
	if err == nil {
		ttl := time.Duration(cfg.Cache.CacheTTLOrDefault()) * time.Hour
		cache, err = store.Open(filepath.Join(dataDir, "cache.db"), ttl)
		if err != nil {
			log.Warn().Err(err).Msg("cache open failed")
		} else {
			defer cache.Close()
		}
	}
	truncDir := filepath.Join(os.TempDir(), "symb-truncate")
	if dataDir != "" {
		truncDir = filepath.Join(dataDir, "truncate")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lspManager := lsp.NewManager()
	defer lspManager.StopAll(ctx)

	toolRegistry := tools.NewRegistry()
	toolRegistry.Register(tools.ReadTool{})
	toolRegistry.Register(tools.EditTool{})
	toolRegistry.Register(tools.WriteTool{})
	toolRegistry.Register(tools.ApplyPatchTool{})
	toolRegistry.Register(tools.BashTool{Shell: shell.New(cwd, shell.DefaultBlockFuncs())})
	toolRegistry.Register(tools.TodoWriteTool{})
	toolRegistry.Register(tools.SubAgentTool{})

	bus := executor.New(executor.AgentProfile{
		Provider:     prov,
		ModelID:      providerCfg.Model,
		ModelName:    providerCfg.Model,
		SystemPrompt: llm.BuildSystemPrompt(providerCfg.Model, outline),
		Registry:     toolRegistry,
		Outline:      outline,
		LSP:          lspManager,
		WorkDir:      cwd,
		Store:        cache,
	}, truncDir)
	go bus.Run(ctx)

	sessionID := *flagSession
	if sessionID == "" {
		sessionID = ids.NewSessionID()
	}

	// Drain the init/replay events synchronously so resumed history is
	// on screen at first paint and the bus never blocks on a full
	// buffer before the program starts consuming.
	initID := bus.Submit(executor.Operation{Kind: executor.OpInitAgent, SessionID: sessionID})
	var initEvents []executor.Event
	for evt := range bus.Events() {
		initEvents = append(initEvents, evt)
		if evt.Terminal {
			break
		}
	}
	bus.WaitFor(initID)

	p := tea.NewProgram(tui.New(bus, sessionID, providerCfg.Model).Prime(initEvents))

	// Bridge: every bus event becomes a program message. The program
	// owns rendering; the bus never blocks on it thanks to its buffer.
	go func() {
		for evt := range bus.Events() {
			p.Send(tui.BusEventMsg{Event: evt})
		}
	}()

	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running symbtui: %v\n", err)
		os.Exit(1)
	}
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
