package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/scrivly/agentloop/agent"
	"github.com/scrivly/agentloop/config"
	"github.com/scrivly/agentloop/history"
	"github.com/scrivly/agentloop/llm"
	"github.com/scrivly/agentloop/llm/anthropic"
	"github.com/scrivly/agentloop/llm/groq"
	"github.com/scrivly/agentloop/llm/openai"
	"github.com/scrivly/agentloop/server"
	"github.com/scrivly/agentloop/tools"
	"github.com/scrivly/agentloop/tools/registry"
	"github.com/scrivly/agentloop/tui"
)

var (
	// Flags
	providerFlag string
	modelFlag    string
	sessionFlag  string
	verbose      bool

	rootCmd = &cobra.Command{
		Use:   "agentloop",
		Short: "Tool-calling agent runtime",
		Long:  "agentloop runs turns against an LLM provider, executing tools and recording every message in a durable session history.",
		RunE:  runChat,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE:  runServe,
	}

	queryCmd = &cobra.Command{
		Use:   "query [message]",
		Short: "Run a single turn and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runQuery,
	}

	toolsCmd = &cobra.Command{
		Use:   "tools",
		Short: "Tool management commands",
	}

	listToolsCmd = &cobra.Command{
		Use:   "list",
		Short: "List available tools",
		RunE:  listTools,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&providerFlag, "provider", "", "LLM provider (openai, anthropic, groq)")
	rootCmd.PersistentFlags().StringVar(&modelFlag, "model", "", "Model to use")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&sessionFlag, "session", "s", "", "Session id (default: a new session)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(toolsCmd)
	toolsCmd.AddCommand(listToolsCmd)
}

func main() {
	// A missing .env is fine.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: error loading .env file: %v\n", err)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runtime bundles everything a command needs.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	provider llm.Provider
	store    history.Store
	registry *registry.Registry
	orch     *agent.Orchestrator
}

func setup() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if providerFlag != "" {
		cfg.Provider = providerFlag
	}
	if modelFlag != "" {
		cfg.Model = modelFlag
	}

	logger := newLogger(cfg.LogLevel)

	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}
	store, err := history.NewSQLiteStore(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}

	reg := registry.New(logger)
	if err := reg.Register("calculator", tools.NewCalculatorTool); err != nil {
		return nil, err
	}
	if err := reg.Register("clock", tools.NewClockTool); err != nil {
		return nil, err
	}

	orch := agent.New(provider, store, reg, logger,
		agent.WithSystemPrompt(cfg.SystemPrompt),
		agent.WithMaxRounds(cfg.MaxRounds),
		agent.WithToolTimeout(cfg.ToolTimeout),
		agent.WithTurnTimeout(cfg.TurnTimeout),
		agent.WithCommentBetweenTools(cfg.CommentBetweenTools),
		agent.WithTemperature(cfg.Temperature),
		agent.WithMaxTokens(cfg.MaxTokens),
	)

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		provider: provider,
		store:    store,
		registry: reg,
		orch:     orch,
	}, nil
}

func (rt *runtime) close() {
	rt.provider.Close()
	if err := rt.store.Close(); err != nil {
		rt.logger.Warn("store close failed", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	if verbose {
		lvl = slog.LevelDebug
	} else {
		switch level {
		case "debug":
			lvl = slog.LevelDebug
		case "warn":
			lvl = slog.LevelWarn
		case "error":
			lvl = slog.LevelError
		}
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func newProvider(cfg *config.Config) (llm.Provider, error) {
	var opts []llm.ClientOption
	if cfg.Model != "" {
		opts = append(opts, llm.WithModel(cfg.Model))
	}

	switch cfg.Provider {
	case "openai", "":
		return openai.NewClient(opts...)
	case "anthropic":
		return anthropic.NewClient(opts...)
	case "groq":
		return groq.NewClient(opts...)
	default:
		return nil, fmt.Errorf("unknown provider %q (expected openai, anthropic or groq)", cfg.Provider)
	}
}

func sessionID() string {
	if sessionFlag != "" {
		return sessionFlag
	}
	return uuid.NewString()
}

func runChat(cmd *cobra.Command, args []string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()

	names := rt.registry.List()
	sort.Strings(names)

	model := tui.NewChat(rt.orch, sessionID(), rt.provider.Name(), names)
	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err = program.Run()
	return err
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(rt.orch, rt.store, rt.logger, rt.cfg.ListenAddr)
	return srv.Start(ctx)
}

func runQuery(cmd *cobra.Command, args []string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()

	input := ""
	for i, arg := range args {
		if i > 0 {
			input += " "
		}
		input += arg
	}

	events, err := rt.orch.RunTurn(cmd.Context(), sessionID(), input)
	if err != nil {
		return err
	}

	for ev := range events {
		switch ev.Type {
		case agent.EventToolStarted:
			fmt.Fprintf(os.Stderr, "⚙ %s...\n", ev.ToolName)
		case agent.EventTurnDone:
			fmt.Println(ev.Content)
		case agent.EventTurnAborted:
			return fmt.Errorf("turn aborted: %s", ev.Reason)
		}
	}
	return nil
}

func listTools(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	reg := registry.New(logger)
	reg.Register("calculator", tools.NewCalculatorTool)
	reg.Register("clock", tools.NewClockTool)

	defs := reg.Definitions()
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	for _, def := range defs {
		fmt.Printf("%-12s %s\n", def.Name, def.Description)
	}
	return nil
}
