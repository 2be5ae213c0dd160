// Package main implements daem0nd, the daem0nmcp daemon entry point.
//
// # File Index
//
//   - main.go - rootCmd, global flags, wiring of every component into a
//     single *dispatch.Deps, and the serve/status subcommands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/bm25"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/config"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/covenant"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/dispatch"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/dream"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/embedding"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/logging"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/mcpserver"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/memory"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/phase"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/retrieval"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/store"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/tasks"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/vectorindex"
)

var (
	verbose    bool
	workspace  string
	configPath string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "daem0nd",
	Short: "daem0nmcp - a persistent, project-scoped memory server for AI coding agents",
	Long: `daem0nd is the daem0nmcp daemon.

It speaks the Model Context Protocol over stdio, giving a coding agent a
durable, hybrid-search, graph-aware memory of one project across sessions.

Run without a subcommand to serve MCP requests on stdin/stdout.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Project directory to serve memory for (default: current directory)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a daem0nmcp.yaml config file (default: <workspace>/.daem0n/daem0nmcp.yaml)")

	rootCmd.AddCommand(serveCmd, statusCmd, versionCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve MCP requests on stdin/stdout for one project",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the daemon's health report for the current project and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the daem0nd version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("daem0nd 0.1.0")
		return nil
	},
}

func resolveWorkspace() (string, error) {
	ws := workspace
	if ws == "" {
		var err error
		ws, err = os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolving working directory: %w", err)
		}
		return ws, nil
	}
	abs, err := filepath.Abs(ws)
	if err != nil {
		return "", fmt.Errorf("resolving workspace %q: %w", ws, err)
	}
	return abs, nil
}

func resolveConfigPath(ws string) string {
	if configPath != "" {
		return configPath
	}
	return filepath.Join(ws, ".daem0n", "daem0nmcp.yaml")
}

// buildDeps loads configuration, opens the project store, and wires every
// C1-C13 component into a single dispatch.Deps bound to one project.
func buildDeps(ws string) (*dispatch.Deps, func(), error) {
	cfgPath := resolveConfigPath(ws)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	storageRoot := cfg.Storage.Root
	if !filepath.IsAbs(storageRoot) {
		storageRoot = filepath.Join(ws, storageRoot)
	}
	if err := os.MkdirAll(storageRoot, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating storage root: %w", err)
	}

	if err := logging.Initialize(storageRoot, logging.Settings{
		DebugMode:  cfg.Logging.DebugMode || verbose,
		Categories: cfg.Logging.Categories,
		Level:      cfg.Logging.Level,
		JSONFormat: cfg.Logging.JSONFormat,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to initialize file logging: %v\n", err)
	}

	dbPath := filepath.Join(storageRoot, cfg.Storage.DatabaseFile)
	s, err := store.Open(dbPath, cfg.Storage.RequireVector)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	closeStore := func() { s.Close() }

	embedCfg := embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		Dimensions:     cfg.Embedding.Dimensions,
	}
	embedder, err := embedding.NewEngine(embedCfg)
	if err != nil {
		closeStore()
		return nil, nil, fmt.Errorf("initializing embedding engine: %w", err)
	}

	vecIdx, err := vectorindex.New(s, cfg.Embedding.Dimensions)
	if err != nil {
		closeStore()
		return nil, nil, fmt.Errorf("initializing vector index: %w", err)
	}

	bm25Cfg := bm25.Config{K1: cfg.BM25.K1, B: cfg.BM25.B, TagMultiplier: cfg.BM25.TagMultiplier}
	engine := retrieval.NewEngine(s, vecIdx, embedder, cfg.RRF, bm25Cfg)
	mgr := memory.NewManager(s, engine)

	sessionBackend := covenant.NewStoreBackend(s, cfg.Covenant.SessionIDBucket)
	ttl := parseDurationOr(cfg.Covenant.ContextCheckTTL, 300*time.Second)
	mw := covenant.New(sessionBackend.GetState, ttl)

	taskTTL := parseDurationOr(cfg.Task.DefaultTTL, time.Hour)
	taskMgr := tasks.New(cfg.Task.MaxConcurrent, cfg.Task.QueueSize, taskTTL, s)

	phaseTracker := phase.New()

	dreamDeps := dream.NewDeps(s, mgr, dreamStrategyConfig(cfg))
	idleTimeout := parseDurationOr(cfg.Dream.IdleTimeout, 60*time.Second)
	scheduler := dream.New(ws, idleTimeout, cfg.Dream.Enabled, func(ctx context.Context, sched *dream.Scheduler) {
		dream.RunSession(ctx, sched, dreamDeps, []dream.Strategy{
			dream.FailedDecisionReview{},
			dream.ConnectionDiscovery{},
			dream.CommunityRefresh{},
			dream.PendingOutcomeResolver{},
		})
	})

	deps := &dispatch.Deps{
		Memory:               mgr,
		Covenant:             mw,
		Session:              sessionBackend,
		Phase:                phaseTracker,
		Store:                s,
		Tasks:                taskMgr,
		Dreamers:             map[string]*dream.Scheduler{ws: scheduler},
		ToolExecutionEnabled: len(cfg.Subprocess.Allowed) > 0,
	}

	cfgWatcher, err := config.NewWatcher(cfgPath, func(fresh *config.Config) {
		mw.SetTTL(parseDurationOr(fresh.Covenant.ContextCheckTTL, 300*time.Second))
		dreamDeps.SetConfig(dreamStrategyConfig(fresh))
		logging.Get(logging.CategoryBoot).Info("reloaded config from %s", cfgPath)
	})
	if err != nil {
		closeStore()
		return nil, nil, fmt.Errorf("initializing config watcher: %w", err)
	}
	if err := cfgWatcher.Start(); err != nil {
		logging.Get(logging.CategoryBoot).Warn("config hot-reload disabled, failed to watch %s: %v", cfgPath, err)
	}

	cleanup := func() {
		cfgWatcher.Stop()
		scheduler.Stop()
		taskMgr.Close()
		closeStore()
	}
	return deps, cleanup, nil
}

// dreamStrategyConfig projects the dreaming scheduler's tunables out of cfg,
// used both at startup and by the config file watcher's reload callback.
func dreamStrategyConfig(cfg *config.Config) dream.StrategyConfig {
	return dream.StrategyConfig{
		MaxDecisions:            cfg.Dream.MaxDecisions,
		MinAgeHours:             cfg.Dream.MinAgeHours,
		ReviewCooldownHours:     cfg.Dream.ReviewCooldownHours,
		MaxConnections:          cfg.Dream.MaxConnections,
		CommunityStalenessHours: cfg.Dream.CommunityStalenessHours,
		EvidenceThreshold:       cfg.Dream.EvidenceThreshold,
		DryRun:                  cfg.Dream.DryRun,
	}
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func runServe() error {
	ws, err := resolveWorkspace()
	if err != nil {
		return err
	}

	deps, cleanup, err := buildDeps(ws)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if dreamer, ok := deps.Dreamers[ws]; ok {
		dreamer.Start(ctx)
	}

	logging.Get(logging.CategoryBoot).Info("daem0nd serving project=%s", ws)
	srv := mcpserver.NewServer(deps)
	if err := srv.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server exited: %w", err)
	}
	return nil
}

func runStatus() error {
	ws, err := resolveWorkspace()
	if err != nil {
		return err
	}
	deps, cleanup, err := buildDeps(ws)
	if err != nil {
		return err
	}
	defer cleanup()

	out, err := dispatch.Dispatch(context.Background(), deps, "status-cli", ws, "commune", "health", nil)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	fmt.Printf("%+v\n", out)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
