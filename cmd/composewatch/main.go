package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/composewatch/composewatch/internal/compose"
	"github.com/composewatch/composewatch/internal/config"
	"github.com/composewatch/composewatch/internal/deploy"
	"github.com/composewatch/composewatch/internal/git"
	"github.com/composewatch/composewatch/internal/report"
	"github.com/composewatch/composewatch/internal/state"
	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string

	// Run command flags
	forceUp bool
	dryRun  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "composewatch",
	Short: "Watch a git-tracked compose project and redeploy on change",
	Long: `composewatch watches a single git-tracked docker compose project and decides,
deterministically, what redeployment the stack requires: nothing, a single
service restart, an in-place update, or a full teardown and recreate.

It is a one-shot tool meant to be invoked periodically (via systemd timer or
cron); state between runs lives only in small marker files.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Perform one decision and deployment pass",
	Long: `Run syncs the configured repository, renders the compose stack, classifies
the required deployment action from the repository state, the rendered
configuration, the latest commit message and floating-tag staleness, then
executes that action and records the outcome.

State markers advance only after the action succeeds, so a failed run is
re-evaluated from the last known-good state on the next invocation.`,
	RunE: runRun,
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the persisted deployment markers",
	Long: `State prints the markers a run compares against: the hash and size of the
last deployed configuration snapshot and the time of the last floating-tag
pull. Absent markers mean the next run is treated as a first deployment.`,
	RunE: runState,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("composewatch %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/composewatch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Run command flags
	runCmd.Flags().BoolVar(&forceUp, "force-up", false, "bring the stack up without any repository comparison")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "classify and report without resetting, deploying or persisting")

	// Add commands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(versionCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	// Setup logger
	logger := setupLogger()

	// Load configuration
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Create dependencies
	gitClient := git.NewShellClient(cfg.Auth.SSHKeyFile, cfg.Auth.HTTPSTokenFile)
	runtime := compose.NewShellRuntime(cfg.RuntimeCommand(), cfg.StackDir(), cfg.Stack.File, cfg.Stack.Project)
	store := state.NewStore(cfg.Paths.StateDir)

	notifier := report.Multi{report.NewLogNotifier(logger)}
	if cfg.Notify.WebhookURL != "" {
		minSeverity, err := report.ParseSeverity(cfg.Notify.MinSeverity)
		if err != nil {
			return fmt.Errorf("failed to configure webhook notifier: %w", err)
		}
		notifier = append(notifier, report.NewWebhookNotifier(cfg.Notify.WebhookURL, minSeverity))
	}

	// Create deployment engine
	engine := deploy.NewEngine(cfg, gitClient, runtime, store, notifier, logger, deploy.Options{
		ForceUp: forceUp,
		DryRun:  dryRun,
	})

	if err := engine.Run(ctx); err != nil {
		logger.Error("run failed", "error", err)
		return err
	}

	return nil
}

func runState(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store := state.NewStore(cfg.Paths.StateDir)

	hash, ok, err := store.LoadHash()
	if err != nil {
		return fmt.Errorf("failed to load hash marker: %w", err)
	}
	if ok {
		fmt.Printf("last hash:     %s\n", hash)
	} else {
		fmt.Println("last hash:     (none)")
	}

	text, ok, err := store.LoadSnapshot()
	if err != nil {
		return fmt.Errorf("failed to load snapshot marker: %w", err)
	}
	if ok {
		lines := len(strings.Split(strings.TrimRight(text, "\n"), "\n"))
		fmt.Printf("last snapshot: %d lines\n", lines)
	} else {
		fmt.Println("last snapshot: (none)")
	}

	lastPull, ok, err := store.LoadLastPull()
	if err != nil {
		return fmt.Errorf("failed to load floating pull marker: %w", err)
	}
	if ok {
		fmt.Printf("last pull:     %s\n", lastPull.Format(time.RFC3339))
	} else {
		fmt.Println("last pull:     (never)")
	}

	fmt.Printf("checkout:      %s\n", cfg.RepoDir())
	return nil
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	// Determine config file path
	configPath := cfgFile
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = fmt.Sprintf("%s/.config/composewatch/config.yaml", home)
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"repo", cfg.Repo.URL,
		"branch", cfg.Repo.Branch,
		"stack_dir", cfg.StackDir(),
		"state_dir", cfg.Paths.StateDir)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
