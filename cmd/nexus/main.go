package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/theanh97/nexus-nuance-sub001/internal/action"
	"github.com/theanh97/nexus-nuance-sub001/internal/backup"
	"github.com/theanh97/nexus-nuance-sub001/internal/config"
	"github.com/theanh97/nexus-nuance-sub001/internal/core"
	"github.com/theanh97/nexus-nuance-sub001/internal/logging"
)

const version = "1.0.0"

var (
	// Global flags
	cfgPath string
	verbose bool

	// Per-command flags
	actionParams  []string
	actionTimeout time.Duration
	backupTag     string
	backupList    bool
	statusAddr    string
	statusLocal   bool

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd is the base command. Running it without a subcommand serves.
var rootCmd = &cobra.Command{
	Use:   "nexus",
	Short: "NEXUS - self-learning autonomous agent platform",
	Long: `NEXUS executes tasks through a policy-gated action executor, learns
from the outcomes, scouts external sources for knowledge, and improves its
own configuration through proposal, experiment, and verification cycles.

Run without arguments to start the server.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		level := cfg.Core.LogLevel
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(logging.Options{Level: level, Development: cfg.Core.Development})
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runServe,
}

// serveCmd runs the background loops and the HTTP API until a signal.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the learning loops and the HTTP API",
	RunE:  runServe,
}

// statusCmd renders the state of a running server, or of the state files
// on disk with --local.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show platform status",
	RunE:  runStatus,
}

// actionCmd executes a single action through the policy gate and prints
// the result as JSON.
var actionCmd = &cobra.Command{
	Use:   "action [type]",
	Short: "Execute one action through the policy gate",
	Long: `Executes a single action and prints the result as JSON.

Example:
  nexus action run_shell --param command="ls -la"
  nexus action read_file --param path=README.md`,
	Args: cobra.ExactArgs(1),
	RunE: runAction,
}

// backupCmd archives the brain directory.
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create or list brain backups",
	RunE:  runBackup,
}

// restoreCmd extracts a named archive back over the brain directory.
var restoreCmd = &cobra.Command{
	Use:   "restore [name]",
	Short: "Restore the brain directory from a backup archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestore,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("nexus %s (%s)\n", version, runtime.Version())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Configuration file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	actionCmd.Flags().StringArrayVar(&actionParams, "param", nil, "Action parameter as key=value (repeatable)")
	actionCmd.Flags().DurationVar(&actionTimeout, "timeout", 60*time.Second, "Action timeout")

	backupCmd.Flags().StringVar(&backupTag, "tag", "", "Tag appended to the archive name")
	backupCmd.Flags().BoolVar(&backupList, "list", false, "List existing backups instead of creating one")

	statusCmd.Flags().StringVar(&statusAddr, "addr", "http://127.0.0.1:8300", "Base URL of a running server")
	statusCmd.Flags().BoolVar(&statusLocal, "local", false, "Read the state files instead of calling the API")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(actionCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	sys, err := core.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("assemble system: %w", err)
	}
	logger.Info("nexus serving",
		zap.String("version", version),
		zap.String("addr", cfg.API.Addr),
		zap.String("execution_mode", cfg.Policy.ExecutionMode))
	return sys.Run(ctx)
}

func runAction(cmd *cobra.Command, args []string) error {
	params := action.Params{}
	for _, kv := range actionParams {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return fmt.Errorf("bad --param %q, want key=value", kv)
		}
		params[k] = v
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout+30*time.Second)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	sys, err := core.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("assemble system: %w", err)
	}
	defer sys.Shutdown()

	res := sys.Actions().Execute(ctx, args[0], params, actionTimeout)
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if res.Status != action.StatusSuccess {
		return fmt.Errorf("action finished with status %s", res.Status)
	}
	return nil
}

func runBackup(cmd *cobra.Command, args []string) error {
	mgr := backup.New(cfg.BrainDir(), cfg.BackupsDir(), cfg.Backup.MaxBackups, logger)
	if backupList {
		infos, err := mgr.List()
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("no backups yet")
			return nil
		}
		for _, info := range infos {
			fmt.Printf("%s  %d files  %d bytes  %s\n",
				info.Name, info.Files, info.SizeBytes, info.CreatedAt.Format(time.RFC3339))
		}
		return nil
	}

	info, err := mgr.Create(backupTag)
	if err != nil {
		return err
	}
	fmt.Printf("✓ %s (%d files, %d bytes)\n", info.Name, info.Files, info.SizeBytes)
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	mgr := backup.New(cfg.BrainDir(), cfg.BackupsDir(), cfg.Backup.MaxBackups, logger)
	res, err := mgr.Restore(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("✓ restored %s (%d files, %d bytes)\n", res.Name, res.Files, res.Bytes)
	if res.Rejected > 0 {
		fmt.Printf("  %d entries rejected\n", res.Rejected)
	}
	return nil
}
