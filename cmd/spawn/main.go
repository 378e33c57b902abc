package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spawn-build/spawn/internal/config"
	"github.com/spawn-build/spawn/internal/logging"
	"github.com/spawn-build/spawn/internal/spawnerr"
	"github.com/spawn-build/spawn/internal/telemetry"
)

// Version is stamped at build time.
var Version = "dev"

var (
	configFile   string
	debugFlag    bool
	databaseFlag string
	envFlag      string

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "spawn",
	Short: "spawn - a database build system for PostgreSQL",
	Long: `Spawn treats SQL as a versioned codebase: reusable components are
composed into dated migrations via templates and pinned into a
content-addressed snapshot so each migration rebuilds to the same SQL
forever.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(debugFlag)
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		telemetry.Shutdown(context.Background())
		logging.Sync()
		if rootCancel != nil {
			rootCancel()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config-file", config.DefaultFile, "Path to the spawn config file")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false, "Enable debug output and full error chains")
	rootCmd.PersistentFlags().StringVar(&databaseFlag, "database", "", "Database key from spawn.toml (default: the file's database key, or $SPAWN_DATABASE)")
	rootCmd.PersistentFlags().StringVarP(&envFlag, "environment", "e", "", "Environment name override (or $SPAWN_ENVIRONMENT)")

	rootCmd.AddCommand(migrationCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("spawn version %s\n", Version)
	},
}

// loadConfig reads the config file and starts telemetry for this
// command. Every subcommand that touches the project goes through here.
func loadConfig(cmd *cobra.Command) (*config.Config, *telemetry.Command, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	if err := telemetry.Init(rootCtx, cfg.TelemetryEnabled(), Version); err != nil {
		logging.L().Debug("telemetry init failed", zap.Error(err))
	}
	_, tcmd := telemetry.StartCommand(rootCtx, commandPath(cmd), cfg.ProjectID)
	return cfg, tcmd, nil
}

func commandPath(cmd *cobra.Command) string {
	if cmd.Parent() != nil && cmd.Parent() != rootCmd {
		return cmd.Parent().Name() + "." + cmd.Name()
	}
	return cmd.Name()
}

// actor names who ran the command in history rows.
func actor() string {
	if a := os.Getenv("SPAWN_ACTOR"); a != "" {
		return a
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

// reportError prints err per the propagation policy: a short primary
// message by default, the full cause chain under --debug.
func reportError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	if debugFlag {
		for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
			fmt.Fprintf(os.Stderr, "  caused by: %v\n", cause)
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		reportError(err)
		os.Exit(spawnerr.ExitCode(err))
	}
}
