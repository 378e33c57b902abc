package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spawn-build/spawn/internal/build"
	"github.com/spawn-build/spawn/internal/config"
	"github.com/spawn-build/spawn/internal/engine"
	"github.com/spawn-build/spawn/internal/logging"
	"github.com/spawn-build/spawn/internal/pin"
	"github.com/spawn-build/spawn/internal/project"
	"github.com/spawn-build/spawn/internal/spawnerr"
	"github.com/spawn-build/spawn/internal/value"
)

var migrationCmd = &cobra.Command{
	Use:   "migration",
	Short: "Create, pin, build, and apply migrations",
}

var (
	buildPinned   bool
	buildNoPin    bool
	variablesFile string

	applyNoPin bool
	applyRetry bool
	applyYes   bool
)

func init() {
	migrationCmd.AddCommand(migrationNewCmd)
	migrationCmd.AddCommand(migrationPinCmd)
	migrationCmd.AddCommand(migrationBuildCmd)
	migrationCmd.AddCommand(migrationApplyCmd)
	migrationCmd.AddCommand(migrationAdoptCmd)
	migrationCmd.AddCommand(migrationStatusCmd)

	migrationBuildCmd.Flags().BoolVar(&buildPinned, "pinned", true, "Build from the pinned snapshot (requires lock.toml)")
	migrationBuildCmd.Flags().BoolVar(&buildNoPin, "no-pin", false, "Build from the live components directory")
	migrationBuildCmd.Flags().StringVar(&variablesFile, "variables", "", "Variables bundle file (.json, .toml, .yaml)")

	migrationApplyCmd.Flags().BoolVar(&applyNoPin, "no-pin", false, "Apply from the live components directory (skips the reproducibility gate)")
	migrationApplyCmd.Flags().BoolVar(&applyRetry, "retry", false, "Re-attempt a migration whose last apply failed")
	migrationApplyCmd.Flags().BoolVar(&applyYes, "yes", false, "Skip the confirmation prompt")
	migrationApplyCmd.Flags().StringVar(&variablesFile, "variables", "", "Variables bundle file (.json, .toml, .yaml)")
}

// loadVariables reads --variables when given.
func loadVariables() (value.Value, error) {
	if variablesFile == "" {
		return value.Null(), nil
	}
	v, err := value.LoadFile(variablesFile)
	if err != nil {
		return value.Value{}, &spawnerr.ConfigError{Msg: err.Error(), Err: err}
	}
	return v, nil
}

// buildOptions assembles the builder options for the active database.
func buildOptions(cfg *config.Config, pinned bool) (build.Options, *config.DatabaseConfig, error) {
	_, db, err := cfg.ResolveDatabase(config.Overrides{Database: databaseFlag, Environment: envFlag})
	if err != nil {
		return build.Options{}, nil, err
	}
	vars, err := loadVariables()
	if err != nil {
		return build.Options{}, nil, err
	}
	return build.Options{Pinned: pinned, Variables: vars, Env: db.Environment}, db, nil
}

var migrationNewCmd = &cobra.Command{
	Use:   "new <name>",
	Short: "Scaffold a new migration directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, tcmd, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer func() { tcmd.End(rootCtx, err) }()
		m, err := project.NewMigration(cfg.Folder(), args[0], time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("Created %s\n", m.UpSQLPath())
		return nil
	},
}

var migrationPinCmd = &cobra.Command{
	Use:   "pin <migration>",
	Short: "Snapshot the component tree into the migration's lock.toml",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, tcmd, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer func() { tcmd.End(rootCtx, err) }()
		m, digest, err := build.New(cfg).Pin(args[0])
		if err != nil {
			return err
		}
		logging.L().Debug("pinned", zap.String("migration", m.Name), zap.String("tree", digest.String()))
		fmt.Printf("Pinned %s (tree %s)\n", m.Name, digest)
		return nil
	},
}

var migrationBuildCmd = &cobra.Command{
	Use:   "build <migration>",
	Short: "Render a migration's SQL to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, tcmd, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer func() { tcmd.End(rootCtx, err) }()
		pinned := buildPinned && !buildNoPin
		tcmd.SetPinned(pinned)
		opts, _, err := buildOptions(cfg, pinned)
		if err != nil {
			return err
		}
		res, err := build.New(cfg).Build(args[0], opts, os.Stdout)
		if err != nil {
			return err
		}
		logging.L().Debug("built", zap.String("migration", res.Migration.Name), zap.String("checksum", res.Checksum.String()))
		return nil
	},
}

// confirmApply asks for interactive confirmation unless --yes.
func confirmApply(name, database string) error {
	if applyYes {
		return nil
	}
	fmt.Fprintf(os.Stderr, "Apply migration %s to database %q? [y/N] ", name, database)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return nil
	}
	return &spawnerr.ConfigError{Msg: "apply cancelled"}
}

var migrationApplyCmd = &cobra.Command{
	Use:   "apply <migration>",
	Short: "Apply a migration to the configured database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, tcmd, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer func() { tcmd.End(rootCtx, err) }()

		pinned := !applyNoPin
		tcmd.SetPinned(pinned)
		opts, db, err := buildOptions(cfg, pinned)
		if err != nil {
			return err
		}
		b := build.New(cfg)
		m, err := b.Resolve(args[0])
		if err != nil {
			return err
		}
		if pinned && !m.Pinned() {
			return &spawnerr.LockMissingError{Migration: m.Name}
		}
		dbName, _, _ := cfg.ResolveDatabase(config.Overrides{Database: databaseFlag, Environment: envFlag})
		if err := confirmApply(m.Name, dbName); err != nil {
			return err
		}

		eng, err := engine.New(db, actor())
		if err != nil {
			return err
		}
		// The pin hash comes straight from lock.toml so the history row
		// records it even when the render dies mid-stream.
		var pinHash string
		if pinned {
			lf, lerr := pin.ReadLockFile(m.LockPath())
			if lerr != nil {
				return lerr
			}
			pinHash = lf.Pin
		}
		render := func(w io.Writer) (string, error) {
			res, rerr := b.BuildMigration(m, opts, w)
			if rerr != nil {
				return "", rerr
			}
			return res.Checksum.String(), nil
		}
		err = eng.Apply(rootCtx, m.Name, render, engine.ApplyOptions{Retry: applyRetry, PinHash: pinHash})
		if err != nil {
			return err
		}
		fmt.Printf("Applied %s\n", m.Name)
		return nil
	},
}

var migrationAdoptCmd = &cobra.Command{
	Use:   "adopt <migration>",
	Short: "Record a migration as applied without executing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, tcmd, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer func() { tcmd.End(rootCtx, err) }()
		opts, db, err := buildOptions(cfg, false)
		if err != nil {
			return err
		}
		b := build.New(cfg)
		m, err := b.Resolve(args[0])
		if err != nil {
			return err
		}
		// Adopt records the checksum of the current build (pinned when a
		// lock exists, live otherwise) so later status can compare.
		opts.Pinned = m.Pinned()
		res, err := b.BuildMigration(m, opts, io.Discard)
		if err != nil {
			return err
		}
		eng, err := engine.New(db, actor())
		if err != nil {
			return err
		}
		pinHash := ""
		if !res.PinHash.Zero() {
			pinHash = res.PinHash.String()
		}
		if err := eng.Adopt(rootCtx, m.Name, res.Checksum.String(), pinHash); err != nil {
			return err
		}
		fmt.Printf("Adopted %s\n", m.Name)
		return nil
	},
}

var migrationStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report every migration's apply state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, tcmd, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer func() { tcmd.End(rootCtx, err) }()
		_, db, err := cfg.ResolveDatabase(config.Overrides{Database: databaseFlag, Environment: envFlag})
		if err != nil {
			return err
		}
		migrations, err := project.List(cfg.MigrationsDir())
		if err != nil {
			return err
		}
		eng, err := engine.New(db, actor())
		if err != nil {
			return err
		}
		history, err := eng.History(rootCtx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tAPPLIED AT\tACTIVITY\tSTATUS\tCHECKSUM\tPIN")
		for _, m := range migrations {
			row, ok := history[m.Name]
			if !ok {
				fmt.Fprintf(w, "%s\t-\t-\t-\t-\t-\n", m.Name)
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				m.Name, row.AppliedAt, row.Activity, row.Status, short(row.Checksum), short(row.PinHash))
		}
		return w.Flush()
	},
}

func short(hex string) string {
	if hex == "" {
		return "-"
	}
	if len(hex) > 12 {
		return hex[:12]
	}
	return hex
}
