package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spawn-build/spawn/internal/config"
	"github.com/spawn-build/spawn/internal/engine"
	"github.com/spawn-build/spawn/internal/project"
	"github.com/spawn-build/spawn/internal/spawnerr"
	"github.com/spawn-build/spawn/internal/sqltest"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Create and run SQL tests against the configured database",
}

func init() {
	testCmd.AddCommand(testNewCmd)
	testCmd.AddCommand(testBuildCmd)
	testCmd.AddCommand(testRunCmd)
	testCmd.AddCommand(testCompareCmd)
	testCmd.AddCommand(testExpectCmd)

	testCmd.PersistentFlags().StringVar(&variablesFile, "variables", "", "Variables bundle file (.json, .toml, .yaml)")
}

// testRunner wires a Runner for the active database.
func testRunner(cfg *config.Config, needEngine bool) (*sqltest.Runner, error) {
	_, db, err := cfg.ResolveDatabase(config.Overrides{Database: databaseFlag, Environment: envFlag})
	if err != nil {
		return nil, err
	}
	vars, err := loadVariables()
	if err != nil {
		return nil, err
	}
	var eng *engine.Engine
	if needEngine {
		eng, err = engine.New(db, actor())
		if err != nil {
			return nil, err
		}
	}
	return sqltest.New(cfg, eng, db.Environment, vars), nil
}

var testNewCmd = &cobra.Command{
	Use:   "new <name>",
	Short: "Scaffold a new test directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, tcmd, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer func() { tcmd.End(rootCtx, err) }()
		path, err := project.NewTest(cfg.Folder(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Created %s\n", path)
		return nil
	},
}

var testBuildCmd = &cobra.Command{
	Use:   "build <test>",
	Short: "Render a test's SQL to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, tcmd, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer func() { tcmd.End(rootCtx, err) }()
		r, err := testRunner(cfg, false)
		if err != nil {
			return err
		}
		return r.Build(args[0], os.Stdout)
	},
}

var testRunCmd = &cobra.Command{
	Use:   "run <test>",
	Short: "Run a test and compare its output to the expected baseline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, tcmd, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer func() { tcmd.End(rootCtx, err) }()
		r, err := testRunner(cfg, true)
		if err != nil {
			return err
		}
		outcome, err := r.Compare(rootCtx, args[0])
		if err != nil {
			return err
		}
		if outcome.Diff != "" {
			fmt.Print(outcome.Diff)
			return &spawnerr.TestDiffError{Test: outcome.Name, Diff: outcome.Diff}
		}
		fmt.Printf("ok  %s\n", outcome.Name)
		return nil
	},
}

var testCompareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Run every test and report the ones whose output changed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, tcmd, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer func() { tcmd.End(rootCtx, err) }()
		r, err := testRunner(cfg, true)
		if err != nil {
			return err
		}
		outcomes, err := r.CompareAll(rootCtx)
		if err != nil {
			return err
		}
		failed := 0
		for _, o := range outcomes {
			if o.Diff == "" {
				fmt.Printf("ok    %s\n", o.Name)
				continue
			}
			failed++
			fmt.Printf("diff  %s\n%s", o.Name, o.Diff)
		}
		if failed > 0 {
			return &spawnerr.TestDiffError{Test: fmt.Sprintf("%d of %d tests", failed, len(outcomes))}
		}
		return nil
	},
}

var testExpectCmd = &cobra.Command{
	Use:   "expect <test>",
	Short: "Run a test and overwrite its expected baseline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, tcmd, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer func() { tcmd.End(rootCtx, err) }()
		r, err := testRunner(cfg, true)
		if err != nil {
			return err
		}
		if err := r.Expect(rootCtx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Saved expected output for %s\n", args[0])
		return nil
	},
}
