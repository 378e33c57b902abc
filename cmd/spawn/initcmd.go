package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/spawn-build/spawn/internal/spawnerr"
)

const configStub = `spawn_folder = "spawn"
database = "dev"
project_id = "%s"
telemetry = false

[databases.dev]
engine = "postgres-psql"
spawn_database = "postgres"
spawn_schema = "_spawn"
environment = "dev"

[databases.dev.command]
kind = "direct"
direct = ["psql", "--dbname", "postgres"]
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold spawn.toml and the spawn folder layout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configFile); err == nil {
			return &spawnerr.ConfigError{Msg: fmt.Sprintf("%s already exists", configFile)}
		}
		if err := os.WriteFile(configFile, []byte(fmt.Sprintf(configStub, uuid.New())), 0o644); err != nil {
			return &spawnerr.IoError{Op: "write " + configFile, Err: err}
		}
		for _, d := range []string{"components", "migrations", "tests"} {
			if err := os.MkdirAll(filepath.Join("spawn", d), 0o755); err != nil {
				return &spawnerr.IoError{Op: "create spawn/" + d, Err: err}
			}
		}
		fmt.Printf("Initialised %s\n", configFile)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
