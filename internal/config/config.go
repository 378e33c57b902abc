// Package config loads and validates spawn.toml. Precedence for the
// active database and environment is: CLI flag > SPAWN_DATABASE /
// SPAWN_ENVIRONMENT env var > key in the file > built-in default.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/spawn-build/spawn/internal/spawnerr"
)

// DefaultFile is the config file name used when --config-file is not given.
const DefaultFile = "spawn.toml"

// DefaultSchema is the per-project schema the engine keeps its own
// tables under when spawn_schema is not configured.
const DefaultSchema = "_spawn"

// Config is the deserialized spawn.toml.
type Config struct {
	SpawnFolder string `toml:"spawn_folder"`
	Database    string `toml:"database"`
	Environment string `toml:"environment"`
	ProjectID   string `toml:"project_id"`
	Telemetry   bool   `toml:"telemetry"`

	Databases map[string]DatabaseConfig `toml:"databases"`

	// dir is the directory the config file was loaded from; spawn_folder
	// is resolved relative to it.
	dir string
}

// DatabaseConfig is one [databases.<name>] table.
type DatabaseConfig struct {
	Engine        string        `toml:"engine"`
	SpawnDatabase string        `toml:"spawn_database"`
	SpawnSchema   string        `toml:"spawn_schema"`
	Environment   string        `toml:"environment"`
	Command       CommandConfig `toml:"command"`
}

// CommandConfig describes how to obtain the psql argv: either a fixed
// vector or a provider command whose output is parsed into one.
type CommandConfig struct {
	Kind     string   `toml:"kind"`
	Direct   []string `toml:"direct"`
	Provider []string `toml:"provider"`
	Append   []string `toml:"append"`
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return nil, &spawnerr.ConfigError{Msg: fmt.Sprintf("config file %q not found", path)}
		}
		return nil, &spawnerr.ConfigError{Msg: fmt.Sprintf("malformed config file %q", path), Err: err}
	}
	if cfg.SpawnFolder == "" {
		return nil, &spawnerr.ConfigError{Msg: fmt.Sprintf("%s: spawn_folder is required", path)}
	}
	if cfg.ProjectID != "" {
		if _, err := uuid.Parse(cfg.ProjectID); err != nil {
			return nil, &spawnerr.ConfigError{Msg: fmt.Sprintf("%s: project_id is not a valid UUID", path), Err: err}
		}
	}
	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, &spawnerr.ConfigError{Msg: "cannot resolve config directory", Err: err}
	}
	cfg.dir = abs
	return &cfg, nil
}

// Folder returns the absolute spawn folder path.
func (c *Config) Folder() string {
	if filepath.IsAbs(c.SpawnFolder) {
		return c.SpawnFolder
	}
	return filepath.Join(c.dir, c.SpawnFolder)
}

func (c *Config) ComponentsDir() string { return filepath.Join(c.Folder(), "components") }
func (c *Config) MigrationsDir() string { return filepath.Join(c.Folder(), "migrations") }
func (c *Config) TestsDir() string      { return filepath.Join(c.Folder(), "tests") }
func (c *Config) PinnedDir() string     { return filepath.Join(c.Folder(), "pinned") }

// Overrides carries the CLI flag values that outrank env vars and the
// file's own keys.
type Overrides struct {
	Database    string
	Environment string
}

// ResolveDatabase picks the active database config, applying the flag >
// env > file precedence, and fills in defaults (spawn_schema,
// environment).
func (c *Config) ResolveDatabase(ov Overrides) (string, *DatabaseConfig, error) {
	name := ov.Database
	if name == "" {
		name = os.Getenv("SPAWN_DATABASE")
	}
	if name == "" {
		name = c.Database
	}
	if name == "" {
		return "", nil, &spawnerr.ConfigError{Msg: "no database selected: set database in spawn.toml, SPAWN_DATABASE, or --database"}
	}
	db, ok := c.Databases[name]
	if !ok {
		return "", nil, &spawnerr.ConfigError{Msg: fmt.Sprintf("unknown database %q", name)}
	}
	if db.Engine != "postgres-psql" {
		return "", nil, &spawnerr.ConfigError{Msg: fmt.Sprintf("database %q: unsupported engine %q (only postgres-psql is implemented)", name, db.Engine)}
	}
	if db.SpawnSchema == "" {
		db.SpawnSchema = DefaultSchema
	}

	env := ov.Environment
	if env == "" {
		env = os.Getenv("SPAWN_ENVIRONMENT")
	}
	if env == "" {
		env = c.Environment
	}
	if env != "" {
		db.Environment = env
	}

	switch db.Command.Kind {
	case "direct":
		if len(db.Command.Direct) == 0 {
			return "", nil, &spawnerr.ConfigError{Msg: fmt.Sprintf("database %q: command.kind is \"direct\" but command.direct is empty", name)}
		}
	case "provider":
		if len(db.Command.Provider) == 0 {
			return "", nil, &spawnerr.ConfigError{Msg: fmt.Sprintf("database %q: command.kind is \"provider\" but command.provider is empty", name)}
		}
	default:
		return "", nil, &spawnerr.ConfigError{Msg: fmt.Sprintf("database %q: command.kind must be \"direct\" or \"provider\", got %q", name, db.Command.Kind)}
	}

	return name, &db, nil
}

// TelemetryEnabled applies the opt-out gates: the config's telemetry
// flag and the DO_NOT_TRACK convention both force telemetry off.
func (c *Config) TelemetryEnabled() bool {
	if os.Getenv("DO_NOT_TRACK") != "" {
		return false
	}
	return c.Telemetry
}
