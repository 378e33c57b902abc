package value

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadFile reads a variables bundle from path, dispatching on the file
// extension (.json, .toml, .yaml/.yml).
func LoadFile(path string) (Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Value{}, fmt.Errorf("read variables file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FromJSON(data)
	case ".toml":
		return FromTOML(data)
	case ".yaml", ".yml":
		return FromYAML(data)
	default:
		return Value{}, fmt.Errorf("variables file %q: unsupported extension (want .json, .toml, .yaml)", path)
	}
}
