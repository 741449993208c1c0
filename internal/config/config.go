// Package config loads the demo driver's RuntimeConfig: a YAML file that
// supplies defaults, overridden field-by-field by whichever CLI flags the
// operator actually set.
package config

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// RuntimeConfig is the configuration surface for cmd/stateroom-run and any
// embedder wiring up a ModuleLoader outside of tests. It carries no
// adapter-construction state itself; GuestInstance and ModuleHandle take no
// configuration beyond their constructor arguments.
type RuntimeConfig struct {
	WasmPath        string `yaml:"wasm_path"`
	RoomID          string `yaml:"room_id"`
	LogLevel        string `yaml:"log_level"`
	StdoutFromGuest bool   `yaml:"stdout_from_guest"`
}

// Default returns a RuntimeConfig with the driver's baseline settings.
func Default() *RuntimeConfig {
	return &RuntimeConfig{
		LogLevel:        "info",
		StdoutFromGuest: true,
	}
}

// Load reads path as YAML over Default's values. A missing file is not an
// error: it returns the defaults unchanged, since every field can also be
// supplied entirely on the command line.
func Load(path string) (*RuntimeConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyFlagOverrides overwrites cfg's fields with any flag the operator
// explicitly set on cmd, leaving file-supplied or default values alone
// otherwise.
func ApplyFlagOverrides(cmd *cobra.Command, cfg *RuntimeConfig) {
	flags := cmd.Flags()
	if flags.Changed("room") {
		cfg.RoomID, _ = flags.GetString("room")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("stdout-from-guest") {
		cfg.StdoutFromGuest, _ = flags.GetBool("stdout-from-guest")
	}
}
