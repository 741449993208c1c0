package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tmahmood/stateroom"
	"github.com/tmahmood/stateroom/internal/config"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <module.wasm>",
	Short: "Report a guest module's declared ABI and protocol versions",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().String("config", "", "path to a RuntimeConfig YAML file")
	inspectCmd.Flags().String("log-level", "", "log level override (debug, info, warn, error)")
}

func runInspect(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	config.ApplyFlagOverrides(cmd, cfg)
	setLogLevel(cfg.LogLevel)

	code, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading module: %w", err)
	}

	loader := stateroom.NewModuleLoader()
	apiVersion, protocolVersion, err := loader.Inspect(code)
	if err != nil {
		var invalid *stateroom.InvalidModuleError
		var mismatch *stateroom.VersionMismatchError
		switch {
		case errors.As(err, &invalid):
			return fmt.Errorf("invalid module: %w", err)
		case errors.As(err, &mismatch):
			return fmt.Errorf("version mismatch: %w", err)
		default:
			return err
		}
	}

	fmt.Printf("api version:      %d\n", apiVersion)
	fmt.Printf("protocol version: %d\n", protocolVersion)

	// Exit non-zero for a module ModuleHandle.Build would reject (it accepts
	// API version 1 and protocol version 0 only).
	if apiVersion != 1 {
		return fmt.Errorf("version mismatch: %w", &stateroom.VersionMismatchError{Field: "api", Expected: 1, Found: apiVersion})
	}
	if protocolVersion != 0 {
		return fmt.Errorf("version mismatch: %w", &stateroom.VersionMismatchError{Field: "protocol", Expected: 0, Found: protocolVersion})
	}
	return nil
}
