// Command stateroom-run is a demo driver, not the production supervisor: it
// exercises the module loader and guest instance adapter end-to-end against
// one module and, for run, one room — with no networking and no concurrent
// rooms.
package main

import (
	"fmt"
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stateroom-run",
	Short: "Load and exercise a stateroom guest module",
}

func main() {
	rootCmd.AddCommand(inspectCmd, runCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		logging.SetAllLoggers(logging.LevelDebug)
	case "warn":
		logging.SetAllLoggers(logging.LevelWarn)
	case "error":
		logging.SetAllLoggers(logging.LevelError)
	default:
		logging.SetAllLoggers(logging.LevelInfo)
	}
}
