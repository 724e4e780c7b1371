package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "blelink",
	Short: "Qualia BLE peripheral link",
	Long: `Discovers Qualia BLE peripherals, keeps one connection to them and
surfaces the text they push through notifications:

- Scan for peripherals whose advertised name carries the configured prefix
- Connect, subscribe to every notify-capable characteristic and print messages
- Relay received messages onto a PTY for serial-like consumers

After a disconnect the discovered set is cleared and scanning resumes.`,
	Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(relayCmd)

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Config file (default $XDG_CONFIG_HOME/blelink/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Shorthand for --log-level=debug")
	rootCmd.PersistentFlags().String("backend", "", "BLE backend (auto, goble, tinygo)")
}
