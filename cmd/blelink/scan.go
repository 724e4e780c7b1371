package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blelink/internal/session"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for Qualia peripherals",
	Long: `Scan for BLE peripherals and print every new one whose advertised name
starts with the configured prefix ("Qualia" by default). Each peripheral is
printed once per scan.

Examples:
  # Scan for 10 seconds
  blelink scan

  # Show every peripheral in range until Ctrl+C
  blelink scan --all --duration 0

  # JSON lines, custom prefix
  blelink scan --prefix QualiaLock --format json`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanPrefix   string
	scanDuration time.Duration
	scanFormat   string
	scanAll      bool
)

func init() {
	scanCmd.Flags().StringVar(&scanPrefix, "prefix", "", "Name prefix to match (default from config)")
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", formatText, "Output format (text, json)")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "Show every peripheral, ignoring the name prefix")
}

func runScan(cmd *cobra.Command, _ []string) error {
	if err := validateFormat(scanFormat); err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	opts := cfg.SessionOptions()
	if scanPrefix != "" {
		opts.NamePrefix = scanPrefix
	}
	if scanAll {
		opts.NamePrefix = session.MatchAll
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	if scanDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, scanDuration)
		defer cancel()
	}

	a, err := startApp(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.controller.StartScan(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printer := newEventPrinter(out, scanFormat, false)
	progress := NewCountdownProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Scanning for %q", opts.NamePrefix), "scanning", scanDuration)
	progress.Start()
	defer progress.Stop()

	found := 0
	for {
		var (
			ev session.Event
			ok bool
		)
		select {
		case <-ctx.Done():
			ok = false
		case ev, ok = <-a.controller.Events():
		}
		if !ok {
			progress.Stop()
			if found == 0 && scanFormat == formatText {
				fmt.Fprintln(out, "No peripherals discovered")
			}
			return nil
		}

		switch ev.Kind {
		case session.EventCandidate:
			found++
			progress.Suspend(func() { _ = printer.Print(ev) })
		case session.EventError:
			if session.KindOf(ev.Err) == session.ScanStartFailed {
				return ev.Err
			}
			progress.Suspend(func() { _ = printer.Print(ev) })
		}
	}
}
