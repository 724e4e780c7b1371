package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blelink/internal/ptyio"
	"github.com/srg/blelink/internal/session"
)

// relayCmd represents the relay command
var relayCmd = &cobra.Command{
	Use:   "relay [peripheral-id]",
	Short: "Relay peripheral messages onto a PTY",
	Long: `Like connect, but every message received from the peripheral is also
written, newline terminated, to a pseudo-terminal. Any program that reads a
serial device can follow the messages by opening the printed path.

The PTY outlives reconnects: the same path keeps receiving messages after the
peripheral comes back.

Examples:
  blelink relay --symlink /tmp/qualia
  screen /tmp/qualia`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRelay,
}

var (
	relayPrefix           string
	relayTimeout          time.Duration
	relaySymlink          string
	relayBufferSize       int
	relayExitOnDisconnect bool
)

func init() {
	relayCmd.Flags().StringVar(&relayPrefix, "prefix", "", "Name prefix to match (default from config)")
	relayCmd.Flags().DurationVar(&relayTimeout, "timeout", 0, "Connection timeout (default from config)")
	relayCmd.Flags().StringVar(&relaySymlink, "symlink", "", "Create a symlink to the PTY device (e.g., /tmp/qualia)")
	relayCmd.Flags().IntVar(&relayBufferSize, "buffer", 4096, "PTY write queue size in bytes")
	relayCmd.Flags().BoolVar(&relayExitOnDisconnect, "exit-on-disconnect", false, "Exit at the first disconnect instead of scanning again")
}

func runRelay(cmd *cobra.Command, args []string) error {
	if relayBufferSize <= 0 {
		return fmt.Errorf("invalid --buffer %d: must be positive", relayBufferSize)
	}
	var target string
	if len(args) == 1 {
		target = args[0]
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

	relay, err := ptyio.Open(ptyio.Options{
		BufferSize: relayBufferSize,
		Symlink:    relaySymlink,
		Logger:     logger,
		OnError: func(err error) {
			logger.WithError(err).Error("PTY relay failed")
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		stats := relay.Stats()
		logger.WithFields(logrus.Fields{
			"lines":   stats.Lines,
			"written": stats.WrittenBytes,
			"dropped": stats.DroppedBytes,
		}).Debug("PTY relay closed")
		_ = relay.Close()
	}()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "PTY: %s\n", relay.TTYName())
	if relay.Symlink() != "" {
		fmt.Fprintf(out, "Symlink: %s -> %s\n", relay.Symlink(), relay.TTYName())
	}

	opts := linkSessionOptions(cmd, cfg, target, relayPrefix, relayTimeout)

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := startApp(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}
	defer a.close()

	printer := newEventPrinter(out, formatText, false)
	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Relaying "+targetLabel(target, opts.NamePrefix), "scanning")
	progress.Start()
	defer progress.Stop()

	return follow(ctx, a.controller, printer, progress, followOptions{
		target:           target,
		exitOnDisconnect: relayExitOnDisconnect,
		onData: func(msg session.InboundMessage) {
			if n, err := relay.WriteLine(msg.Text); err != nil || n <= len(msg.Text) {
				logger.WithField("characteristic", msg.Characteristic).Warn("Message not fully relayed")
			}
		},
	})
}
