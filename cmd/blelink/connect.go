package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blelink/internal/session"
	"github.com/srg/blelink/pkg/config"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect [peripheral-id]",
	Short: "Connect to a Qualia peripheral and print its messages",
	Long: `Scan, connect to the given peripheral (or to the first one whose name
matches the prefix), subscribe to every notify-capable characteristic and print
connection and data events.

When the connection drops, the scan results are cleared and scanning resumes;
the peripheral is connected again as soon as it is seen. Stop with Ctrl+C, or
pass --exit-on-disconnect to stop at the first disconnect.

Examples:
  # First Qualia peripheral in range
  blelink connect

  # A specific peripheral, JSON lines, lifecycle journal at exit
  blelink connect AA:BB:CC:DD:EE:FF --format json --journal`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConnect,
}

var (
	connectPrefix           string
	connectTimeout          time.Duration
	connectExitOnDisconnect bool
	connectFormat           string
	connectJournal          bool
	connectStates           bool
)

func init() {
	connectCmd.Flags().StringVar(&connectPrefix, "prefix", "", "Name prefix to match (default from config)")
	connectCmd.Flags().DurationVar(&connectTimeout, "timeout", 0, "Connection timeout (default from config)")
	connectCmd.Flags().BoolVar(&connectExitOnDisconnect, "exit-on-disconnect", false, "Exit at the first disconnect instead of scanning again")
	connectCmd.Flags().StringVarP(&connectFormat, "format", "f", formatText, "Output format (text, json)")
	connectCmd.Flags().BoolVar(&connectJournal, "journal", false, "Print the connection lifecycle journal at exit")
	connectCmd.Flags().BoolVar(&connectStates, "states", false, "Print every connection state transition")
}

// linkSessionOptions maps the shared connect/relay flags onto session options.
// An explicit target widens the name filter so the target is seen whatever it
// advertises, unless a prefix was given.
func linkSessionOptions(cmd *cobra.Command, cfg *config.Config, target, prefix string, timeout time.Duration) session.Options {
	opts := cfg.SessionOptions()
	switch {
	case prefix != "":
		opts.NamePrefix = prefix
	case target != "":
		opts.NamePrefix = session.MatchAll
	}
	if cmd.Flags().Changed("timeout") {
		opts.ConnectTimeout = timeout
	}
	return opts
}

func runConnect(cmd *cobra.Command, args []string) error {
	if err := validateFormat(connectFormat); err != nil {
		return err
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

	opts := linkSessionOptions(cmd, cfg, target, connectPrefix, connectTimeout)

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := startApp(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}
	defer a.close()

	printer := newEventPrinter(cmd.OutOrStdout(), connectFormat, connectStates)
	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Linking "+targetLabel(target, opts.NamePrefix), "scanning")
	if connectFormat == formatText {
		progress.Start()
	}
	defer progress.Stop()

	err = follow(ctx, a.controller, printer, progress, followOptions{
		target:           target,
		exitOnDisconnect: connectExitOnDisconnect,
	})

	progress.Stop()
	a.close()
	if connectJournal {
		if jerr := printer.PrintJournal(a.controller.Journal()); jerr != nil && err == nil {
			err = jerr
		}
	}
	return err
}

func targetLabel(target, prefix string) string {
	if target != "" {
		return target
	}
	if prefix == session.MatchAll {
		return "any peripheral"
	}
	return fmt.Sprintf("%q", prefix)
}

// linkController is the part of session.Controller that follow drives.
type linkController interface {
	StartScan() error
	Connect(id string) error
	Events() <-chan session.Event
}

type followOptions struct {
	target           string
	exitOnDisconnect bool
	onData           func(session.InboundMessage)
}

// follow drives the controller until ctx is done: it scans, connects to the
// target (or to the first candidate), prints events and reconnects after a
// disconnect unless exitOnDisconnect is set.
func follow(ctx context.Context, ctrl linkController, printer *eventPrinter, progress *ProgressPrinter, opts followOptions) error {
	if err := ctrl.StartScan(); err != nil {
		return err
	}

	show := func(ev session.Event) {
		progress.Suspend(func() { _ = printer.Print(ev) })
	}

	var requested string
	for {
		var (
			ev session.Event
			ok bool
		)
		select {
		case <-ctx.Done():
		case ev, ok = <-ctrl.Events():
		}
		if !ok {
			return nil
		}

		switch ev.Kind {
		case session.EventCandidate:
			if opts.target != "" && !strings.EqualFold(opts.target, ev.Peripheral.ID) {
				continue
			}
			show(ev)
			if requested != "" {
				continue
			}
			requested = ev.Peripheral.ID
			progress.SetPhase("connecting")
			if err := ctrl.Connect(requested); err != nil {
				return err
			}

		case session.EventState:
			progress.SetPhase(ev.State.String())
			show(ev)

		case session.EventData:
			show(ev)
			if opts.onData != nil {
				opts.onData(ev.Message)
			}

		case session.EventConnection:
			show(ev)
			if ev.Connected || ev.Reason == session.ReasonSuperseded {
				continue
			}
			requested = ""
			progress.SetPhase("scanning")
			if !opts.exitOnDisconnect {
				continue
			}
			switch ev.Reason {
			case session.ReasonRemote:
				return fmt.Errorf("%w: %s", ErrConnectionLost, ev.Peripheral)
			case session.ReasonFailed:
				if ev.Err != nil {
					return fmt.Errorf("connection to %s failed: %w", ev.Peripheral, ev.Err)
				}
				return fmt.Errorf("connection to %s failed", ev.Peripheral)
			default:
				return nil
			}

		case session.EventError:
			show(ev)
			switch session.KindOf(ev.Err) {
			case session.ScanStartFailed:
				return ev.Err
			case session.UnknownPeripheral, session.AlreadyConnecting:
				// the request never started an attempt, so no disconnect follows
				var serr *session.SessionError
				if errors.As(ev.Err, &serr) && serr.Peripheral == requested {
					requested = ""
					progress.SetPhase("scanning")
				}
			}
		}
	}
}
