package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/devicefactory"
	"github.com/srg/blelink/internal/session"
	"github.com/srg/blelink/pkg/config"
)

// loadConfig reads --config and applies the global flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		if _, err := devicefactory.ParseBackend(backend); err != nil {
			return nil, err
		}
		cfg.Backend = backend
	}
	return cfg, nil
}

// app bundles what every command needs once its flags are validated.
type app struct {
	cfg        *config.Config
	logger     *logrus.Logger
	central    device.Central
	controller *session.Controller
	closeOnce  sync.Once
}

// startApp creates the central and a started controller. The caller must
// call close.
func startApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger, opts session.Options) (*app, error) {
	backend, err := devicefactory.ParseBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}

	central, err := devicefactory.NewCentral(backend, cfg.Adapter, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE central: %w", err)
	}

	ctrl, err := session.NewController(central, opts, logger)
	if err != nil {
		_ = central.Close()
		return nil, err
	}
	if err := ctrl.Start(ctx); err != nil {
		_ = central.Close()
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, central: central, controller: ctrl}, nil
}

// close stops the controller, then releases the platform. It is idempotent.
func (a *app) close() {
	a.closeOnce.Do(func() {
		_ = a.controller.Close()
		if err := a.central.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close BLE central")
		}
	})
}

// signalContext is cancelled on Ctrl+C / SIGTERM or when parent is done.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
