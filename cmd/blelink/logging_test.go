package main

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blelink/pkg/config"
)

func newLoggingCmd() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().Bool("verbose", false, "")
	return cmd
}

func TestConfigureLogger(t *testing.T) {
	tests := []struct {
		name     string
		cfgLevel string
		args     []string
		expected logrus.Level
		wantErr  bool
	}{
		{"config level", "warn", nil, logrus.WarnLevel, false},
		{"verbose overrides config", "warn", []string{"--verbose"}, logrus.DebugLevel, false},
		{"log-level wins over verbose", "info", []string{"--verbose", "--log-level=error"}, logrus.ErrorLevel, false},
		{"invalid log-level", "info", []string{"--log-level=loud"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newLoggingCmd()
			require.NoError(t, cmd.ParseFlags(tt.args))
			var stderr bytes.Buffer
			cmd.SetErr(&stderr)

			cfg := config.DefaultConfig()
			cfg.LogLevel = tt.cfgLevel

			logger, err := configureLogger(cmd, cfg)
			if tt.wantErr {
				assert.ErrorContains(t, err, "invalid log level")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, logger.GetLevel())

			logger.Error("visible")
			assert.Contains(t, stderr.String(), "visible", "logs MUST go to the command's stderr")
		})
	}
}
