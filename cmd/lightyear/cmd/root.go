// Package cmd implements the lightyear CLI commands.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/xthreen/lightyear/internal/config"
	"github.com/xthreen/lightyear/internal/logging"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "lightyear",
	Short: "Connect-token auth handshake client and services",
	Long: `lightyear fetches a connect token from an auth endpoint over TCP and
hands it to a session server.

  lightyear server             run the auth and session services
  lightyear client             interactive client (c: connect, x: disconnect)
  lightyear client --headless  connect once and log state changes
  lightyear fetch              fetch one token and print it
  lightyear keygen             print a fresh private key`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}

// loadConfig reads --config and applies global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func stderrLogger(cfg logging.Config) *slog.Logger {
	return logging.New(cfg, os.Stderr)
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
