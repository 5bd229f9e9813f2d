package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/xthreen/lightyear/internal/app"
	"github.com/xthreen/lightyear/internal/auth"
	"github.com/xthreen/lightyear/internal/config"
	"github.com/xthreen/lightyear/internal/connect"
	"github.com/xthreen/lightyear/internal/headless"
	"github.com/xthreen/lightyear/internal/logging"
	"github.com/xthreen/lightyear/internal/metrics"
	"github.com/xthreen/lightyear/internal/session"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Run the client",
	Long: `Runs the client. The auth endpoint comes from client.auth_addr or --auth
and is fixed for the life of the process.

The interactive client logs to client.log_file so the terminal stays clean.
With --headless it connects once, logs state changes to stderr and runs until
interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if v, _ := cmd.Flags().GetString("auth"); v != "" {
			cfg.Client.AuthAddr = v
		}
		if v, _ := cmd.Flags().GetString("metrics-addr"); v != "" {
			cfg.Client.MetricsAddr = v
		}
		if err := cfg.Client.Validate(); err != nil {
			return err
		}

		isHeadless, _ := cmd.Flags().GetBool("headless")
		exitOnDrop, _ := cmd.Flags().GetBool("exit-on-disconnect")

		var logger *slog.Logger
		if isHeadless {
			logger = stderrLogger(cfg.Log)
		} else {
			f, err := logging.OpenFile(cfg.Client.LogFile)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			defer f.Close()
			logger = logging.New(cfg.Log, f)
		}

		ctx, cancel := signalContext()
		defer cancel()

		reg := prometheus.NewRegistry()
		m := metrics.New(reg)
		if cfg.Client.MetricsAddr != "" {
			go serveMetrics(ctx, cfg.Client.MetricsAddr, reg, logger)
		}

		machine, sess := newMachine(ctx, &cfg.Client, logger, m)
		defer sess.Close()

		if isHeadless {
			r := &headless.Runner{
				Machine:          machine,
				Interval:         cfg.Client.TickInterval(),
				Logger:           logger,
				ExitOnDisconnect: exitOnDrop,
			}
			return r.Run(ctx)
		}

		p := tea.NewProgram(app.New(machine, cfg.Client.TickInterval(), os.Getenv("NO_COLOR") != ""), tea.WithAltScreen())
		_, err = p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(clientCmd)
	clientCmd.Flags().String("auth", "", "auth endpoint host:port (overrides client.auth_addr)")
	clientCmd.Flags().Bool("headless", false, "run without the terminal UI")
	clientCmd.Flags().Bool("exit-on-disconnect", false, "headless: exit once the connection ends")
	clientCmd.Flags().String("metrics-addr", "", "serve client metrics on this address")
}

// newMachine wires fetcher, tracker, session client and state machine.
func newMachine(ctx context.Context, cfg *config.ClientConfig, logger *slog.Logger, m *metrics.Metrics) (*connect.Machine, *session.Client) {
	fetcher := &auth.Fetcher{
		DialTimeout:   cfg.DialTimeout,
		ReadTimeout:   cfg.FetchTimeout,
		TrailingGrace: cfg.TrailingGrace,
		Logger:        logger.With("component", "fetch"),
	}
	sess := session.NewClient(cfg.DialTimeout, logger.With("component", "session"))
	tracker := connect.NewTracker(cfg.AuthAddr, fetcher.Fetch)
	return connect.NewMachine(ctx, tracker, sess, logger.With("component", "connect"), m), sess
}

func serveMetrics(ctx context.Context, addr string, g prometheus.Gatherer, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server", "addr", addr, "err", err)
	}
}
