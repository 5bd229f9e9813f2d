package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/xthreen/lightyear/internal/auth"
	"github.com/xthreen/lightyear/internal/ledger"
	"github.com/xthreen/lightyear/internal/metrics"
	"github.com/xthreen/lightyear/internal/netcode"
	"github.com/xthreen/lightyear/internal/session"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the auth and session services",
	Long: `Runs the token issuer on server.auth_addr and the session websocket
server on server.session_addr. Tokens point clients at server.public_addr
(default: session_addr). Every issued token is recorded in the grant ledger
and may open at most one session.

The session server also serves /healthz and /metrics.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if v, _ := cmd.Flags().GetString("auth-addr"); v != "" {
			cfg.Server.AuthAddr = v
		}
		if v, _ := cmd.Flags().GetString("session-addr"); v != "" {
			cfg.Server.SessionAddr = v
		}
		if err := cfg.Server.Validate(); err != nil {
			return err
		}
		key, _ := cfg.Server.Key()
		public, _ := cfg.Server.Public()
		logger := stderrLogger(cfg.Log)

		l, err := ledger.Open(cfg.Server.LedgerPath)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer l.Close()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		m := metrics.New(reg)

		gen := &netcode.Generator{
			ProtocolID:      cfg.Server.ProtocolID,
			PrivateKey:      key,
			ServerAddresses: []netip.AddrPort{public},
			TTL:             cfg.Server.TokenTTL,
			TimeoutSeconds:  cfg.Server.TimeoutSeconds,
		}
		issuer := auth.NewIssuer(gen, l, m, logger.With("component", "auth"))
		srv := session.NewServer(cfg.Server.ProtocolID, key, public, l, session.NewRegistry(), m, logger.With("component", "session"))
		srv.SetGatherer(reg)

		ctx, cancel := signalContext()
		defer cancel()

		errs := make(chan error, 2)
		go func() { errs <- issuer.ListenAndServe(ctx, cfg.Server.AuthAddr) }()
		go func() { errs <- srv.ListenAndServe(ctx, cfg.Server.SessionAddr) }()
		go pruneLoop(ctx, l, cfg.Server.TokenTTL, logger)

		logger.Info("server started",
			"auth_addr", cfg.Server.AuthAddr,
			"session_addr", cfg.Server.SessionAddr,
			"public_addr", public,
			"ledger", l.Path())

		// First exit stops everything.
		err = <-errs
		cancel()
		if err2 := <-errs; err == nil {
			err = err2
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().String("auth-addr", "", "token issuer listen address (overrides server.auth_addr)")
	serverCmd.Flags().String("session-addr", "", "session server listen address (overrides server.session_addr)")
}

// pruneLoop drops expired grants once per token lifetime.
func pruneLoop(ctx context.Context, l *ledger.Ledger, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := l.Prune(ctx, now)
			if err != nil {
				logger.Warn("prune grants", "err", err)
				continue
			}
			if n > 0 {
				logger.Debug("pruned grants", "count", n)
			}
		}
	}
}
