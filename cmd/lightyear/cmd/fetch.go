package cmd

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/spf13/cobra"
	"github.com/xthreen/lightyear/internal/auth"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch one connect token and print its public fields",
	Long: `Connects to the auth endpoint, reads exactly one connect token and
prints its public header. Useful for checking an auth service by hand.

Exit status is non-zero on connect failure or protocol violation.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if v, _ := cmd.Flags().GetString("auth"); v != "" {
			cfg.Client.AuthAddr = v
		}
		if err := cfg.Client.Validate(); err != nil {
			return err
		}
		raw, _ := cmd.Flags().GetBool("raw")

		f := &auth.Fetcher{
			DialTimeout:   cfg.Client.DialTimeout,
			ReadTimeout:   cfg.Client.FetchTimeout,
			TrailingGrace: cfg.Client.TrailingGrace,
			Logger:        stderrLogger(cfg.Log),
		}
		ctx, cancel := signalContext()
		defer cancel()
		ctx, cancelTimeout := context.WithTimeout(ctx, cfg.Client.DialTimeout+cfg.Client.FetchTimeout+cfg.Client.TrailingGrace)
		defer cancelTimeout()

		tok, err := f.Fetch(ctx, cfg.Client.AuthAddr)
		if err != nil {
			return err
		}

		if raw {
			b, err := tok.MarshalBinary()
			if err != nil {
				return err
			}
			printf(cmd, "%s\n", hex.EncodeToString(b))
			return nil
		}

		printf(cmd, "protocol id: %#016x\n", tok.ProtocolID)
		printf(cmd, "created:     %s\n", time.Unix(int64(tok.CreateTimestamp), 0).UTC().Format(time.RFC3339))
		printf(cmd, "expires:     %s\n", time.Unix(int64(tok.ExpireTimestamp), 0).UTC().Format(time.RFC3339))
		printf(cmd, "timeout:     %ds\n", tok.TimeoutSeconds)
		for i, a := range tok.Addresses() {
			printf(cmd, "server[%d]:   %s\n", i, a)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().String("auth", "", "auth endpoint host:port (overrides client.auth_addr)")
	fetchCmd.Flags().Bool("raw", false, "print the whole token as hex")
}
