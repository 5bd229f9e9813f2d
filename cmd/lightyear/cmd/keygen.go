package cmd

import (
	"encoding/hex"

	"github.com/spf13/cobra"
	"github.com/xthreen/lightyear/internal/netcode"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a fresh private key for server.private_key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := netcode.GenerateKey()
		if err != nil {
			return err
		}
		printf(cmd, "%s\n", hex.EncodeToString(key[:]))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
