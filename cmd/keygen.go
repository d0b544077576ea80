package cmd

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/arbengine/config"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a relay authentication key",
	Long: fmt.Sprintf(`Generate a new ECDSA key for signing relay requests. The key only
identifies the searcher to the relay and should hold no funds. Store it in %s.`, config.EnvFlashbotsKey),
	RunE: func(cmd *cobra.Command, args []string) error {
		privateKey, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s=0x%x\n", config.EnvFlashbotsKey, crypto.FromECDSA(privateKey))
		fmt.Fprintf(out, "Public Address: %s\n", crypto.PubkeyToAddress(privateKey.PublicKey).Hex())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
