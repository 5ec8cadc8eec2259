package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/restoreassist/pkg/tokencrypt"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a TOKEN_ENCRYPTION_KEY",
	Long: `Generate a random 256-bit key for encrypting stored OAuth tokens, printed
as 64 hex characters.

  export TOKEN_ENCRYPTION_KEY=$(restoreassist keygen)`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := tokencrypt.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
