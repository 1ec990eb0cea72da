package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Prompt-Gate/Promptgate/internal/domain/auth"
)

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Generate an Argon2id hash for the admin API key",
	Long: `Generate an Argon2id hash of an admin API key for use in config.

The output is a PHC-format hash which can be directly used in the
admin.api_key_hash field.

Example:
  prompt-gate hash-key "my-secret-admin-key"

Security note: The key will appear in shell history.
Consider clearing history after use or using an environment variable:
  prompt-gate hash-key "$MY_ADMIN_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashKey(args[0])
		if err != nil {
			return fmt.Errorf("failed to hash key: %w", err)
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashKeyCmd)
}
