package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/anstrom/bifrost/internal/auth"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage the status API key",
}

var apikeyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate an API key and its bcrypt hash",
	Long: `Generate a new API key. Put the hash in api.api_key_hash (or
BIFROST_API_API_KEY_HASH) and hand the key to clients as X-API-Key.
The key is shown only once.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return generateAPIKey(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(apikeyCmd)
	apikeyCmd.AddCommand(apikeyGenerateCmd)
}

func generateAPIKey(w io.Writer) error {
	key, err := auth.GenerateAPIKey()
	if err != nil {
		return fmt.Errorf("failed to generate API key: %w", err)
	}
	_, err = fmt.Fprintf(w, "API key:      %s\nPrefix:       %s\napi_key_hash: %s\n",
		key.Key, key.KeyPrefix, key.Hash)
	return err
}
