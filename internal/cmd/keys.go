package cmd

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nomadai/rag-gateway/internal/config"
	"github.com/spf13/cobra"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage caller API keys",
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Print fresh API keys ready for " + config.EnvAPIKeys,
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		keys, err := generateKeys(count)
		if err != nil {
			return err
		}
		for _, key := range keys {
			fmt.Fprintln(cmd.OutOrStdout(), key)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%s=%s\n", config.EnvAPIKeys, strings.Join(keys, ","))
		return nil
	},
}

func init() {
	keysGenerateCmd.Flags().Int("count", 1, "number of keys to generate")
	keysCmd.AddCommand(keysGenerateCmd)
	rootCmd.AddCommand(keysCmd)
}

// generateKeys returns n random keys of the form sk-<32 hex chars>
func generateKeys(n int) ([]string, error) {
	if n < 1 {
		return nil, fmt.Errorf("count must be at least 1, got %d", n)
	}
	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		keys = append(keys, "sk-"+strings.ReplaceAll(uuid.New().String(), "-", ""))
	}
	return keys, nil
}
