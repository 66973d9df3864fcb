package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"whale-relay/internal/app"
)

var (
	keysLimit int
	keysCSV   string
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List active dedup keys (postgres backend)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if keysLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.KeysOptions{
			Limit:   keysLimit,
			CSVPath: keysCSV,
		}
		return getApp().Keys(cmd.Context(), opts, cmd.OutOrStdout())
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired dedup keys (postgres backend)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Prune(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	keysCmd.Flags().IntVar(&keysLimit, "limit", 20, "Number of keys to display")
	keysCmd.Flags().StringVar(&keysCSV, "csv", "", "Write keys to this CSV file instead of stdout")
}
