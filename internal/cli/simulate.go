package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"whale-relay/internal/app"
)

var (
	simulateFile   string
	simulateChatID string
	simulateDryRun bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "把一个 payload 文件当作 webhook 投递一次",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateFile == "" {
			return errors.New("--file 必须指定")
		}
		opts := app.SimulateOptions{
			File:   simulateFile,
			ChatID: simulateChatID,
			DryRun: simulateDryRun,
		}
		return getApp().Simulate(cmd.Context(), opts, cmd.OutOrStdout())
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateFile, "file", "", "JSON request body to ingest")
	simulateCmd.Flags().StringVar(&simulateChatID, "chat-id", "", "Override chat_id in the body")
	simulateCmd.Flags().BoolVar(&simulateDryRun, "dry-run", false, "Print the rendered message instead of sending it")
}
