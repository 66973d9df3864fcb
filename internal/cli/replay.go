package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"whale-relay/internal/app"
)

var (
	replayDir     string
	replayDryRun  bool
	replayWorkers int
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-ingest every captured body in a directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayDir == "" {
			return fmt.Errorf("--dir must be provided")
		}
		if replayWorkers <= 0 {
			return fmt.Errorf("--workers must be greater than zero")
		}

		opts := app.ReplayOptions{
			Dir:     replayDir,
			DryRun:  replayDryRun,
			Workers: replayWorkers,
		}
		return getApp().Replay(cmd.Context(), opts, cmd.OutOrStdout())
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayDir, "dir", "", "Directory of *.json request bodies")
	replayCmd.Flags().BoolVar(&replayDryRun, "dry-run", false, "Print rendered messages and use a private dedup window")
	replayCmd.Flags().IntVar(&replayWorkers, "workers", 2, "Number of concurrent workers")
}
