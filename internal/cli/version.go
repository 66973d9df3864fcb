package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"whale-relay/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "whale-relay %s\ngo: %s %s/%s\n", version.String(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}
