package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags.
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the tradecore version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println("tradecore", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
