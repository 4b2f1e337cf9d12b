package cli

import (
	"fmt"

	"github.com/glimps-re/stegascan/pkg/config"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print stegascan version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("stegascan version: %s\n", config.Version)
	},
}
