package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X main.version=...";
// "dev" covers local builds.
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the endpointd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("endpointd", version)
	},
}
