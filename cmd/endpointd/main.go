// Command endpointd is the sample CLI entrypoint around package
// endpoint: a cobra root command with serve and version subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "endpointd",
	Short: "endpointd runs a connection-multiplexing socket endpoint",
	Long: `endpointd accepts TCP connections, multiplexes their readiness
through a poller pool, and dispatches them to a worker pool running a
pluggable socket.Handler. The bundled handler speaks a small HTTP/1.1
subset, enough to exercise keep-alive, sendfile, and long-poll dispatch
end to end.`,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
