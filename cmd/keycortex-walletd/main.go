// Command keycortex-walletd runs the custodial wallet-and-identity
// service. Entrypoint shape follows walletserver/main.go, generalized from
// a bare http.ListenAndServe call into a cobra root command with serve and
// migrate subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "keycortex-walletd",
		Short: "KeyCortex custodial wallet and identity service",
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newMigrateCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
