// Command remitd runs the remittance settlement ledger.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "remitd",
		Short:        "Cross-border remittance settlement ledger",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), hashCmd())
	return root
}
