package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tessellate-ai/querymesh/internal/cli"
	"github.com/tessellate-ai/querymesh/internal/cli/admin"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "querymeshd",
		Short: "Querymesh daemon and admin CLI",
		Long:  "Querymesh daemon for running the API server and managing partitions and API keys",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.PartitionCmd())
	rootCmd.AddCommand(admin.APIKeyCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
