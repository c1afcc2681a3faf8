package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tessellate-ai/querymesh/internal/cli"
	"github.com/tessellate-ai/querymesh/internal/cli/client"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "querymesh",
		Short: "Querymesh CLI - Ask questions over your knowledge partitions",
		Long: `Querymesh CLI submits questions against private, project, and global
knowledge partitions and prints synthesized answers with citations.

Environment variables:
  QUERYMESH_API_KEY   API key for authentication (required)
  QUERYMESH_API_URL   API base URL (default: http://localhost:8080)`,
		Version: version,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-key", "", "API key for authentication (overrides env and config)")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env and config)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.AskCmd())
	rootCmd.AddCommand(client.HistoryCmd())
	rootCmd.AddCommand(client.ShowCmd())
	rootCmd.AddCommand(client.CancelCmd())
	rootCmd.AddCommand(client.RateCmd())
	rootCmd.AddCommand(client.ConversationCmd())
	rootCmd.AddCommand(client.AuthCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
