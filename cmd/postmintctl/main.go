package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var serverURL string

func main() {
	rootCmd := &cobra.Command{
		Use:   "postmintctl",
		Short: "postmintctl - interact with a postmint server",
		Long: `postmintctl is a command-line interface for the postmint content pipeline.
All output is structured JSON (pipe through jq for human-readable formatting).`,
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", getDefaultServer(), "postmint server URL")

	rootCmd.AddCommand(newLoginCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newGenerateCommand())
	rootCmd.AddCommand(newScoreCommand())
	rootCmd.AddCommand(newStockCommand())
	rootCmd.AddCommand(newTestCommand())
	rootCmd.AddCommand(newOutcomeCommand())
	rootCmd.AddCommand(newEventsCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func getDefaultServer() string {
	if server := os.Getenv("POSTMINT_SERVER"); server != "" {
		return server
	}
	return "http://localhost:8090"
}
