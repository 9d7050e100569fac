package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	authToken string
)

var rootCmd = &cobra.Command{
	Use:          "advisor-cli",
	Short:        "A CLI client for the BizAdvisor service",
	Long:         `A command-line interface for advisory conversations, model catalogs and embedding maintenance.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Whoops. There was an error while executing your CLI: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("ADVISOR_SERVER", "http://localhost:8080"), "advisor service base URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("ADVISOR_TOKEN"), "bearer token (see `advisor-cli token`)")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newClient() *Client {
	return NewClient(serverURL, authToken)
}
