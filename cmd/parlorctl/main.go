// Command parlorctl is the operator CLI for a Parlor API server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/parlor/parlor/internal/handler"
)

type globalOptions struct {
	apiURL string
	apiKey string
}

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "parlorctl",
		Short:         "Operate a Parlor API server",
		Version:       handler.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.apiURL, "api-url", envOr("PARLOR_API_URL", "http://localhost:8080"), "Parlor API base URL")
	root.PersistentFlags().StringVar(&opts.apiKey, "api-key", os.Getenv("PARLOR_API_KEY"), "API key (prl_live_... or prl_test_...)")

	root.AddCommand(
		newProfileCmd(opts),
		newMCPCmd(opts),
		newAPIKeyCmd(),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
