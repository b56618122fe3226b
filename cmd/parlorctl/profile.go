package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"
)

func newProfileCmd(opts *globalOptions) *cobra.Command {
	var (
		asJSON bool
		width  int
	)

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the caller's profile and 30-day token usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(opts)
			if err != nil {
				return err
			}

			profile, err := client.Profile(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(profile)
			}

			_, err = out.Write([]byte(renderProfile(profile, time.Now(), width)))
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw profile document")
	cmd.Flags().IntVar(&width, "width", 60, "chart width in columns")
	return cmd
}
