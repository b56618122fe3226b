package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newMCPCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Manage MCP tool servers",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "refresh",
			Short: "Reinitialize MCP servers and republish tools",
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := newAPIClient(opts)
				if err != nil {
					return err
				}
				msg, err := client.RefreshMCP(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), msg)
				return nil
			},
		},
		newMCPToolsCmd(opts),
	)
	return cmd
}

func newMCPToolsCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the published tool set",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(opts)
			if err != nil {
				return err
			}
			list, err := client.Tools(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			_, err = fmt.Fprint(out, renderTools(list, time.Now()))
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}
