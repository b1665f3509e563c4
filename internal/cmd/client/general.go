package client

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewStatusCommand reports aggregate and per-connection liveness.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connection liveness",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := doJSON("GET", httpBase()+"/v1/status", nil, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

// NewLogsCommand prints recent activity journal entries.
func NewLogsCommand() *cobra.Command {
	var limit int
	c := &cobra.Command{
		Use:   "logs",
		Short: "Show recent relay activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			u := fmt.Sprintf("%s/v1/logs?limit=%d", httpBase(), limit)
			if err := doJSON("GET", u, nil, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	c.Flags().IntVar(&limit, "limit", 100, "maximum entries to return")
	return c
}
