package client

import (
	"bufio"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

// NewResponsesCommand builds the responses command group: long-poll pop and
// live tail.
func NewResponsesCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "responses", Short: "Consume unsolicited client responses"}
	cmd.AddCommand(newResponsesNextCommand())
	cmd.AddCommand(newResponsesTailCommand())
	return cmd
}

func newResponsesNextCommand() *cobra.Command {
	var timeoutMs int64
	c := &cobra.Command{
		Use:   "next",
		Short: "Pop the oldest response, waiting if the queue is empty",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			u := fmt.Sprintf("%s/v1/responses/next?timeout_ms=%d", httpBase(), timeoutMs)
			if err := doJSON("GET", u, nil, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	c.Flags().Int64Var(&timeoutMs, "timeout-ms", 25000, "how long to wait for a response")
	return c
}

func newResponsesTailCommand() *cobra.Command {
	var filter string
	c := &cobra.Command{
		Use:   "tail",
		Short: "Stream responses live over SSE",
		RunE: func(cmd *cobra.Command, args []string) error {
			u := httpBase() + "/v1/responses/stream"
			if filter != "" {
				u += "?filter=" + url.QueryEscape(filter)
			}
			resp, err := http.Get(u)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unexpected status %d", resp.StatusCode)
			}
			scanner := bufio.NewScanner(resp.Body)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				line := scanner.Text()
				if strings.HasPrefix(line, "data: ") {
					fmt.Println(strings.TrimPrefix(line, "data: "))
				}
			}
			return scanner.Err()
		},
	}
	c.Flags().StringVar(&filter, "filter", "", "CEL filter over {type, request_id, text, json, now_ms}")
	return c
}
