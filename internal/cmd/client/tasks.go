package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewTaskCommand builds the task command group: enqueue and poll.
func NewTaskCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Enqueue and poll tasks"}
	cmd.AddCommand(newTaskSendCommand())
	cmd.AddCommand(newTaskStatusCommand())
	return cmd
}

func newTaskSendCommand() *cobra.Command {
	var typ, payload, taskID string
	c := &cobra.Command{
		Use:   "send",
		Short: "Enqueue a command for connected clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			if typ == "" {
				return fmt.Errorf("--type is required")
			}
			body := map[string]any{"type": typ}
			if payload != "" {
				var p json.RawMessage
				if err := json.Unmarshal([]byte(payload), &p); err != nil {
					return fmt.Errorf("--payload must be valid JSON: %w", err)
				}
				body["payload"] = p
			}
			if taskID != "" {
				body["task_id"] = taskID
			}
			var out map[string]string
			if err := doJSON("POST", httpBase()+"/v1/tasks", body, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	c.Flags().StringVar(&typ, "type", "", "command type")
	c.Flags().StringVar(&payload, "payload", "", "JSON payload")
	c.Flags().StringVar(&taskID, "task-id", "", "caller-chosen task id")
	return c
}

func newTaskStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>",
		Short: "Poll a task's status and result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := doJSON("GET", httpBase()+"/v1/tasks/"+args[0], nil, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

// NewRequestCommand builds the request/await command.
func NewRequestCommand() *cobra.Command {
	var typ, payload string
	var timeoutMs int64
	c := &cobra.Command{
		Use:   "request",
		Short: "Dispatch a command and wait for its correlated reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			if typ == "" {
				return fmt.Errorf("--type is required")
			}
			body := map[string]any{"type": typ, "timeout_ms": timeoutMs}
			if payload != "" {
				var p json.RawMessage
				if err := json.Unmarshal([]byte(payload), &p); err != nil {
					return fmt.Errorf("--payload must be valid JSON: %w", err)
				}
				body["payload"] = p
			}
			var out map[string]json.RawMessage
			if err := doJSON("POST", httpBase()+"/v1/requests", body, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	c.Flags().StringVar(&typ, "type", "", "command type")
	c.Flags().StringVar(&payload, "payload", "", "JSON payload (request_id is injected)")
	c.Flags().Int64Var(&timeoutMs, "timeout-ms", 25000, "how long to wait for the reply")
	return c
}
