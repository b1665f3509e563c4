package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs the client command groups for the relay CLI.
func NewRoot() []*cobra.Command {
	return []*cobra.Command{
		NewTaskCommand(),
		NewRequestCommand(),
		NewResponsesCommand(),
		NewStatusCommand(),
		NewLogsCommand(),
	}
}
