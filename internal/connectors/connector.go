// Package connectors defines the connector interface for editem tasks.
package connectors

import "context"

// Stream names an output stream of a command.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// LineFunc receives one line of command output as it is produced.
// It may be called from several goroutines, never concurrently for the
// same stream.
type LineFunc func(stream Stream, line string)

// ExecResult holds the result of a command execution.
type ExecResult struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exit_code"`
	// Interrupted is set when the context was cancelled before exit.
	Interrupted bool `json:"interrupted,omitempty"`
}

// Connector defines the interface for executing commands.
type Connector interface {
	// Name returns the connector identifier.
	Name() string

	// Execute runs a command, streaming its output to onLine, and returns
	// once the command has exited and its output is drained.
	Execute(ctx context.Context, cmd string, args []string, onLine LineFunc) (*ExecResult, error)

	// IsAllowed checks if a command is allowed to execute.
	IsAllowed(cmd string, args []string) bool
}
