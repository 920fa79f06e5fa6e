// Package localexec provides a local command executor with an allowlist.
package localexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/knaw-huc/editem/internal/connectors"
)

// WaitDelay bounds how long output is drained after the process is gone.
const WaitDelay = 2 * time.Second

// DefaultAllowlist permits shell snippets only. Keys are commands, values
// the accepted first arguments.
func DefaultAllowlist() map[string][]string {
	return map[string][]string{
		"sh": {"-c"},
	}
}

// LocalExec implements the Connector interface for local command execution.
type LocalExec struct {
	workDir string
	allowed map[string][]string
}

// New creates a new LocalExec connector. A nil allowlist uses DefaultAllowlist.
func New(workDir string, allowlist map[string][]string) *LocalExec {
	if allowlist == nil {
		allowlist = DefaultAllowlist()
	}
	return &LocalExec{workDir: workDir, allowed: allowlist}
}

// Name returns the connector identifier.
func (l *LocalExec) Name() string {
	return "localexec"
}

// IsAllowed checks if a command is in the allowlist.
func (l *LocalExec) IsAllowed(cmd string, args []string) bool {
	allowedFirst, ok := l.allowed[cmd]
	if !ok {
		return false
	}

	if len(args) == 0 {
		return false
	}

	first := args[0]
	for _, allowed := range allowedFirst {
		if first == allowed {
			return true
		}
	}
	return false
}

// Execute runs a command if it's in the allowlist. Cancelling ctx kills the
// process; the result is then marked interrupted.
func (l *LocalExec) Execute(ctx context.Context, cmd string, args []string, onLine connectors.LineFunc) (*connectors.ExecResult, error) {
	if !l.IsAllowed(cmd, args) {
		return nil, fmt.Errorf("command not allowed: %s %s", cmd, strings.Join(args, " "))
	}
	if onLine == nil {
		onLine = func(connectors.Stream, string) {}
	}

	execCmd := exec.CommandContext(ctx, cmd, args...)
	if l.workDir != "" {
		execCmd.Dir = l.workDir
	}
	// Children of a killed shell may hold the pipes open.
	execCmd.WaitDelay = WaitDelay

	stdout := &lineWriter{stream: connectors.Stdout, onLine: onLine}
	stderr := &lineWriter{stream: connectors.Stderr, onLine: onLine}
	execCmd.Stdout = stdout
	execCmd.Stderr = stderr

	err := execCmd.Run()
	stdout.flush()
	stderr.flush()

	result := &connectors.ExecResult{Command: cmd, Args: args}
	if ctx.Err() != nil {
		result.Interrupted = true
		result.ExitCode = -1
		return result, nil
	}
	if err != nil {
		var exitError *exec.ExitError
		switch {
		case errors.As(err, &exitError):
			result.ExitCode = exitError.ExitCode()
		case errors.Is(err, exec.ErrWaitDelay):
			result.ExitCode = execCmd.ProcessState.ExitCode()
		default:
			return nil, fmt.Errorf("exec error: %w", err)
		}
	}
	return result, nil
}

// lineWriter splits written bytes into lines.
type lineWriter struct {
	stream connectors.Stream
	onLine connectors.LineFunc
	buf    []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.onLine(w.stream, strings.TrimSuffix(string(w.buf[:i]), "\r"))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	if len(w.buf) > 0 {
		w.onLine(w.stream, string(w.buf))
		w.buf = nil
	}
}
