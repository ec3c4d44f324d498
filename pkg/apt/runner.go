// Package apt manages Debian packages on the guest and exposes them as guest commands.
package apt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

const runnerLogPrefix = "apt:runner"

// Runner executes an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, env []string, name string, args ...string) ([]byte, error)
}

// ExitError is returned by a Runner when the command ran and exited non-zero.
type ExitError struct {
	Command string
	Code    int
	Output  string
}

func (e *ExitError) Error() string {
	out := strings.TrimSpace(e.Output)
	if len(out) > 512 {
		out = "..." + out[len(out)-512:]
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Command, e.Code, out)
}

// ExecRunner runs commands with os/exec, adding env to the agent's environment.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return out.Bytes(), nil
	}
	if ctx.Err() != nil {
		return out.Bytes(), fmt.Errorf("%s - %s timed out: %w", runnerLogPrefix, name, context.Cause(ctx))
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out.Bytes(), &ExitError{
			Command: strings.Join(append([]string{name}, args...), " "),
			Code:    exitErr.ExitCode(),
			Output:  out.String(),
		}
	}
	return out.Bytes(), fmt.Errorf("%s - failed to start %s: %w", runnerLogPrefix, name, err)
}
