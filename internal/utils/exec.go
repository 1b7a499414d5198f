package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// ErrCommandNotStarted marks a command that never ran (missing binary,
// bad working directory). Callers treat it as "target unreachable".
var ErrCommandNotStarted = errors.New("command could not be started")

// Command describes one external process invocation.
type Command struct {
	Args []string
	Dir  string
	Env  map[string]string
}

func (c Command) String() string {
	return strings.Join(c.Args, " ")
}

// CommandResult carries the captured output and exit code.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes commands. The engine's adapters depend on this interface so
// tests can script outcomes without spawning processes.
type Runner interface {
	Run(ctx context.Context, cmd Command) (CommandResult, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes cmd and captures stdout and stderr. A non-zero exit is reported
// both in ExitCode and as an error that includes stderr for diagnostics.
func (ExecRunner) Run(ctx context.Context, cmd Command) (CommandResult, error) {
	if len(cmd.Args) == 0 {
		return CommandResult{ExitCode: -1}, fmt.Errorf("%w: empty command", ErrCommandNotStarted)
	}

	c := exec.CommandContext(ctx, cmd.Args[0], cmd.Args[1:]...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), envList(cmd.Env)...)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	c.Stdout = &stdoutBuf
	c.Stderr = &stderrBuf

	runErr := c.Run()
	res := CommandResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		ExitCode: c.ProcessState.ExitCode(),
	}
	if runErr == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		if ctx.Err() != nil {
			return res, fmt.Errorf("'%s' interrupted: %w", cmd, ctx.Err())
		}
		return res, fmt.Errorf("'%s' exited with code %d: %s", cmd, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	res.ExitCode = -1
	return res, fmt.Errorf("%w: '%s': %v", ErrCommandNotStarted, cmd, runErr)
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
