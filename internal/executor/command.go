package executor

import (
	"context"
	"errors"
	"fmt"

	"wavectl/internal/component"
	"wavectl/internal/utils"
)

// CommandExecutor runs arbitrary commands. Idempotency comes from the
// action's Check command, which exits zero when the component is present.
type CommandExecutor struct {
	runner utils.Runner
}

// NewCommandExecutor creates the adapter.
func NewCommandExecutor(runner utils.Runner) *CommandExecutor {
	return &CommandExecutor{runner: runner}
}

// present runs the check command. ok is false when there is no check.
func (e *CommandExecutor) present(ctx context.Context, a component.Action) (present, ok bool, err error) {
	if len(a.Check) == 0 {
		return false, false, nil
	}
	_, err = e.runner.Run(ctx, utils.Command{Args: a.Check, Dir: a.Dir, Env: a.Env})
	if err == nil {
		return true, true, nil
	}
	if errors.Is(err, utils.ErrCommandNotStarted) || ctx.Err() != nil {
		return false, true, err
	}
	return false, true, nil
}

// Apply implements Executor.
func (e *CommandExecutor) Apply(ctx context.Context, c component.Component) (ApplyResult, error) {
	a := c.Deploy
	if len(a.Command) == 0 {
		return "", &ApplyError{Component: c.Name, Err: errors.New("command action has no command")}
	}

	present, _, err := e.present(ctx, a)
	if err != nil {
		return "", &ApplyError{Component: c.Name, Err: fmt.Errorf("check: %w", err)}
	}
	if present {
		return AlreadyApplied, nil
	}

	if _, err := e.runner.Run(ctx, utils.Command{Args: a.Command, Dir: a.Dir, Env: a.Env}); err != nil {
		return "", &ApplyError{Component: c.Name, Err: err}
	}
	return Applied, nil
}

// Teardown implements Executor. The teardown check falls back to the deploy
// check when the teardown action does not declare its own.
func (e *CommandExecutor) Teardown(ctx context.Context, c component.Component) (TeardownResult, error) {
	if c.Teardown.Kind == "" || len(c.Teardown.Command) == 0 {
		return "", &TeardownError{Component: c.Name, Err: ErrNoTeardown}
	}
	a := c.Teardown
	if len(a.Check) == 0 {
		a.Check = c.Deploy.Check
	}

	present, checked, err := e.present(ctx, a)
	if err != nil {
		return "", &TeardownError{Component: c.Name, Err: fmt.Errorf("check: %w", err)}
	}
	if checked && !present {
		return NotPresent, nil
	}

	if _, err := e.runner.Run(ctx, utils.Command{Args: a.Command, Dir: a.Dir, Env: a.Env}); err != nil {
		return "", &TeardownError{Component: c.Name, Err: err}
	}
	return Removed, nil
}
