package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"wavectl/internal/component"
	"wavectl/internal/utils"
	"wavectl/pkg/logging"
)

// Exit codes of `plan -detailed-exitcode`.
const (
	planNoChanges = 0
	planChanges   = 2
)

// TerraformExecutor converges a directory of infrastructure code. It reports
// Applied only after a follow-up plan shows no pending changes.
type TerraformExecutor struct {
	runner utils.Runner
	binary string
}

// NewTerraformExecutor creates the adapter. binary defaults to "terraform";
// a component may override it (for example with "tofu").
func NewTerraformExecutor(runner utils.Runner, binary string) *TerraformExecutor {
	if binary == "" {
		binary = "terraform"
	}
	return &TerraformExecutor{runner: runner, binary: binary}
}

func (t *TerraformExecutor) command(a component.Action, args ...string) utils.Command {
	bin := a.Binary
	if bin == "" {
		bin = t.binary
	}
	return utils.Command{Args: append([]string{bin}, args...), Dir: a.Dir, Env: a.Env}
}

func varArgs(vars map[string]string) []string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, "-var", k+"="+vars[k])
	}
	return out
}

func (t *TerraformExecutor) plan(ctx context.Context, a component.Action) (bool, error) {
	args := append([]string{"plan", "-detailed-exitcode", "-input=false", "-lock-timeout=60s"}, varArgs(a.Vars)...)
	res, err := t.runner.Run(ctx, t.command(a, args...))
	switch {
	case err == nil && res.ExitCode == planNoChanges:
		return false, nil
	case res.ExitCode == planChanges:
		return true, nil
	case err != nil:
		return false, fmt.Errorf("plan: %w", err)
	default:
		return false, fmt.Errorf("plan exited with code %d", res.ExitCode)
	}
}

// Apply implements Executor.
func (t *TerraformExecutor) Apply(ctx context.Context, c component.Component) (ApplyResult, error) {
	a := c.Deploy
	fail := func(err error) (ApplyResult, error) {
		return "", &ApplyError{Component: c.Name, Err: err}
	}

	if _, err := t.runner.Run(ctx, t.command(a, "init", "-input=false")); err != nil {
		return fail(fmt.Errorf("init: %w", err))
	}

	pending, err := t.plan(ctx, a)
	if err != nil {
		return fail(err)
	}
	if !pending {
		return AlreadyApplied, nil
	}

	args := append([]string{"apply", "-auto-approve", "-input=false", "-lock-timeout=60s"}, varArgs(a.Vars)...)
	if _, err := t.runner.Run(ctx, t.command(a, args...)); err != nil {
		return fail(fmt.Errorf("apply: %w", err))
	}

	pending, err = t.plan(ctx, a)
	if err != nil {
		return fail(fmt.Errorf("verifying apply: %w", err))
	}
	if pending {
		return fail(fmt.Errorf("changes still pending after apply in %s", a.Dir))
	}
	logging.Info("Terraform", "Converged %s in %s", c.Name, a.Dir)
	return Applied, nil
}

// Teardown implements Executor.
func (t *TerraformExecutor) Teardown(ctx context.Context, c component.Component) (TeardownResult, error) {
	a := c.TeardownAction()
	fail := func(err error) (TeardownResult, error) {
		return "", &TeardownError{Component: c.Name, Err: err}
	}

	res, err := t.runner.Run(ctx, t.command(a, "state", "list"))
	if err != nil {
		return fail(fmt.Errorf("state list: %w", err))
	}
	if strings.TrimSpace(res.Stdout) == "" {
		return NotPresent, nil
	}

	args := append([]string{"destroy", "-auto-approve", "-input=false", "-lock-timeout=60s"}, varArgs(a.Vars)...)
	if _, err := t.runner.Run(ctx, t.command(a, args...)); err != nil {
		return fail(fmt.Errorf("destroy: %w", err))
	}
	return Removed, nil
}
