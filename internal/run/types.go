package run

import (
	"sort"
	"time"
)

// ComponentState is the lifecycle state of one component within one run.
type ComponentState string

const (
	StatePending   ComponentState = "Pending"
	StateApplying  ComponentState = "Applying"
	StateVerifying ComponentState = "Verifying"
	StateHealthy   ComponentState = "Healthy"
	StateFailed    ComponentState = "Failed"
	StateSkipped   ComponentState = "Skipped"

	// Rollback outcomes for components that reached Healthy in the run.
	StateRolledBack     ComponentState = "RolledBack"
	StateRollbackFailed ComponentState = "RollbackFailed"
)

// Terminal reports whether the engine will not move the component any further
// during forward reconciliation.
func (s ComponentState) Terminal() bool {
	switch s {
	case StateHealthy, StateFailed, StateSkipped, StateRolledBack, StateRollbackFailed:
		return true
	}
	return false
}

// Status is the overall status of a deployment run.
type Status string

const (
	StatusPlanned     Status = "Planned"
	StatusRunning     Status = "Running"
	StatusSucceeded   Status = "Succeeded"
	StatusFailed      Status = "Failed"
	StatusCancelled   Status = "Cancelled"
	StatusRollingBack Status = "RollingBack"
	StatusRolledBack  Status = "RolledBack"
)

// Terminal reports whether no further work is scheduled for the run.
func (s Status) Terminal() bool {
	switch s {
	case StatusPlanned, StatusSucceeded, StatusFailed, StatusCancelled, StatusRolledBack:
		return true
	}
	return false
}

// ApplyResult mirrors the executor outcome that moved a component to Verifying.
type ApplyResult string

const (
	ApplyResultNone           ApplyResult = ""
	ApplyResultApplied        ApplyResult = "Applied"
	ApplyResultAlreadyApplied ApplyResult = "AlreadyApplied"
)

// Options are the caller-selected knobs of a run.
type Options struct {
	DryRun            bool     `json:"dryRun,omitempty" yaml:"dryRun,omitempty"`
	Components        []string `json:"components,omitempty" yaml:"components,omitempty"`
	RollbackOnFailure bool     `json:"rollbackOnFailure,omitempty" yaml:"rollbackOnFailure,omitempty"`
	FailFast          bool     `json:"failFast,omitempty" yaml:"failFast,omitempty"`
}

// ComponentStatus is the per-run record of a single component.
type ComponentStatus struct {
	Name        string         `json:"name" yaml:"name"`
	Wave        int            `json:"wave" yaml:"wave"`
	State       ComponentState `json:"state" yaml:"state"`
	Attempt     int            `json:"attempt" yaml:"attempt"`
	ProbeCycles int            `json:"probeCycles,omitempty" yaml:"probeCycles,omitempty"`
	LastError   string         `json:"lastError,omitempty" yaml:"lastError,omitempty"`
	ApplyResult ApplyResult    `json:"applyResult,omitempty" yaml:"applyResult,omitempty"`
	PreExisting bool           `json:"preExisting,omitempty" yaml:"preExisting,omitempty"`
	SkipReason  string         `json:"skipReason,omitempty" yaml:"skipReason,omitempty"`
	StartedAt   *time.Time     `json:"startedAt,omitempty" yaml:"startedAt,omitempty"`
	FinishedAt  *time.Time     `json:"finishedAt,omitempty" yaml:"finishedAt,omitempty"`
}

// DeploymentRun is one execution instance.
type DeploymentRun struct {
	ID         string                      `json:"id" yaml:"id"`
	Stage      string                      `json:"stage" yaml:"stage"`
	Targets    []string                    `json:"targets,omitempty" yaml:"targets,omitempty"`
	Options    Options                     `json:"options" yaml:"options"`
	Status     Status                      `json:"status" yaml:"status"`
	Error      string                      `json:"error,omitempty" yaml:"error,omitempty"`
	Order      []string                    `json:"order" yaml:"order"`
	Components map[string]*ComponentStatus `json:"components" yaml:"components"`
	StartedAt  time.Time                   `json:"startedAt" yaml:"startedAt"`
	FinishedAt *time.Time                  `json:"finishedAt,omitempty" yaml:"finishedAt,omitempty"`
}

// Transition is the persisted unit of run history. Component is empty for
// run-level records.
type Transition struct {
	RunID     string         `json:"runId"`
	Seq       int64          `json:"seq"`
	Component string         `json:"component,omitempty"`
	From      ComponentState `json:"from,omitempty"`
	To        ComponentState `json:"to,omitempty"`
	Attempt   int            `json:"attempt,omitempty"`
	Error     string         `json:"error,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	At        time.Time      `json:"at"`
}

// Summary is the condensed view of a run used in listings.
type Summary struct {
	ID         string     `json:"id" yaml:"id"`
	Stage      string     `json:"stage" yaml:"stage"`
	Status     Status     `json:"status" yaml:"status"`
	StartedAt  time.Time  `json:"startedAt" yaml:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty" yaml:"finishedAt,omitempty"`
}

// Summary condenses the run.
func (r *DeploymentRun) Summary() Summary {
	return Summary{ID: r.ID, Stage: r.Stage, Status: r.Status, StartedAt: r.StartedAt, FinishedAt: r.FinishedAt}
}

// Ordered returns component statuses in plan order, followed by any
// component missing from Order sorted by name.
func (r *DeploymentRun) Ordered() []*ComponentStatus {
	out := make([]*ComponentStatus, 0, len(r.Components))
	seen := make(map[string]bool, len(r.Order))
	for _, name := range r.Order {
		if cs, ok := r.Components[name]; ok {
			out = append(out, cs)
			seen[name] = true
		}
	}
	var rest []string
	for name := range r.Components {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		out = append(out, r.Components[name])
	}
	return out
}

// Counts tallies components by state.
func (r *DeploymentRun) Counts() map[ComponentState]int {
	counts := make(map[ComponentState]int)
	for _, cs := range r.Components {
		counts[cs.State]++
	}
	return counts
}

// Clone returns a deep copy that is safe to hand to other goroutines.
func (r *DeploymentRun) Clone() *DeploymentRun {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Targets = append([]string(nil), r.Targets...)
	cp.Order = append([]string(nil), r.Order...)
	cp.Options.Components = append([]string(nil), r.Options.Components...)
	cp.FinishedAt = cloneTime(r.FinishedAt)
	cp.Components = make(map[string]*ComponentStatus, len(r.Components))
	for name, cs := range r.Components {
		c := *cs
		c.StartedAt = cloneTime(cs.StartedAt)
		c.FinishedAt = cloneTime(cs.FinishedAt)
		cp.Components[name] = &c
	}
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
