package run

import (
	"strings"
	"time"
)

// Apply folds a single component transition into the run. Run-level records
// (empty Component) are ignored; the header carries run status.
func (r *DeploymentRun) Apply(t Transition) {
	if t.Component == "" {
		return
	}
	if r.Components == nil {
		r.Components = make(map[string]*ComponentStatus)
	}
	cs, ok := r.Components[t.Component]
	if !ok {
		cs = &ComponentStatus{Name: t.Component, State: StatePending}
		r.Components[t.Component] = cs
		r.Order = appendMissing(r.Order, t.Component)
	}

	at := t.At
	cs.State = t.To
	if t.Attempt > 0 {
		cs.Attempt = t.Attempt
	}

	if t.From == StateVerifying {
		switch t.To {
		case StateVerifying, StateHealthy, StateFailed:
			cs.ProbeCycles++
		}
	}

	switch t.To {
	case StatePending:
		if t.Detail == DetailResumed {
			cs.FinishedAt = nil
			cs.SkipReason = ""
			cs.LastError = ""
		}
	case StateApplying:
		if cs.StartedAt == nil {
			cs.StartedAt = &at
		}
		if t.Error != "" {
			cs.LastError = t.Error
		}
	case StateVerifying:
		if t.From == StateApplying {
			cs.recordApplyResult(t)
		}
		if t.Error != "" {
			cs.LastError = t.Error
		}
	case StateHealthy:
		cs.LastError = ""
		cs.FinishedAt = &at
	case StateFailed:
		if t.Error != "" {
			cs.LastError = t.Error
		}
		cs.FinishedAt = &at
	case StateSkipped:
		cs.SkipReason = strings.TrimPrefix(t.Detail, DetailSkipPrefix)
		cs.FinishedAt = &at
	case StateRolledBack, StateRollbackFailed:
		cs.LastError = t.Error
		cs.FinishedAt = &at
	}
}

// recordApplyResult keeps Applied sticky for the run: once this run changed
// the component, a later AlreadyApplied (retry or resume) does not hide it.
// The result is informational; PreExisting is decided when the run is
// prepared.
func (cs *ComponentStatus) recordApplyResult(t Transition) {
	switch t.Detail {
	case DetailApplied:
		cs.ApplyResult = ApplyResultApplied
	case DetailAlreadyApplied:
		if cs.ApplyResult == ApplyResultApplied {
			return
		}
		cs.ApplyResult = ApplyResultAlreadyApplied
	}
}

// Replay rebuilds a run from its header and its transitions in sequence order.
func Replay(header *DeploymentRun, transitions []Transition) *DeploymentRun {
	r := header.Clone()
	if r.Components == nil {
		r.Components = make(map[string]*ComponentStatus)
	}
	for _, t := range transitions {
		r.Apply(t)
	}
	return r
}

// NewComponentStatus seeds a Pending status for a planned component.
func NewComponentStatus(name string, wave int) *ComponentStatus {
	return &ComponentStatus{Name: name, Wave: wave, State: StatePending}
}

// Stamp returns a pointer to a copy of t, for optional timestamp fields.
func Stamp(t time.Time) *time.Time {
	return &t
}

func appendMissing(list []string, name string) []string {
	for _, n := range list {
		if n == name {
			return list
		}
	}
	return append(list, name)
}
