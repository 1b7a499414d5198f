package config

import (
	"errors"

	"golang.org/x/time/rate"

	"wavectl/internal/component"
	"wavectl/internal/engine"
	"wavectl/internal/kube"
	"wavectl/internal/notify"
)

// ErrNoComponents is returned by Catalog when nothing is configured.
var ErrNoComponents = errors.New("no components configured")

func (a ActionDefinition) toAction() component.Action {
	return component.Action{
		Kind:      a.Kind,
		Manifests: a.Manifests,
		Namespace: a.Namespace,
		Dir:       a.Dir,
		Binary:    a.Binary,
		Vars:      a.Vars,
		Command:   a.Command,
		Check:     a.Check,
		Env:       a.Env,
	}
}

func (h HealthDefinition) toHealthCheck() component.HealthCheck {
	return component.HealthCheck{
		Kind:             h.Kind,
		URL:              h.URL,
		ExpectStatus:     h.ExpectStatus,
		JSONPath:         h.JSONPath,
		Expect:           h.Expect,
		Address:          h.Address,
		Namespace:        h.Namespace,
		Resource:         h.Resource,
		LabelSelector:    h.LabelSelector,
		MinHealthyRatio:  h.MinHealthyRatio,
		Command:          h.Command,
		Interval:         h.Interval,
		Timeout:          h.Timeout,
		SuccessThreshold: h.SuccessThreshold,
	}
}

// Component converts the definition into a registry entry.
func (d ComponentDefinition) Component() component.Component {
	c := component.Component{
		Name:      d.Name,
		Wave:      d.Wave,
		DependsOn: d.DependsOn,
		Optional:  d.Optional,
		Labels:    d.Labels,
		Deploy:    d.Deploy.toAction(),
		Health:    d.Health.toHealthCheck(),
		Retry: component.Retry{
			ApplyAttempts:       d.Retry.ApplyAttempts,
			ApplyInitialBackoff: d.Retry.ApplyInitialBackoff,
			ApplyMaxBackoff:     d.Retry.ApplyMaxBackoff,
			VerifyCycles:        d.Retry.VerifyCycles,
		},
	}
	if d.Teardown != nil {
		c.Teardown = d.Teardown.toAction()
	}
	return c
}

// Catalog registers every component and stage in file order and freezes
// the result.
func (c WavectlConfig) Catalog() (*component.Catalog, error) {
	if len(c.Components) == 0 {
		return nil, ErrNoComponents
	}
	reg := component.NewRegistry()
	for _, def := range c.Components {
		if err := reg.Register(def.Component()); err != nil {
			return nil, err
		}
	}
	for _, s := range c.Stages {
		err := reg.AddStage(component.Stage{
			Name:        s.Name,
			Description: s.Description,
			Waves:       s.Waves,
			Components:  s.Components,
		})
		if err != nil {
			return nil, err
		}
	}
	return reg.Freeze()
}

// Policy returns the engine retry policy.
func (s Settings) Policy() engine.Policy {
	return engine.Policy{
		Apply: engine.ApplyPolicy{
			Attempts: s.Apply.Attempts,
			Backoff: engine.Backoff{
				Initial: s.Apply.InitialBackoff,
				Factor:  s.Apply.BackoffFactor,
				Max:     s.Apply.MaxBackoff,
			},
		},
		Verify: engine.VerifyPolicy{
			Deadline:         s.Verify.Deadline,
			Cycles:           s.Verify.Cycles,
			UnhealthyBackoff: s.Verify.UnhealthyBackoff,
			TimeoutBackoff: engine.Backoff{
				Initial: s.Verify.TimeoutBackoff,
				Factor:  2,
				Max:     s.Verify.MaxTimeoutBackoff,
			},
		},
	}
}

// Limiter returns the token bucket shared by all executor calls.
func (s Settings) Limiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(s.ControlPlaneQPS), s.ControlPlaneBurst)
}

// KubeOptions returns client options for the configured cluster.
func (s Settings) KubeOptions() kube.Options {
	return kube.Options{QPS: s.Kube.QPS, Burst: s.Kube.Burst}
}

// Notifier returns the completion notifier: always the log, plus the
// webhook when one is configured.
func (s Settings) Notifier() notify.Notifier {
	return notify.FromURL(s.Notify.WebhookURL)
}

// PreflightChecks converts the preflight definitions.
func (c WavectlConfig) PreflightChecks() []engine.PreflightCheck {
	out := make([]engine.PreflightCheck, 0, len(c.Preflight))
	for _, p := range c.Preflight {
		out = append(out, engine.PreflightCheck{
			Name:     p.Name,
			Health:   p.Health.toHealthCheck(),
			Deadline: p.Deadline,
		})
	}
	return out
}

// NeedsKube reports whether any component or preflight check talks to a
// cluster.
func (c WavectlConfig) NeedsKube() bool {
	kubeChecks := map[string]bool{
		component.CheckDeployment:   true,
		component.CheckArgoApp:      true,
		component.CheckArgoApps:     true,
		component.CheckArgoWorkflow: true,
	}
	for _, p := range c.Preflight {
		if kubeChecks[p.Health.Kind] {
			return true
		}
	}
	for _, d := range c.Components {
		if d.Deploy.Kind == component.ActionManifest || kubeChecks[d.Health.Kind] {
			return true
		}
	}
	return false
}
