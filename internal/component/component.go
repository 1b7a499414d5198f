package component

import (
	"time"
)

// Action kinds understood by the executor router.
const (
	ActionManifest  = "manifest"
	ActionTerraform = "terraform"
	ActionCommand   = "command"
	ActionNoop      = "noop"
)

// Health check kinds understood by the prober.
const (
	CheckHTTP         = "http"
	CheckTCP          = "tcp"
	CheckDeployment   = "deployment"
	CheckArgoApp      = "argocd-app"
	CheckArgoApps     = "argocd-apps"
	CheckArgoWorkflow = "argo-workflow"
	CheckCommand      = "command"
	CheckNone         = "none"
)

// Action describes how a component is deployed or removed. Which fields are
// meaningful depends on Kind.
type Action struct {
	Kind string

	// manifest
	Manifests []string
	Namespace string

	// terraform
	Dir    string
	Binary string
	Vars   map[string]string

	// command
	Command []string
	// Check exits zero when the component is already present.
	Check []string
	Env   map[string]string
}

// HealthCheck is the polling contract used to decide readiness.
type HealthCheck struct {
	Kind string

	URL          string
	ExpectStatus int
	JSONPath     string
	Expect       string

	Address string

	Namespace       string
	Resource        string
	LabelSelector   string
	MinHealthyRatio float64

	Command []string

	Interval         time.Duration
	Timeout          time.Duration
	SuccessThreshold int
}

// Retry overrides the engine's retry policy for one component. Zero fields
// keep the engine default.
type Retry struct {
	ApplyAttempts       int
	ApplyInitialBackoff time.Duration
	ApplyMaxBackoff     time.Duration
	VerifyCycles        int
}

// Component is an immutable, named unit of the platform.
type Component struct {
	Name      string
	Wave      int
	DependsOn []string
	Optional  bool
	Deploy    Action
	Teardown  Action
	Health    HealthCheck
	Retry     Retry
	Labels    map[string]string
}

// TeardownAction returns the explicit teardown action, falling back to the
// deploy action for kinds that know how to invert themselves.
func (c Component) TeardownAction() Action {
	if c.Teardown.Kind != "" {
		return c.Teardown
	}
	return c.Deploy
}

func (c Component) clone() Component {
	cp := c
	cp.DependsOn = append([]string(nil), c.DependsOn...)
	cp.Labels = cloneMap(c.Labels)
	cp.Deploy = c.Deploy.clone()
	cp.Teardown = c.Teardown.clone()
	cp.Health.Command = append([]string(nil), c.Health.Command...)
	return cp
}

func (a Action) clone() Action {
	cp := a
	cp.Manifests = append([]string(nil), a.Manifests...)
	cp.Command = append([]string(nil), a.Command...)
	cp.Check = append([]string(nil), a.Check...)
	cp.Vars = cloneMap(a.Vars)
	cp.Env = cloneMap(a.Env)
	return cp
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
