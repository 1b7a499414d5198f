package config

import (
	"time"

	"wavectl/internal/recorder"
	"wavectl/internal/telemetry"
)

// WavectlConfig is the top-level configuration structure for wavectl.
type WavectlConfig struct {
	Settings   Settings              `yaml:"settings"`
	Components []ComponentDefinition `yaml:"components,omitempty" validate:"dive"`
	Stages     []StageDefinition     `yaml:"stages,omitempty" validate:"dive"`
	Preflight  []PreflightDefinition `yaml:"preflight,omitempty" validate:"dive"`
}

// Settings tune the engine and its collaborators. Every field can be
// overridden from the environment (WAVECTL_ prefix, dots become
// underscores, e.g. WAVECTL_STORE_DSN).
type Settings struct {
	// ComponentsDir holds additional *.yaml files with components and stages.
	ComponentsDir     string  `yaml:"componentsDir" mapstructure:"componentsDir"`
	MaxConcurrency    int     `yaml:"maxConcurrency" mapstructure:"maxConcurrency" validate:"gte=1,lte=256"`
	ControlPlaneQPS   float64 `yaml:"controlPlaneQPS" mapstructure:"controlPlaneQPS" validate:"gt=0"`
	ControlPlaneBurst int     `yaml:"controlPlaneBurst" mapstructure:"controlPlaneBurst" validate:"gte=1"`

	Apply     ApplySettings    `yaml:"apply" mapstructure:"apply"`
	Verify    VerifySettings   `yaml:"verify" mapstructure:"verify"`
	Store     recorder.Config  `yaml:"store" mapstructure:"store"`
	Kube      KubeSettings     `yaml:"kube" mapstructure:"kube"`
	Server    ServerSettings   `yaml:"server" mapstructure:"server"`
	Telemetry telemetry.Config `yaml:"telemetry" mapstructure:"telemetry"`
	Notify    NotifySettings   `yaml:"notify" mapstructure:"notify"`
}

// ApplySettings bound executor retries.
type ApplySettings struct {
	Attempts       int           `yaml:"attempts" mapstructure:"attempts" validate:"gte=1"`
	InitialBackoff time.Duration `yaml:"initialBackoff" mapstructure:"initialBackoff" validate:"gt=0"`
	MaxBackoff     time.Duration `yaml:"maxBackoff" mapstructure:"maxBackoff" validate:"gtefield=InitialBackoff"`
	BackoffFactor  float64       `yaml:"backoffFactor" mapstructure:"backoffFactor" validate:"gte=1"`
}

// VerifySettings bound health verification.
type VerifySettings struct {
	Deadline          time.Duration `yaml:"deadline" mapstructure:"deadline" validate:"gt=0"`
	Cycles            int           `yaml:"cycles" mapstructure:"cycles" validate:"gte=1"`
	UnhealthyBackoff  time.Duration `yaml:"unhealthyBackoff" mapstructure:"unhealthyBackoff" validate:"gt=0"`
	TimeoutBackoff    time.Duration `yaml:"timeoutBackoff" mapstructure:"timeoutBackoff" validate:"gt=0"`
	MaxTimeoutBackoff time.Duration `yaml:"maxTimeoutBackoff" mapstructure:"maxTimeoutBackoff" validate:"gtefield=TimeoutBackoff"`
}

// KubeSettings select the cluster used by manifest actions and
// Kubernetes-backed health checks.
type KubeSettings struct {
	Context string  `yaml:"context" mapstructure:"context"`
	QPS     float32 `yaml:"qps" mapstructure:"qps" validate:"gte=0"`
	Burst   int     `yaml:"burst" mapstructure:"burst" validate:"gte=0"`
}

// ServerSettings configure `wavectl serve`.
type ServerSettings struct {
	Listen    string `yaml:"listen" mapstructure:"listen" validate:"required,hostname_port"`
	MCPListen string `yaml:"mcpListen" mapstructure:"mcpListen" validate:"omitempty,hostname_port"`
}

// NotifySettings configure run completion notifications.
type NotifySettings struct {
	WebhookURL string `yaml:"webhookURL" mapstructure:"webhookURL" validate:"omitempty,url"`
}

// ComponentDefinition is the YAML form of a component.
type ComponentDefinition struct {
	Name      string            `yaml:"name" validate:"required"`
	Wave      int               `yaml:"wave" validate:"gte=0"`
	DependsOn []string          `yaml:"dependsOn,omitempty"`
	Optional  bool              `yaml:"optional,omitempty"`
	Labels    map[string]string `yaml:"labels,omitempty"`
	Deploy    ActionDefinition  `yaml:"deploy"`
	Teardown  *ActionDefinition `yaml:"teardown,omitempty" validate:"omitempty"`
	Health    HealthDefinition  `yaml:"health,omitempty"`
	Retry     RetryDefinition   `yaml:"retry,omitempty"`
}

// RetryDefinition overrides settings.apply and settings.verify for one
// component. Unset fields keep the global value.
type RetryDefinition struct {
	ApplyAttempts       int           `yaml:"applyAttempts,omitempty" validate:"gte=0"`
	ApplyInitialBackoff time.Duration `yaml:"applyInitialBackoff,omitempty" validate:"gte=0"`
	ApplyMaxBackoff     time.Duration `yaml:"applyMaxBackoff,omitempty" validate:"gte=0"`
	VerifyCycles        int           `yaml:"verifyCycles,omitempty" validate:"gte=0"`
}

// ActionDefinition is the YAML form of a deploy or teardown action.
type ActionDefinition struct {
	Kind      string            `yaml:"kind" validate:"required,oneof=manifest terraform command noop"`
	Manifests []string          `yaml:"manifests,omitempty" validate:"required_if=Kind manifest"`
	Namespace string            `yaml:"namespace,omitempty"`
	Dir       string            `yaml:"dir,omitempty" validate:"required_if=Kind terraform"`
	Binary    string            `yaml:"binary,omitempty"`
	Vars      map[string]string `yaml:"vars,omitempty"`
	Command   []string          `yaml:"command,omitempty" validate:"required_if=Kind command"`
	Check     []string          `yaml:"check,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
}

// HealthDefinition is the YAML form of a health contract.
type HealthDefinition struct {
	Kind             string        `yaml:"kind,omitempty" validate:"omitempty,oneof=http tcp deployment argocd-app argocd-apps argo-workflow command none"`
	URL              string        `yaml:"url,omitempty" validate:"required_if=Kind http"`
	ExpectStatus     int           `yaml:"expectStatus,omitempty" validate:"omitempty,gte=100,lte=599"`
	JSONPath         string        `yaml:"jsonPath,omitempty"`
	Expect           string        `yaml:"expect,omitempty"`
	Address          string        `yaml:"address,omitempty" validate:"required_if=Kind tcp"`
	Namespace        string        `yaml:"namespace,omitempty"`
	Resource         string        `yaml:"resource,omitempty"`
	LabelSelector    string        `yaml:"labelSelector,omitempty"`
	MinHealthyRatio  float64       `yaml:"minHealthyRatio,omitempty" validate:"gte=0,lte=1"`
	Command          []string      `yaml:"command,omitempty" validate:"required_if=Kind command"`
	Interval         time.Duration `yaml:"interval,omitempty" validate:"gte=0"`
	Timeout          time.Duration `yaml:"timeout,omitempty" validate:"gte=0"`
	SuccessThreshold int           `yaml:"successThreshold,omitempty" validate:"gte=0"`
}

// StageDefinition names a subset of the platform.
type StageDefinition struct {
	Name        string   `yaml:"name" validate:"required"`
	Description string   `yaml:"description,omitempty"`
	Waves       []int    `yaml:"waves,omitempty" validate:"dive,gte=0"`
	Components  []string `yaml:"components,omitempty"`
}

// PreflightDefinition is a check that must pass before any run starts.
type PreflightDefinition struct {
	Name     string           `yaml:"name" validate:"required"`
	Health   HealthDefinition `yaml:"health"`
	Deadline time.Duration    `yaml:"deadline,omitempty" validate:"gte=0"`
}
