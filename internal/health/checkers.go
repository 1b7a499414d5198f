package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"wavectl/internal/component"
	"wavectl/internal/kube"
	"wavectl/internal/utils"
)

// DefaultFactory builds checkers for every supported health kind.
type DefaultFactory struct {
	HTTP   *resty.Client
	Kube   kube.Provider
	Runner utils.Runner
}

// NewFactory wires the default factory. kubeProvider may be nil when no
// component uses a Kubernetes-backed check.
func NewFactory(kubeProvider kube.Provider) *DefaultFactory {
	return &DefaultFactory{
		HTTP:   resty.New().SetHeader("User-Agent", "wavectl"),
		Kube:   kubeProvider,
		Runner: utils.ExecRunner{},
	}
}

// For implements Factory.
func (f *DefaultFactory) For(hc component.HealthCheck) (Checker, error) {
	switch hc.Kind {
	case "", component.CheckNone:
		return CheckerFunc(func(context.Context) error { return nil }), nil
	case component.CheckHTTP:
		if hc.URL == "" {
			return nil, fmt.Errorf("http check requires url")
		}
		return &HTTPChecker{client: f.HTTP, url: hc.URL, expectStatus: hc.ExpectStatus, jsonPath: hc.JSONPath, expect: hc.Expect}, nil
	case component.CheckTCP:
		if hc.Address == "" {
			return nil, fmt.Errorf("tcp check requires address")
		}
		return &TCPChecker{address: hc.Address}, nil
	case component.CheckDeployment:
		if err := f.requireKube(hc, true); err != nil {
			return nil, err
		}
		return &DeploymentChecker{kube: f.Kube, namespace: hc.Namespace, name: hc.Resource}, nil
	case component.CheckArgoApp:
		if err := f.requireKube(hc, true); err != nil {
			return nil, err
		}
		return &ArgoAppChecker{kube: f.Kube, namespace: hc.Namespace, name: hc.Resource}, nil
	case component.CheckArgoApps:
		if err := f.requireKube(hc, false); err != nil {
			return nil, err
		}
		ratio := hc.MinHealthyRatio
		if ratio <= 0 {
			ratio = DefaultMinHealthyRatio
		}
		return &ArgoAppsChecker{kube: f.Kube, namespace: hc.Namespace, selector: hc.LabelSelector, minRatio: ratio}, nil
	case component.CheckArgoWorkflow:
		if err := f.requireKube(hc, false); err != nil {
			return nil, err
		}
		if hc.Resource == "" && hc.LabelSelector == "" {
			return nil, fmt.Errorf("argo-workflow check requires resource or labelSelector")
		}
		return &ArgoWorkflowChecker{kube: f.Kube, namespace: hc.Namespace, name: hc.Resource, selector: hc.LabelSelector}, nil
	case component.CheckCommand:
		if len(hc.Command) == 0 {
			return nil, fmt.Errorf("command check requires command")
		}
		return &CommandChecker{runner: f.Runner, cmd: utils.Command{Args: hc.Command}}, nil
	default:
		return nil, fmt.Errorf("unsupported health check kind %q", hc.Kind)
	}
}

func (f *DefaultFactory) requireKube(hc component.HealthCheck, needResource bool) error {
	if f.Kube == nil {
		return fmt.Errorf("%s check requires kubernetes access", hc.Kind)
	}
	if needResource && hc.Resource == "" {
		return fmt.Errorf("%s check requires resource", hc.Kind)
	}
	return nil
}

// HTTPChecker issues a GET and checks the status code and, optionally, a
// JSON field of the body.
type HTTPChecker struct {
	client       *resty.Client
	url          string
	expectStatus int
	jsonPath     string
	expect       string
}

// Check implements Checker.
func (h *HTTPChecker) Check(ctx context.Context) error {
	resp, err := h.client.R().SetContext(ctx).Get(h.url)
	if err != nil {
		return Unreachable(fmt.Errorf("GET %s: %w", h.url, err))
	}

	if h.expectStatus != 0 {
		if resp.StatusCode() != h.expectStatus {
			return fmt.Errorf("GET %s returned %d, want %d", h.url, resp.StatusCode(), h.expectStatus)
		}
	} else if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return fmt.Errorf("GET %s returned %d", h.url, resp.StatusCode())
	}

	if h.jsonPath == "" {
		return nil
	}
	v := gjson.GetBytes(resp.Body(), h.jsonPath)
	if !v.Exists() {
		return fmt.Errorf("GET %s: field %q missing from response", h.url, h.jsonPath)
	}
	if h.expect != "" && !strings.EqualFold(v.String(), h.expect) {
		return fmt.Errorf("GET %s: %s is %q, want %q", h.url, h.jsonPath, v.String(), h.expect)
	}
	return nil
}

// TCPChecker succeeds when a TCP connection can be opened.
type TCPChecker struct {
	address string
}

// Check implements Checker.
func (t *TCPChecker) Check(ctx context.Context) error {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", t.address)
	if err != nil {
		return Unreachable(fmt.Errorf("failed to connect to %s: %w", t.address, err))
	}
	return conn.Close()
}

// CommandChecker succeeds when the command exits zero.
type CommandChecker struct {
	runner utils.Runner
	cmd    utils.Command
}

// Check implements Checker.
func (c *CommandChecker) Check(ctx context.Context) error {
	_, err := c.runner.Run(ctx, c.cmd)
	if err == nil {
		return nil
	}
	if errors.Is(err, utils.ErrCommandNotStarted) || ctx.Err() != nil {
		return Unreachable(err)
	}
	return err
}
