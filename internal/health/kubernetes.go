package health

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"wavectl/internal/kube"
)

// DefaultMinHealthyRatio is the share of Argo CD Applications that must be
// Healthy for an argocd-apps check to pass.
const DefaultMinHealthyRatio = 0.8

var (
	ApplicationGVR = schema.GroupVersionResource{Group: "argoproj.io", Version: "v1alpha1", Resource: "applications"}
	WorkflowGVR    = schema.GroupVersionResource{Group: "argoproj.io", Version: "v1alpha1", Resource: "workflows"}
)

// ClassifyKubeError maps API errors onto the prober's taxonomy. Throttling,
// timeouts, an unavailable server and transport failures mean the control
// plane did not answer; every other API status is a failing response.
func ClassifyKubeError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case apierrors.IsTimeout(err),
		apierrors.IsServerTimeout(err),
		apierrors.IsServiceUnavailable(err),
		apierrors.IsTooManyRequests(err):
		return Unreachable(err)
	}
	var status apierrors.APIStatus
	if errors.As(err, &status) {
		return err
	}
	return Unreachable(err)
}

func clientsFor(ctx context.Context, p kube.Provider) (*kube.Clients, error) {
	c, err := p.Clients(ctx)
	if err != nil {
		return nil, Unreachable(err)
	}
	return c, nil
}

func namespaceOr(ns, fallback string) string {
	if ns == "" {
		return fallback
	}
	return ns
}

// DeploymentChecker passes when a Deployment's rollout is complete and at
// least one replica is ready.
type DeploymentChecker struct {
	kube      kube.Provider
	namespace string
	name      string
}

// Check implements Checker.
func (d *DeploymentChecker) Check(ctx context.Context) error {
	clients, err := clientsFor(ctx, d.kube)
	if err != nil {
		return err
	}
	ns := namespaceOr(d.namespace, "default")
	dep, err := clients.Typed.AppsV1().Deployments(ns).Get(ctx, d.name, metav1.GetOptions{})
	if err != nil {
		return ClassifyKubeError(fmt.Errorf("get deployment %s/%s: %w", ns, d.name, err))
	}

	desired := int32(1)
	if dep.Spec.Replicas != nil {
		desired = *dep.Spec.Replicas
	}
	if dep.Status.ObservedGeneration < dep.Generation {
		return fmt.Errorf("deployment %s/%s rollout in progress", ns, d.name)
	}
	if dep.Status.ReadyReplicas == 0 || dep.Status.ReadyReplicas < desired {
		return fmt.Errorf("deployment %s/%s has %d/%d replicas ready", ns, d.name, dep.Status.ReadyReplicas, desired)
	}
	return nil
}

// ArgoAppChecker passes when an Argo CD Application is Healthy and Synced.
type ArgoAppChecker struct {
	kube      kube.Provider
	namespace string
	name      string
}

// Check implements Checker.
func (a *ArgoAppChecker) Check(ctx context.Context) error {
	clients, err := clientsFor(ctx, a.kube)
	if err != nil {
		return err
	}
	ns := namespaceOr(a.namespace, "argocd")
	app, err := clients.Dynamic.Resource(ApplicationGVR).Namespace(ns).Get(ctx, a.name, metav1.GetOptions{})
	if err != nil {
		return ClassifyKubeError(fmt.Errorf("get application %s/%s: %w", ns, a.name, err))
	}

	healthStatus, _, _ := unstructured.NestedString(app.Object, "status", "health", "status")
	syncStatus, _, _ := unstructured.NestedString(app.Object, "status", "sync", "status")
	if healthStatus != "Healthy" || syncStatus != "Synced" {
		return fmt.Errorf("application %s/%s is %s/%s", ns, a.name, orUnknown(healthStatus), orUnknown(syncStatus))
	}
	return nil
}

// ArgoAppsChecker passes when enough Argo CD Applications in a namespace
// report Healthy.
type ArgoAppsChecker struct {
	kube      kube.Provider
	namespace string
	selector  string
	minRatio  float64
}

// Check implements Checker.
func (a *ArgoAppsChecker) Check(ctx context.Context) error {
	clients, err := clientsFor(ctx, a.kube)
	if err != nil {
		return err
	}
	ns := namespaceOr(a.namespace, "argocd")
	list, err := clients.Dynamic.Resource(ApplicationGVR).Namespace(ns).List(ctx, metav1.ListOptions{LabelSelector: a.selector})
	if err != nil {
		return ClassifyKubeError(fmt.Errorf("list applications in %s: %w", ns, err))
	}

	total := len(list.Items)
	if total == 0 {
		return fmt.Errorf("no applications found in %s", ns)
	}
	var healthy int
	var unhealthy []string
	for _, item := range list.Items {
		status, _, _ := unstructured.NestedString(item.Object, "status", "health", "status")
		if status == "Healthy" {
			healthy++
		} else {
			unhealthy = append(unhealthy, item.GetName())
		}
	}
	if float64(healthy) < float64(total)*a.minRatio {
		return fmt.Errorf("%d/%d applications healthy in %s (need %.0f%%), not healthy: %s",
			healthy, total, ns, a.minRatio*100, strings.Join(unhealthy, ", "))
	}
	return nil
}

// ArgoWorkflowChecker passes when an Argo Workflow reaches phase Succeeded.
// The workflow is found by name, or as the first match of a label selector.
type ArgoWorkflowChecker struct {
	kube      kube.Provider
	namespace string
	name      string
	selector  string
}

// Check implements Checker.
func (w *ArgoWorkflowChecker) Check(ctx context.Context) error {
	clients, err := clientsFor(ctx, w.kube)
	if err != nil {
		return err
	}
	ns := namespaceOr(w.namespace, "argo")
	res := clients.Dynamic.Resource(WorkflowGVR).Namespace(ns)

	var wf *unstructured.Unstructured
	if w.name != "" {
		wf, err = res.Get(ctx, w.name, metav1.GetOptions{})
		if err != nil {
			return ClassifyKubeError(fmt.Errorf("get workflow %s/%s: %w", ns, w.name, err))
		}
	} else {
		list, err := res.List(ctx, metav1.ListOptions{LabelSelector: w.selector})
		if err != nil {
			return ClassifyKubeError(fmt.Errorf("list workflows in %s: %w", ns, err))
		}
		if len(list.Items) == 0 {
			return fmt.Errorf("no workflow matches %q in %s", w.selector, ns)
		}
		wf = &list.Items[0]
	}

	phase, _, _ := unstructured.NestedString(wf.Object, "status", "phase")
	switch phase {
	case "Succeeded":
		return nil
	case "Failed", "Error":
		msg, _, _ := unstructured.NestedString(wf.Object, "status", "message")
		return fmt.Errorf("workflow %s/%s %s: %s", ns, wf.GetName(), phase, msg)
	default:
		return fmt.Errorf("workflow %s/%s is %s", ns, wf.GetName(), orUnknown(phase))
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
