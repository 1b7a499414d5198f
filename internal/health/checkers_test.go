package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes/fake"

	"wavectl/internal/component"
	"wavectl/internal/kube"
	"wavectl/internal/utils"
)

func TestHTTPChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/sys/health":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"initialized":true,"sealed":false}`))
		case "/sealed":
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"sealed":true}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFactory(nil)
	tests := []struct {
		name        string
		hc          component.HealthCheck
		wantErr     bool
		unreachable bool
	}{
		{"ok", component.HealthCheck{Kind: component.CheckHTTP, URL: srv.URL + "/v1/sys/health"}, false, false},
		{"json match", component.HealthCheck{Kind: component.CheckHTTP, URL: srv.URL + "/v1/sys/health", JSONPath: "sealed", Expect: "false"}, false, false},
		{"json mismatch", component.HealthCheck{Kind: component.CheckHTTP, URL: srv.URL + "/v1/sys/health", JSONPath: "initialized", Expect: "false"}, true, false},
		{"json missing", component.HealthCheck{Kind: component.CheckHTTP, URL: srv.URL + "/v1/sys/health", JSONPath: "version"}, true, false},
		{"5xx", component.HealthCheck{Kind: component.CheckHTTP, URL: srv.URL + "/sealed"}, true, false},
		{"expected status", component.HealthCheck{Kind: component.CheckHTTP, URL: srv.URL + "/sealed", ExpectStatus: 503}, false, false},
		{"unreachable", component.HealthCheck{Kind: component.CheckHTTP, URL: "http://127.0.0.1:1/health"}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := f.For(tt.hc)
			require.NoError(t, err)
			err = c.Check(context.Background())
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.unreachable, IsUnreachable(err))
		})
	}
}

func TestTCPChecker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	c := &TCPChecker{address: addr}
	assert.NoError(t, c.Check(context.Background()))

	require.NoError(t, ln.Close())
	err = c.Check(context.Background())
	require.Error(t, err)
	assert.True(t, IsUnreachable(err))
}

type fakeRunner struct {
	err error
}

func (f fakeRunner) Run(context.Context, utils.Command) (utils.CommandResult, error) {
	return utils.CommandResult{}, f.err
}

func TestCommandChecker(t *testing.T) {
	ok := &CommandChecker{runner: fakeRunner{}}
	assert.NoError(t, ok.Check(context.Background()))

	failing := &CommandChecker{runner: fakeRunner{err: errors.New("exited with code 1")}}
	err := failing.Check(context.Background())
	require.Error(t, err)
	assert.False(t, IsUnreachable(err))

	missing := &CommandChecker{runner: fakeRunner{err: utils.ErrCommandNotStarted}}
	assert.True(t, IsUnreachable(missing.Check(context.Background())))
}

func TestFactory_Validation(t *testing.T) {
	f := NewFactory(nil)
	bad := []component.HealthCheck{
		{Kind: component.CheckHTTP},
		{Kind: component.CheckTCP},
		{Kind: component.CheckCommand},
		{Kind: component.CheckDeployment, Resource: "x"},
		{Kind: component.CheckArgoApps},
		{Kind: "carrier-pigeon"},
	}
	for _, hc := range bad {
		_, err := f.For(hc)
		assert.Error(t, err, hc.Kind)
	}

	f.Kube = kube.Static{}
	_, err := f.For(component.HealthCheck{Kind: component.CheckArgoWorkflow})
	assert.Error(t, err)
	_, err = f.For(component.HealthCheck{Kind: component.CheckArgoApp})
	assert.Error(t, err)

	none, err := f.For(component.HealthCheck{})
	require.NoError(t, err)
	assert.NoError(t, none.Check(context.Background()))
}

func int32Ptr(i int32) *int32 { return &i }

func TestDeploymentChecker(t *testing.T) {
	ready := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "argocd-server", Namespace: "argocd", Generation: 2},
		Spec:       appsv1.DeploymentSpec{Replicas: int32Ptr(2)},
		Status:     appsv1.DeploymentStatus{ObservedGeneration: 2, ReadyReplicas: 2},
	}
	partial := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "vault", Namespace: "vault", Generation: 1},
		Spec:       appsv1.DeploymentSpec{Replicas: int32Ptr(3)},
		Status:     appsv1.DeploymentStatus{ObservedGeneration: 1, ReadyReplicas: 1},
	}
	rolling := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "mlflow", Namespace: "mlflow", Generation: 5},
		Status:     appsv1.DeploymentStatus{ObservedGeneration: 4, ReadyReplicas: 1},
	}
	provider := kube.Static{C: &kube.Clients{Typed: fake.NewSimpleClientset(ready, partial, rolling)}}

	check := func(ns, name string) error {
		return (&DeploymentChecker{kube: provider, namespace: ns, name: name}).Check(context.Background())
	}

	assert.NoError(t, check("argocd", "argocd-server"))
	assert.ErrorContains(t, check("vault", "vault"), "1/3")
	assert.ErrorContains(t, check("mlflow", "mlflow"), "rollout in progress")

	err := check("argocd", "missing")
	require.Error(t, err)
	assert.False(t, IsUnreachable(err), "NotFound is a response, not an outage")
}

func application(name, health, sync string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "argoproj.io/v1alpha1",
		"kind":       "Application",
		"metadata":   map[string]interface{}{"name": name, "namespace": "argocd"},
		"status": map[string]interface{}{
			"health": map[string]interface{}{"status": health},
			"sync":   map[string]interface{}{"status": sync},
		},
	}}
}

func workflow(name, phase string, labels map[string]interface{}) *unstructured.Unstructured {
	meta := map[string]interface{}{"name": name, "namespace": "argo"}
	if labels != nil {
		meta["labels"] = labels
	}
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "argoproj.io/v1alpha1",
		"kind":       "Workflow",
		"metadata":   meta,
		"status":     map[string]interface{}{"phase": phase, "message": "child failed"},
	}}
}

func dynamicProvider(objs ...runtime.Object) kube.Provider {
	client := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(),
		map[schema.GroupVersionResource]string{
			ApplicationGVR: "ApplicationList",
			WorkflowGVR:    "WorkflowList",
		}, objs...)
	return kube.Static{C: &kube.Clients{Dynamic: client}}
}

func TestArgoAppChecker(t *testing.T) {
	p := dynamicProvider(
		application("vault", "Healthy", "Synced"),
		application("mlflow", "Progressing", "Synced"),
	)
	assert.NoError(t, (&ArgoAppChecker{kube: p, name: "vault"}).Check(context.Background()))
	assert.ErrorContains(t, (&ArgoAppChecker{kube: p, name: "mlflow"}).Check(context.Background()), "Progressing/Synced")
}

func TestArgoAppsChecker_Ratio(t *testing.T) {
	apps := []runtime.Object{
		application("a", "Healthy", "Synced"),
		application("b", "Healthy", "Synced"),
		application("c", "Healthy", "Synced"),
		application("d", "Healthy", "Synced"),
		application("e", "Degraded", "OutOfSync"),
	}
	p := dynamicProvider(apps...)

	assert.NoError(t, (&ArgoAppsChecker{kube: p, minRatio: 0.8}).Check(context.Background()))
	err := (&ArgoAppsChecker{kube: p, minRatio: 0.9}).Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "4/5")
	assert.Contains(t, err.Error(), "e")

	empty := dynamicProvider()
	assert.ErrorContains(t, (&ArgoAppsChecker{kube: empty, minRatio: 0.8}).Check(context.Background()), "no applications")
}

func TestArgoWorkflowChecker(t *testing.T) {
	p := dynamicProvider(
		workflow("bootstrap", "Succeeded", nil),
		workflow("platform-abc", "Failed", map[string]interface{}{"wavectl.io/run": "r1"}),
		workflow("platform-def", "Running", map[string]interface{}{"wavectl.io/run": "r2"}),
	)
	ctx := context.Background()

	assert.NoError(t, (&ArgoWorkflowChecker{kube: p, name: "bootstrap"}).Check(ctx))

	err := (&ArgoWorkflowChecker{kube: p, selector: "wavectl.io/run=r1"}).Check(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "child failed")

	assert.ErrorContains(t, (&ArgoWorkflowChecker{kube: p, selector: "wavectl.io/run=r2"}).Check(ctx), "Running")
	assert.ErrorContains(t, (&ArgoWorkflowChecker{kube: p, selector: "wavectl.io/run=none"}).Check(ctx), "no workflow")
}

func TestClassifyKubeError(t *testing.T) {
	gr := schema.GroupResource{Group: "apps", Resource: "deployments"}
	tests := []struct {
		name        string
		err         error
		unreachable bool
	}{
		{"not found", apierrors.NewNotFound(gr, "x"), false},
		{"forbidden", apierrors.NewForbidden(gr, "x", errors.New("rbac")), false},
		{"timeout", apierrors.NewTimeoutError("slow", 1), true},
		{"unavailable", apierrors.NewServiceUnavailable("starting"), true},
		{"throttled", apierrors.NewTooManyRequests("busy", 1), true},
		{"transport", errors.New("dial tcp 10.0.0.1:6443: connect: connection refused"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.unreachable, IsUnreachable(ClassifyKubeError(tt.err)))
		})
	}
	assert.Nil(t, ClassifyKubeError(nil))
}

func TestKubeCheckersWithoutClients(t *testing.T) {
	err := (&DeploymentChecker{kube: kube.Static{}, name: "x"}).Check(context.Background())
	assert.True(t, IsUnreachable(err))
}
