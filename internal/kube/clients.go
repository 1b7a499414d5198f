package kube

import (
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/restmapper"
	"k8s.io/client-go/tools/clientcmd"

	"wavectl/pkg/logging"
)

// Clients bundles the Kubernetes clients wavectl uses for one context.
type Clients struct {
	Context string
	Typed   kubernetes.Interface
	Dynamic dynamic.Interface
	Mapper  meta.RESTMapper
}

// Options tune the REST configuration.
type Options struct {
	QPS     float32
	Burst   int
	Timeout time.Duration
}

// Provider hands out clients on demand.
type Provider interface {
	Clients(ctx context.Context) (*Clients, error)
}

// restConfigForContext is a package-level variable for mocking in tests.
var restConfigForContext = func(kubeContext string) (*rest.Config, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	overrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
}

// NewClients creates all clients for kubeContext. An empty name uses the
// kubeconfig's current context.
func NewClients(kubeContext string, opts Options) (*Clients, error) {
	restConfig, err := restConfigForContext(kubeContext)
	if err != nil {
		return nil, fmt.Errorf("failed to get REST config for context %q: %w", kubeContext, err)
	}
	restConfig.Timeout = 15 * time.Second
	if opts.Timeout > 0 {
		restConfig.Timeout = opts.Timeout
	}
	if opts.QPS > 0 {
		restConfig.QPS = opts.QPS
	}
	if opts.Burst > 0 {
		restConfig.Burst = opts.Burst
	}

	typed, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes clientset for context %q: %w", kubeContext, err)
	}
	dyn, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client for context %q: %w", kubeContext, err)
	}
	disc, err := discovery.NewDiscoveryClientForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery client for context %q: %w", kubeContext, err)
	}

	return &Clients{
		Context: kubeContext,
		Typed:   typed,
		Dynamic: dyn,
		Mapper:  restmapper.NewDeferredDiscoveryRESTMapper(memory.NewMemCacheClient(disc)),
	}, nil
}

// LazyProvider builds clients on first use and caches the outcome.
type LazyProvider struct {
	kubeContext string
	opts        Options

	once    sync.Once
	clients *Clients
	err     error
}

// NewLazyProvider returns a provider for kubeContext.
func NewLazyProvider(kubeContext string, opts Options) *LazyProvider {
	return &LazyProvider{kubeContext: kubeContext, opts: opts}
}

// Clients implements Provider.
func (p *LazyProvider) Clients(_ context.Context) (*Clients, error) {
	p.once.Do(func() {
		p.clients, p.err = NewClients(p.kubeContext, p.opts)
		if p.err != nil {
			logging.Error("Kube", p.err, "Failed to create clients")
			return
		}
		logging.Debug("Kube", "Created clients for context %q", p.kubeContext)
	})
	return p.clients, p.err
}

// Static wraps prebuilt clients, typically fakes in tests.
type Static struct {
	C *Clients
}

// Clients implements Provider.
func (s Static) Clients(context.Context) (*Clients, error) {
	if s.C == nil {
		return nil, fmt.Errorf("no kubernetes clients configured")
	}
	return s.C, nil
}
