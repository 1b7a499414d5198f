package kube

import (
	"fmt"
	"sort"

	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/clientcmd/api"
)

// loadStartingConfig is a package-level variable for mocking in tests.
var loadStartingConfig = func() (*api.Config, error) {
	return clientcmd.NewDefaultPathOptions().GetStartingConfig()
}

// CurrentContext returns the kubeconfig's current context name.
func CurrentContext() (string, error) {
	cfg, err := loadStartingConfig()
	if err != nil {
		return "", fmt.Errorf("failed to get starting kubeconfig: %w", err)
	}
	return cfg.CurrentContext, nil
}

// AvailableContexts lists every context in the kubeconfig, sorted.
func AvailableContexts() ([]string, error) {
	cfg, err := loadStartingConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get starting kubeconfig: %w", err)
	}
	names := make([]string, 0, len(cfg.Contexts))
	for name := range cfg.Contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ResolveContext validates an explicit context name, or returns the current
// context when name is empty.
func ResolveContext(name string) (string, error) {
	cfg, err := loadStartingConfig()
	if err != nil {
		return "", fmt.Errorf("failed to get starting kubeconfig: %w", err)
	}
	if name == "" {
		if cfg.CurrentContext == "" {
			return "", fmt.Errorf("kubeconfig has no current context")
		}
		return cfg.CurrentContext, nil
	}
	if _, ok := cfg.Contexts[name]; !ok {
		return "", fmt.Errorf("context %q not found in kubeconfig", name)
	}
	return name, nil
}
