// Package kube builds Kubernetes clients for a kubeconfig context.
//
// wavectl talks to the cluster through three clients that share one REST
// configuration:
//
//   - a typed clientset, used by the Deployment health checker
//   - a dynamic client, used for Argo CD Applications, Argo Workflows and
//     for applying arbitrary manifests
//   - a discovery-backed REST mapper, used to turn manifest kinds into
//     resources
//
// Clients are created lazily through a Provider so that commands that never
// touch the cluster (plan, status, components) work without a kubeconfig.
//
// # Context selection
//
// An empty context name selects the kubeconfig's current context. Requests
// carry the QPS and burst configured in settings.kube so that wavectl does
// not overwhelm a control plane that is itself being brought up.
package kube
