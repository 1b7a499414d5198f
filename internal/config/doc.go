// Package config provides configuration management for wavectl.
//
// Configuration is loaded from several YAML layers and merged in order, with
// later layers overriding earlier ones:
//
//  1. Defaults compiled into the binary
//  2. User configuration (~/.config/wavectl/config.yaml)
//  3. Project configuration (./.wavectl/config.yaml)
//  4. The file passed with --config
//  5. WAVECTL_* environment variables and bound flags (settings only)
//  6. Every *.yaml file in settings.componentsDir (components and stages only)
//
// Settings are merged key by key. Components, stages and preflight checks are
// merged by name: a later definition replaces an earlier one with the same
// name.
//
// # Example
//
//	settings:
//	  maxConcurrency: 4
//	  apply:
//	    attempts: 3
//	    initialBackoff: 5s
//	  store:
//	    type: postgres
//	    dsn: ${WAVECTL_DSN}
//
//	components:
//	  - name: cert-manager
//	    wave: 0
//	    deploy:
//	      kind: manifest
//	      manifests: [manifests/cert-manager.yaml]
//	    health:
//	      kind: deployment
//	      namespace: cert-manager
//	      resource: cert-manager
//	  - name: argocd-apps
//	    wave: 1
//	    dependsOn: [cert-manager]
//	    deploy:
//	      kind: terraform
//	      dir: terraform/apps
//	    health:
//	      kind: argocd-apps
//	      namespace: argocd
//	      minHealthyRatio: 0.8
//
//	stages:
//	  - name: foundation
//	    waves: [0]
//
// # Environment Variable Expansion
//
// ${VAR} and ${VAR:-default} are expanded in every file before parsing.
package config
