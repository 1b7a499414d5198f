package executor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	k8syaml "k8s.io/apimachinery/pkg/util/yaml"
	"k8s.io/client-go/dynamic"

	"wavectl/internal/component"
	"wavectl/internal/kube"
	"wavectl/pkg/logging"
)

// SpecHashAnnotation records the hash of the manifest last applied by
// wavectl; an equal hash on the live object means nothing to do.
const SpecHashAnnotation = "wavectl.io/spec-hash"

// ManifestExecutor applies Kubernetes manifests through the dynamic client.
type ManifestExecutor struct {
	kube         kube.Provider
	fieldManager string
}

// NewManifestExecutor creates an executor bound to a cluster.
func NewManifestExecutor(p kube.Provider) *ManifestExecutor {
	return &ManifestExecutor{kube: p, fieldManager: "wavectl"}
}

// Apply creates missing objects and updates drifted ones. It reports
// AlreadyApplied when every object was already up to date.
func (m *ManifestExecutor) Apply(ctx context.Context, c component.Component) (ApplyResult, error) {
	fail := func(err error) (ApplyResult, error) {
		return "", &ApplyError{Component: c.Name, Err: err}
	}

	clients, err := m.kube.Clients(ctx)
	if err != nil {
		return fail(err)
	}
	objs, err := m.load(c.Deploy)
	if err != nil {
		return fail(err)
	}

	changed := 0
	for _, obj := range objs {
		ri, err := resourceFor(clients, obj, c.Deploy.Namespace)
		if err != nil {
			return fail(err)
		}
		hash, err := specHash(obj)
		if err != nil {
			return fail(err)
		}
		annotations := obj.GetAnnotations()
		if annotations == nil {
			annotations = map[string]string{}
		}
		annotations[SpecHashAnnotation] = hash
		obj.SetAnnotations(annotations)

		ref := objectRef(obj)
		live, err := ri.Get(ctx, obj.GetName(), metav1.GetOptions{})
		switch {
		case apierrors.IsNotFound(err):
			if _, err := ri.Create(ctx, obj, metav1.CreateOptions{FieldManager: m.fieldManager}); err != nil {
				if apierrors.IsAlreadyExists(err) {
					continue
				}
				return fail(fmt.Errorf("create %s: %w", ref, err))
			}
			logging.Debug("Manifest", "Created %s", ref)
			changed++
		case err != nil:
			return fail(fmt.Errorf("get %s: %w", ref, err))
		case live.GetAnnotations()[SpecHashAnnotation] == hash:
			logging.Debug("Manifest", "%s unchanged", ref)
		default:
			obj.SetResourceVersion(live.GetResourceVersion())
			if _, err := ri.Update(ctx, obj, metav1.UpdateOptions{FieldManager: m.fieldManager}); err != nil {
				return fail(fmt.Errorf("update %s: %w", ref, err))
			}
			logging.Debug("Manifest", "Updated %s", ref)
			changed++
		}
	}

	if changed == 0 {
		return AlreadyApplied, nil
	}
	logging.Info("Manifest", "Applied %d/%d objects for %s", changed, len(objs), c.Name)
	return Applied, nil
}

// Teardown deletes the component's objects in reverse manifest order.
func (m *ManifestExecutor) Teardown(ctx context.Context, c component.Component) (TeardownResult, error) {
	fail := func(err error) (TeardownResult, error) {
		return "", &TeardownError{Component: c.Name, Err: err}
	}

	action := c.TeardownAction()
	clients, err := m.kube.Clients(ctx)
	if err != nil {
		return fail(err)
	}
	objs, err := m.load(action)
	if err != nil {
		return fail(err)
	}

	policy := metav1.DeletePropagationBackground
	removed := 0
	for i := len(objs) - 1; i >= 0; i-- {
		obj := objs[i]
		ri, err := resourceFor(clients, obj, action.Namespace)
		if err != nil {
			return fail(err)
		}
		err = ri.Delete(ctx, obj.GetName(), metav1.DeleteOptions{PropagationPolicy: &policy})
		switch {
		case apierrors.IsNotFound(err):
		case err != nil:
			return fail(fmt.Errorf("delete %s: %w", objectRef(obj), err))
		default:
			removed++
		}
	}

	if removed == 0 {
		return NotPresent, nil
	}
	return Removed, nil
}

// load reads every manifest file (directories are expanded to their YAML and
// JSON files, sorted) and splits multi-document YAML.
func (m *ManifestExecutor) load(a component.Action) ([]*unstructured.Unstructured, error) {
	if len(a.Manifests) == 0 {
		return nil, errors.New("manifest action lists no manifests")
	}

	var files []string
	for _, p := range a.Manifests {
		info, err := os.Stat(p)
		if err != nil || !info.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("reading manifest directory %s: %w", p, err)
		}
		var inDir []string
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if !e.IsDir() && (ext == ".yaml" || ext == ".yml" || ext == ".json") {
				inDir = append(inDir, filepath.Join(p, e.Name()))
			}
		}
		sort.Strings(inDir)
		files = append(files, inDir...)
	}

	var objs []*unstructured.Unstructured
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading manifest %s: %w", f, err)
		}
		docs, err := decodeManifests(data)
		if err != nil {
			return nil, fmt.Errorf("parsing manifest %s: %w", f, err)
		}
		objs = append(objs, docs...)
	}
	return objs, nil
}

func decodeManifests(data []byte) ([]*unstructured.Unstructured, error) {
	dec := k8syaml.NewYAMLOrJSONDecoder(bytes.NewReader(data), 4096)
	var out []*unstructured.Unstructured
	for {
		var raw map[string]interface{}
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, err
		}
		if len(raw) == 0 {
			continue
		}
		obj := &unstructured.Unstructured{Object: raw}
		if obj.GetKind() == "" || obj.GetName() == "" {
			return nil, fmt.Errorf("object without kind or metadata.name")
		}
		out = append(out, obj)
	}
}

func resourceFor(clients *kube.Clients, obj *unstructured.Unstructured, defaultNS string) (dynamic.ResourceInterface, error) {
	gvk := obj.GroupVersionKind()
	mapping, err := clients.Mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil {
		return nil, fmt.Errorf("mapping %s: %w", gvk, err)
	}
	if mapping.Scope.Name() != meta.RESTScopeNameNamespace {
		return clients.Dynamic.Resource(mapping.Resource), nil
	}
	ns := obj.GetNamespace()
	if ns == "" {
		ns = defaultNS
	}
	if ns == "" {
		ns = "default"
	}
	obj.SetNamespace(ns)
	return clients.Dynamic.Resource(mapping.Resource).Namespace(ns), nil
}

func specHash(obj *unstructured.Unstructured) (string, error) {
	cp := obj.DeepCopy()
	annotations := cp.GetAnnotations()
	delete(annotations, SpecHashAnnotation)
	cp.SetAnnotations(annotations)
	data, err := json.Marshal(cp.Object)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:12]), nil
}

func objectRef(obj *unstructured.Unstructured) string {
	if ns := obj.GetNamespace(); ns != "" {
		return fmt.Sprintf("%s %s/%s", obj.GetKind(), ns, obj.GetName())
	}
	return fmt.Sprintf("%s %s", obj.GetKind(), obj.GetName())
}
