package component

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"wavectl/pkg/logging"
)

// Registry collects component definitions until Freeze validates them.
// Registration order is kept; it is the tie-break for every ordering decision.
type Registry struct {
	mu         sync.Mutex
	components []Component
	byName     map[string]int
	stages     map[string]Stage
	frozen     bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]int),
		stages: make(map[string]Stage),
	}
}

// Register adds a component definition. Graph invariants are checked at Freeze.
func (r *Registry) Register(c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrFrozen
	}
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidComponent)
	}
	if c.Wave < 0 {
		return fmt.Errorf("%w: %s has negative wave %d", ErrInvalidComponent, name, c.Wave)
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	c = c.clone()
	c.Name = name
	c.DependsOn = dedupe(c.DependsOn)
	r.byName[name] = len(r.components)
	r.components = append(r.components, c)

	logging.Debug("Registry", "Registered component %s (wave %d, deps %v)", name, c.Wave, c.DependsOn)
	return nil
}

// AddStage declares a named subset of waves or components.
func (r *Registry) AddStage(s Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrFrozen
	}
	if s.Name == "" {
		return fmt.Errorf("%w: stage without name", ErrInvalidComponent)
	}
	if s.Name == StageAll {
		return fmt.Errorf("%w: stage %q is built in", ErrDuplicateName, StageAll)
	}
	if _, exists := r.stages[s.Name]; exists {
		return fmt.Errorf("%w: stage %s", ErrDuplicateName, s.Name)
	}
	r.stages[s.Name] = s.clone()
	return nil
}

// Freeze validates the registered set and returns an immutable Catalog, or a
// *ValidationError listing every violation.
func (r *Registry) Freeze() (*Catalog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	violations := r.validate()
	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}

	r.frozen = true
	cat := &Catalog{
		components: make([]Component, len(r.components)),
		byName:     make(map[string]int, len(r.byName)),
		dependents: make(map[string][]string),
		stages:     make(map[string]Stage, len(r.stages)),
	}
	for i, c := range r.components {
		cat.components[i] = c.clone()
		cat.byName[c.Name] = i
		for _, dep := range c.DependsOn {
			cat.dependents[dep] = append(cat.dependents[dep], c.Name)
		}
	}
	for name, s := range r.stages {
		cat.stages[name] = s.clone()
	}

	logging.Info("Registry", "Frozen %d components across %d waves", len(cat.components), len(cat.Waves()))
	return cat, nil
}

func (r *Registry) validate() []Violation {
	var violations []Violation

	for _, c := range r.components {
		for _, dep := range c.DependsOn {
			idx, ok := r.byName[dep]
			if !ok {
				violations = append(violations, Violation{
					Kind:      ErrUnknownDependency,
					Component: c.Name,
					Detail:    fmt.Sprintf("depends on %q which is not registered", dep),
				})
				continue
			}
			if target := r.components[idx]; target.Wave > c.Wave {
				violations = append(violations, Violation{
					Kind:      ErrWaveOrderViolation,
					Component: c.Name,
					Detail: fmt.Sprintf("wave %d depends on %s in later wave %d",
						c.Wave, target.Name, target.Wave),
				})
			}
		}
	}

	if cycle := r.findCycle(); len(cycle) > 0 {
		violations = append(violations, Violation{
			Kind:      ErrCyclicDependency,
			Component: cycle[0],
			Detail:    strings.Join(cycle, " -> "),
		})
	}

	for name, s := range r.stages {
		for _, n := range s.Components {
			if _, ok := r.byName[n]; !ok {
				violations = append(violations, Violation{
					Kind:      ErrUnknownComponent,
					Component: n,
					Detail:    fmt.Sprintf("referenced by stage %s", name),
				})
			}
		}
	}
	sort.SliceStable(violations, func(i, j int) bool {
		if violations[i].Component != violations[j].Component {
			return violations[i].Component < violations[j].Component
		}
		return violations[i].Detail < violations[j].Detail
	})
	return violations
}

// findCycle runs a DFS over registration indices, following dependency edges,
// and returns one stable cycle witness such as [a b c a].
func (r *Registry) findCycle() []string {
	const (
		white = iota
		gray
		black
	)

	n := len(r.components)
	color := make([]int, n)
	stack := make([]int, 0, n)
	var cycle []int

	var visit func(u int) bool
	visit = func(u int) bool {
		color[u] = gray
		stack = append(stack, u)
		for _, dep := range r.components[u].DependsOn {
			v, ok := r.byName[dep]
			if !ok {
				continue
			}
			switch color[v] {
			case white:
				if visit(v) {
					return true
				}
			case gray:
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == v {
						cycle = append(append(cycle, stack[i:]...), v)
						return true
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[u] = black
		return false
	}

	for i := 0; i < n; i++ {
		if color[i] == white && visit(i) {
			break
		}
	}

	out := make([]string, 0, len(cycle))
	for _, idx := range cycle {
		out = append(out, r.components[idx].Name)
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
