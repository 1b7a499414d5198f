package component

import (
	"fmt"
	"sort"
)

// StageAll is the built-in stage selecting every registered component.
const StageAll = "all"

// Stage is a named subset of the platform, selected by wave number, by
// component name, or both.
type Stage struct {
	Name        string
	Description string
	Waves       []int
	Components  []string
}

func (s Stage) clone() Stage {
	cp := s
	cp.Waves = append([]int(nil), s.Waves...)
	cp.Components = append([]string(nil), s.Components...)
	return cp
}

// Catalog is the validated, immutable view of a frozen Registry.
// It is safe for concurrent use.
type Catalog struct {
	components []Component
	byName     map[string]int
	dependents map[string][]string
	stages     map[string]Stage
}

// Get returns a copy of the named component.
func (c *Catalog) Get(name string) (Component, bool) {
	idx, ok := c.byName[name]
	if !ok {
		return Component{}, false
	}
	return c.components[idx].clone(), true
}

// Index returns the registration index of name, or -1.
func (c *Catalog) Index(name string) int {
	if idx, ok := c.byName[name]; ok {
		return idx
	}
	return -1
}

// Len returns the number of components.
func (c *Catalog) Len() int { return len(c.components) }

// All returns every component in registration order.
func (c *Catalog) All() []Component {
	out := make([]Component, len(c.components))
	for i, comp := range c.components {
		out[i] = comp.clone()
	}
	return out
}

// Names returns every component name in registration order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.components))
	for i, comp := range c.components {
		out[i] = comp.Name
	}
	return out
}

// Waves returns the distinct wave numbers in ascending order.
func (c *Catalog) Waves() []int {
	seen := make(map[int]bool)
	var waves []int
	for _, comp := range c.components {
		if !seen[comp.Wave] {
			seen[comp.Wave] = true
			waves = append(waves, comp.Wave)
		}
	}
	sort.Ints(waves)
	return waves
}

// Resolve returns the transitive dependency closure of names in registration
// order. Asking for a component also pulls in all of its prerequisites.
func (c *Catalog) Resolve(names []string) ([]string, error) {
	include := make(map[int]bool, len(names))
	var stack []int
	for _, n := range names {
		idx, ok := c.byName[n]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownComponent, n)
		}
		if !include[idx] {
			include[idx] = true
			stack = append(stack, idx)
		}
	}
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, dep := range c.components[idx].DependsOn {
			d := c.byName[dep]
			if !include[d] {
				include[d] = true
				stack = append(stack, d)
			}
		}
	}

	out := make([]string, 0, len(include))
	for i, comp := range c.components {
		if include[i] {
			out = append(out, comp.Name)
		}
	}
	return out, nil
}

// Dependents returns every component that transitively depends on name,
// in registration order.
func (c *Catalog) Dependents(name string) []string {
	seen := map[string]bool{}
	queue := append([]string(nil), c.dependents[name]...)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen[n] {
			continue
		}
		seen[n] = true
		queue = append(queue, c.dependents[n]...)
	}

	var out []string
	for _, comp := range c.components {
		if seen[comp.Name] {
			out = append(out, comp.Name)
		}
	}
	return out
}

// Stage returns a declared stage, or the built-in "all" stage.
func (c *Catalog) Stage(name string) (Stage, bool) {
	if name == "" || name == StageAll {
		return Stage{Name: StageAll, Description: "every registered component"}, true
	}
	s, ok := c.stages[name]
	if !ok {
		return Stage{}, false
	}
	return s.clone(), true
}

// Stages returns the declared stages sorted by name, with "all" first.
func (c *Catalog) Stages() []Stage {
	all, _ := c.Stage(StageAll)
	out := []Stage{all}
	names := make([]string, 0, len(c.stages))
	for n := range c.stages {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		out = append(out, c.stages[n].clone())
	}
	return out
}

// StageTargets expands a stage, optionally narrowed to explicit component
// names, into the root target set (before dependency resolution).
func (c *Catalog) StageTargets(stageName string, only []string) ([]string, error) {
	stage, ok := c.Stage(stageName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStage, stageName)
	}

	inStage := func(comp Component) bool {
		if stage.Name == StageAll {
			return true
		}
		for _, n := range stage.Components {
			if n == comp.Name {
				return true
			}
		}
		for _, w := range stage.Waves {
			if w == comp.Wave {
				return true
			}
		}
		return false
	}

	if len(only) > 0 {
		for _, n := range only {
			comp, ok := c.Get(n)
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownComponent, n)
			}
			if !inStage(comp) {
				return nil, fmt.Errorf("%w: %s is not part of stage %s", ErrUnknownComponent, n, stage.Name)
			}
		}
		return append([]string(nil), only...), nil
	}

	var out []string
	for _, comp := range c.components {
		if inStage(comp) {
			out = append(out, comp.Name)
		}
	}
	return out, nil
}
