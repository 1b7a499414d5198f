package scheduler

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"
	"strings"

	"wavectl/internal/component"
)

// ErrPlanning is the sentinel every planning failure matches.
var ErrPlanning = errors.New("planning failed")

// PlanningError is fatal: a run whose plan fails never starts.
type PlanningError struct {
	Msg string
	Err error
}

func (e *PlanningError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrPlanning, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", ErrPlanning, e.Msg, e.Err)
}

// Unwrap lets errors.Is match both ErrPlanning and the underlying cause.
func (e *PlanningError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPlanning}
	}
	return []error{ErrPlanning, e.Err}
}

// Group is a set of components of one wave with no dependency edges among
// them; its members may run concurrently.
type Group struct {
	Components []string `json:"components" yaml:"components"`
}

// Wave is an ordered list of groups sharing a wave number.
type Wave struct {
	Number int     `json:"number" yaml:"number"`
	Groups []Group `json:"groups" yaml:"groups"`
}

// Plan is the ordered execution layout for one run.
type Plan struct {
	Targets []string `json:"targets" yaml:"targets"`
	Waves   []Wave   `json:"waves" yaml:"waves"`
}

// Order flattens the plan into execution order.
func (p *Plan) Order() []string {
	var out []string
	for _, w := range p.Waves {
		for _, g := range w.Groups {
			out = append(out, g.Components...)
		}
	}
	return out
}

// Len returns the number of planned components.
func (p *Plan) Len() int {
	n := 0
	for _, w := range p.Waves {
		for _, g := range w.Groups {
			n += len(g.Components)
		}
	}
	return n
}

// WaveOf returns the wave number a planned component belongs to.
func (p *Plan) WaveOf(name string) (int, bool) {
	for _, w := range p.Waves {
		for _, g := range w.Groups {
			for _, c := range g.Components {
				if c == name {
					return w.Number, true
				}
			}
		}
	}
	return 0, false
}

// String renders the plan on one line, e.g. "0:[a] | 1:[b c][d]".
func (p *Plan) String() string {
	var waves []string
	for _, w := range p.Waves {
		var sb strings.Builder
		fmt.Fprintf(&sb, "%d:", w.Number)
		for _, g := range w.Groups {
			sb.WriteString("[" + strings.Join(g.Components, " ") + "]")
		}
		waves = append(waves, sb.String())
	}
	return strings.Join(waves, " | ")
}

// Build computes the plan for targets: dependency closure, waves ascending,
// then Kahn layering on in-wave edges. Equal candidates are ordered by
// registration index, so identical inputs always produce identical plans.
func Build(cat *component.Catalog, targets []string) (*Plan, error) {
	if cat == nil {
		return nil, &PlanningError{Msg: "no component catalog"}
	}
	if len(targets) == 0 {
		return nil, &PlanningError{Msg: "no targets selected"}
	}

	closure, err := cat.Resolve(targets)
	if err != nil {
		return nil, &PlanningError{Msg: "resolving targets", Err: err}
	}

	byWave := make(map[int][]component.Component)
	for _, name := range closure {
		c, _ := cat.Get(name)
		for _, dep := range c.DependsOn {
			d, _ := cat.Get(dep)
			if d.Wave > c.Wave {
				return nil, &PlanningError{
					Msg: fmt.Sprintf("%s (wave %d) depends on %s (wave %d)", c.Name, c.Wave, d.Name, d.Wave),
					Err: component.ErrWaveOrderViolation,
				}
			}
		}
		byWave[c.Wave] = append(byWave[c.Wave], c)
	}

	numbers := make([]int, 0, len(byWave))
	for n := range byWave {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	plan := &Plan{Targets: append([]string(nil), targets...)}
	for _, n := range numbers {
		groups, err := layer(cat, byWave[n])
		if err != nil {
			return nil, err
		}
		plan.Waves = append(plan.Waves, Wave{Number: n, Groups: groups})
	}
	return plan, nil
}

type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// layer splits one wave into parallel groups. Only edges between members of
// this wave count; dependencies on earlier waves are already satisfied by the
// wave barrier.
func layer(cat *component.Catalog, members []component.Component) ([]Group, error) {
	all := cat.Names()
	inWave := make(map[string]bool, len(members))
	for _, c := range members {
		inWave[c.Name] = true
	}

	indeg := make(map[int]int, len(members))
	outgoing := make(map[int][]int, len(members))
	ready := &indexHeap{}
	for _, c := range members {
		idx := cat.Index(c.Name)
		for _, dep := range c.DependsOn {
			if inWave[dep] {
				indeg[idx]++
				d := cat.Index(dep)
				outgoing[d] = append(outgoing[d], idx)
			}
		}
		if indeg[idx] == 0 {
			heap.Push(ready, idx)
		}
	}

	var groups []Group
	placed := 0
	for ready.Len() > 0 {
		var current []int
		for ready.Len() > 0 {
			current = append(current, heap.Pop(ready).(int))
		}
		names := make([]string, 0, len(current))
		next := &indexHeap{}
		for _, idx := range current {
			names = append(names, all[idx])
			for _, m := range outgoing[idx] {
				indeg[m]--
				if indeg[m] == 0 {
					heap.Push(next, m)
				}
			}
		}
		placed += len(current)
		groups = append(groups, Group{Components: names})
		ready = next
	}

	if placed != len(members) {
		var stuck []string
		for _, c := range members {
			if indeg[cat.Index(c.Name)] > 0 {
				stuck = append(stuck, c.Name)
			}
		}
		return nil, &PlanningError{
			Msg: fmt.Sprintf("residual cycle in wave %d among %s", members[0].Wave, strings.Join(stuck, ", ")),
			Err: component.ErrCyclicDependency,
		}
	}
	return groups, nil
}
