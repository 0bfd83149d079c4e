// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package filter

import "fmt"

// Instance is one configured filter: a name, its registered kind, the
// kind's own opaque construction result, and the hook edges wiring
// its verdicts to the next filter to run.
type Instance struct {
	Name  string
	Kind  Kind
	Data  any
	Edges map[Hook]string
}

// Graph is an ordered, named set of filter instances plus the entry
// point evaluation starts from. Instances are immutable once built;
// all per-query mutable state lives in a Context instead (see
// design note "no shared mutability across filters").
type Graph struct {
	Registry   *Registry
	Instances  []*Instance
	byName     map[string]*Instance
	EntryPoint string
}

// NewGraph returns an empty graph bound to r.
func NewGraph(r *Registry) *Graph {
	return &Graph{Registry: r, byName: make(map[string]*Instance)}
}

// Add appends inst to the graph. It returns an error if the name is
// already taken; instance names must be unique within a graph.
func (g *Graph) Add(inst *Instance) error {
	if _, exists := g.byName[inst.Name]; exists {
		return fmt.Errorf("filter: duplicate instance name %q", inst.Name)
	}
	g.Instances = append(g.Instances, inst)
	g.byName[inst.Name] = inst
	return nil
}

// FindByName resolves name to its instance, or (nil, false) if no
// such filter was declared.
func (g *Graph) FindByName(name string) (*Instance, bool) {
	inst, ok := g.byName[name]
	return inst, ok
}

// Validate checks the structural invariants that don't require
// re-parsing: every hook edge target resolves to a declared filter,
// every edge's hook is declared by its source's kind, and the entry
// point resolves. Unreachable filters are allowed here; they are
// flagged only as a warning by the config loader, not rejected.
func (g *Graph) Validate() error {
	if g.EntryPoint == "" {
		return fmt.Errorf("filter: no entry_point set")
	}
	if _, ok := g.FindByName(g.EntryPoint); !ok {
		return fmt.Errorf("filter: entry_point %q does not resolve", g.EntryPoint)
	}
	for _, inst := range g.Instances {
		for hook, target := range inst.Edges {
			if !g.Registry.KnownHook(inst.Kind, hook) {
				return fmt.Errorf("filter: instance %q: hook %q not declared by kind %q",
					inst.Name, hook, g.Registry.KindName(inst.Kind))
			}
			if _, ok := g.FindByName(target); !ok {
				return fmt.Errorf("filter: instance %q: hook %q targets undeclared filter %q",
					inst.Name, hook, target)
			}
		}
	}
	return nil
}
