// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pconfig

import (
	"fmt"

	pferrors "grimm.is/postlicyd/internal/errors"
	"grimm.is/postlicyd/internal/filter"
)

// Build resolves a parsed Config against r, constructing each
// declared filter's instance data and assembling a filter.Graph.
// Unknown filter kinds and any constructor failure abort the load.
// Unknown parameter names and unreachable filters are reported as
// warnings rather than failing the load.
func Build(cfg *Config, r *filter.Registry) (*filter.Graph, []Warning, error) {
	var warnings []Warning
	graph := filter.NewGraph(r)
	graph.EntryPoint = cfg.EntryPoint

	for _, decl := range cfg.Filters {
		kind, ok := r.Lookup(decl.Type)
		if !ok {
			return nil, nil, pferrors.Errorf(pferrors.KindParseConfig, "config: filter %q: unknown kind %q", decl.Name, decl.Type)
		}

		for param := range decl.Params {
			if !r.KnownParam(kind, param) {
				warnings = append(warnings, Warning{
					Position: decl.Pos,
					Message:  fmt.Sprintf("filter %q: unknown parameter %q for kind %q", decl.Name, param, decl.Type),
				})
			}
		}

		vtable := r.VTable(kind)
		data, err := vtable.Construct(decl.Params)
		if err != nil {
			return nil, nil, pferrors.Wrapf(err, pferrors.KindParseConfig, "config: filter %q", decl.Name)
		}

		edges := make(map[filter.Hook]string, len(decl.Hooks))
		for hook, target := range decl.Hooks {
			edges[filter.Hook(hook)] = target
		}

		if err := graph.Add(&filter.Instance{
			Name:  decl.Name,
			Kind:  kind,
			Data:  data,
			Edges: edges,
		}); err != nil {
			return nil, nil, pferrors.Wrap(err, pferrors.KindParseConfig, "config")
		}
	}

	if err := graph.Validate(); err != nil {
		return nil, nil, pferrors.Wrap(err, pferrors.KindParseConfig, "config")
	}

	warnings = append(warnings, unreachableWarnings(graph)...)
	return graph, warnings, nil
}

// unreachableWarnings flags every declared filter that cannot be
// reached by following hook edges from the entry point. The design
// permits these (they are not rejected), only flagged.
func unreachableWarnings(graph *filter.Graph) []Warning {
	reachable := make(map[string]bool)
	queue := []string{graph.EntryPoint}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if reachable[name] {
			continue
		}
		reachable[name] = true
		inst, ok := graph.FindByName(name)
		if !ok {
			continue
		}
		for _, target := range inst.Edges {
			if !reachable[target] {
				queue = append(queue, target)
			}
		}
	}

	var warnings []Warning
	for _, inst := range graph.Instances {
		if !reachable[inst.Name] {
			warnings = append(warnings, Warning{
				Message: fmt.Sprintf("filter %q is unreachable from entry_point %q", inst.Name, graph.EntryPoint),
			})
		}
	}
	return warnings
}
