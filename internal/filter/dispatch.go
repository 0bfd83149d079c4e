// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package filter

import (
	"fmt"

	"grimm.is/postlicyd/internal/policy"
)

// Dispatch evaluates a query starting at graph's entry point,
// following hook edges until a filter's selected hook has no edge
// (the evaluation's terminal verdict) or a filter resolves to an
// unknown name. It returns the final verdict and the name of the
// filter that produced it.
//
// Exactly one Run (or completion) touches ctx at a time: Dispatch
// holds ctx's lock across each synchronous Run call and releases it
// before waiting out an Async suspension, so a completion can take
// it to record its result; this matches the single-threaded
// cooperative loop of the design while allowing independent queries
// to run on independent goroutines.
func Dispatch(ctx *Context, graph *Graph, q *policy.Query) (Verdict, string, error) {
	ctx.Query = q
	name := graph.EntryPoint
	for {
		inst, ok := graph.FindByName(name)
		if !ok {
			return Error, name, fmt.Errorf("filter: dispatch: unknown filter %q", name)
		}

		vt := ctx.Registry.VTable(inst.Kind)

		ctx.Lock()
		verdict := vt.Run(inst.Data, q, ctx)
		ctx.Unlock()

		if verdict == Async {
			verdict = ctx.awaitAsync()
			if verdict == Async {
				panic("filter: awaitAsync resolved to Async: protocol violation")
			}
		}

		hook := HookFor(verdict)
		next, ok := inst.Edges[hook]
		if !ok {
			return verdict, inst.Name, nil
		}
		name = next
	}
}
