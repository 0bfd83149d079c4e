// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package filter

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"grimm.is/postlicyd/internal/policy"
)

// Context is query-scoped state threaded through one query's
// evaluation: the per-kind opaque scratch a Run may need across an
// Async suspension, and the channel/generation pair a completion uses
// to resume the suspended goroutine.
//
// The design specifies a single-threaded cooperative loop where a
// filter's Run and any completion callback never run concurrently.
// Here that mutual exclusion is enforced with mu rather than a single
// OS thread: Dispatch holds it while calling Run, and a kind's
// completion callback must hold it (via Lock/Unlock) while mutating
// its own per-kind state, so the two can never race even though they
// may run on different goroutines.
type Context struct {
	Registry *Registry
	Query    *policy.Query

	// ID identifies this single query evaluation across log lines and
	// metrics, so an async suspension that logs at submission and
	// again at completion can be correlated back to the same query.
	ID string

	mu         sync.Mutex
	kindState  map[Kind]any
	generation uint64
	resultCh   chan Verdict
}

// NewContext builds a fresh per-query context bound to r and q.
func NewContext(r *Registry, q *policy.Query) *Context {
	return &Context{
		Registry:  r,
		Query:     q,
		ID:        uuid.NewString(),
		kindState: make(map[Kind]any),
		resultCh:  make(chan Verdict, 1),
	}
}

// Lock/Unlock let a filter kind serialize its own per-kind state
// mutations (e.g. decrementing an async awaited-count) against a
// concurrent Run on the same query. Dispatch itself holds this lock
// for the duration of a synchronous Run call.
func (c *Context) Lock()   { c.mu.Lock() }
func (c *Context) Unlock() { c.mu.Unlock() }

// State returns the per-kind opaque scratch for kind, lazily
// constructing it via the kind's NewQueryState on first use. Callers
// must hold the context lock (as Dispatch does during Run, and as a
// completion callback must do explicitly).
func (c *Context) State(kind Kind) any {
	if s, ok := c.kindState[kind]; ok {
		return s
	}
	vt := c.Registry.VTable(kind)
	var s any
	if vt.NewQueryState != nil {
		s = vt.NewQueryState()
	}
	c.kindState[kind] = s
	return s
}

// Generation returns the suspension token a filter must capture
// before returning Async, and later present to PostAsyncResult.
func (c *Context) Generation() uint64 {
	return atomic.LoadUint64(&c.generation)
}

// Cancel invalidates every outstanding suspension for this query:
// completions presenting a stale generation are silently dropped by
// PostAsyncResult instead of resuming a query no one is waiting on
// anymore.
func (c *Context) Cancel() {
	atomic.AddUint64(&c.generation, 1)
}

// PostAsyncResult delivers the verdict a filter's Run deferred by
// returning Async. gen must be the generation captured at suspension
// time (via Generation, before Run returned); a stale generation
// means the query was cancelled and the result is discarded. Verdict
// must not be Async: that is a logic fault in the calling filter kind,
// and this function panics rather than silently corrupting dispatch.
func (c *Context) PostAsyncResult(gen uint64, v Verdict) {
	if v == Async {
		panic("filter: PostAsyncResult called with Async: protocol violation")
	}
	if gen != c.Generation() {
		return
	}
	c.resultCh <- v
}

// awaitAsync blocks the dispatching goroutine until a completion
// calls PostAsyncResult with the current generation. It is the
// Go-native analogue of the design's cooperative loop yielding at the
// single suspension point (the return of Async from Run).
func (c *Context) awaitAsync() Verdict {
	return <-c.resultCh
}
