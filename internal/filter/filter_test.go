// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"grimm.is/postlicyd/internal/policy"
)

// alwaysKind is a trivial synchronous kind used to exercise the
// registry and dispatch without any real domain logic.
func registerAlwaysKind(r *Registry, verdict Verdict) Kind {
	kind := r.Register("always", VTable{
		Construct: func(map[string][]string) (any, error) { return nil, nil },
		Run: func(data any, q *policy.Query, ctx *Context) Verdict {
			return verdict
		},
	}, false)
	r.RegisterHook(kind, HookFail)
	r.RegisterHook(kind, HookSoftMatch)
	r.RegisterHook(kind, HookHardMatch)
	r.RegisterHook(kind, HookError)
	r.RegisterHook(kind, HookAbort)
	return kind
}

func TestRegistryLookupAndFreeze(t *testing.T) {
	r := NewRegistry()
	kind := registerAlwaysKind(r, Fail)
	r.Freeze()

	got, ok := r.Lookup("always")
	require.True(t, ok)
	require.Equal(t, kind, got)

	_, ok = r.Lookup("no_such_kind")
	require.False(t, ok)
}

func TestRegisterAfterFreezePanics(t *testing.T) {
	r := NewRegistry()
	r.Freeze()
	require.Panics(t, func() {
		r.Register("late", VTable{}, false)
	})
}

func TestDuplicateKindPanics(t *testing.T) {
	r := NewRegistry()
	registerAlwaysKind(r, Fail)
	require.Panics(t, func() {
		registerAlwaysKind(r, Fail)
	})
}

func TestDispatchFollowsHookEdges(t *testing.T) {
	r := NewRegistry()
	failKind := registerAlwaysKind(r, Fail)
	hardKind := r.Register("always_hard", VTable{
		Construct: func(map[string][]string) (any, error) { return nil, nil },
		Run: func(data any, q *policy.Query, ctx *Context) Verdict {
			return HardMatch
		},
	}, false)
	r.RegisterHook(hardKind, HookHardMatch)
	r.Freeze()

	g := NewGraph(r)
	require.NoError(t, g.Add(&Instance{
		Name: "first", Kind: failKind,
		Edges: map[Hook]string{HookFail: "second"},
	}))
	require.NoError(t, g.Add(&Instance{Name: "second", Kind: hardKind}))
	g.EntryPoint = "first"
	require.NoError(t, g.Validate())

	ctx := NewContext(r, policy.NewQuery())
	verdict, name, err := Dispatch(ctx, g, policy.NewQuery())
	require.NoError(t, err)
	require.Equal(t, HardMatch, verdict)
	require.Equal(t, "second", name)
}

func TestNewContextAssignsUniqueID(t *testing.T) {
	r := NewRegistry()
	a := NewContext(r, policy.NewQuery())
	b := NewContext(r, policy.NewQuery())
	require.NotEmpty(t, a.ID)
	require.NotEmpty(t, b.ID)
	require.NotEqual(t, a.ID, b.ID)
}

func TestDispatchTerminatesWhenNoEdgeForHook(t *testing.T) {
	r := NewRegistry()
	kind := registerAlwaysKind(r, SoftMatch)
	r.Freeze()

	g := NewGraph(r)
	require.NoError(t, g.Add(&Instance{Name: "only", Kind: kind}))
	g.EntryPoint = "only"

	ctx := NewContext(r, policy.NewQuery())
	verdict, name, err := Dispatch(ctx, g, policy.NewQuery())
	require.NoError(t, err)
	require.Equal(t, SoftMatch, verdict)
	require.Equal(t, "only", name)
}

// asyncKind simulates a filter that defers its verdict to a
// background goroutine, exercising the suspend/resume protocol.
func registerAsyncKind(r *Registry, delay time.Duration, result Verdict) Kind {
	kind := r.Register("async_once", VTable{
		Construct: func(map[string][]string) (any, error) { return nil, nil },
		Run: func(data any, q *policy.Query, ctx *Context) Verdict {
			gen := ctx.Generation()
			go func() {
				time.Sleep(delay)
				ctx.PostAsyncResult(gen, result)
			}()
			return Async
		},
	}, true)
	r.RegisterHook(kind, HookHardMatch)
	r.RegisterHook(kind, HookSoftMatch)
	r.RegisterHook(kind, HookFail)
	return kind
}

func TestDispatchResumesAfterAsync(t *testing.T) {
	r := NewRegistry()
	kind := registerAsyncKind(r, 10*time.Millisecond, HardMatch)
	r.Freeze()

	g := NewGraph(r)
	require.NoError(t, g.Add(&Instance{Name: "entry", Kind: kind}))
	g.EntryPoint = "entry"

	ctx := NewContext(r, policy.NewQuery())
	verdict, _, err := Dispatch(ctx, g, policy.NewQuery())
	require.NoError(t, err)
	require.Equal(t, HardMatch, verdict)
}

func TestCancelDropsStaleCompletion(t *testing.T) {
	r := NewRegistry()
	r.Freeze()

	ctx := NewContext(r, policy.NewQuery())
	gen := ctx.Generation()
	ctx.Cancel()

	done := make(chan struct{})
	go func() {
		ctx.PostAsyncResult(gen, HardMatch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PostAsyncResult with a stale generation should not block")
	}

	select {
	case v := <-ctx.resultCh:
		t.Fatalf("stale completion should have been dropped, got %v", v)
	default:
	}
}

func TestPostAsyncResultWithAsyncPanics(t *testing.T) {
	r := NewRegistry()
	ctx := NewContext(r, policy.NewQuery())
	require.Panics(t, func() {
		ctx.PostAsyncResult(ctx.Generation(), Async)
	})
}

func TestGraphValidateRejectsUnknownEntryPoint(t *testing.T) {
	r := NewRegistry()
	r.Freeze()
	g := NewGraph(r)
	g.EntryPoint = "does_not_exist"
	require.Error(t, g.Validate())
}

func TestGraphAddRejectsDuplicateName(t *testing.T) {
	r := NewRegistry()
	kind := registerAlwaysKind(r, Fail)
	r.Freeze()

	g := NewGraph(r)
	require.NoError(t, g.Add(&Instance{Name: "dup", Kind: kind}))
	require.Error(t, g.Add(&Instance{Name: "dup", Kind: kind}))
}
