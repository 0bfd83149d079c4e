// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package filter implements the filter framework: registration of
// filter kinds, per-filter parameter/hook dispatch, per-query context,
// and the protocol connecting synchronous filter entry points to
// asynchronous completions (DNS answers arriving after a filter
// returns Async).
//
// The original design runs filter evaluation on a single-threaded
// cooperative event loop, so a completion callback never races a
// filter's own Run. This package keeps that same guarantee using a
// per-query mutex instead of a single OS thread: any number of queries
// run concurrently (one goroutine each), but within one query at most
// one of {Run, a completion} ever touches that query's state at a
// time, and the goroutine that called Run blocks on a channel across
// the Async suspension exactly as the cooperative loop would block
// the program counter.
package filter

import (
	"fmt"

	pferrors "grimm.is/postlicyd/internal/errors"
	"grimm.is/postlicyd/internal/policy"
)

// Verdict is the result of evaluating one filter.
type Verdict int

const (
	Fail Verdict = iota
	SoftMatch
	HardMatch
	Error
	// Async is returned by Run to suspend evaluation until a later
	// PostAsyncResult call supplies the real verdict. It must never be
	// observed at completion time or by the dispatch loop's caller.
	Async
)

func (v Verdict) String() string {
	switch v {
	case Fail:
		return "fail"
	case SoftMatch:
		return "soft_match"
	case HardMatch:
		return "hard_match"
	case Error:
		return "error"
	case Async:
		return "async"
	default:
		return "unknown"
	}
}

// Hook is the name of a verdict-selected outgoing edge of a filter.
type Hook string

const (
	HookFail      Hook = "fail"
	HookSoftMatch Hook = "soft_match"
	HookHardMatch Hook = "hard_match"
	HookError     Hook = "error"
	HookAbort     Hook = "abort"
	HookAsync     Hook = "async"
)

// HookFor maps a verdict to the hook it selects. Async has no
// dispatch hook of its own: it only ever suspends.
func HookFor(v Verdict) Hook {
	switch v {
	case Fail:
		return HookFail
	case SoftMatch:
		return HookSoftMatch
	case HardMatch:
		return HookHardMatch
	case Error:
		return HookError
	default:
		return HookAbort
	}
}

// Kind is an opaque tag identifying a registered filter kind.
type Kind int

// RunFunc evaluates one instance of a kind against a query. The ctx
// carries per-query mutable state; data is the instance's own opaque
// construction result (as returned by a ConstructFunc).
type RunFunc func(data any, q *policy.Query, ctx *Context) Verdict

// ConstructFunc builds a kind's opaque instance data from its
// declared parameters (name -> repeated values, in declaration
// order).
type ConstructFunc func(params map[string][]string) (any, error)

// ContextFunc builds a kind's per-query opaque context slot. There is
// no teardown hook; the slot is dropped with its Context.
type ContextFunc func() any

// VTable is the behavior a registered kind supplies.
type VTable struct {
	Construct ConstructFunc
	Run       RunFunc
	// NewQueryState is called lazily, once per query, the first time
	// this kind's Run needs scratch space (e.g. the IP-list filter's
	// async accumulator). May be nil.
	NewQueryState ContextFunc
}

// kindInfo is the registry's record for one registered kind.
type kindInfo struct {
	name     string
	tag      Kind
	vtable   VTable
	params   map[string]bool
	hooks    map[Hook]bool
	hasAsync bool
}

// Registry holds every known filter kind. It is populated at program
// start by explicit calls to each kind package's registration function
// (e.g. iplist.Register from main), and must be frozen with Freeze
// before any query is dispatched.
type Registry struct {
	byName map[string]*kindInfo
	byTag  []*kindInfo
	frozen bool
}

// NewRegistry returns an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*kindInfo)}
}

// Register adds a new kind. It panics if called after Freeze or if
// name is already registered — both are programming errors, not
// runtime conditions, since registration happens only at process
// startup, before Freeze.
func (r *Registry) Register(name string, vtable VTable, hasAsync bool) Kind {
	if r.frozen {
		panic(fmt.Sprintf("filter: Register(%q) called after Freeze", name))
	}
	if _, exists := r.byName[name]; exists {
		panic(fmt.Sprintf("filter: duplicate kind %q", name))
	}
	info := &kindInfo{
		name:     name,
		tag:      Kind(len(r.byTag)),
		vtable:   vtable,
		params:   make(map[string]bool),
		hooks:    make(map[Hook]bool),
		hasAsync: hasAsync,
	}
	r.byName[name] = info
	r.byTag = append(r.byTag, info)
	return info.tag
}

// RegisterParam declares a recognized parameter name for kind.
func (r *Registry) RegisterParam(kind Kind, name string) {
	r.mustInfo(kind).params[name] = true
}

// RegisterHook declares a recognized hook name for kind.
func (r *Registry) RegisterHook(kind Kind, hook Hook) {
	r.mustInfo(kind).hooks[hook] = true
}

func (r *Registry) mustInfo(kind Kind) *kindInfo {
	if int(kind) < 0 || int(kind) >= len(r.byTag) {
		panic("filter: unknown kind tag")
	}
	return r.byTag[kind]
}

// Freeze closes the registry to further registration. Idempotent.
func (r *Registry) Freeze() { r.frozen = true }

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool { return r.frozen }

// Lookup resolves a kind name to its tag.
func (r *Registry) Lookup(name string) (Kind, bool) {
	info, ok := r.byName[name]
	if !ok {
		return 0, false
	}
	return info.tag, true
}

// KnownParam reports whether name is a declared parameter of kind.
func (r *Registry) KnownParam(kind Kind, name string) bool {
	return r.mustInfo(kind).params[name]
}

// KnownHook reports whether hook is declared by kind.
func (r *Registry) KnownHook(kind Kind, hook Hook) bool {
	return r.mustInfo(kind).hooks[hook]
}

// HasAsync reports whether kind may ever return Async.
func (r *Registry) HasAsync(kind Kind) bool {
	return r.mustInfo(kind).hasAsync
}

// VTable returns the vtable registered for kind.
func (r *Registry) VTable(kind Kind) VTable {
	return r.mustInfo(kind).vtable
}

// KindName returns the registered name for kind.
func (r *Registry) KindName(kind Kind) string {
	return r.mustInfo(kind).name
}

// ErrAsyncAtCompletion is the pferrors.KindLogic error describing an
// Async verdict observed at completion time. Nothing in this package
// returns it: PostAsyncResult and Dispatch panic on that fault instead.
var ErrAsyncAtCompletion = pferrors.New(pferrors.KindLogic, "filter: async observed at completion time")
