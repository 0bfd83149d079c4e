// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package pconfig implements the hand-rolled block-structured config
// grammar: a flat sequence of global "token = string;" parameters and
// "token { ... }" filter blocks, each producing a named filter
// instance with a kind, parameters, and hook edges.
package pconfig

// Config is the parsed, not-yet-validated result of Parse: an ordered
// list of filter declarations, any top-level scalar parameters, and
// the entry point name.
type Config struct {
	Globals    map[string]string
	Filters    []*FilterDecl
	EntryPoint string
}

// FilterDecl is one "name { ... }" block. Type is the filter kind,
// taken from the reserved "type" key inside the block (scenario 6:
// `f { type = "iplist"; ... }`). Hooks holds edges keyed by hook
// name (fail/soft_match/hard_match/error/abort/async); every other
// key inside the block is a constructor parameter, repeatable (hence
// []string per key, in declaration order).
type FilterDecl struct {
	Name   string
	Type   string
	Params map[string][]string
	Hooks  map[string]string
	Pos    int
}

// Warning is a non-fatal validation finding: an unknown parameter, an
// unreachable filter, or similar. It never aborts the load.
type Warning struct {
	Position int
	Message  string
}

func newFilterDecl(name string, pos int) *FilterDecl {
	return &FilterDecl{
		Name:   name,
		Params: make(map[string][]string),
		Hooks:  make(map[string]string),
		Pos:    pos,
	}
}

// hookNames is the fixed set of keys inside a filter block
// that wire a hook edge instead of a constructor parameter.
var hookNames = map[string]bool{
	"fail":       true,
	"soft_match": true,
	"hard_match": true,
	"error":      true,
	"abort":      true,
	"async":      true,
}
