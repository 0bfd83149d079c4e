// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
	"grimm.is/postlicyd/internal/filter"
	"grimm.is/postlicyd/internal/policy"
)

func registerStubKind(r *filter.Registry) filter.Kind {
	kind := r.Register("iplist", filter.VTable{
		Construct: func(params map[string][]string) (any, error) { return params, nil },
		Run: func(data any, q *policy.Query, ctx *filter.Context) filter.Verdict {
			return filter.Fail
		},
	}, false)
	r.RegisterParam(kind, "hard_threshold")
	r.RegisterParam(kind, "soft_threshold")
	r.RegisterHook(kind, filter.HookFail)
	r.RegisterHook(kind, filter.HookHardMatch)
	return kind
}

// scenario 6 from the test plan, verbatim.
func TestParseAndBuildScenario6(t *testing.T) {
	input := `name = "value"; f { type = "iplist"; hard_threshold = "3"; } entry_point = "f";`

	cfg, err := Parse([]byte(input))
	require.NoError(t, err)
	require.Equal(t, "value", cfg.Globals["name"])
	require.Equal(t, "f", cfg.EntryPoint)
	require.Len(t, cfg.Filters, 1)
	require.Equal(t, "iplist", cfg.Filters[0].Type)
	require.Equal(t, []string{"3"}, cfg.Filters[0].Params["hard_threshold"])

	r := filter.NewRegistry()
	registerStubKind(r)
	r.Freeze()

	graph, warnings, err := Build(cfg, r)
	require.NoError(t, err)
	require.Empty(t, warnings)

	inst, ok := graph.FindByName("f")
	require.True(t, ok)
	require.Equal(t, "f", inst.Name)
	require.Equal(t, "f", graph.EntryPoint)
}

func TestParseFilterBodyWithoutEquals(t *testing.T) {
	// the formal grammar's own form, with no '=' inside the block
	input := `f { type "iplist"; hard_threshold "3"; } entry_point = "f";`
	cfg, err := Parse([]byte(input))
	require.NoError(t, err)
	require.Equal(t, "iplist", cfg.Filters[0].Type)
	require.Equal(t, []string{"3"}, cfg.Filters[0].Params["hard_threshold"])
}

func TestParseBareString(t *testing.T) {
	input := `name = bare-value-no-quotes;`
	cfg, err := Parse([]byte(input))
	require.NoError(t, err)
	require.Equal(t, "bare-value-no-quotes", cfg.Globals["name"])
}

func TestParseAdjacentQuotedStringsConcatenate(t *testing.T) {
	input := `name = "hello, " "world";`
	cfg, err := Parse([]byte(input))
	require.NoError(t, err)
	require.Equal(t, "hello, world", cfg.Globals["name"])
}

func TestParseQuotedEscape(t *testing.T) {
	input := `name = "a\"b\\c";`
	cfg, err := Parse([]byte(input))
	require.NoError(t, err)
	require.Equal(t, `a"b\c`, cfg.Globals["name"])
}

func TestParseBareEscapeLineContinuation(t *testing.T) {
	input := "name = line1\\\n   line2;"
	cfg, err := Parse([]byte(input))
	require.NoError(t, err)
	require.Equal(t, "line1line2", cfg.Globals["name"])
}

func TestParseBareEscapeOtherCharPreserved(t *testing.T) {
	input := `name = keep\qthis;`
	cfg, err := Parse([]byte(input))
	require.NoError(t, err)
	require.Equal(t, `keep\qthis`, cfg.Globals["name"])
}

func TestParseRejectsNewlineInQuotedString(t *testing.T) {
	input := "name = \"broken\nstring\";"
	_, err := Parse([]byte(input))
	require.Error(t, err)
}

func TestParseRejectsEOFMidString(t *testing.T) {
	input := `name = "unterminated`
	_, err := Parse([]byte(input))
	require.Error(t, err)
}

func TestParseRejectsInvalidCharAfterToken(t *testing.T) {
	input := `name ? "value";`
	_, err := Parse([]byte(input))
	require.Error(t, err)
}

func TestParseRejectsOverlongToken(t *testing.T) {
	long := make([]byte, maxTokenLen+10)
	long[0] = 'a'
	for i := 1; i < len(long); i++ {
		long[i] = 'a'
	}
	input := string(long) + ` = "v";`
	_, err := Parse([]byte(input))
	require.Error(t, err)
}

func TestBuildRejectsUnknownKind(t *testing.T) {
	input := `f { type = "no_such_kind"; } entry_point = "f";`
	cfg, err := Parse([]byte(input))
	require.NoError(t, err)

	r := filter.NewRegistry()
	registerStubKind(r)
	r.Freeze()

	_, _, err = Build(cfg, r)
	require.Error(t, err)
}

func TestBuildWarnsOnUnknownParameter(t *testing.T) {
	input := `f { type = "iplist"; mystery_param = "x"; } entry_point = "f";`
	cfg, err := Parse([]byte(input))
	require.NoError(t, err)

	r := filter.NewRegistry()
	registerStubKind(r)
	r.Freeze()

	_, warnings, err := Build(cfg, r)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
}

func TestBuildFlagsUnreachableFilter(t *testing.T) {
	input := `
f { type = "iplist"; }
orphan { type = "iplist"; }
entry_point = "f";
`
	cfg, err := Parse([]byte(input))
	require.NoError(t, err)

	r := filter.NewRegistry()
	registerStubKind(r)
	r.Freeze()

	_, warnings, err := Build(cfg, r)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0].Message, "orphan")
}

func TestBuildRejectsUnresolvedEntryPoint(t *testing.T) {
	input := `f { type = "iplist"; } entry_point = "nonexistent";`
	cfg, err := Parse([]byte(input))
	require.NoError(t, err)

	r := filter.NewRegistry()
	registerStubKind(r)
	r.Freeze()

	_, _, err = Build(cfg, r)
	require.Error(t, err)
}
