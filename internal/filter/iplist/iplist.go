// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package iplist implements the "iplist" filter kind: a weighted
// combination of local/remote ipdbs and DNS-RBL hosts evaluated
// against soft/hard score thresholds.
package iplist

import (
	"strconv"
	"strings"
	"time"

	pferrors "grimm.is/postlicyd/internal/errors"
	"grimm.is/postlicyd/internal/dnsrbl"
	"grimm.is/postlicyd/internal/filter"
	"grimm.is/postlicyd/internal/ipdb"
	"grimm.is/postlicyd/internal/logging"
	"grimm.is/postlicyd/internal/metrics"
	"grimm.is/postlicyd/internal/policy"
)

// KindName is the config-file kind name this package registers under.
const KindName = "iplist"

const maxWeight = 1024

// Deps are the shared resources a constructed instance needs beyond
// its own declared parameters: a DNS resolver address/timeout for
// "dns" hosts, and an optional remote-source manager for "file"/
// "rbldns" values that name a managed list instead of a local path
// (the "managed:" and http(s):// path forms handled by buildIpdb).
type Deps struct {
	Sources  *ipdb.SourceManager
	Resolver string
	Timeout  time.Duration
	Logger   *logging.Logger
	Metrics  *metrics.Metrics
}

type ipdbRef struct {
	db     *ipdb.DB
	weight int32
}

type dnsHost struct {
	host   string
	weight int32
}

type instanceData struct {
	ipdbs     []ipdbRef
	dnsHosts  []dnsHost
	dnsClient *dnsrbl.Client
	hard      int32
	soft      int32
	metrics   *metrics.Metrics
}

// asyncState is the per-query scratch for one in-flight DNS fan-out:
// the pending-answer counter, the score from ipdb hits taken before
// the fan-out (DNS hits are added to it only by finalize), the
// per-host result vector, and whether every source has errored. It is reused
// across the (at most one, per the dispatch model) concurrently
// in-flight iplist evaluation within a single query.
type asyncState struct {
	results    []dnsrbl.Result
	pending    int
	sum        int32
	errFlag    bool
	generation uint64
}

// Register installs the iplist kind into r, wiring deps into every
// constructed instance.
func Register(r *filter.Registry, deps Deps) filter.Kind {
	var kind filter.Kind
	kind = r.Register(KindName, filter.VTable{
		Construct: func(params map[string][]string) (any, error) {
			return construct(params, deps)
		},
		Run: func(data any, q *policy.Query, ctx *filter.Context) filter.Verdict {
			return run(kind, data.(*instanceData), q, ctx)
		},
		NewQueryState: func() any { return &asyncState{} },
	}, true)

	for _, p := range []string{"file", "rbldns", "dns", "profile", "hard_threshold", "soft_threshold"} {
		r.RegisterParam(kind, p)
	}
	for _, h := range []filter.Hook{filter.HookFail, filter.HookSoftMatch, filter.HookHardMatch, filter.HookError, filter.HookAbort} {
		r.RegisterHook(kind, h)
	}
	return kind
}

func construct(params map[string][]string, deps Deps) (any, error) {
	data := &instanceData{hard: 1, soft: 1, metrics: deps.Metrics}

	if v := firstValue(params, "hard_threshold"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, pferrors.Wrapf(err, pferrors.KindParseConfig, "iplist: invalid hard_threshold %q", v)
		}
		data.hard = int32(n)
	}
	if v := firstValue(params, "soft_threshold"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, pferrors.Wrapf(err, pferrors.KindParseConfig, "iplist: invalid soft_threshold %q", v)
		}
		data.soft = int32(n)
	}
	if data.soft > data.hard {
		return nil, pferrors.Errorf(pferrors.KindParseConfig, "iplist: soft_threshold %d exceeds hard_threshold %d", data.soft, data.hard)
	}

	for _, key := range []string{"file", "rbldns"} {
		for _, raw := range params[key] {
			ref, err := parseIpdbParam(raw, deps)
			if err != nil {
				return nil, err
			}
			data.ipdbs = append(data.ipdbs, ref)
		}
	}

	for _, raw := range params["dns"] {
		host, err := parseDNSParam(raw)
		if err != nil {
			return nil, err
		}
		data.dnsHosts = append(data.dnsHosts, host)
	}

	for _, name := range params["profile"] {
		hosts, err := resolveProfile(name)
		if err != nil {
			return nil, err
		}
		data.dnsHosts = append(data.dnsHosts, hosts...)
	}

	if len(data.ipdbs) == 0 && len(data.dnsHosts) == 0 {
		return nil, pferrors.New(pferrors.KindParseConfig, "iplist: neither an ipdb nor a DNS host was configured")
	}
	if len(data.dnsHosts) > 0 {
		data.dnsClient = dnsrbl.New(deps.Resolver, deps.Timeout)
		data.dnsClient.SetMetrics(deps.Metrics)
	}

	return data, nil
}

// parseIpdbParam parses "(lock|nolock):W:path" and loads the named
// ipdb, from a local file or (if deps.Sources is set) a remote or
// managed source.
func parseIpdbParam(raw string, deps Deps) (ipdbRef, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 {
		return ipdbRef{}, pferrors.Errorf(pferrors.KindParseConfig, "iplist: malformed file/rbldns value %q", raw)
	}
	lockStr, weightStr, path := parts[0], parts[1], parts[2]

	var lock bool
	switch lockStr {
	case "lock":
		lock = true
	case "nolock":
		lock = false
	default:
		return ipdbRef{}, pferrors.Errorf(pferrors.KindParseConfig, "iplist: invalid lock mode %q in %q", lockStr, raw)
	}

	weight, err := parseWeight(weightStr)
	if err != nil {
		return ipdbRef{}, pferrors.Wrapf(err, pferrors.KindParseConfig, "iplist: invalid weight in %q", raw)
	}

	db, err := buildIpdb(path, lock, deps)
	if err != nil {
		return ipdbRef{}, pferrors.Wrapf(err, pferrors.KindIO, "iplist: load %q", path)
	}
	return ipdbRef{db: db, weight: weight}, nil
}

func buildIpdb(path string, lock bool, deps Deps) (*ipdb.DB, error) {
	switch {
	case strings.HasPrefix(path, "managed:"):
		if deps.Sources == nil {
			return nil, pferrors.Errorf(pferrors.KindParseConfig, "iplist: managed source %q requires a source manager", path)
		}
		deps.Sources.SetMetrics(deps.Metrics)
		return deps.Sources.BuildNamed(strings.TrimPrefix(path, "managed:"))
	case strings.HasPrefix(path, "http://"), strings.HasPrefix(path, "https://"):
		if deps.Sources == nil {
			return nil, pferrors.Errorf(pferrors.KindParseConfig, "iplist: remote source %q requires a source manager", path)
		}
		deps.Sources.SetMetrics(deps.Metrics)
		return deps.Sources.BuildFromURL(path)
	default:
		return ipdb.BuildWithMetrics(path, lock, deps.Logger, deps.Metrics)
	}
}

// parseDNSParam parses "W:hostname".
func parseDNSParam(raw string) (dnsHost, error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return dnsHost{}, pferrors.Errorf(pferrors.KindParseConfig, "iplist: malformed dns value %q", raw)
	}
	weight, err := parseWeight(parts[0])
	if err != nil {
		return dnsHost{}, pferrors.Wrapf(err, pferrors.KindParseConfig, "iplist: invalid weight in %q", raw)
	}
	if parts[1] == "" {
		return dnsHost{}, pferrors.Errorf(pferrors.KindParseConfig, "iplist: empty hostname in %q", raw)
	}
	return dnsHost{host: parts[1], weight: weight}, nil
}

func parseWeight(s string) (int32, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > maxWeight {
		return 0, pferrors.Errorf(pferrors.KindParseConfig, "iplist: weight %d out of range [0,%d]", n, maxWeight)
	}
	return int32(n), nil
}

func firstValue(params map[string][]string, key string) string {
	if v, ok := params[key]; ok && len(v) > 0 {
		return v[len(v)-1]
	}
	return ""
}

func ladder(sum, soft, hard int32) filter.Verdict {
	switch {
	case sum >= hard:
		return filter.HardMatch
	case sum >= soft:
		return filter.SoftMatch
	default:
		return filter.Fail
	}
}

func run(kind filter.Kind, d *instanceData, q *policy.Query, ctx *filter.Context) filter.Verdict {
	addrStr := q.Get(policy.KeyClientAddress)
	if strings.Contains(addrStr, ":") {
		return filter.Fail
	}
	ip, ok := ipdb.ParseIPv4Strict(addrStr)
	if !ok {
		return filter.Error
	}

	sum := int32(0)
	errFlag := true
	for _, ref := range d.ipdbs {
		errFlag = false
		if ref.db.Lookup(ip) {
			sum += ref.weight
			if sum >= d.hard {
				return filter.HardMatch
			}
		}
	}

	if len(d.dnsHosts) == 0 {
		if errFlag {
			return filter.Error
		}
		return ladder(sum, d.soft, d.hard)
	}

	return runAsync(kind, d, ip, sum, errFlag, ctx)
}

func runAsync(kind filter.Kind, d *instanceData, ip uint32, sum int32, errFlag bool, ctx *filter.Context) filter.Verdict {
	st := ctx.State(kind).(*asyncState)
	gen := ctx.Generation()

	st.results = make([]dnsrbl.Result, len(d.dnsHosts))
	st.sum = sum
	st.errFlag = errFlag
	st.pending = 0
	st.generation = gen

	for i, h := range d.dnsHosts {
		i := i
		st.pending++
		started := d.dnsClient.Check(h.host, ip, func(res dnsrbl.Result) {
			ctx.Lock()
			st.results[i] = res
			if res != dnsrbl.Error {
				st.errFlag = false
			}
			st.pending--
			var verdict filter.Verdict
			done := st.pending == 0
			if done {
				verdict = finalize(d, st)
			}
			ctx.Unlock()
			if done {
				if d.metrics != nil {
					d.metrics.AsyncQueriesInFlight.Dec()
				}
				ctx.PostAsyncResult(gen, verdict)
			}
		})
		if !started {
			st.pending--
		}
	}

	if st.pending == 0 {
		// Nothing was actually submitted (every Check call failed
		// synchronously): no completion will ever arrive, so the verdict
		// must be computed now rather than returning an Async that
		// would never resolve. The gauge is never incremented on this
		// path since the query never actually suspends.
		return finalize(d, st)
	}
	if d.metrics != nil {
		d.metrics.AsyncQueriesInFlight.Inc()
	}
	return filter.Async
}

// finalize computes the final verdict from an async state whose
// pending count has reached zero. Callers must hold ctx's lock.
func finalize(d *instanceData, st *asyncState) filter.Verdict {
	if st.errFlag {
		return filter.Error
	}
	sum := st.sum
	for i, res := range st.results {
		if res == dnsrbl.Found {
			sum += d.dnsHosts[i].weight
		}
	}
	return ladder(sum, d.soft, d.hard)
}
