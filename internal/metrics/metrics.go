// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes postlicyd's Prometheus metrics: query
// throughput and verdicts, per-ipdb membership counts, and DNS-RBL
// lookup outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector postlicyd registers.
type Metrics struct {
	QueriesTotal   *prometheus.CounterVec
	QueryDuration  *prometheus.HistogramVec
	VerdictsTotal  *prometheus.CounterVec

	IpdbEntries      *prometheus.GaugeVec
	IpdbLookups      *prometheus.CounterVec
	IpdbHits         *prometheus.CounterVec
	IpdbLocked       *prometheus.GaugeVec
	IpdbLoadDuration *prometheus.HistogramVec

	DNSLookupsTotal    *prometheus.CounterVec
	DNSLookupDuration  *prometheus.HistogramVec

	AsyncQueriesInFlight prometheus.Gauge

	ConfigWarnings prometheus.Gauge
	ConfigReloads  prometheus.Counter
}

// New builds an unregistered Metrics. Callers register it against a
// *prometheus.Registry via Register.
func New() *Metrics {
	return &Metrics{
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postlicyd_queries_total",
			Help: "Total number of policy queries dispatched, by entry filter.",
		}, []string{"entry_point"}),

		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "postlicyd_query_duration_seconds",
			Help:    "Policy query evaluation latency from dispatch to final verdict.",
			Buckets: prometheus.DefBuckets,
		}, []string{"entry_point"}),

		VerdictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postlicyd_verdicts_total",
			Help: "Total number of final verdicts produced, by verdict and terminating filter.",
		}, []string{"verdict", "filter"}),

		IpdbEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "postlicyd_ipdb_entries",
			Help: "Number of addresses loaded into an ipdb.",
		}, []string{"source"}),

		IpdbLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postlicyd_ipdb_lookups_total",
			Help: "Total number of ipdb point-membership lookups.",
		}, []string{"source"}),

		IpdbHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postlicyd_ipdb_hits_total",
			Help: "Total number of ipdb lookups that matched.",
		}, []string{"source"}),

		IpdbLocked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "postlicyd_ipdb_locked",
			Help: "Whether an ipdb's backing pages are memory-locked (1) or not (0).",
		}, []string{"source"}),

		IpdbLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "postlicyd_ipdb_load_duration_seconds",
			Help:    "Time taken to build an ipdb from its source (file or remote fetch).",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),

		DNSLookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postlicyd_dns_rbl_lookups_total",
			Help: "Total number of DNS-RBL lookups, by host and result.",
		}, []string{"host", "result"}),

		DNSLookupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "postlicyd_dns_rbl_lookup_duration_seconds",
			Help:    "DNS-RBL lookup latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"host"}),

		AsyncQueriesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "postlicyd_async_queries_in_flight",
			Help: "Number of queries currently suspended awaiting an async filter completion (e.g. DNS-RBL fan-out).",
		}),

		ConfigWarnings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "postlicyd_config_warnings",
			Help: "Number of non-fatal warnings from the most recent config load.",
		}),

		ConfigReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "postlicyd_config_reloads_total",
			Help: "Total number of config (re)loads since startup.",
		}),
	}
}

// Register registers every collector against reg.
func (m *Metrics) Register(reg *prometheus.Registry) error {
	collectors := []prometheus.Collector{
		m.QueriesTotal, m.QueryDuration, m.VerdictsTotal,
		m.IpdbEntries, m.IpdbLookups, m.IpdbHits, m.IpdbLocked, m.IpdbLoadDuration,
		m.DNSLookupsTotal, m.DNSLookupDuration,
		m.AsyncQueriesInFlight,
		m.ConfigWarnings, m.ConfigReloads,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
