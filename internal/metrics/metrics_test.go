// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestRegisterSucceedsOnce(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))
}

func TestRegisterTwiceOnSameRegistryFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, New().Register(reg))
	require.Error(t, New().Register(reg))
}

func TestCountersObservable(t *testing.T) {
	m := New()
	m.QueriesTotal.WithLabelValues("entry").Inc()
	m.VerdictsTotal.WithLabelValues("hard_match", "f").Inc()
	m.IpdbHits.WithLabelValues("spamhaus_drop").Add(3)

	require.Equal(t, float64(1), testCounterValue(t, m.QueriesTotal.WithLabelValues("entry")))
	require.Equal(t, float64(3), testCounterValue(t, m.IpdbHits.WithLabelValues("spamhaus_drop")))
}

func TestAsyncGaugeAndDNSCounterObservable(t *testing.T) {
	m := New()
	m.AsyncQueriesInFlight.Inc()
	m.AsyncQueriesInFlight.Inc()
	m.AsyncQueriesInFlight.Dec()
	m.DNSLookupsTotal.WithLabelValues("zen.spamhaus.org", "found").Inc()

	require.Equal(t, float64(1), testGaugeValue(t, m.AsyncQueriesInFlight))
	require.Equal(t, float64(1), testCounterValue(t, m.DNSLookupsTotal.WithLabelValues("zen.spamhaus.org", "found")))
}

func testGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, g.Write(&metric))
	return metric.GetGauge().GetValue()
}

func testCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, c.Write(&metric))
	return metric.GetCounter().GetValue()
}
