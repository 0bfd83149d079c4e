// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dnsrbl

import (
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"grimm.is/postlicyd/internal/metrics"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func histogramSampleCount(t *testing.T, h prometheus.Observer) uint64 {
	t.Helper()
	c, ok := h.(prometheus.Histogram)
	require.True(t, ok)
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetHistogram().GetSampleCount()
}

func TestReverseName(t *testing.T) {
	ip := uint32(1)<<24 | uint32(2)<<16 | uint32(3)<<8 | 4
	require.Equal(t, "4.3.2.1.zen.spamhaus.org", reverseName(ip, "zen.spamhaus.org"))
}

// startFakeServer runs a minimal UDP DNS server that answers every
// query according to respond, and returns its address.
func startFakeServer(t *testing.T, respond func(q dns.Question) *dns.Msg) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &dns.Server{PacketConn: pc, Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
		reply := respond(r.Question[0])
		reply.SetReply(r)
		_ = w.WriteMsg(reply)
	})}
	go srv.ActivateAndServe()
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestCheckFound(t *testing.T) {
	addr := startFakeServer(t, func(q dns.Question) *dns.Msg {
		m := new(dns.Msg)
		rr, _ := dns.NewRR(q.Name + " 60 IN A 127.0.0.2")
		m.Answer = append(m.Answer, rr)
		return m
	})

	c := New(addr, time.Second)
	resultCh := make(chan Result, 1)
	started := c.Check("bl.example.com", 0x01020304, func(r Result) { resultCh <- r })
	require.True(t, started)
	require.Equal(t, Found, <-resultCh)
}

func TestCheckNotFound(t *testing.T) {
	addr := startFakeServer(t, func(q dns.Question) *dns.Msg {
		m := new(dns.Msg)
		m.Rcode = dns.RcodeNameError
		return m
	})

	c := New(addr, time.Second)
	resultCh := make(chan Result, 1)
	c.Check("bl.example.com", 0x01020304, func(r Result) { resultCh <- r })
	require.Equal(t, NotFound, <-resultCh)
}

func TestCheckTimeoutIsError(t *testing.T) {
	// Nothing listening on this address: Exchange should fail fast
	// with a connection error that we classify as Error.
	c := New("127.0.0.1:1", 200*time.Millisecond)
	resultCh := make(chan Result, 1)
	c.Check("bl.example.com", 0x01020304, func(r Result) { resultCh <- r })

	select {
	case r := <-resultCh:
		require.Equal(t, Error, r)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
}

func TestCheckRejectsEmptyHost(t *testing.T) {
	c := New("127.0.0.1:53", time.Second)
	started := c.Check("", 1, func(Result) {})
	require.False(t, started)
}

func TestCheckRecordsMetrics(t *testing.T) {
	addr := startFakeServer(t, func(q dns.Question) *dns.Msg {
		m := new(dns.Msg)
		rr, _ := dns.NewRR(q.Name + " 60 IN A 127.0.0.2")
		m.Answer = append(m.Answer, rr)
		return m
	})

	c := New(addr, time.Second)
	m := metrics.New()
	c.SetMetrics(m)

	resultCh := make(chan Result, 1)
	c.Check("bl.example.com", 0x01020304, func(r Result) { resultCh <- r })
	require.Equal(t, Found, <-resultCh)

	require.Equal(t, float64(1), counterValue(t, m.DNSLookupsTotal.WithLabelValues("bl.example.com", Found.String())))
	require.Equal(t, uint64(1), histogramSampleCount(t, m.DNSLookupDuration.WithLabelValues("bl.example.com")))
}
