// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dnsrbl issues reverse-IP DNS lookups against RBL-style
// zones and delivers results asynchronously: for query IP a.b.c.d
// against host H, it looks up the A record for d.c.b.a.H.
package dnsrbl

import (
	"fmt"
	"time"

	"github.com/miekg/dns"

	"grimm.is/postlicyd/internal/metrics"
)

// Result is the outcome of a single RBL lookup. ASYNC is an internal
// pre-result placeholder and must never be observed by a Check
// callback.
type Result int

const (
	// Async is never delivered to a callback; it exists only so
	// callers can pre-initialize a result slot before submission.
	Async Result = iota
	Found
	NotFound
	Error
)

func (r Result) String() string {
	switch r {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	case Error:
		return "error"
	default:
		return "async"
	}
}

// Client issues reverse-IP A-record queries against a fixed upstream
// resolver. The zero value is not usable; construct with New.
type Client struct {
	resolver string
	timeout  time.Duration
	dnsClient *dns.Client
	metrics   *metrics.Metrics
}

// SetMetrics attaches sink so every subsequent Check records a
// lookup count (by host and result) and a latency observation (by
// host). Safe to call once after construction; passing nil disables
// it again.
func (c *Client) SetMetrics(sink *metrics.Metrics) {
	c.metrics = sink
}

// New builds a Client that queries resolver (host:port, e.g.
// "127.0.0.1:53") with the given per-query timeout.
func New(resolver string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		resolver: resolver,
		timeout:  timeout,
		dnsClient: &dns.Client{
			Timeout: timeout,
			Net:     "udp",
		},
	}
}

// reverseName builds d.c.b.a.host for the reverse-IP RBL query form,
// where ip is a.b.c.d in host byte order (a is the most significant
// octet).
func reverseName(ip uint32, host string) string {
	a := byte(ip >> 24)
	b := byte(ip >> 16)
	c := byte(ip >> 8)
	d := byte(ip)
	return fmt.Sprintf("%d.%d.%d.%d.%s", d, c, b, a, host)
}

// Check submits a reverse-IP A-record lookup for ip against host. If
// submission succeeds it returns true and guarantees exactly one
// future invocation of callback with one of {Found, NotFound, Error};
// callback is never invoked before Check returns. If host is empty
// submission fails synchronously and Check returns false without
// scheduling anything.
func (c *Client) Check(host string, ip uint32, callback func(Result)) bool {
	if host == "" {
		return false
	}
	name := dns.Fqdn(reverseName(ip, host))
	msg := new(dns.Msg)
	msg.SetQuestion(name, dns.TypeA)
	msg.RecursionDesired = true

	go func() {
		start := time.Now()
		res := c.exchange(msg)
		if c.metrics != nil {
			c.metrics.DNSLookupsTotal.WithLabelValues(host, res.String()).Inc()
			c.metrics.DNSLookupDuration.WithLabelValues(host).Observe(time.Since(start).Seconds())
		}
		callback(res)
	}()
	return true
}

func (c *Client) exchange(msg *dns.Msg) Result {
	in, _, err := c.dnsClient.Exchange(msg, c.resolver)
	if err != nil {
		return Error
	}
	switch in.Rcode {
	case dns.RcodeNameError:
		return NotFound
	case dns.RcodeSuccess:
		for _, rr := range in.Answer {
			if _, ok := rr.(*dns.A); ok {
				return Found
			}
		}
		// NOERROR with no A record in the answer is neither clearly
		// listed nor clearly not listed: treat it as an error rather
		// than silently guessing not-listed.
		return Error
	default:
		return Error
	}
}
