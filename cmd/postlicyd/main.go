// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command postlicyd is a policy daemon for a mail transfer agent: it
// accepts policy queries over TCP, evaluates them against a
// configured filter graph, and returns the resulting verdict.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/postlicyd/internal/filter"
	"grimm.is/postlicyd/internal/filter/iplist"
	"grimm.is/postlicyd/internal/install"
	"grimm.is/postlicyd/internal/ipdb"
	"grimm.is/postlicyd/internal/logging"
	"grimm.is/postlicyd/internal/metrics"
	"grimm.is/postlicyd/internal/pconfig"
	"grimm.is/postlicyd/internal/policy"
)

func main() {
	configFile := flag.String("config", install.GetConfigFile(), "path to the block-structured config file")
	listen := flag.String("listen", "127.0.0.1:10030", "address to accept policy queries on")
	metricsListen := flag.String("metrics-listen", "127.0.0.1:9301", "address to serve Prometheus metrics on")
	resolver := flag.String("resolver", "127.0.0.1:53", "DNS resolver used for dns (DNS-RBL) lookups")
	dnsTimeout := flag.Duration("dns-timeout", 2*time.Second, "per-lookup DNS timeout")
	cacheDir := flag.String("cache-dir", install.GetCacheDir(), "directory for cached remote ipdb sources")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	cfg := logging.DefaultConfig()
	switch *logLevel {
	case "debug":
		cfg.Level = logging.LevelDebug
	case "warn":
		cfg.Level = logging.LevelWarn
	case "error":
		cfg.Level = logging.LevelError
	default:
		cfg.Level = logging.LevelInfo
	}
	logger := logging.New(cfg)

	sources, err := ipdb.NewSourceManager(*cacheDir, logger, "")
	if err != nil {
		logger.Error("failed to initialize ipdb source manager", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		logger.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	registry := filter.NewRegistry()
	iplist.Register(registry, iplist.Deps{
		Sources:  sources,
		Resolver: *resolver,
		Timeout:  *dnsTimeout,
		Logger:   logger,
		Metrics:  m,
	})
	registry.Freeze()

	data, err := os.ReadFile(*configFile)
	if err != nil {
		logger.Error("failed to read config file", "path", *configFile, "error", err)
		os.Exit(1)
	}

	parsed, err := pconfig.Parse(data)
	if err != nil {
		logger.Error("failed to parse config", "path", *configFile, "error", err)
		os.Exit(1)
	}

	graph, warnings, err := pconfig.Build(parsed, registry)
	if err != nil {
		logger.Error("failed to build filter graph", "path", *configFile, "error", err)
		os.Exit(1)
	}
	for _, w := range warnings {
		logger.Warn("config warning", "message", w.Message, "position", w.Position)
	}
	logger.Info("config loaded", "filters", len(graph.Instances), "entry_point", graph.EntryPoint, "warnings", len(warnings))

	m.ConfigWarnings.Set(float64(len(warnings)))
	m.ConfigReloads.Inc()

	go serveMetrics(*metricsListen, reg, logger)

	if err := serveQueries(*listen, registry, graph, m, logger); err != nil {
		logger.Error("query listener failed", "error", err)
		os.Exit(1)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	logger.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}

func serveQueries(addr string, registry *filter.Registry, graph *filter.Graph, m *metrics.Metrics, logger *logging.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	defer ln.Close()
	logger.Info("serving policy queries", "addr", addr, "entry_point", graph.EntryPoint)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		go handleConn(conn, registry, graph, m, logger)
	}
}

func handleConn(conn net.Conn, registry *filter.Registry, graph *filter.Graph, m *metrics.Metrics, logger *logging.Logger) {
	defer conn.Close()

	data, err := readQueryBlock(conn)
	if err != nil {
		logger.Warn("failed to read query", "remote", conn.RemoteAddr(), "error", err)
		return
	}

	q, err := policy.Parse(data)
	if err != nil {
		logger.Warn("malformed policy query", "remote", conn.RemoteAddr(), "error", err)
		fmt.Fprintf(conn, "action=DUNNO\n\n")
		return
	}

	start := time.Now()
	ctx := filter.NewContext(registry, q)
	verdict, name, err := filter.Dispatch(ctx, graph, q)
	m.QueryDuration.WithLabelValues(graph.EntryPoint).Observe(time.Since(start).Seconds())
	m.QueriesTotal.WithLabelValues(graph.EntryPoint).Inc()
	if err != nil {
		logger.Error("dispatch failed", "query_id", ctx.ID, "error", err)
		fmt.Fprintf(conn, "action=DUNNO\n\n")
		return
	}
	m.VerdictsTotal.WithLabelValues(verdict.String(), name).Inc()
	logger.Debug("query dispatched", "query_id", ctx.ID, "verdict", verdict.String(), "filter", name)

	fmt.Fprintf(conn, "action=%s\n\n", actionFor(verdict))
}

// actionFor maps a terminal verdict to an MTA policy action string.
// The full action vocabulary belongs to the MTA's policy delegation
// protocol; this is the minimal mapping needed to exercise the filter
// graph end to end.
func actionFor(v filter.Verdict) string {
	switch v {
	case filter.HardMatch:
		return "REJECT"
	case filter.SoftMatch:
		return "DEFER_IF_PERMIT"
	case filter.Fail:
		return "DUNNO"
	default:
		return "DUNNO"
	}
}

// readQueryBlock reads lines until (and including) the terminating
// blank line of a policy query block.
func readQueryBlock(conn net.Conn) ([]byte, error) {
	var out []byte
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		out = append(out, line...)
		if line == "\n" || line == "\r\n" {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}
