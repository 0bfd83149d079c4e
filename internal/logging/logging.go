// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides structured, leveled logging for postlicyd,
// wrapping charmbracelet/log the same way the rest of the daemon's
// lineage does, plus optional forwarding to a syslog collector.
package logging

import (
	"fmt"
	"io"
	"log/syslog"
	"os"

	charmlog "github.com/charmbracelet/log"
)

// Level mirrors charmlog's level type so callers don't need to import
// the charm package directly.
type Level = charmlog.Level

const (
	LevelDebug = charmlog.DebugLevel
	LevelInfo  = charmlog.InfoLevel
	LevelWarn  = charmlog.WarnLevel
	LevelError = charmlog.ErrorLevel
)

// Config controls how a Logger is constructed.
type Config struct {
	Level      Level
	Output     io.Writer
	ReportTime bool
	Prefix     string
}

// DefaultConfig returns sane defaults: info level, writing to stderr,
// timestamped.
func DefaultConfig() Config {
	return Config{
		Level:      LevelInfo,
		Output:     os.Stderr,
		ReportTime: true,
		Prefix:     "postlicyd",
	}
}

// Logger is a leveled, structured logger with key-value attributes.
type Logger struct {
	inner *charmlog.Logger
}

// New builds a Logger from cfg.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	l := charmlog.NewWithOptions(out, charmlog.Options{
		ReportTimestamp: cfg.ReportTime,
		Prefix:          cfg.Prefix,
	})
	l.SetLevel(cfg.Level)
	return &Logger{inner: l}
}

// With returns a child Logger that always includes the given key-value
// pairs in subsequent log lines.
func (l *Logger) With(kv ...any) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{inner: l.inner.With(kv...)}
}

func (l *Logger) Debug(msg string, kv ...any) {
	if l == nil {
		return
	}
	l.inner.Debug(msg, kv...)
}

func (l *Logger) Info(msg string, kv ...any) {
	if l == nil {
		return
	}
	l.inner.Info(msg, kv...)
}

func (l *Logger) Warn(msg string, kv ...any) {
	if l == nil {
		return
	}
	l.inner.Warn(msg, kv...)
}

func (l *Logger) Error(msg string, kv ...any) {
	if l == nil {
		return
	}
	l.inner.Error(msg, kv...)
}

// SyslogConfig controls forwarding log lines to a remote syslog
// collector, in addition to (or instead of) local output. Facility uses
// the raw RFC 3164 facility numbers (1 = user-level messages).
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string // "udp" or "tcp"
	Tag      string
	Facility int
}

// DefaultSyslogConfig returns the disabled-by-default syslog config.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "postlicyd",
		Facility: 1,
	}
}

// NewSyslogWriter dials the syslog collector described by cfg and
// returns an io.Writer suitable for Config.Output (or combined with
// io.MultiWriter alongside a local file/stderr writer).
func NewSyslogWriter(cfg SyslogConfig) (io.WriteCloser, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("logging: syslog host must not be empty")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "postlicyd"
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	priority := syslog.Priority(cfg.Facility<<3) | syslog.LOG_INFO
	w, err := syslog.Dial(cfg.Protocol, addr, priority, cfg.Tag)
	if err != nil {
		return nil, fmt.Errorf("logging: dial syslog %s: %w", addr, err)
	}
	return w, nil
}
