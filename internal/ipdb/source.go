// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ipdb

import (
	"compress/gzip"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"grimm.is/postlicyd/internal/clock"
	"grimm.is/postlicyd/internal/logging"
	"grimm.is/postlicyd/internal/metrics"
)

//go:embed sources.json
var defaultSourcesJSON []byte

// DefaultCacheTTL is how long a downloaded source is trusted before a
// fresh fetch is attempted.
const DefaultCacheTTL = 24 * time.Hour

// Source describes a named, remotely-hosted IPv4 list an iplist filter
// can reference in place of a local path (see file/rbldns parameter
// form "(lock|nolock):W:https://host/path").
type Source struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type sourceRegistry struct {
	Sources map[string]Source `json:"sources"`
}

// SourceManager downloads, gzip-decodes, checksums and disk-caches
// remote ipdb dumps, then parses them the same way Build does for a
// local file. It is the Go-native analogue of the pfixtools comment
// "the file pointed by filename MUST be a valid ip list issued from
// the rsync (or equivalent) service of a (r)bl" — except here the
// daemon can fetch that rsync-equivalent dump itself instead of
// assuming an external cron job populated it.
type SourceManager struct {
	cacheDir string
	logger   *logging.Logger
	registry sourceRegistry
	client   *http.Client
	metrics  *metrics.Metrics
	mu       sync.RWMutex
}

// SetMetrics attaches sink so every subsequent BuildNamed/BuildFromURL
// records ipdb load metrics, and the resulting DB records lookup
// metrics, the same way a locally-built DB does. Safe to call once
// after construction; passing nil disables it again.
func (m *SourceManager) SetMetrics(sink *metrics.Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = sink
}

// NewSourceManager builds a manager rooted at cacheDir, loading the
// built-in source registry and optionally merging/overriding it from
// a JSON file at configFile (same shape as sources.json).
func NewSourceManager(cacheDir string, logger *logging.Logger, configFile string) (*SourceManager, error) {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}

	mgr := &SourceManager{
		cacheDir: cacheDir,
		logger:   logger,
		registry: sourceRegistry{Sources: make(map[string]Source)},
		client:   &http.Client{Timeout: 60 * time.Second},
	}

	if err := mgr.loadFromBytes(defaultSourcesJSON); err != nil {
		return nil, fmt.Errorf("ipdb: load default sources: %w", err)
	}

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			data, err := os.ReadFile(configFile)
			if err != nil {
				return nil, fmt.Errorf("ipdb: read source registry %s: %w", configFile, err)
			}
			if err := mgr.loadFromBytes(data); err != nil {
				return nil, fmt.Errorf("ipdb: parse source registry %s: %w", configFile, err)
			}
		}
	}

	return mgr, nil
}

func (m *SourceManager) loadFromBytes(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var temp sourceRegistry
	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}
	for name, s := range temp.Sources {
		s.Name = name
		m.registry.Sources[name] = s
	}
	return nil
}

// URL returns the URL registered for a named source.
func (m *SourceManager) URL(name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.registry.Sources[name]; ok {
		return s.URL, nil
	}
	return "", fmt.Errorf("ipdb: unknown managed source %q", name)
}

// BuildNamed fetches (or reuses the cache for) the named source and
// builds a DB from it.
func (m *SourceManager) BuildNamed(name string) (*DB, error) {
	url, err := m.URL(name)
	if err != nil {
		return nil, err
	}
	return m.BuildFromURL(url)
}

// BuildFromURL fetches (or reuses the cache for) an arbitrary URL and
// builds a DB from it.
func (m *SourceManager) BuildFromURL(url string) (*DB, error) {
	key := cacheKey(url)

	start := time.Now()
	if data, ok := m.loadFromCache(key); ok {
		return m.buildFromBytesWithMetrics(data, url, start)
	}

	data, err := m.download(url)
	if err != nil {
		return nil, err
	}

	if err := m.saveToCache(key, data); err != nil {
		m.logger.Warn("ipdb: failed to cache source", "url", url, "error", err)
	}

	return m.buildFromBytesWithMetrics(data, url, start)
}

func (m *SourceManager) buildFromBytesWithMetrics(data []byte, url string, start time.Time) (*DB, error) {
	db, err := buildFromBytes(data, url, m.logger)
	if err != nil {
		return nil, err
	}
	db.metrics = m.metrics
	db.source = url
	recordLoadMetrics(m.metrics, url, db, time.Since(start))
	return db, nil
}

func (m *SourceManager) download(url string) ([]byte, error) {
	resp, err := m.client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("ipdb: download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ipdb: download %s: status %d", url, resp.StatusCode)
	}

	var reader io.Reader = resp.Body
	if strings.HasSuffix(url, ".gz") || resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("ipdb: gzip reader for %s: %w", url, err)
		}
		defer gz.Close()
		reader = gz
	}

	// Cap at 64MB; rsync-style RBL dumps are large but bounded.
	return io.ReadAll(io.LimitReader(reader, 64*1024*1024))
}

func cacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

func (m *SourceManager) saveToCache(key string, data []byte) error {
	if m.cacheDir == "" {
		return nil
	}
	if err := os.MkdirAll(m.cacheDir, 0o755); err != nil {
		return err
	}
	dataPath := filepath.Join(m.cacheDir, key+".txt")
	if err := os.WriteFile(dataPath, data, 0o644); err != nil {
		return err
	}
	meta := map[string]any{
		"cached_at": clock.Now().Unix(),
		"size":      len(data),
		"checksum":  cacheKey(string(data)),
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(m.cacheDir, key+".meta"), metaData, 0o644)
}

func (m *SourceManager) loadFromCache(key string) ([]byte, bool) {
	if m.cacheDir == "" {
		return nil, false
	}
	dataPath := filepath.Join(m.cacheDir, key+".txt")
	metaPath := filepath.Join(m.cacheDir, key+".meta")

	metaBytes, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, false
	}
	var meta map[string]any
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, false
	}
	if cachedAt, ok := meta["cached_at"].(float64); ok {
		if clock.Now().Sub(time.Unix(int64(cachedAt), 0)) > DefaultCacheTTL {
			return nil, false
		}
	}
	data, err := os.ReadFile(dataPath)
	if err != nil {
		return nil, false
	}
	return data, true
}

// ClearCache removes every cached source file.
func (m *SourceManager) ClearCache() error {
	if m.cacheDir == "" {
		return nil
	}
	return os.RemoveAll(m.cacheDir)
}
