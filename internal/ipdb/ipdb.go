// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ipdb implements a compact, read-only, sorted IPv4 address
// index built from rsync-style RBL dump files: one dotted-quad address
// per line. It keeps only the bucketed layout (65,536 buckets keyed by
// the high 16 bits of the address, each a sorted slice of the low 16
// bits) described in the design notes — the flat single-sorted-array
// variant the original C source also shipped is dropped as a dead
// duplicate.
package ipdb

import (
	"sort"
	"time"

	"grimm.is/postlicyd/internal/errors"
	"grimm.is/postlicyd/internal/logging"
	"grimm.is/postlicyd/internal/metrics"
	"grimm.is/postlicyd/internal/mmap"
)

const bucketCount = 1 << 16

// DB is an immutable, concurrency-safe membership index over a
// multiset of IPv4 addresses. The zero value is an empty, valid DB.
type DB struct {
	buckets [][]uint16
	count   uint32
	locked  bool

	metrics *metrics.Metrics
	source  string
}

// Build parses an IPv4 list file at path and returns a compact,
// sorted index over its addresses. If lock is true, Build attempts to
// pin the source mapping's pages while scanning; a failed pin does not
// fail the build and is reported by Locked(). The returned DB copies every
// parsed integer out of the mapping before returning, so the mapping
// itself is always closed before Build returns — no borrowed slice
// outlives this call.
func Build(path string, lock bool) (*DB, error) {
	return BuildWithMetrics(path, lock, nil, nil)
}

// BuildWithLogger is Build with an explicit logger for load warnings
// (a missing trailing newline). Malformed lines are skipped without a
// warning, and a failed mlock is reported only through Locked().
func BuildWithLogger(path string, lock bool, log *logging.Logger) (*DB, error) {
	return BuildWithMetrics(path, lock, log, nil)
}

// BuildWithMetrics is BuildWithLogger with an optional Metrics sink: the
// entry count, lock status, and load duration are recorded against
// path as the "source" label, and the returned DB carries m forward so
// every later Lookup records against the same label.
func BuildWithMetrics(path string, lock bool, log *logging.Logger, m *metrics.Metrics) (*DB, error) {
	start := time.Now()
	mm, err := mmap.Open(path, lock)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindIO, "ipdb: build %s", path)
	}
	defer mm.Close()

	db, err := buildFromBytes(mm.Bytes(), path, log)
	if err != nil {
		return nil, err
	}
	db.locked = mm.Locked()
	db.metrics = m
	db.source = path
	recordLoadMetrics(m, path, db, time.Since(start))
	return db, nil
}

// recordLoadMetrics is shared by BuildWithMetrics and source.go's
// BuildFromURL, which builds from a downloaded byte slice instead of a
// local mmap but wants the same entries/locked/duration observations.
func recordLoadMetrics(m *metrics.Metrics, source string, db *DB, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.IpdbEntries.WithLabelValues(source).Set(float64(db.count))
	locked := 0.0
	if db.locked {
		locked = 1.0
	}
	m.IpdbLocked.WithLabelValues(source).Set(locked)
	m.IpdbLoadDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

// buildFromBytes is the pure parsing core, split out so tests can
// exercise it without touching the filesystem.
func buildFromBytes(data []byte, sourceName string, log *logging.Logger) (*DB, error) {
	buckets := make([][]uint16, bucketCount)

	end := len(data)
	for end > 0 && data[end-1] != '\n' {
		end--
	}
	if end != len(data) && log != nil {
		log.Warn("ipdb: file missing final newline, dropping last line", "file", sourceName)
	}

	var count uint32
	p := 0
	for p < end {
		for p < end && (data[p] == ' ' || data[p] == '\t' || data[p] == '\r') {
			p++
		}
		ip, next, ok := parseIPv4(data[p:end])
		if !ok {
			nl := indexByte(data[p:end], '\n')
			if nl < 0 {
				break
			}
			p += nl + 1
			continue
		}
		hi := uint16(ip >> 16)
		lo := uint16(ip & 0xffff)
		buckets[hi] = append(buckets[hi], lo)
		count++

		// Skip to the next line, ignoring whatever trailing text
		// follows the address on the same line.
		rest := p + next
		nl := indexByte(data[rest:end], '\n')
		if nl < 0 {
			break
		}
		p = rest + nl + 1
	}

	for i := range buckets {
		if len(buckets[i]) == 0 {
			continue
		}
		b := make([]uint16, len(buckets[i]))
		copy(b, buckets[i])
		sort.Sort(uint16Slice(b))
		buckets[i] = b
	}

	return &DB{buckets: buckets, count: count}, nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

type uint16Slice []uint16

func (s uint16Slice) Len() int           { return len(s) }
func (s uint16Slice) Less(i, j int) bool { return s[i] < s[j] }
func (s uint16Slice) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// Lookup reports whether ip is a member of db. It is safe to call
// concurrently from any number of goroutines; db is never mutated
// after Build returns.
func (db *DB) Lookup(ip uint32) bool {
	if db == nil || db.buckets == nil {
		return false
	}
	if db.metrics != nil {
		db.metrics.IpdbLookups.WithLabelValues(db.source).Inc()
	}

	hi := uint16(ip >> 16)
	lo := uint16(ip & 0xffff)
	bucket := db.buckets[hi]
	lo_ := lo
	l, r := 0, len(bucket)
	for l < r {
		i := (l + r) / 2
		switch {
		case bucket[i] == lo_:
			if db.metrics != nil {
				db.metrics.IpdbHits.WithLabelValues(db.source).Inc()
			}
			return true
		case lo_ < bucket[i]:
			r = i
		default:
			l = i + 1
		}
	}
	return false
}

// Count returns the total number of addresses indexed, including
// duplicates.
func (db *DB) Count() uint32 {
	if db == nil {
		return 0
	}
	return db.count
}

// Locked reports whether the source mapping's pages were pinned
// during Build.
func (db *DB) Locked() bool {
	return db != nil && db.locked
}
