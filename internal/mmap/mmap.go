// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package mmap provides a read-only memory-mapped view of a file, with
// optional page-locking, in the style of pfixtools' file_map_t: a thin
// wrapper that borrowers must not outlive.
package mmap

import (
	"os"

	"golang.org/x/sys/unix"

	"grimm.is/postlicyd/internal/errors"
)

// Map is an immutable byte-range view of a file's contents, addressed by
// Bytes(). The zero value is not usable; construct with Open.
type Map struct {
	data   []byte
	locked bool
}

// Open maps path read-only and private. If lock is true, it attempts to
// pin the pages in memory with mlock; failure to pin is non-fatal and is
// simply reflected in Locked(), matching the C implementation's behavior
// of returning a usable map even when mlock fails.
func Open(path string, lock bool) (*Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindIO, "mmap: open %s", path)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindIO, "mmap: stat %s", path)
	}

	size := st.Size()
	if size == 0 {
		// mmap of a zero-length file fails on most platforms; model it
		// as a valid, empty map instead of a hard I/O error.
		return &Map{data: []byte{}}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindIO, "mmap: map %s", path)
	}

	m := &Map{data: data}
	if lock {
		if err := unix.Mlock(data); err != nil {
			m.locked = false
		} else {
			m.locked = true
		}
	}
	return m, nil
}

// Bytes returns the mapped region. The slice is invalid after Close.
func (m *Map) Bytes() []byte {
	if m == nil {
		return nil
	}
	return m.data
}

// Locked reports whether the pages were successfully pinned.
func (m *Map) Locked() bool {
	return m != nil && m.locked
}

// Close unmaps the region, unpinning it first if it was locked. Close is
// idempotent; calling it twice is a no-op.
func (m *Map) Close() error {
	if m == nil || m.data == nil {
		return nil
	}
	if len(m.data) == 0 {
		m.data = nil
		return nil
	}
	if m.locked {
		_ = unix.Munlock(m.data)
		m.locked = false
	}
	err := unix.Munmap(m.data)
	m.data = nil
	if err != nil {
		return errors.Wrap(err, errors.KindIO, "mmap: unmap")
	}
	return nil
}
