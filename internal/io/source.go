package io

import (
	"bytes"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrSourceUnavailable is returned when the backing bytes cannot be read
var ErrSourceUnavailable = errors.New("source unavailable")

// ByteSource is a random-access, fixed-size view of a file's bytes.
// ReadAt must be safe for concurrent use by independent readers.
type ByteSource interface {
	ReadAt(p []byte, off int64) (int, error)
	Size() int64
	Path() string
	Close() error
}

// Access selects how a file is opened
type Access string

const (
	AccessMmap  Access = "mmap"
	AccessPread Access = "pread"
)

// Open opens path using the requested access mode
func Open(path string, access Access) (ByteSource, error) {
	switch access {
	case AccessMmap, "":
		return OpenMapped(path)
	case AccessPread:
		return OpenPositional(path)
	default:
		return nil, fmt.Errorf("unknown access mode %q", access)
	}
}

// ReadRange reads bytes from start to end, clamped to the source size
func ReadRange(src ByteSource, start, end int64) ([]byte, error) {
	if end > src.Size() {
		end = src.Size()
	}
	if start >= end {
		return nil, nil
	}

	buf := make([]byte, end-start)
	n, err := src.ReadAt(buf, start)
	if err != nil {
		if n < len(buf) {
			if errors.Is(err, ErrSourceUnavailable) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, src.Path(), err)
		}
	}
	return buf, nil
}

// MemorySource serves bytes held in memory
type MemorySource struct {
	reader *bytes.Reader
	path   string
	closed atomic.Bool
}

// NewMemorySource wraps data as a ByteSource
func NewMemorySource(path string, data []byte) *MemorySource {
	return &MemorySource{reader: bytes.NewReader(data), path: path}
}

func (m *MemorySource) ReadAt(p []byte, off int64) (int, error) {
	if m.closed.Load() {
		return 0, fmt.Errorf("%w: %s closed", ErrSourceUnavailable, m.path)
	}
	return m.reader.ReadAt(p, off)
}

func (m *MemorySource) Size() int64  { return m.reader.Size() }
func (m *MemorySource) Path() string { return m.path }

func (m *MemorySource) Close() error {
	m.closed.Store(true)
	return nil
}

// Handle is a reference-counted ByteSource. The source closes when the
// last reference is released.
type Handle struct {
	src  ByteSource
	refs atomic.Int64
}

// NewHandle takes ownership of src with a single reference
func NewHandle(src ByteSource) *Handle {
	h := &Handle{src: src}
	h.refs.Store(1)
	return h
}

// Source returns the underlying byte source
func (h *Handle) Source() ByteSource {
	return h.src
}

// Retain adds a reference. It fails once the handle has been closed.
func (h *Handle) Retain() bool {
	for {
		n := h.refs.Load()
		if n <= 0 {
			return false
		}
		if h.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference and closes the source when none remain
func (h *Handle) Release() error {
	n := h.refs.Add(-1)
	switch {
	case n == 0:
		return h.src.Close()
	case n < 0:
		h.refs.Store(0)
		return errors.New("handle released too many times")
	}
	return nil
}

// Refs returns the current reference count
func (h *Handle) Refs() int64 {
	return h.refs.Load()
}
