package io

import (
	"errors"
	stdio "io"
	"os"
	"sync/atomic"
)

// PositionalFile reads with pread on a shared descriptor. Readers never
// share a file position, and a shrunken file yields short reads instead of
// faults.
type PositionalFile struct {
	file   *os.File
	size   int64
	path   string
	closed atomic.Bool
}

// OpenPositional opens a file for positioned reads
func OpenPositional(path string) (*PositionalFile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	return &PositionalFile{
		file: file,
		size: info.Size(),
		path: path,
	}, nil
}

// ReadAt reads len(p) bytes at offset
func (f *PositionalFile) ReadAt(p []byte, off int64) (int, error) {
	if f.closed.Load() {
		return 0, ErrSourceUnavailable
	}
	n, err := f.file.ReadAt(p, off)
	if errors.Is(err, os.ErrClosed) {
		return n, ErrSourceUnavailable
	}
	if err == stdio.EOF && off+int64(len(p)) <= f.size {
		// the file shrank below the size we opened it at
		return n, ErrSourceUnavailable
	}
	return n, err
}

// Size returns the size at open time
func (f *PositionalFile) Size() int64 {
	return f.size
}

// Path returns the file path
func (f *PositionalFile) Path() string {
	return f.path
}

// Close closes the descriptor
func (f *PositionalFile) Close() error {
	f.closed.Store(true)
	return f.file.Close()
}
