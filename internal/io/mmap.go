package io

import (
	"fmt"
	"os"
	"runtime/debug"

	"golang.org/x/exp/mmap"
)

// MappedFile provides memory-mapped read access to a file
type MappedFile struct {
	reader *mmap.ReaderAt
	file   *os.File // kept open to fstat the mapped inode
	size   int64
	path   string
}

// OpenMapped opens a file with memory mapping
func OpenMapped(path string) (*MappedFile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	reader, err := mmap.Open(path)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &MappedFile{
		reader: reader,
		file:   file,
		size:   int64(reader.Len()),
		path:   path,
	}, nil
}

// ReadAt reads len(p) bytes at offset. Pages that vanished because the
// file was truncated under the mapping are reported as ErrSourceUnavailable
// rather than crashing the process.
func (m *MappedFile) ReadAt(p []byte, off int64) (n int, err error) {
	prev := debug.SetPanicOnFault(true)
	defer func() {
		debug.SetPanicOnFault(prev)
		if r := recover(); r != nil {
			n = 0
			err = fmt.Errorf("%w: %s: fault reading offset %d: %v", ErrSourceUnavailable, m.path, off, r)
		}
	}()

	n, err = m.reader.ReadAt(p, off)
	if err != nil && n == 0 && off < m.size {
		// only a closed mapping fails inside the mapped range
		return 0, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, m.path, err)
	}
	if n > 0 {
		if verr := m.verify(off + int64(n)); verr != nil {
			return 0, verr
		}
	}
	return n, err
}

// verify checks that the file still reaches end. After a truncation the
// page holding the new end of file reads back as zeros instead of faulting,
// so bytes copied from there are only trusted if the file still covers them.
func (m *MappedFile) verify(end int64) error {
	info, err := m.file.Stat()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, m.path, err)
	}
	if info.Size() < end {
		return fmt.Errorf("%w: %s shrank to %d bytes, read needs %d",
			ErrSourceUnavailable, m.path, info.Size(), end)
	}
	return nil
}

// Size returns the mapped size
func (m *MappedFile) Size() int64 {
	return m.size
}

// Path returns the file path
func (m *MappedFile) Path() string {
	return m.path
}

// Close closes the memory mapping and the descriptor
func (m *MappedFile) Close() error {
	err := m.reader.Close()
	if cerr := m.file.Close(); err == nil {
		err = cerr
	}
	return err
}
