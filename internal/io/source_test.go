package io

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestOpenAccessModes(t *testing.T) {
	path := writeFile(t, "hello\nworld\n")

	for _, access := range []Access{AccessMmap, AccessPread, ""} {
		t.Run(string(access), func(t *testing.T) {
			src, err := Open(path, access)
			require.NoError(t, err)
			defer src.Close()

			assert.Equal(t, int64(12), src.Size())
			assert.Equal(t, path, src.Path())

			got, err := ReadRange(src, 6, 11)
			require.NoError(t, err)
			assert.Equal(t, "world", string(got))
		})
	}

	_, err := Open(path, Access("tape"))
	assert.Error(t, err)
}

func TestReadRangeClamps(t *testing.T) {
	src := NewMemorySource("mem", []byte("abcdef"))

	got, err := ReadRange(src, 4, 100)
	require.NoError(t, err)
	assert.Equal(t, "ef", string(got))

	got, err = ReadRange(src, 6, 8)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadAfterClose(t *testing.T) {
	path := writeFile(t, "some bytes\n")

	sources := map[string]func() (ByteSource, error){
		"mmap":   func() (ByteSource, error) { return OpenMapped(path) },
		"pread":  func() (ByteSource, error) { return OpenPositional(path) },
		"memory": func() (ByteSource, error) { return NewMemorySource(path, []byte("some bytes\n")), nil },
	}
	for name, open := range sources {
		t.Run(name, func(t *testing.T) {
			src, err := open()
			require.NoError(t, err)
			require.NoError(t, src.Close())

			_, err = ReadRange(src, 0, 4)
			assert.ErrorIs(t, err, ErrSourceUnavailable)
		})
	}
}

func TestShrunkFileReportsUnavailable(t *testing.T) {
	for _, access := range []Access{AccessMmap, AccessPread} {
		t.Run(string(access), func(t *testing.T) {
			path := writeFile(t, "0123456789\n")

			src, err := Open(path, access)
			require.NoError(t, err)
			defer src.Close()

			require.NoError(t, os.Truncate(path, 3))

			got, err := ReadRange(src, 0, 3)
			require.NoError(t, err)
			assert.Equal(t, "012", string(got))

			_, err = ReadRange(src, 2, 8)
			assert.ErrorIs(t, err, ErrSourceUnavailable)
		})
	}
}

func TestHandleRefCounting(t *testing.T) {
	src := NewMemorySource("mem", []byte("x"))
	h := NewHandle(src)
	assert.Equal(t, int64(1), h.Refs())

	require.True(t, h.Retain())
	require.NoError(t, h.Release())
	_, err := src.ReadAt(make([]byte, 1), 0)
	require.NoError(t, err, "source must stay open while referenced")

	require.NoError(t, h.Release())
	_, err = src.ReadAt(make([]byte, 1), 0)
	assert.ErrorIs(t, err, ErrSourceUnavailable)

	assert.False(t, h.Retain())
	assert.Error(t, h.Release())
}
