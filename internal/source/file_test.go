package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mlessio "github.com/TimelordUK/logdata/internal/io"
)

func memoryView(t *testing.T, data string) *FileView {
	t.Helper()
	v, err := FromSource(context.Background(), mlessio.NewMemorySource("mem.log", []byte(data)), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { v.Release() })
	return v
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestFileViewThreeLines(t *testing.T) {
	v := memoryView(t, "alpha\nbeta\ngamma\n")

	assert.Equal(t, 3, v.LineCount())
	assert.Equal(t, 5, v.MaxLength())

	text, err := v.LineString(1)
	require.NoError(t, err)
	assert.Equal(t, "beta", text)
	assert.Equal(t, StateReady, v.State())
}

func TestFileViewEmpty(t *testing.T) {
	v := memoryView(t, "")

	assert.Equal(t, 0, v.LineCount())
	assert.Equal(t, 0, v.MaxLength())

	for _, n := range []int{-1, 0, 1} {
		text, err := v.LineString(n)
		assert.ErrorIs(t, err, ErrOutOfRange)
		assert.Empty(t, text)
	}

	lines, err := v.Lines(0, 10)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestFileViewUnterminatedLastLine(t *testing.T) {
	v := memoryView(t, "x\ny\nz")

	require.Equal(t, 3, v.LineCount())
	text, err := v.LineString(2)
	require.NoError(t, err)
	assert.Equal(t, "z", text)
}

func TestFileViewOutOfRange(t *testing.T) {
	v := memoryView(t, "a\nb\n")

	_, err := v.Line(2)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = v.Lines(3, 1)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = v.LineLength(-1)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.Equal(t, int64(-1), v.ByteOffset(5))
}

func TestFileViewLines(t *testing.T) {
	v := memoryView(t, "l0\nl1\nl2\nl3\n")

	lines, err := v.Lines(2, 10)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "l2", lines[0].Text)
	assert.Equal(t, 2, lines[0].OriginalIndex)
	assert.Equal(t, "l3", lines[1].Text)
	assert.Equal(t, int64(9), v.ByteOffset(3))
}

func TestFileViewDegradedLineIsLocal(t *testing.T) {
	v := memoryView(t, "good\nbad \xff\xfe\nalso good\n")

	line, err := v.Line(1)
	require.NoError(t, err)
	assert.True(t, line.Degraded)
	assert.Equal(t, "bad ��", line.Text)

	for _, n := range []int{0, 2} {
		line, err := v.Line(n)
		require.NoError(t, err)
		assert.False(t, line.Degraded)
	}
}

func TestFileViewSourceUnavailableIsPerCall(t *testing.T) {
	src := mlessio.NewMemorySource("mem.log", []byte("a\nb\n"))
	v, err := FromSource(context.Background(), src, Options{})
	require.NoError(t, err)
	defer v.Release()

	require.NoError(t, src.Close())

	_, err = v.LineString(0)
	assert.ErrorIs(t, err, ErrSourceUnavailable)

	// the index itself is intact
	assert.Equal(t, 2, v.LineCount())
	assert.Equal(t, 1, v.MaxLength())
}

func TestFileViewReleaseClosesSource(t *testing.T) {
	v, err := FromSource(context.Background(), mlessio.NewMemorySource("mem.log", []byte("a\n")), Options{})
	require.NoError(t, err)

	require.True(t, v.Retain())
	require.NoError(t, v.Release())
	assert.Equal(t, int64(1), v.Handle().Refs())

	require.NoError(t, v.Release())
	assert.Equal(t, int64(0), v.Handle().Refs())
	assert.False(t, v.Retain())

	_, err = v.LineString(0)
	assert.ErrorIs(t, err, ErrReleased)
	assert.ErrorIs(t, v.Release(), ErrReleased)
}

func TestFileViewMarkStaleIsOneWay(t *testing.T) {
	v := memoryView(t, "a\n")

	assert.True(t, v.MarkStale())
	assert.False(t, v.MarkStale())
	assert.Equal(t, StateStale, v.State())

	text, err := v.LineString(0)
	require.NoError(t, err)
	assert.Equal(t, "a", text)
}

func TestOpenFileAccessModes(t *testing.T) {
	path := writeFile(t, "first\nsecond line\nthird")

	for _, access := range []mlessio.Access{mlessio.AccessMmap, mlessio.AccessPread} {
		t.Run(string(access), func(t *testing.T) {
			v, err := OpenFile(context.Background(), path, Options{Access: access})
			require.NoError(t, err)
			defer v.Release()

			assert.Equal(t, 3, v.LineCount())
			assert.Equal(t, 11, v.MaxLength())
			text, err := v.LineString(2)
			require.NoError(t, err)
			assert.Equal(t, "third", text)
			assert.Equal(t, path, v.Path())
		})
	}
}

func TestOpenFileCustomTerminatorAndEncoding(t *testing.T) {
	path := writeFile(t, "caf\xe9\r\nna\xefve\r\n")

	v, err := OpenFile(context.Background(), path, Options{
		Terminator: []byte("\r\n"),
		Encoding:   "latin1",
	})
	require.NoError(t, err)
	defer v.Release()

	require.Equal(t, 2, v.LineCount())
	text, err := v.LineString(1)
	require.NoError(t, err)
	assert.Equal(t, "naïve", text)
}

func TestOpenFileUnknownEncoding(t *testing.T) {
	path := writeFile(t, "a\n")
	_, err := OpenFile(context.Background(), path, Options{Encoding: "klingon"})
	assert.Error(t, err)
}

func TestOpenFileTruncatedPrefixStillReadable(t *testing.T) {
	for _, access := range []mlessio.Access{mlessio.AccessMmap, mlessio.AccessPread} {
		t.Run(string(access), func(t *testing.T) {
			path := writeFile(t, "keep\ndrop\n")
			v, err := OpenFile(context.Background(), path, Options{Access: access})
			require.NoError(t, err)
			defer v.Release()

			require.NoError(t, os.Truncate(path, 5))

			text, err := v.LineString(0)
			require.NoError(t, err)
			assert.Equal(t, "keep", text)

			_, err = v.LineString(1)
			assert.ErrorIs(t, err, ErrSourceUnavailable)
			assert.Equal(t, 2, v.LineCount())
		})
	}
}

func TestDefaultOptionsNeverReadTruncatedBytes(t *testing.T) {
	path := writeFile(t, "alpha\nbeta\ngamma\n")
	v, err := OpenFile(context.Background(), path, Options{})
	require.NoError(t, err)
	defer v.Release()

	require.NoError(t, os.Truncate(path, 6))

	text, err := v.LineString(0)
	require.NoError(t, err)
	assert.Equal(t, "alpha", text)

	for _, n := range []int{1, 2} {
		text, err := v.LineString(n)
		assert.ErrorIs(t, err, ErrSourceUnavailable, "line %d", n)
		assert.Empty(t, text)
	}
}

func TestExtendFile(t *testing.T) {
	path := writeFile(t, "one\ntw")
	v, err := OpenFile(context.Background(), path, Options{})
	require.NoError(t, err)
	defer v.Release()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("o\nthree\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	next, err := ExtendFile(context.Background(), v, Options{})
	require.NoError(t, err)
	defer next.Release()

	assert.Equal(t, v.Generation(), next.Generation())
	assert.Equal(t, 3, next.LineCount())
	text, err := next.LineString(1)
	require.NoError(t, err)
	assert.Equal(t, "two", text)

	// the earlier view is a frozen snapshot
	assert.Equal(t, 2, v.LineCount())
	text, err = v.LineString(1)
	require.NoError(t, err)
	assert.Equal(t, "tw", text)
}

func TestExtendFileShrunk(t *testing.T) {
	path := writeFile(t, "one\ntwo\n")
	v, err := OpenFile(context.Background(), path, Options{Access: mlessio.AccessPread})
	require.NoError(t, err)
	defer v.Release()

	require.NoError(t, os.Truncate(path, 2))
	_, err = ExtendFile(context.Background(), v, Options{Access: mlessio.AccessPread})
	assert.ErrorIs(t, err, ErrIncompatibleChange)
}

func TestFileViewConcurrentReaders(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 500; i++ {
		b.WriteString(strings.Repeat(string(rune('a'+i%26)), i%40))
		b.WriteString("\n")
	}
	path := writeFile(t, b.String())
	expected := strings.Split(strings.TrimSuffix(b.String(), "\n"), "\n")

	v, err := OpenFile(context.Background(), path, Options{Access: mlessio.AccessPread})
	require.NoError(t, err)
	defer v.Release()

	var wg sync.WaitGroup
	errs := make(chan string, 8)
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			for i := 0; i < v.LineCount(); i++ {
				n := (i*7 + r) % v.LineCount()
				text, err := v.LineString(n)
				if err != nil || text != expected[n] {
					errs <- "mismatch"
					return
				}
			}
		}(r)
	}
	wg.Wait()
	close(errs)
	assert.Empty(t, errs)
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
}
