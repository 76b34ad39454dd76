package slice

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mlessio "github.com/TimelordUK/logdata/internal/io"
	"github.com/TimelordUK/logdata/internal/source"
)

func memoryView(t *testing.T, data string) *source.FileView {
	t.Helper()
	v, err := source.FromSource(context.Background(), mlessio.NewMemorySource("app.log", []byte(data)), source.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { v.Release() })
	return v
}

func TestSliceRange(t *testing.T) {
	dir := t.TempDir()
	s := NewSlicerIn(dir)
	v := memoryView(t, "l0\nl1\nl2\nl3\n")

	info, err := s.SliceRange(v, "/var/log/app.log", 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Lines)
	assert.Equal(t, filepath.Join(dir, "logdata-slice-1-3-app.log"), info.CachePath)

	content, err := os.ReadFile(info.CachePath)
	require.NoError(t, err)
	assert.Equal(t, "l1\nl2\n", string(content))

	require.NoError(t, s.Cleanup(info))
	_, err = os.Stat(info.CachePath)
	assert.True(t, os.IsNotExist(err))
}

func TestSliceRangeClampsAndRejects(t *testing.T) {
	s := NewSlicerIn(t.TempDir())
	v := memoryView(t, "a\nb\n")

	info, err := s.SliceToEnd(v, "app.log", -5)
	require.NoError(t, err)
	assert.Equal(t, 0, info.StartLine)
	assert.Equal(t, 2, info.EndLine)

	_, err = s.SliceRange(v, "app.log", 2, 2)
	assert.Error(t, err)
}

func TestSaveFilteredView(t *testing.T) {
	v := memoryView(t, "keep 1\ndrop\nkeep 2\n")
	f, err := source.Filter(context.Background(), v, func(_ int, text string) bool {
		return strings.HasPrefix(text, "keep")
	}, source.FilterOptions{})
	require.NoError(t, err)
	defer f.Release()

	path := filepath.Join(t.TempDir(), "filtered.log")
	info, err := NewSlicer().SaveTo(f, path)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Lines)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep 1\nkeep 2\n", string(content))
}

func TestSaveToUnreadableSourceRemovesFile(t *testing.T) {
	src := mlessio.NewMemorySource("app.log", []byte("a\n"))
	v, err := source.FromSource(context.Background(), src, source.Options{})
	require.NoError(t, err)
	defer v.Release()
	require.NoError(t, src.Close())

	path := filepath.Join(t.TempDir(), "out.log")
	_, err = NewSlicer().SaveTo(v, path)
	assert.ErrorIs(t, err, source.ErrSourceUnavailable)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
