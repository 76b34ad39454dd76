package logformat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TimelordUK/logdata/internal/config"
	mlessio "github.com/TimelordUK/logdata/internal/io"
	"github.com/TimelordUK/logdata/internal/source"
)

func memoryView(t *testing.T, data string) *source.FileView {
	t.Helper()
	v, err := source.FromSource(context.Background(), mlessio.NewMemorySource("mem.log", []byte(data)), source.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { v.Release() })
	return v
}

func TestDetect(t *testing.T) {
	d := NewLevelDetector(&config.DefaultConfig().LogLevels)

	tests := []struct {
		line     string
		expected Level
	}{
		{line: "2024-01-15 10:30:45 [INF] started", expected: LevelInfo},
		{line: "2024-01-15 10:30:45 [WRN] slow", expected: LevelWarn},
		{line: "ERROR: disk full", expected: LevelError},
		{line: "FATAL ERROR everything", expected: LevelFatal},
		{line: "[DBG] x=1", expected: LevelDebug},
		{line: "plain text", expected: LevelUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.expected, d.Detect(tt.line))
		})
	}
}

func TestAtLeastAsFilter(t *testing.T) {
	d := NewLevelDetector(&config.DefaultConfig().LogLevels)
	base := memoryView(t, "[INF] a\n[WRN] b\n[DBG] c\n[ERR] d\nnothing\n")

	f, err := source.Filter(context.Background(), base, d.AtLeast(LevelWarn), source.FilterOptions{})
	require.NoError(t, err)
	defer f.Release()

	assert.Equal(t, []int{1, 3}, f.Sequence())
}

func TestOnly(t *testing.T) {
	d := NewLevelDetector(&config.DefaultConfig().LogLevels)
	pred := d.Only(LevelDebug, LevelInfo)

	assert.True(t, pred(0, "[DBG] x"))
	assert.True(t, pred(0, "[INF] x"))
	assert.False(t, pred(0, "[ERR] x"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, LevelError, ParseLevel("err"))
	assert.Equal(t, LevelUnknown, ParseLevel("loud"))
}
