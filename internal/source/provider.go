package source

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/TimelordUK/logdata/internal/index"
	mlessio "github.com/TimelordUK/logdata/internal/io"
)

var (
	// ErrOutOfRange is returned for a line number outside [0, LineCount())
	ErrOutOfRange = errors.New("line out of range")

	// ErrReleased is returned when a view is used after its last release
	ErrReleased = errors.New("view released")

	ErrSourceUnavailable  = mlessio.ErrSourceUnavailable
	ErrIndexingCancelled  = index.ErrIndexingCancelled
	ErrIncompatibleChange = index.ErrIncompatibleChange
)

// State is the lifecycle stage of a view
type State int32

const (
	StateBuilding State = iota
	StateReady
	StateStale
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	case StateStale:
		return "stale"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Line is one materialized line with metadata
type Line struct {
	Text          string
	OriginalIndex int  // line number in the file
	Degraded      bool // bytes were replaced during decoding
	Truncated     bool // cut at the configured length cap
}

// LogData is the read contract every view satisfies. Consumers hold a
// LogData without knowing which view backs it; ownership stays with
// whoever created the concrete view.
type LogData interface {
	// LineCount returns total number of lines
	LineCount() int

	// MaxLength returns the longest line length in bytes
	MaxLength() int

	// LineString returns the text of line n (0-based)
	LineString(n int) (string, error)

	// Line returns line n with metadata
	Line(n int) (*Line, error)

	// Lines returns a range of lines efficiently
	Lines(start, count int) ([]*Line, error)
}

// Predicate decides whether a line belongs in a filtered view
type Predicate func(line int, text string) bool

// lineLengther is implemented by views that know line lengths without
// reading the file
type lineLengther interface {
	LineLength(n int) (int, error)
}

func outOfRange(n, count int) error {
	return fmt.Errorf("%w: line %d, view has %d lines", ErrOutOfRange, n, count)
}

// lineLength returns the length of line n in data, reading it if needed
func lineLength(data LogData, n int) (int, error) {
	if l, ok := data.(lineLengther); ok {
		return l.LineLength(n)
	}
	text, err := data.LineString(n)
	if err != nil {
		return 0, err
	}
	return utf8.RuneCountInString(text), nil
}

// rangeLines implements Lines on top of Line
func rangeLines(data LogData, start, count int) ([]*Line, error) {
	total := data.LineCount()
	if start < 0 || start > total {
		return nil, outOfRange(start, total)
	}
	if count <= 0 || start == total {
		return nil, nil
	}
	if start+count > total {
		count = total - start
	}

	lines := make([]*Line, count)
	for i := 0; i < count; i++ {
		line, err := data.Line(start + i)
		if err != nil {
			return nil, err
		}
		lines[i] = line
	}
	return lines, nil
}
