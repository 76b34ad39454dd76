package source

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/TimelordUK/logdata/internal/index"
	mlessio "github.com/TimelordUK/logdata/internal/io"
	"github.com/TimelordUK/logdata/internal/metrics"
)

// FileView provides lines from one generation of a single file. It is
// immutable once constructed apart from its state, which only moves from
// ready to stale.
type FileView struct {
	index        *index.ByteOffsetIndex
	materializer *index.Materializer
	handle       *mlessio.Handle
	generation   uuid.UUID
	path         string

	state atomic.Int32
	refs  atomic.Int64
}

// NewFileView binds a completed index to the source it was built from.
// The view takes one reference on handle, which it drops when the view's
// own last reference is released. The view starts with one reference
// owned by the caller.
func NewFileView(idx *index.ByteOffsetIndex, handle *mlessio.Handle, m *index.Materializer, generation uuid.UUID) (*FileView, error) {
	if !handle.Retain() {
		return nil, fmt.Errorf("%w: source %s already closed", ErrReleased, handle.Source().Path())
	}

	v := &FileView{
		index:        idx,
		materializer: m,
		handle:       handle,
		generation:   generation,
		path:         handle.Source().Path(),
	}
	v.state.Store(int32(StateReady))
	v.refs.Store(1)
	return v, nil
}

// LineCount returns total number of lines
func (v *FileView) LineCount() int {
	return v.index.Len()
}

// MaxLength returns the longest line length
func (v *FileView) MaxLength() int {
	return v.index.MaxLength()
}

// LineString returns the text of line n
func (v *FileView) LineString(n int) (string, error) {
	text, err := v.read(n)
	if err != nil {
		return "", err
	}
	return text.Text, nil
}

// Line returns line n with metadata
func (v *FileView) Line(n int) (*Line, error) {
	text, err := v.read(n)
	if err != nil {
		return nil, err
	}

	return &Line{
		Text:          text.Text,
		OriginalIndex: n,
		Degraded:      text.Degraded,
		Truncated:     text.Truncated,
	}, nil
}

// Lines returns a range of lines
func (v *FileView) Lines(start, count int) ([]*Line, error) {
	return rangeLines(v, start, count)
}

func (v *FileView) read(n int) (index.Text, error) {
	entry, ok := v.index.Entry(n)
	if !ok {
		return index.Text{}, outOfRange(n, v.index.Len())
	}
	if v.refs.Load() <= 0 {
		return index.Text{}, fmt.Errorf("%w: %s", ErrReleased, v.path)
	}

	text, err := v.materializer.Read(entry)
	if err != nil {
		return index.Text{}, fmt.Errorf("read line %d of %s: %w", n, v.path, err)
	}
	return text, nil
}

// LineLength returns the byte length of line n without reading it
func (v *FileView) LineLength(n int) (int, error) {
	entry, ok := v.index.Entry(n)
	if !ok {
		return 0, outOfRange(n, v.index.Len())
	}
	length := int(entry.Length)
	if c := v.index.MaxLength(); length > c {
		// only capped lines exceed the view maximum
		length = c
	}
	return length, nil
}

// ByteOffset returns the byte offset of a line, or -1 if out of range
func (v *FileView) ByteOffset(n int) int64 {
	entry, ok := v.index.Entry(n)
	if !ok {
		return -1
	}
	return int64(entry.Offset)
}

// Index returns the view's byte offset index
func (v *FileView) Index() *index.ByteOffsetIndex {
	return v.index
}

// Generation identifies the indexing epoch this view belongs to
func (v *FileView) Generation() uuid.UUID {
	return v.generation
}

// Path returns the file path
func (v *FileView) Path() string {
	return v.path
}

// Handle returns the shared byte source handle
func (v *FileView) Handle() *mlessio.Handle {
	return v.handle
}

// State returns the view's lifecycle state
func (v *FileView) State() State {
	return State(v.state.Load())
}

// MarkStale flags the view as no longer matching its file. It reports
// whether this call made the transition.
func (v *FileView) MarkStale() bool {
	if v.state.CompareAndSwap(int32(StateReady), int32(StateStale)) {
		metrics.StaleTransitions.Inc()
		return true
	}
	return false
}

// Retain adds a reference to the view. It fails once the view has been
// fully released.
func (v *FileView) Retain() bool {
	for {
		n := v.refs.Load()
		if n <= 0 {
			return false
		}
		if v.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference. The file handle is released with the last one.
func (v *FileView) Release() error {
	n := v.refs.Add(-1)
	if n == 0 {
		return v.handle.Release()
	}
	if n < 0 {
		v.refs.Store(0)
		return fmt.Errorf("%w: %s released too many times", ErrReleased, v.path)
	}
	return nil
}
