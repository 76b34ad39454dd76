package index

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrIndexingCancelled is returned when a build is stopped before it completes
	ErrIndexingCancelled = errors.New("indexing cancelled")

	// ErrIncompatibleChange is returned when the source no longer matches the
	// offsets recorded in an index
	ErrIncompatibleChange = errors.New("incompatible source change")
)

// Entry locates one line: the offset of its first byte and its length
// excluding the terminator
type Entry struct {
	Offset uint64
	Length uint32
}

// End returns the offset one past the line's last byte
func (e Entry) End() uint64 {
	return e.Offset + uint64(e.Length)
}

// ByteOffsetIndex maps line numbers to byte ranges of a source.
//
// Terminated lines live in entries. A trailing line with no terminator is
// kept apart as the provisional tail because more bytes may complete it.
// An index is never modified after it is returned by the Indexer; Extend
// returns a new index that shares the entries prefix when it can.
type ByteOffsetIndex struct {
	entries   []Entry
	tail      Entry
	hasTail   bool
	size      int64 // bytes of the source covered by the scan
	maxLength int
	lineage   *lineage
}

// lineage tracks which index of a chain of extensions may append into the
// shared entries array. Only the tip may; extending any other index copies.
type lineage struct {
	mu  sync.Mutex
	tip *ByteOffsetIndex
}

// claim reports whether idx is the tip and, if so, takes the right to
// append so concurrent or later extensions of idx copy instead
func (l *lineage) claim(idx *ByteOffsetIndex) bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tip != idx {
		return false
	}
	l.tip = nil
	return true
}

// settle makes idx the tip of l
func (l *lineage) settle(idx *ByteOffsetIndex) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tip = idx
}

// Len returns the number of lines
func (idx *ByteOffsetIndex) Len() int {
	if idx.hasTail {
		return len(idx.entries) + 1
	}
	return len(idx.entries)
}

// Entry returns the byte range of line n (0-based)
func (idx *ByteOffsetIndex) Entry(n int) (Entry, bool) {
	switch {
	case n < 0:
		return Entry{}, false
	case n < len(idx.entries):
		return idx.entries[n], true
	case n == len(idx.entries) && idx.hasTail:
		return idx.tail, true
	}
	return Entry{}, false
}

// MaxLength returns the longest line length seen, clamped to the indexer cap
func (idx *ByteOffsetIndex) MaxLength() int {
	return idx.maxLength
}

// Size returns the number of source bytes the index covers
func (idx *ByteOffsetIndex) Size() int64 {
	return idx.size
}

// Provisional reports whether the last line has no terminator yet
func (idx *ByteOffsetIndex) Provisional() bool {
	return idx.hasTail
}

// resumeOffset is where a scan continuing this index must start
func (idx *ByteOffsetIndex) resumeOffset() int64 {
	if idx.hasTail {
		return int64(idx.tail.Offset)
	}
	return idx.size
}

// Validate checks that entries are ordered and do not overlap
func (idx *ByteOffsetIndex) Validate() error {
	var prevEnd uint64
	for i := 0; i < idx.Len(); i++ {
		e, _ := idx.Entry(i)
		if e.Offset < prevEnd {
			return fmt.Errorf("line %d starts at %d before previous end %d", i, e.Offset, prevEnd)
		}
		prevEnd = e.End()
	}
	if prevEnd > uint64(idx.size) {
		return fmt.Errorf("index ends at %d beyond covered size %d", prevEnd, idx.size)
	}
	return nil
}
