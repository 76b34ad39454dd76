package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/hashicorp/go-hclog"

	mlessio "github.com/TimelordUK/logdata/internal/io"
	"github.com/TimelordUK/logdata/internal/logging"
	"github.com/TimelordUK/logdata/internal/metrics"
)

// DefaultChunkSize is the read buffer used while scanning
const DefaultChunkSize = 64 * 1024

// Indexer scans a byte source into a ByteOffsetIndex using a fixed-size
// read buffer
type Indexer struct {
	Terminator       []byte // defaults to "\n"
	ChunkSize        int
	MaxLineLengthCap int // 0 disables the cap

	// OnProgress, if set, is called after every chunk
	OnProgress func(scanned, total int64)

	Logger hclog.Logger
}

// Build indexes src from the beginning
func (ix *Indexer) Build(ctx context.Context, src mlessio.ByteSource) (*ByteOffsetIndex, error) {
	idx, err := ix.scan(ctx, src, &ByteOffsetIndex{}, 0)
	if err != nil {
		return nil, err
	}
	idx.lineage = &lineage{}
	idx.lineage.settle(idx)
	return idx, nil
}

// Extend indexes bytes appended to src since prev was built. The
// provisional tail of prev is re-examined. prev and every index already
// extended from it are left untouched: the newest index of a chain shares
// its entries array with the result, any other prev is copied first.
func (ix *Indexer) Extend(ctx context.Context, prev *ByteOffsetIndex, src mlessio.ByteSource) (*ByteOffsetIndex, error) {
	if src.Size() < prev.size {
		return nil, fmt.Errorf("%w: %s shrank from %d to %d bytes", ErrIncompatibleChange, src.Path(), prev.size, src.Size())
	}

	if n := len(prev.entries); n > 0 {
		// the terminator after the last complete line must still be there
		term := ix.terminator()
		at := int64(prev.entries[n-1].End())
		got := make([]byte, len(term))
		if _, err := src.ReadAt(got, at); err != nil || !bytes.Equal(got, term) {
			return nil, fmt.Errorf("%w: %s rewritten before offset %d", ErrIncompatibleChange, src.Path(), prev.size)
		}
	}

	next := &ByteOffsetIndex{maxLength: prev.maxLength}
	shared := prev.lineage.claim(prev)
	if shared {
		next.entries = prev.entries[:len(prev.entries):cap(prev.entries)]
		next.lineage = prev.lineage
	} else {
		next.entries = slices.Clone(prev.entries)
		next.lineage = &lineage{}
	}

	idx, err := ix.scan(ctx, src, next, prev.resumeOffset())
	if err != nil {
		if shared {
			// entries written past prev's length are unreachable from prev
			prev.lineage.settle(prev)
		}
		return nil, err
	}
	idx.lineage.settle(idx)
	return idx, nil
}

func (ix *Indexer) scan(ctx context.Context, src mlessio.ByteSource, idx *ByteOffsetIndex, start int64) (*ByteOffsetIndex, error) {
	logger := logging.OrNull(ix.Logger)
	term := ix.terminator()
	size := src.Size()
	began := time.Now()

	chunkSize := ix.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize < 2*len(term) {
		chunkSize = 2 * len(term)
	}

	if idx.entries == nil && size > 0 {
		// Estimate initial capacity (assume ~100 bytes per line)
		idx.entries = make([]Entry, 0, int(size/100)+1)
	}

	known := idx.Len()
	buf := make([]byte, chunkSize)
	overlap := int64(len(term) - 1)
	lineStart := start
	pos := start

	for pos < size {
		if err := ctx.Err(); err != nil {
			metrics.BuildsCancelled.Inc()
			logger.Debug("indexing cancelled", "path", src.Path(), "scanned", pos, "size", size)
			return nil, fmt.Errorf("%w: %s: %v", ErrIndexingCancelled, src.Path(), err)
		}

		readSize := int64(chunkSize)
		if pos+readSize > size {
			readSize = size - pos
		}

		n, err := src.ReadAt(buf[:readSize], pos)
		if int64(n) < readSize {
			if err == nil {
				err = errors.New("short read")
			}
			return nil, fmt.Errorf("index %s at offset %d: %w", src.Path(), pos, err)
		}

		// Find all terminators in this chunk
		chunk := buf[:n]
		offset := 0
		for {
			i := bytes.Index(chunk[offset:], term)
			if i == -1 {
				break
			}
			end := pos + int64(offset+i)
			idx.appendLine(lineStart, end-lineStart, ix.MaxLineLengthCap)
			lineStart = end + int64(len(term))
			offset += i + len(term)
		}

		next := pos + int64(n)
		if next < size && overlap > 0 {
			// a terminator may straddle the chunk boundary
			next -= overlap
			if next < lineStart {
				next = lineStart
			}
		}
		pos = next

		if ix.OnProgress != nil {
			ix.OnProgress(pos, size)
		}
	}

	if lineStart < size {
		idx.tail = Entry{Offset: uint64(lineStart), Length: clampLength(size - lineStart)}
		idx.hasTail = true
		idx.trackLength(size-lineStart, ix.MaxLineLengthCap)
	}
	idx.size = size

	metrics.LinesIndexed.Add(float64(idx.Len() - known))
	metrics.BuildSeconds.Observe(time.Since(began).Seconds())
	logger.Debug("indexed", "path", src.Path(), "from", start, "size", size,
		"lines", idx.Len(), "max_length", idx.maxLength, "elapsed", time.Since(began))
	return idx, nil
}

func (idx *ByteOffsetIndex) appendLine(start, length int64, lengthCap int) {
	idx.entries = append(idx.entries, Entry{Offset: uint64(start), Length: clampLength(length)})
	idx.trackLength(length, lengthCap)
}

func (idx *ByteOffsetIndex) trackLength(length int64, lengthCap int) {
	if lengthCap > 0 && length > int64(lengthCap) {
		length = int64(lengthCap)
	}
	if length > math.MaxInt32 {
		length = math.MaxInt32
	}
	if int(length) > idx.maxLength {
		idx.maxLength = int(length)
	}
}

// clampLength keeps absurdly long lines addressable; they read truncated
func clampLength(length int64) uint32 {
	if length > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(length)
}

func (ix *Indexer) terminator() []byte {
	if len(ix.Terminator) == 0 {
		return []byte{'\n'}
	}
	return ix.Terminator
}
