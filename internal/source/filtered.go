package source

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/TimelordUK/logdata/internal/metrics"
)

// Order controls the line order of a filtered view
type Order int

const (
	// OrderFile keeps matches in file order
	OrderFile Order = iota
	// OrderReverse puts the most recent match first
	OrderReverse
)

// FilterOptions tunes Filter
type FilterOptions struct {
	Workers    int // predicate goroutines, default 1
	ChunkLines int // lines per unit of work, default 4096
	Order      Order
}

const defaultChunkLines = 4096

// retainer is implemented by views with shared ownership
type retainer interface {
	Retain() bool
	Release() error
}

// FilteredView presents a selection of another view's lines. It holds only
// line numbers; text is always read through the base view.
type FilteredView struct {
	// base is never itself a FilteredView: stacked selections are composed
	base      LogData
	seq       []int // line numbers in base, in display order
	maxLength int
	order     Order
	scanned   int  // base lines already evaluated by Filter
	ascending bool // seq is strictly increasing

	refs atomic.Int64
}

// NewFilteredView creates a view over the given line numbers of base, in
// the order given. The sequence is copied.
func NewFilteredView(base LogData, seq []int) (*FilteredView, error) {
	total := base.LineCount()
	for _, n := range seq {
		if n < 0 || n >= total {
			return nil, outOfRange(n, total)
		}
	}

	root, composed := flatten(base, slices.Clone(seq))
	return newFilteredView(root, composed, OrderFile, 0)
}

// flatten maps seq through a filtered base so the result refers to the root
func flatten(base LogData, seq []int) (LogData, []int) {
	fb, ok := base.(*FilteredView)
	if !ok {
		return base, seq
	}
	for i, n := range seq {
		seq[i] = fb.seq[n]
	}
	return fb.base, seq
}

func newFilteredView(root LogData, seq []int, order Order, scanned int) (*FilteredView, error) {
	if r, ok := root.(retainer); ok && !r.Retain() {
		return nil, fmt.Errorf("%w: base view no longer available", ErrReleased)
	}

	maxLength := 0
	for _, n := range seq {
		l, err := lineLength(root, n)
		if err != nil {
			release(root)
			return nil, err
		}
		maxLength = max(maxLength, l)
	}

	v := &FilteredView{
		base:      root,
		seq:       seq,
		maxLength: maxLength,
		order:     order,
		scanned:   scanned,
		ascending: increasing(seq),
	}
	v.refs.Store(1)
	return v, nil
}

func increasing(seq []int) bool {
	for i := 1; i < len(seq); i++ {
		if seq[i] <= seq[i-1] {
			return false
		}
	}
	return true
}

func release(root LogData) {
	if r, ok := root.(retainer); ok {
		r.Release()
	}
}

// LineCount returns total number of filtered lines
func (f *FilteredView) LineCount() int {
	return len(f.seq)
}

// MaxLength returns the longest included line
func (f *FilteredView) MaxLength() int {
	return f.maxLength
}

// LineString returns the text of filtered line n
func (f *FilteredView) LineString(n int) (string, error) {
	baseLine, err := f.locate(n)
	if err != nil {
		return "", err
	}
	return f.base.LineString(baseLine)
}

// Line returns filtered line n; OriginalIndex is its line number in the file
func (f *FilteredView) Line(n int) (*Line, error) {
	baseLine, err := f.locate(n)
	if err != nil {
		return nil, err
	}
	return f.base.Line(baseLine)
}

func (f *FilteredView) locate(n int) (int, error) {
	if n < 0 || n >= len(f.seq) {
		return 0, outOfRange(n, len(f.seq))
	}
	if f.refs.Load() <= 0 {
		return 0, fmt.Errorf("%w: filtered view", ErrReleased)
	}
	return f.seq[n], nil
}

// Lines returns a range of filtered lines
func (f *FilteredView) Lines(start, count int) ([]*Line, error) {
	return rangeLines(f, start, count)
}

// LineLength returns the length of filtered line n
func (f *FilteredView) LineLength(n int) (int, error) {
	if n < 0 || n >= len(f.seq) {
		return 0, outOfRange(n, len(f.seq))
	}
	return lineLength(f.base, f.seq[n])
}

// OriginalLineNumber returns the base line number for a filtered index,
// or -1 if out of range
func (f *FilteredView) OriginalLineNumber(n int) int {
	if n < 0 || n >= len(f.seq) {
		return -1
	}
	return f.seq[n]
}

// IndexOf returns the filtered index showing base line original, or -1
func (f *FilteredView) IndexOf(original int) int {
	if f.ascending {
		if i, ok := slices.BinarySearch(f.seq, original); ok {
			return i
		}
		return -1
	}
	return slices.Index(f.seq, original)
}

// Sequence returns a copy of the selected base line numbers
func (f *FilteredView) Sequence() []int {
	return slices.Clone(f.seq)
}

// Base returns the view the selection refers to
func (f *FilteredView) Base() LogData {
	return f.base
}

// Append returns a new view with extra base line numbers added at the end.
// The receiver is unchanged and the new view owns its own sequence.
func (f *FilteredView) Append(lines ...int) (*FilteredView, error) {
	total := f.base.LineCount()
	maxLength := f.maxLength
	for _, n := range lines {
		if n < 0 || n >= total {
			return nil, outOfRange(n, total)
		}
		l, err := lineLength(f.base, n)
		if err != nil {
			return nil, err
		}
		maxLength = max(maxLength, l)
	}

	ascending := f.ascending && increasing(lines)
	if ascending && len(f.seq) > 0 && len(lines) > 0 {
		ascending = lines[0] > f.seq[len(f.seq)-1]
	}

	if r, ok := f.base.(retainer); ok && !r.Retain() {
		return nil, fmt.Errorf("%w: base view no longer available", ErrReleased)
	}
	v := &FilteredView{
		ascending: ascending,
		base:      f.base,
		seq:       slices.Concat(f.seq, lines),
		maxLength: maxLength,
		order:     f.order,
		scanned:   f.scanned,
	}
	v.refs.Store(1)
	return v, nil
}

// Retain adds a reference to the view
func (f *FilteredView) Retain() bool {
	for {
		n := f.refs.Load()
		if n <= 0 {
			return false
		}
		if f.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference; the last one releases the base view
func (f *FilteredView) Release() error {
	n := f.refs.Add(-1)
	if n == 0 {
		if r, ok := f.base.(retainer); ok {
			return r.Release()
		}
		return nil
	}
	if n < 0 {
		f.refs.Store(0)
		return fmt.Errorf("%w: filtered view released too many times", ErrReleased)
	}
	return nil
}

// Filter evaluates pred over every line of base and returns the matching
// lines as a new view. The predicate receives each line's number in the
// file, so filtering a filtered view selects the same lines as filtering
// the file by both conditions. With Workers > 1 pred must be safe for
// concurrent use. Cancelling ctx abandons the work without touching base.
func Filter(ctx context.Context, base LogData, pred Predicate, opts FilterOptions) (*FilteredView, error) {
	total := base.LineCount()
	matches, err := evaluate(ctx, base, pred, 0, total, opts)
	if err != nil {
		return nil, err
	}

	root, seq := flatten(base, matches)
	if opts.Order == OrderReverse {
		slices.Reverse(seq)
	}
	return newFilteredView(root, seq, opts.Order, total)
}

// ExtendFilter evaluates pred over the lines base gained since prev was
// produced by Filter, for example after a followed file grew. base must be
// a later extension of the view prev was filtered from. The last line prev
// examined is evaluated again because it may have been an incomplete line.
func ExtendFilter(ctx context.Context, prev *FilteredView, base LogData, pred Predicate, opts FilterOptions) (*FilteredView, error) {
	total := base.LineCount()
	from := prev.scanned - 1
	if from < 0 {
		from = 0
	}
	if total < prev.scanned {
		return nil, fmt.Errorf("%w: base has %d lines, filter already scanned %d", ErrIncompatibleChange, total, prev.scanned)
	}

	matches, err := evaluate(ctx, base, pred, from, total, opts)
	if err != nil {
		return nil, err
	}
	root, added := flatten(base, matches)

	seq := slices.Clone(prev.seq)
	if prev.scanned > 0 {
		last := prev.scanned - 1
		if fb, ok := base.(*FilteredView); ok {
			last = fb.seq[last]
		}
		seq = slices.DeleteFunc(seq, func(n int) bool { return n == last })
	}

	if prev.order == OrderReverse {
		slices.Reverse(added)
		seq = append(added, seq...)
	} else {
		seq = append(seq, added...)
	}
	return newFilteredView(root, seq, prev.order, total)
}

// evaluate returns the base line numbers in [from, to) matching pred, in
// ascending order
func evaluate(ctx context.Context, base LogData, pred Predicate, from, to int, opts FilterOptions) ([]int, error) {
	chunkLines := opts.ChunkLines
	if chunkLines <= 0 {
		chunkLines = defaultChunkLines
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	nchunks := (to - from + chunkLines - 1) / chunkLines
	results := make([][]int, nchunks)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for c := 0; c < nchunks; c++ {
		start := from + c*chunkLines
		end := min(start+chunkLines, to)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var hits []int
			for n := start; n < end; n++ {
				if (n-start)%256 == 255 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				line, err := base.Line(n)
				if err != nil {
					return fmt.Errorf("filter line %d: %w", n, err)
				}
				if pred(line.OriginalIndex, line.Text) {
					hits = append(hits, n)
				}
			}
			results[c] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	metrics.FilterRuns.Inc()

	var matches []int
	for _, hits := range results {
		matches = append(matches, hits...)
	}
	return matches, nil
}
