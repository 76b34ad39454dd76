package main

import (
	"bufio"
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/go-hclog"

	"github.com/TimelordUK/logdata/internal/generation"
	"github.com/TimelordUK/logdata/internal/source"
)

// printer writes the lines of the current view, filtered when a predicate
// is set, and keeps up with a followed document
type printer struct {
	out        *bufio.Writer
	pred       source.Predicate
	numbers    bool
	filterOpts source.FilterOptions
	logger     hclog.Logger

	view     *source.FileView
	filtered *source.FilteredView
	data     source.LogData
	next     int // first file line not yet printed
}

// load makes v the printed view, filtering it from scratch
func (p *printer) load(ctx context.Context, v *source.FileView) error {
	var filtered *source.FilteredView
	if p.pred != nil {
		var err error
		if filtered, err = source.Filter(ctx, v, p.pred, p.filterOpts); err != nil {
			return err
		}
	}
	p.swap(v, filtered)
	p.next = 0
	return nil
}

// extend moves to v, a later index of the same generation
func (p *printer) extend(ctx context.Context, v *source.FileView) error {
	var filtered *source.FilteredView
	if p.filtered != nil {
		var err error
		if filtered, err = source.ExtendFilter(ctx, p.filtered, v, p.pred, p.filterOpts); err != nil {
			return err
		}
	}
	p.swap(v, filtered)
	return nil
}

func (p *printer) swap(v *source.FileView, filtered *source.FilteredView) {
	if p.filtered != nil {
		p.filtered.Release()
	}
	if p.view != nil && p.view != v {
		p.view.Release()
	}
	p.view, p.filtered = v, filtered
	p.data = v
	if filtered != nil {
		p.data = filtered
	}
}

// print writes lines [start, end) of the printed view
func (p *printer) print(start, end int) error {
	for i := start; i < end; i++ {
		line, err := p.data.Line(i)
		if err != nil {
			return err
		}
		p.write(line)
	}
	return p.out.Flush()
}

func (p *printer) write(line *source.Line) {
	if p.numbers {
		fmt.Fprintf(p.out, "%6d  ", line.OriginalIndex+1)
	}
	p.out.WriteString(line.Text)
	p.out.WriteByte('\n')
	p.next = max(p.next, line.OriginalIndex+1)
}

// printNew writes terminated lines past the last printed one. A line still
// being written waits for the next update.
func (p *printer) printNew() error {
	complete := p.complete()

	from := p.next
	if p.filtered != nil {
		from = sort.Search(p.filtered.LineCount(), func(i int) bool {
			return p.filtered.OriginalLineNumber(i) >= p.next
		})
	}

	for i := from; i < p.data.LineCount(); i++ {
		line, err := p.data.Line(i)
		if err != nil {
			return err
		}
		if line.OriginalIndex >= complete {
			break
		}
		p.write(line)
	}
	return p.out.Flush()
}

// complete returns the number of terminated lines in the current view
func (p *printer) complete() int {
	n := p.view.LineCount()
	if p.view.Index().Provisional() {
		n--
	}
	return n
}

// followUpdates prints lines appended after the ones already shown until
// ctx is cancelled
func (p *printer) followUpdates(ctx context.Context, doc *generation.Document) error {
	p.next = max(p.next, p.complete())
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-doc.Updates():
			switch ev.Kind {
			case generation.EventStale:
				p.logger.Warn("file changed underneath", "error", ev.Err)
				continue
			case generation.EventFailed:
				p.logger.Error("indexing failed", "error", ev.Err)
				continue
			}

			v := doc.Current()
			if v == nil || v == p.view {
				if v != nil {
					v.Release()
				}
				continue
			}
			var err error
			if v.Generation() == p.view.Generation() {
				err = p.extend(ctx, v)
			} else {
				p.logger.Info("file replaced, starting over", "generation", v.Generation())
				err = p.load(ctx, v)
			}
			if err != nil {
				v.Release()
				return err
			}
			if err := p.printNew(); err != nil {
				return err
			}
		}
	}
}

func (p *printer) close() {
	if p.filtered != nil {
		p.filtered.Release()
	}
	if p.view != nil {
		p.view.Release()
	}
}
