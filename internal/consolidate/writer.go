package consolidate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/TimelordUK/logdata/internal/logging"
	"github.com/TimelordUK/logdata/internal/source"
)

// DefaultPollInterval is used when Options.PollInterval is zero
const DefaultPollInterval = 250 * time.Millisecond

// Options configures a Writer
type Options struct {
	Dir          string        // directory for the output file, os.TempDir() if empty
	PrimeLines   int           // last N lines of each source written at start; 0 tails only
	PollInterval time.Duration // how often sources are checked for growth
	NoPrefix     bool          // omit the "[source:line] " prefix

	Source source.Options
	Logger hclog.Logger
}

// SourceWatcher tracks a single file source for the consolidated writer
type SourceWatcher struct {
	view     *source.FileView
	name     string // Display name (basename)
	position int    // Next line to write
	enabled  bool   // Include in output
}

// Writer merges multiple log files into a single consolidated output file
type Writer struct {
	sources    []*SourceWatcher
	outputPath string
	output     *os.File
	opts       Options
	logger     hclog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWriter indexes every path and creates the output file. Run must be
// called to start tailing.
func NewWriter(ctx context.Context, paths []string, opts Options) (*Writer, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no source files provided")
	}
	if opts.Dir == "" {
		opts.Dir = os.TempDir()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	logger := logging.OrNull(opts.Logger).Named("consolidate")

	var sources []*SourceWatcher
	closeSources := func() {
		for _, sw := range sources {
			sw.view.Release()
		}
	}
	for _, path := range paths {
		v, err := source.OpenFile(ctx, path, opts.Source)
		if err != nil {
			closeSources()
			return nil, fmt.Errorf("failed to open source %s: %w", path, err)
		}
		sources = append(sources, &SourceWatcher{
			view:    v,
			name:    filepath.Base(path),
			enabled: true,
		})
	}

	outputPath := filepath.Join(opts.Dir, fmt.Sprintf("logdata-consolidated-%s.log", uuid.NewString()))
	output, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		closeSources()
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &Writer{
		sources:    sources,
		outputPath: outputPath,
		output:     output,
		opts:       opts,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}

	for _, sw := range w.sources {
		sw.position = max(complete(sw.view)-opts.PrimeLines, 0)
	}
	if err := w.flush(); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// complete returns the number of terminated lines in v. A trailing line
// still being written is left for a later poll.
func complete(v *source.FileView) int {
	n := v.LineCount()
	if v.Index().Provisional() {
		n--
	}
	return n
}

// Run starts the polling loop in a goroutine
func (w *Writer) Run() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		ticker := time.NewTicker(w.opts.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-w.ctx.Done():
				return
			case <-ticker.C:
				w.Poll()
			}
		}
	}()
}

// Poll checks all sources for new lines and writes them to output
func (w *Writer) Poll() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sw := range w.sources {
		if !sw.enabled {
			continue
		}
		if err := w.refresh(sw); err != nil {
			w.logger.Warn("refresh failed", "source", sw.name, "error", err)
		}
	}
	if err := w.flush(); err != nil {
		w.logger.Error("write failed", "error", err)
	}
}

// refresh swaps sw's view for one covering the file's current content
func (w *Writer) refresh(sw *SourceWatcher) error {
	fi, err := os.Stat(sw.view.Path())
	if err != nil {
		return err
	}
	if fi.Size() == sw.view.Index().Size() {
		return nil
	}

	next, err := source.ExtendFile(w.ctx, sw.view, w.opts.Source)
	if errors.Is(err, source.ErrIncompatibleChange) {
		// truncated or rotated: start over on the new content
		w.logger.Info("source restarted", "source", sw.name, "reason", err)
		next, err = source.OpenFile(w.ctx, sw.view.Path(), w.opts.Source)
		if err == nil {
			sw.position = 0
		}
	}
	if err != nil {
		return err
	}

	sw.view.Release()
	sw.view = next
	return nil
}

// flush writes every source's unwritten complete lines
func (w *Writer) flush() error {
	out := bufio.NewWriter(w.output)
	wrote := false

	for _, sw := range w.sources {
		if !sw.enabled {
			continue
		}
		end := complete(sw.view)
		for i := sw.position; i < end; i++ {
			text, err := sw.view.LineString(i)
			if err != nil {
				w.logger.Warn("skipping unreadable line", "source", sw.name, "line", i, "error", err)
				continue
			}
			if !w.opts.NoPrefix {
				fmt.Fprintf(out, "[%s:%d] ", sw.name, i+1) // 1-based line numbers
			}
			out.WriteString(text)
			out.WriteByte('\n')
			wrote = true
		}
		if end > sw.position {
			sw.position = end
		}
	}

	if !wrote {
		return nil
	}
	if err := out.Flush(); err != nil {
		return fmt.Errorf("failed to write %s: %w", w.outputPath, err)
	}
	// Sync to disk so readers of the output see the lines
	return w.output.Sync()
}

// OutputPath returns the path to the consolidated output file
func (w *Writer) OutputPath() string {
	return w.outputPath
}

// SourceCount returns the number of source files
func (w *Writer) SourceCount() int {
	return len(w.sources)
}

// SetEnabled enables or disables a source by name
func (w *Writer) SetEnabled(name string, enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sw := range w.sources {
		if sw.name == name {
			sw.enabled = enabled
			return
		}
	}
}

// Close stops the writer, releases the sources and removes the output file
func (w *Writer) Close() error {
	w.cancel()
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sw := range w.sources {
		sw.view.Release()
	}
	err := w.output.Close()
	if rmErr := os.Remove(w.outputPath); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}
