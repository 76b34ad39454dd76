package generation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/TimelordUK/logdata/internal/config"
	"github.com/TimelordUK/logdata/internal/logging"
	"github.com/TimelordUK/logdata/internal/metrics"
	"github.com/TimelordUK/logdata/internal/source"
)

// EventKind describes what changed on a document
type EventKind int

const (
	EventPublished EventKind = iota // a new generation became current
	EventExtended                   // appended lines were indexed
	EventStale                      // the current view no longer matches the file
	EventFailed                     // a build failed
)

func (k EventKind) String() string {
	switch k {
	case EventPublished:
		return "published"
	case EventExtended:
		return "extended"
	case EventStale:
		return "stale"
	case EventFailed:
		return "failed"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is sent on Updates
type Event struct {
	Kind       EventKind
	Generation uuid.UUID
	Lines      int
	Err        error
}

// Status is a snapshot of a document's progress
type Status struct {
	State      source.State
	Generation uuid.UUID
	Lines      int
	Progress   int // percent of the in-flight build
	Err        error
}

// Document owns the successive generations of one file. Builds run in the
// background; a consumer keeps reading the current view until a new one is
// published atomically.
type Document struct {
	path   string
	cfg    *config.Config
	opts   source.Options
	logger hclog.Logger

	current atomic.Pointer[source.FileView]

	mu          sync.Mutex
	buildSeq    uint64
	buildCancel context.CancelFunc
	building    bool
	extending   bool
	identity    os.FileInfo // file identity of the current generation
	err         error

	progress atomic.Int64
	settled  chan struct{}
	settle   sync.Once
	updates  chan Event

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Open starts indexing path in the background and watching it for changes
func Open(ctx context.Context, path string, cfg *config.Config, logger hclog.Logger) (*Document, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	logger = logging.OrNull(logger).Named("generation").With("path", path)
	ctx, cancel := context.WithCancel(ctx)

	d := &Document{
		path:    filepath.Clean(path),
		cfg:     cfg,
		opts:    source.OptionsFromConfig(&cfg.Index, logger),
		logger:  logger,
		settled: make(chan struct{}),
		updates: make(chan Event, 16),
		ctx:     ctx,
		cancel:  cancel,
	}
	d.opts.OnProgress = func(scanned, total int64) {
		if total > 0 {
			d.progress.Store(scanned * 100 / total)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("file notifications unavailable, polling only", "error", err)
	} else if err := watcher.Add(filepath.Dir(d.path)); err != nil {
		logger.Warn("cannot watch directory, polling only", "error", err)
		watcher.Close()
	} else {
		d.watcher = watcher
	}

	d.Reload()

	d.wg.Add(1)
	go d.run()

	return d, nil
}

// Path returns the file path
func (d *Document) Path() string {
	return d.path
}

// Current returns the current view with a reference the caller must
// release, or nil if no generation is ready yet
func (d *Document) Current() *source.FileView {
	for {
		v := d.current.Load()
		if v == nil {
			return nil
		}
		if v.Retain() {
			return v
		}
		if d.current.Load() == v {
			return nil
		}
	}
}

// Updates delivers change notifications. Events are dropped when nobody
// keeps up with the channel.
func (d *Document) Updates() <-chan Event {
	return d.updates
}

// Wait blocks until the first build has finished. It returns the build
// error if no generation could be published.
func (d *Document) Wait(ctx context.Context) error {
	select {
	case <-d.settled:
	case <-ctx.Done():
		return ctx.Err()
	}
	if d.current.Load() == nil {
		return d.Err()
	}
	return nil
}

// Err returns the error of the last failed build, if any
func (d *Document) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Status reports the current state
func (d *Document) Status() Status {
	d.mu.Lock()
	building, err := d.building, d.err
	d.mu.Unlock()

	st := Status{State: source.StateBuilding, Err: err}
	if building {
		st.Progress = int(d.progress.Load())
	}
	if v := d.Current(); v != nil {
		st.State = v.State()
		st.Generation = v.Generation()
		st.Lines = v.LineCount()
		v.Release()
	}
	return st
}

// Reload starts indexing a new generation. A build already in flight is
// cancelled; the current view stays current until the new one is ready.
func (d *Document) Reload() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startBuildLocked()
}

func (d *Document) startBuildLocked() {
	if d.ctx.Err() != nil {
		return
	}
	if d.buildCancel != nil {
		d.buildCancel()
	}

	ctx, cancel := context.WithCancel(d.ctx)
	d.buildCancel = cancel
	d.buildSeq++
	seq := d.buildSeq
	d.building = true
	d.progress.Store(0)

	identity, statErr := os.Stat(d.path)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()

		var v *source.FileView
		err := statErr
		if err == nil {
			v, err = source.OpenFile(ctx, d.path, d.opts)
		}
		d.finishBuild(seq, identity, v, err)
	}()
}

func (d *Document) finishBuild(seq uint64, identity os.FileInfo, v *source.FileView, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if seq != d.buildSeq || d.ctx.Err() != nil {
		// superseded by a newer build or closed
		if v != nil {
			v.Release()
		}
		return
	}
	d.building = false
	d.buildCancel = nil

	if err != nil {
		if errors.Is(err, source.ErrIndexingCancelled) {
			d.logger.Debug("build cancelled")
			return
		}
		d.err = err
		d.logger.Error("build failed", "error", err)
		d.notify(Event{Kind: EventFailed, Err: err})
		d.settle.Do(func() { close(d.settled) })
		return
	}

	d.err = nil
	d.identity = identity
	d.publishLocked(v)
	d.logger.Info("generation ready", "generation", v.Generation(), "lines", v.LineCount(), "max_length", v.MaxLength())
	d.notify(Event{Kind: EventPublished, Generation: v.Generation(), Lines: v.LineCount()})
	d.settle.Do(func() { close(d.settled) })
}

// publishLocked makes v current; the document keeps v's initial reference
func (d *Document) publishLocked(v *source.FileView) {
	if old := d.current.Swap(v); old != nil {
		old.Release()
	}
	metrics.CurrentGenerationLines.Set(float64(v.LineCount()))
}

func (d *Document) notify(ev Event) {
	select {
	case d.updates <- ev:
	default:
		d.logger.Debug("update dropped", "kind", ev.Kind)
	}
}

// run polls and listens for file notifications until Close
func (d *Document) run() {
	defer d.wg.Done()

	var tick <-chan time.Time
	if d.cfg.Watch.PollMs > 0 {
		ticker := time.NewTicker(time.Duration(d.cfg.Watch.PollMs) * time.Millisecond)
		defer ticker.Stop()
		tick = ticker.C
	}

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if d.watcher != nil {
		events = d.watcher.Events
		watchErrs = d.watcher.Errors
	}

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-tick:
			d.Check()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == d.path {
				d.Check()
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			d.logger.Warn("watch error", "error", err)
		}
	}
}

// Check compares the file with the current view. Truncation, rotation
// and removal mark the view stale (and rebuild when auto_reload is on);
// growth is indexed incrementally when follow is on.
func (d *Document) Check() {
	d.mu.Lock()

	cur := d.current.Load()
	if cur == nil || d.building || d.extending || d.ctx.Err() != nil {
		d.mu.Unlock()
		return
	}

	info, err := os.Stat(d.path)
	indexed := cur.Index().Size()
	switch {
	case err != nil:
		d.staleLocked(cur, fmt.Errorf("%w: %v", source.ErrIncompatibleChange, err))
		d.mu.Unlock()

	case !os.SameFile(info, d.identity) || info.Size() < indexed:
		d.staleLocked(cur, fmt.Errorf("%w: %s replaced or truncated (%d -> %d bytes)",
			source.ErrIncompatibleChange, d.path, indexed, info.Size()))
		if d.cfg.Watch.AutoReload {
			d.startBuildLocked()
		}
		d.mu.Unlock()

	case info.Size() > indexed && d.cfg.Watch.Follow && cur.State() == source.StateReady:
		if !cur.Retain() {
			// released by a concurrent Close
			d.mu.Unlock()
			return
		}
		d.extending = true
		d.mu.Unlock()
		d.extend(cur)

	default:
		d.mu.Unlock()
	}
}

func (d *Document) staleLocked(cur *source.FileView, reason error) {
	if !cur.MarkStale() {
		return
	}
	d.logger.Warn("view is stale", "generation", cur.Generation(), "reason", reason)
	d.notify(Event{Kind: EventStale, Generation: cur.Generation(), Lines: cur.LineCount(), Err: reason})
}

// extend indexes appended bytes outside the lock; cur carries a reference
func (d *Document) extend(cur *source.FileView) {
	next, err := source.ExtendFile(d.ctx, cur, d.opts)
	cur.Release()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.extending = false

	if d.current.Load() != cur || d.ctx.Err() != nil {
		if next != nil {
			next.Release()
		}
		return
	}

	if err != nil {
		if errors.Is(err, source.ErrIncompatibleChange) {
			d.staleLocked(cur, err)
			if d.cfg.Watch.AutoReload {
				d.startBuildLocked()
			}
			return
		}
		d.logger.Warn("extend failed", "error", err)
		return
	}

	added := next.LineCount() - cur.LineCount()
	d.publishLocked(next)
	d.logger.Debug("indexed appended lines", "added", added, "lines", next.LineCount())
	d.notify(Event{Kind: EventExtended, Generation: next.Generation(), Lines: next.LineCount()})
}

// Close stops background work and releases the document's view. Views
// obtained from Current stay readable until their holders release them.
func (d *Document) Close() error {
	d.cancel()

	d.mu.Lock()
	if d.buildCancel != nil {
		d.buildCancel()
	}
	d.mu.Unlock()

	var err error
	if d.watcher != nil {
		err = d.watcher.Close()
	}

	// Wait for goroutines to finish
	d.wg.Wait()
	d.settle.Do(func() { close(d.settled) })

	if v := d.current.Swap(nil); v != nil {
		if rerr := v.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}
