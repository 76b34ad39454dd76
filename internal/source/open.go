package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/TimelordUK/logdata/internal/charset"
	"github.com/TimelordUK/logdata/internal/config"
	"github.com/TimelordUK/logdata/internal/index"
	mlessio "github.com/TimelordUK/logdata/internal/io"
	"github.com/TimelordUK/logdata/internal/metrics"
)

// Options controls how files are indexed and decoded
type Options struct {
	Access           mlessio.Access
	Terminator       []byte
	Encoding         string
	MaxLineLengthCap int
	ChunkSize        int
	StripCR          bool

	OnProgress func(scanned, total int64)
	Logger     hclog.Logger
}

// OptionsFromConfig converts the [index] config section
func OptionsFromConfig(cfg *config.IndexConfig, logger hclog.Logger) Options {
	return Options{
		Access:           mlessio.Access(cfg.Access),
		Terminator:       []byte(cfg.LineTerminator),
		Encoding:         cfg.Encoding,
		MaxLineLengthCap: cfg.MaxLineLengthCap,
		ChunkSize:        cfg.ChunkSize,
		StripCR:          cfg.StripCR,
		Logger:           logger,
	}
}

func (o Options) indexer() *index.Indexer {
	return &index.Indexer{
		Terminator:       o.Terminator,
		ChunkSize:        o.ChunkSize,
		MaxLineLengthCap: o.MaxLineLengthCap,
		OnProgress:       o.OnProgress,
		Logger:           o.Logger,
	}
}

// OpenFile opens path and indexes it as a new generation
func OpenFile(ctx context.Context, path string, opts Options) (*FileView, error) {
	src, err := mlessio.Open(path, opts.Access)
	if err != nil {
		return nil, err
	}
	return FromSource(ctx, src, opts)
}

// FromSource indexes src as a new generation. The returned view owns src;
// on error src is closed.
func FromSource(ctx context.Context, src mlessio.ByteSource, opts Options) (*FileView, error) {
	handle := mlessio.NewHandle(src)
	defer handle.Release()

	decoder, err := charset.Lookup(opts.Encoding)
	if err != nil {
		return nil, err
	}

	metrics.BuildsStarted.Inc()
	idx, err := opts.indexer().Build(ctx, src)
	if err != nil {
		countFailure(err)
		return nil, err
	}

	m := index.NewMaterializer(src, decoder, opts.MaxLineLengthCap, opts.StripCR)
	return NewFileView(idx, handle, m, uuid.New())
}

// ExtendFile re-opens prev's file and indexes bytes appended since prev
// was built. The result belongs to the same generation as prev; prev is
// left untouched.
func ExtendFile(ctx context.Context, prev *FileView, opts Options) (*FileView, error) {
	src, err := mlessio.Open(prev.Path(), opts.Access)
	if err != nil {
		return nil, err
	}
	handle := mlessio.NewHandle(src)
	defer handle.Release()

	decoder, err := charset.Lookup(opts.Encoding)
	if err != nil {
		return nil, err
	}

	metrics.BuildsStarted.Inc()
	idx, err := opts.indexer().Extend(ctx, prev.Index(), src)
	if err != nil {
		countFailure(err)
		return nil, fmt.Errorf("extend %s: %w", prev.Path(), err)
	}

	m := index.NewMaterializer(src, decoder, opts.MaxLineLengthCap, opts.StripCR)
	return NewFileView(idx, handle, m, prev.Generation())
}

func countFailure(err error) {
	if errors.Is(err, ErrIndexingCancelled) || errors.Is(err, ErrIncompatibleChange) {
		return
	}
	metrics.BuildsFailed.Inc()
}
