package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TimelordUK/logdata/internal/config"
	"github.com/TimelordUK/logdata/internal/consolidate"
	"github.com/TimelordUK/logdata/internal/generation"
	"github.com/TimelordUK/logdata/internal/logging"
	"github.com/TimelordUK/logdata/internal/metrics"
	"github.com/TimelordUK/logdata/internal/slice"
	"github.com/TimelordUK/logdata/internal/source"
	"github.com/TimelordUK/logdata/pkg/logformat"
)

type options struct {
	configPath  string
	encoding    string
	grep        string
	level       string
	sliceRange  string
	gotoTime    string
	output      string
	follow      bool
	reverse     bool
	numbers     bool
	stats       bool
	prime       int
	metricsAddr string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "c", "", "Config file (default $XDG_CONFIG_HOME/logdata/config.toml)")
	flag.StringVar(&opts.encoding, "e", "", "Text encoding (e.g. utf-8, latin1, utf-16le)")
	flag.StringVar(&opts.grep, "grep", "", "Only lines containing this text")
	flag.StringVar(&opts.level, "level", "", "Only lines at or above this level (e.g. warn)")
	flag.StringVar(&opts.sliceRange, "S", "", "Slice range (e.g., 1000-5000, 100-$)")
	flag.StringVar(&opts.gotoTime, "t", "", "Start at time (e.g., 14:00, 14:30:00)")
	flag.StringVar(&opts.output, "o", "", "Write the selected lines to a file")
	flag.BoolVar(&opts.follow, "follow", false, "Keep printing lines as the file grows")
	flag.BoolVar(&opts.reverse, "r", false, "Most recent matching line first")
	flag.BoolVar(&opts.numbers, "n", false, "Prefix lines with their line number")
	flag.BoolVar(&opts.stats, "stats", false, "Print line count and longest line, then exit")
	flag.IntVar(&opts.prime, "prime", 100, "Lines of each file to start with when merging")
	flag.StringVar(&opts.metricsAddr, "metrics", "", "Serve Prometheus metrics on this address")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: logdata [flags] <file> [file...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts, flag.Args()); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(opts options) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if opts.encoding != "" {
		cfg.Index.Encoding = opts.encoding
	}
	if opts.follow {
		cfg.Watch.Follow = true
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, opts options, paths []string) error {
	if opts.follow && (opts.reverse || opts.output != "") {
		return errors.New("-follow cannot be combined with -r or -o")
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger := logging.New(&cfg.Log, os.Stderr)
	pred, err := buildPredicate(cfg, opts)
	if err != nil {
		return err
	}

	if opts.metricsAddr != "" {
		serveMetrics(opts.metricsAddr, logger)
	}

	path := paths[0]
	if len(paths) > 1 {
		w, err := consolidate.NewWriter(ctx, paths, consolidate.Options{
			PrimeLines:   opts.prime,
			PollInterval: time.Duration(cfg.Watch.PollMs) * time.Millisecond,
			Source:       source.OptionsFromConfig(&cfg.Index, logger),
			Logger:       logger,
		})
		if err != nil {
			return err
		}
		defer w.Close()
		w.Run()
		path = w.OutputPath()
	}

	doc, err := generation.Open(ctx, path, cfg, logger)
	if err != nil {
		return err
	}
	defer doc.Close()

	if err := doc.Wait(ctx); err != nil {
		return err
	}
	view := doc.Current()
	if view == nil {
		return fmt.Errorf("%s: no generation available", path)
	}

	if opts.stats {
		defer view.Release()
		fmt.Printf("%s\nlines: %d\nlongest: %d\ngeneration: %s\n",
			view.Path(), view.LineCount(), view.MaxLength(), view.Generation())
		first, ok, err := firstStamp(view, logformat.NewTimestampParser())
		if err != nil {
			return err
		}
		if ok {
			fmt.Printf("first timestamp: %s\n", logformat.FormatTimeWithDate(first))
		}
		return nil
	}

	p := &printer{
		out:     bufio.NewWriter(os.Stdout),
		pred:    pred,
		numbers: opts.numbers,
		filterOpts: source.FilterOptions{
			Workers:    cfg.Filter.Workers,
			ChunkLines: cfg.Filter.ChunkLines,
		},
		logger: logger,
	}
	if opts.reverse {
		p.filterOpts.Order = source.OrderReverse
	}
	defer p.close()

	if err := p.load(ctx, view); err != nil {
		view.Release()
		return err
	}

	start, end, err := parseRange(opts.sliceRange, p.data.LineCount())
	if err != nil {
		return err
	}
	if opts.gotoTime != "" {
		if start, err = seekTime(p.data, opts.gotoTime, start); err != nil {
			return err
		}
	}

	if opts.output != "" {
		return save(p.data, path, opts.output, start, end)
	}

	if err := p.print(start, end); err != nil {
		return err
	}
	if !opts.follow {
		return nil
	}
	return p.followUpdates(ctx, doc)
}

func buildPredicate(cfg *config.Config, opts options) (source.Predicate, error) {
	var preds []source.Predicate
	if opts.grep != "" {
		preds = append(preds, func(_ int, text string) bool {
			return strings.Contains(text, opts.grep)
		})
	}
	if opts.level != "" {
		floor := logformat.ParseLevel(opts.level)
		if floor == logformat.LevelUnknown {
			return nil, fmt.Errorf("unknown level %q", opts.level)
		}
		detector := logformat.NewLevelDetector(&cfg.LogLevels)
		preds = append(preds, detector.AtLeast(floor))
	}

	switch len(preds) {
	case 0:
		return nil, nil
	case 1:
		return preds[0], nil
	}
	return func(line int, text string) bool {
		for _, p := range preds {
			if !p(line, text) {
				return false
			}
		}
		return true
	}, nil
}

// seekTime returns the first line at or after the requested time, never
// earlier than fallback
func seekTime(data source.LogData, input string, fallback int) (int, error) {
	parser := logformat.NewTimestampParser()

	ref, ok, err := firstStamp(data, parser)
	if err != nil {
		return 0, err
	}
	if !ok {
		ref = time.Now()
	}

	target, ok := parseTimeInput(input, ref)
	if !ok {
		return 0, fmt.Errorf("invalid time %q", input)
	}
	line, err := parser.FindLineAtTime(data, target)
	if err != nil {
		return 0, err
	}
	if line < 0 {
		return data.LineCount(), nil
	}
	return max(line, fallback), nil
}

// firstStamp returns the timestamp of the first stamped line among the
// first few lines of data
func firstStamp(data source.LogData, parser *logformat.TimestampParser) (time.Time, bool, error) {
	for i := 0; i < min(data.LineCount(), 256); i++ {
		text, err := data.LineString(i)
		if err != nil {
			return time.Time{}, false, err
		}
		if t, ok := parser.Parse(text); ok {
			return t, true, nil
		}
	}
	return time.Time{}, false, nil
}

func save(data source.LogData, sourcePath, output string, start, end int) error {
	s := slice.NewSlicerIn(filepath.Dir(output))
	info, err := s.SliceRange(data, sourcePath, start, end)
	if err != nil {
		return err
	}
	if err := os.Rename(info.CachePath, output); err != nil {
		s.Cleanup(info)
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %d lines to %s\n", info.Lines, output)
	return nil
}

func serveMetrics(addr string, logger hclog.Logger) {
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		logger.Warn("metrics registration failed", "error", err)
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
}
