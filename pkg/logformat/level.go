package logformat

import (
	"strings"

	"github.com/TimelordUK/logdata/internal/config"
	"github.com/TimelordUK/logdata/internal/source"
)

// Level represents a log severity level
type Level int

const (
	LevelUnknown Level = iota
	LevelTrace
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// severityOrder lists levels most specific first
var severityOrder = []Level{LevelFatal, LevelError, LevelWarn, LevelInfo, LevelDebug, LevelTrace}

// LevelDetector detects log levels from line content
type LevelDetector struct {
	patterns map[Level][]string
}

// NewLevelDetector creates a detector from config
func NewLevelDetector(cfg *config.LogLevelConfig) *LevelDetector {
	return &LevelDetector{
		patterns: map[Level][]string{
			LevelTrace: cfg.TracePatterns,
			LevelDebug: cfg.DebugPatterns,
			LevelInfo:  cfg.InfoPatterns,
			LevelWarn:  cfg.WarnPatterns,
			LevelError: cfg.ErrorPatterns,
			LevelFatal: cfg.FatalPatterns,
		},
	}
}

// Detect returns the log level for a line
func (d *LevelDetector) Detect(line string) Level {
	// Check fatal first as it's most important to identify
	for _, level := range severityOrder {
		for _, pattern := range d.patterns[level] {
			if strings.Contains(line, pattern) {
				return level
			}
		}
	}
	return LevelUnknown
}

// AtLeast matches lines whose detected level is min or more severe
func (d *LevelDetector) AtLeast(min Level) source.Predicate {
	return func(_ int, text string) bool {
		return d.Detect(text) >= min
	}
}

// Only matches lines whose detected level is one of levels
func (d *LevelDetector) Only(levels ...Level) source.Predicate {
	want := make(map[Level]bool, len(levels))
	for _, l := range levels {
		want[l] = true
	}
	return func(_ int, text string) bool {
		return want[d.Detect(text)]
	}
}

// ParseLevel maps a level name such as "warn" or "ERROR" to a Level
func ParseLevel(name string) Level {
	switch strings.ToLower(name) {
	case "trace", "trc":
		return LevelTrace
	case "debug", "dbg":
		return LevelDebug
	case "info", "inf":
		return LevelInfo
	case "warn", "wrn", "warning":
		return LevelWarn
	case "error", "err":
		return LevelError
	case "fatal", "ftl", "crit", "critical":
		return LevelFatal
	}
	return LevelUnknown
}
