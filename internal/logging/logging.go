package logging

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/TimelordUK/logdata/internal/config"
)

// New creates the root logger from the [log] config section. Output goes
// to stderr unless w is given.
func New(cfg *config.LogConfig, w io.Writer) hclog.Logger {
	if w == nil {
		w = os.Stderr
	}

	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       "logdata",
		Level:      level,
		Output:     w,
		JSONFormat: cfg.JSON,
	})
}

// OrNull returns l, or a logger that discards everything when l is nil
func OrNull(l hclog.Logger) hclog.Logger {
	if l == nil {
		return hclog.NewNullLogger()
	}
	return l
}
