package logformat

import (
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/TimelordUK/logdata/internal/source"
)

// TimestampParser detects and parses timestamps from log lines
type TimestampParser struct {
	patterns []timestampPattern
	now      func() time.Time
}

type timestampPattern struct {
	regex   *regexp.Regexp
	layouts []string
}

// maxBackscan bounds how far FindLineAtTime looks back for a stamped line
const maxBackscan = 256

const (
	layoutUnix   = "unix"
	layoutUnixMs = "unix_ms"
)

// NewTimestampParser creates a parser with common timestamp formats
func NewTimestampParser() *TimestampParser {
	return &TimestampParser{
		now: time.Now,
		patterns: []timestampPattern{
			// 2024-01-15T10:30:45.123Z, 2024-01-15T10:30:45+00:00
			{
				regex:   regexp.MustCompile(`(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2})?)`),
				layouts: []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"},
			},
			// [2024-01-15 10:30:45.123] and 2024-01-15 10:30:45
			{
				regex:   regexp.MustCompile(`(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}(?:\.\d{3})?)`),
				layouts: []string{"2006-01-02 15:04:05.000", "2006-01-02 15:04:05"},
			},
			// Apache/nginx: 15/Jan/2024:10:30:45 +0000
			{
				regex:   regexp.MustCompile(`(\d{2}/[A-Z][a-z]{2}/\d{4}:\d{2}:\d{2}:\d{2} [+-]\d{4})`),
				layouts: []string{"02/Jan/2006:15:04:05 -0700"},
			},
			// Syslog: Jan 15 10:30:45
			{
				regex:   regexp.MustCompile(`([A-Z][a-z]{2} +\d{1,2} \d{2}:\d{2}:\d{2})`),
				layouts: []string{"Jan _2 15:04:05", "Jan 2 15:04:05"},
			},
			// Unix seconds or milliseconds at line start
			{
				regex:   regexp.MustCompile(`^(\d{13})(?:\D|$)`),
				layouts: []string{layoutUnixMs},
			},
			{
				regex:   regexp.MustCompile(`^(\d{10})(?:\D|$)`),
				layouts: []string{layoutUnix},
			},
			// Time only at line start (assume today): 10:30:45.123
			{
				regex:   regexp.MustCompile(`^(\d{2}:\d{2}:\d{2}(?:\.\d{3})?)`),
				layouts: []string{"15:04:05.000", "15:04:05"},
			},
		},
	}
}

// Parse attempts to extract a timestamp from a log line
func (p *TimestampParser) Parse(line string) (time.Time, bool) {
	for _, pattern := range p.patterns {
		matches := pattern.regex.FindStringSubmatch(line)
		if len(matches) < 2 {
			continue
		}
		if t, ok := p.parseMatch(matches[1], pattern.layouts); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func (p *TimestampParser) parseMatch(s string, layouts []string) (time.Time, bool) {
	for _, layout := range layouts {
		switch layout {
		case layoutUnix, layoutUnixMs:
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return time.Time{}, false
			}
			if layout == layoutUnix {
				return time.Unix(n, 0), true
			}
			return time.UnixMilli(n), true
		}

		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		now := p.now()
		switch layout {
		case "15:04:05", "15:04:05.000":
			t = time.Date(now.Year(), now.Month(), now.Day(),
				t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.Local)
		case "Jan _2 15:04:05", "Jan 2 15:04:05":
			// syslog has no year
			t = time.Date(now.Year(), t.Month(), t.Day(),
				t.Hour(), t.Minute(), t.Second(), 0, time.Local)
		}
		return t, true
	}
	return time.Time{}, false
}

// Between matches lines stamped within [from, to). A zero bound is open.
// Lines without a timestamp never match.
func (p *TimestampParser) Between(from, to time.Time) source.Predicate {
	return func(_ int, text string) bool {
		t, ok := p.Parse(text)
		if !ok {
			return false
		}
		if !from.IsZero() && t.Before(from) {
			return false
		}
		if !to.IsZero() && !t.Before(to) {
			return false
		}
		return true
	}
}

// FindLineAtTime returns the first line of data stamped at or after target,
// assuming timestamps ascend through the view. Lines without a timestamp
// take the stamp of the nearest stamped line before them, within
// maxBackscan lines. Returns -1 when no line qualifies.
func (p *TimestampParser) FindLineAtTime(data source.LogData, target time.Time) (int, error) {
	var readErr error
	n := data.LineCount()

	stampAt := func(i int) (time.Time, bool) {
		for j := i; j >= 0 && i-j < maxBackscan; j-- {
			text, err := data.LineString(j)
			if err != nil {
				readErr = err
				return time.Time{}, false
			}
			if t, ok := p.Parse(text); ok {
				return t, true
			}
		}
		return time.Time{}, false
	}

	i := sort.Search(n, func(i int) bool {
		if readErr != nil {
			return true
		}
		t, ok := stampAt(i)
		return ok && !t.Before(target)
	})
	if readErr != nil {
		return -1, readErr
	}
	if i >= n {
		return -1, nil
	}
	return i, nil
}

// FormatTimeWithDate formats a timestamp with date for display
func FormatTimeWithDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}
