package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseRange parses a 1-based inclusive range such as "1000-5000", "100-$"
// or "-500" into 0-based [start, end) bounds over total lines
func parseRange(spec string, total int) (int, int, error) {
	if spec == "" {
		return 0, total, nil
	}
	from, to, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid range %q: expected start-end", spec)
	}

	start := 1
	if from != "" && from != "." {
		n, err := strconv.Atoi(from)
		if err != nil || n < 1 {
			return 0, 0, fmt.Errorf("invalid range start %q", from)
		}
		start = n
	}

	end := total
	if to != "" && to != "$" {
		n, err := strconv.Atoi(to)
		if err != nil || n < start {
			return 0, 0, fmt.Errorf("invalid range end %q", to)
		}
		end = min(n, total)
	}

	return min(start-1, total), end, nil
}

// parseTimeInput parses a time given on the command line. Times without a
// date take the date of ref.
func parseTimeInput(input string, ref time.Time) (time.Time, bool) {
	layouts := []string{
		"15:04:05",
		"15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02T15:04:05",
	}

	for _, layout := range layouts {
		t, err := time.Parse(layout, input)
		if err != nil {
			continue
		}
		if layout == "15:04:05" || layout == "15:04" {
			t = time.Date(ref.Year(), ref.Month(), ref.Day(),
				t.Hour(), t.Minute(), t.Second(), 0, ref.Location())
		}
		return t, true
	}
	return time.Time{}, false
}
