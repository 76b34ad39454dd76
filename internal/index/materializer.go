package index

import (
	"bytes"
	"fmt"

	"github.com/TimelordUK/logdata/internal/charset"
	mlessio "github.com/TimelordUK/logdata/internal/io"
	"github.com/TimelordUK/logdata/internal/metrics"
)

// Text is one materialized line
type Text struct {
	Text      string
	Degraded  bool // some bytes could not be decoded
	Truncated bool // the line was longer than the cap
}

// Materializer reads and decodes single lines on demand. It holds no
// cache and never reads more than one line's bytes per call.
type Materializer struct {
	src     mlessio.ByteSource
	decoder *charset.Decoder
	cap     int
	stripCR bool
}

// NewMaterializer creates a materializer. lengthCap of 0 reads lines in full.
func NewMaterializer(src mlessio.ByteSource, decoder *charset.Decoder, lengthCap int, stripCR bool) *Materializer {
	return &Materializer{
		src:     src,
		decoder: decoder,
		cap:     lengthCap,
		stripCR: stripCR,
	}
}

// Read returns the text of the line at e
func (m *Materializer) Read(e Entry) (Text, error) {
	length := int64(e.Length)
	truncated := false
	if m.cap > 0 && length > int64(m.cap) {
		length = int64(m.cap)
		truncated = true
	}

	start := int64(e.Offset)
	raw, err := mlessio.ReadRange(m.src, start, start+length)
	if err != nil {
		metrics.MaterializeErrors.Inc()
		return Text{}, err
	}
	if int64(len(raw)) < length {
		metrics.MaterializeErrors.Inc()
		return Text{}, fmt.Errorf("%w: %s: line at %d needs %d bytes, source has %d",
			mlessio.ErrSourceUnavailable, m.src.Path(), start, length, m.src.Size())
	}

	if m.stripCR && !truncated {
		raw = bytes.TrimSuffix(raw, []byte{'\r'})
	}

	text, degraded := m.decoder.Decode(raw)
	if degraded {
		metrics.DegradedLines.Inc()
	}
	return Text{Text: text, Degraded: degraded, Truncated: truncated}, nil
}
