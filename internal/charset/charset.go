// Package charset decodes raw line bytes into text. Decoding never fails:
// bytes that cannot be decoded are replaced and the result is flagged as
// degraded.
package charset

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// Decoder turns raw line bytes into text
type Decoder struct {
	name string
	enc  encoding.Encoding // nil means UTF-8 fast path
}

// Lookup resolves a charset identifier such as "utf-8", "latin1",
// "windows-1252" or "utf-16le". An empty name selects UTF-8.
func Lookup(name string) (*Decoder, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	switch normalized {
	case "", "utf-8", "utf8":
		return &Decoder{name: "utf-8"}, nil
	case "utf-16le":
		return &Decoder{name: normalized, enc: unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)}, nil
	case "utf-16be":
		return &Decoder{name: normalized, enc: unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)}, nil
	}

	enc, err := htmlindex.Get(normalized)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	canonical, err := htmlindex.Name(enc)
	if err != nil {
		canonical = normalized
	}
	if canonical == "utf-8" {
		return &Decoder{name: canonical}, nil
	}
	return &Decoder{name: canonical, enc: enc}, nil
}

// Name returns the canonical encoding name
func (d *Decoder) Name() string {
	return d.name
}

// Decode converts raw bytes to text. degraded reports that some bytes
// could not be represented and were replaced or escaped.
func (d *Decoder) Decode(raw []byte) (text string, degraded bool) {
	if d == nil || d.enc == nil {
		return decodeUTF8(raw)
	}

	out, err := d.enc.NewDecoder().Bytes(raw)
	if err != nil {
		return replaceNonASCII(raw), true
	}
	// x/text decoders substitute U+FFFD for malformed input
	text = string(out)
	return text, strings.ContainsRune(text, utf8.RuneError)
}

// decodeUTF8 replaces each invalid byte with U+FFFD so the rune count
// never exceeds the byte count
func decodeUTF8(raw []byte) (string, bool) {
	if utf8.Valid(raw) {
		return string(raw), false
	}

	var b strings.Builder
	b.Grow(len(raw) + 8)
	for len(raw) > 0 {
		r, size := utf8.DecodeRune(raw)
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(utf8.RuneError)
		} else {
			b.Write(raw[:size])
		}
		raw = raw[size:]
	}
	return b.String(), true
}

// replaceNonASCII keeps ASCII bytes and replaces every other byte with U+FFFD
func replaceNonASCII(raw []byte) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, c := range raw {
		if c < utf8.RuneSelf {
			b.WriteByte(c)
			continue
		}
		b.WriteRune(utf8.RuneError)
	}
	return b.String()
}
