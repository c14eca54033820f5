// Package frame pulls protocol frame candidates out of a line-oriented text
// stream that also carries unrelated diagnostic output.
//
// A candidate is the text between the first and last double quote of a
// terminated line that starts with the configured marker. Everything else is
// dropped without error.
package frame

import (
	"bytes"
	"strings"

	"go.uber.org/atomic"
)

const (
	// DefaultMarker prefixes the codec's echo of a message send event.
	DefaultMarker = "*e Message Send Text:"

	// DefaultMaxLineLength bounds how much unterminated data is held.
	DefaultMaxLineLength = 16 * 1024
)

// DiscardReason says why a line produced no candidate.
type DiscardReason string

const (
	DiscardNoMarker DiscardReason = "no_marker"
	DiscardNoQuotes DiscardReason = "no_quotes"
	DiscardOverflow DiscardReason = "overflow"
)

// Config controls an Extractor.
type Config struct {
	// Marker is the line prefix that identifies a frame-carrying line.
	Marker string
	// FoldCase matches Marker case-insensitively.
	FoldCase bool
	// MaxLineLength caps the buffered partial line. Zero means DefaultMaxLineLength.
	MaxLineLength int
	// OnDiscard, if set, is called for every line that yields no candidate.
	OnDiscard func(reason DiscardReason, line string)
}

// Stats counts extractor activity since creation.
type Stats struct {
	Lines      uint64 `json:"lines"`
	Candidates uint64 `json:"candidates"`
	Discarded  uint64 `json:"discarded"`
	Overflows  uint64 `json:"overflows"`
	Buffered   int    `json:"buffered"`
}

// Extractor is fed raw chunks and returns candidates for each completed line.
// It is not safe for concurrent Feed calls; it belongs to a single read loop.
type Extractor struct {
	cfg Config

	buf        []byte
	discarding bool // skipping the tail of an overflowed line

	lines      atomic.Uint64
	candidates atomic.Uint64
	discarded  atomic.Uint64
	overflows  atomic.Uint64
	buffered   atomic.Int64
}

// New creates an Extractor. An empty Marker uses DefaultMarker.
func New(cfg Config) *Extractor {
	if cfg.Marker == "" {
		cfg.Marker = DefaultMarker
	}
	if cfg.MaxLineLength <= 0 {
		cfg.MaxLineLength = DefaultMaxLineLength
	}
	return &Extractor{
		cfg: cfg,
		buf: make([]byte, 0, 256),
	}
}

// Feed appends chunk to the pending buffer and returns the candidates of
// every line completed by it, in arrival order. An unterminated suffix is
// held over to the next call.
func (e *Extractor) Feed(chunk []byte) []string {
	var out []string
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			e.appendPartial(chunk)
			break
		}
		e.appendPartial(chunk[:i])
		chunk = chunk[i+1:]

		if e.discarding {
			e.discarding = false
			e.buf = e.buf[:0]
			continue
		}
		e.lines.Inc()
		if c, ok := e.extract(string(e.buf)); ok {
			e.candidates.Inc()
			out = append(out, c)
		}
		e.buf = e.buf[:0]
	}
	e.buffered.Store(int64(len(e.buf)))
	return out
}

// FeedString is Feed for text chunks.
func (e *Extractor) FeedString(chunk string) []string {
	return e.Feed([]byte(chunk))
}

// Reset drops any buffered partial line.
func (e *Extractor) Reset() {
	e.buf = e.buf[:0]
	e.discarding = false
	e.buffered.Store(0)
}

// Stats returns a snapshot of the counters.
func (e *Extractor) Stats() Stats {
	return Stats{
		Lines:      e.lines.Load(),
		Candidates: e.candidates.Load(),
		Discarded:  e.discarded.Load(),
		Overflows:  e.overflows.Load(),
		Buffered:   int(e.buffered.Load()),
	}
}

func (e *Extractor) appendPartial(b []byte) {
	if e.discarding {
		return
	}
	if len(e.buf)+len(b) > e.cfg.MaxLineLength {
		e.overflows.Inc()
		e.discard(DiscardOverflow, string(e.buf))
		e.buf = e.buf[:0]
		e.discarding = true
		return
	}
	e.buf = append(e.buf, b...)
}

func (e *Extractor) extract(line string) (string, bool) {
	line = strings.TrimRight(line, "\r")
	if !e.hasMarker(line) {
		e.discard(DiscardNoMarker, line)
		return "", false
	}
	start := strings.IndexByte(line, '"')
	end := strings.LastIndexByte(line, '"')
	if start < 0 || end <= start {
		e.discard(DiscardNoQuotes, line)
		return "", false
	}
	return line[start+1 : end], true
}

func (e *Extractor) hasMarker(line string) bool {
	if len(line) < len(e.cfg.Marker) {
		return false
	}
	if e.cfg.FoldCase {
		return strings.EqualFold(line[:len(e.cfg.Marker)], e.cfg.Marker)
	}
	return strings.HasPrefix(line, e.cfg.Marker)
}

func (e *Extractor) discard(reason DiscardReason, line string) {
	e.discarded.Inc()
	if e.cfg.OnDiscard != nil {
		e.cfg.OnDiscard(reason, line)
	}
}
