// Package agent – framing.go implements the output framing protocol. The
// agent process writes diagnostic text freely; a structured result is a JSON
// document between two marker lines. Everything outside a frame is passthrough
// diagnostic output.
package agent

import (
	"bytes"
	"encoding/json"
	"log/slog"
)

// Frame marker lines. Chosen to be statistically unlikely to appear in
// natural agent output; each must appear on its own line.
const (
	FrameStartMarker = "-----CLAWGATE-OUTPUT-BEGIN-----"
	FrameEndMarker   = "-----CLAWGATE-OUTPUT-END-----"
)

// frame is the JSON document carried between the markers.
type frame struct {
	Status       string `json:"status"`
	Result       string `json:"result,omitempty"`
	NewSessionID string `json:"newSessionId,omitempty"`
	Error        string `json:"error,omitempty"`
}

// frameScanner incrementally scans a byte stream for framed results. It
// yields diagnostic lines as fragments, caches the most recent successfully
// parsed frame as the last known good output, and bounds its buffered bytes.
type frameScanner struct {
	logger *slog.Logger

	// pending holds the current incomplete line.
	pending []byte

	// body accumulates frame content between the markers.
	body []byte

	// inFrame is true between a start marker and the next end marker.
	inFrame bool

	// last is the last known good structured result.
	last *frame

	// maxBytes bounds the cached bytes (pending+body). Diagnostic overflow
	// spills to the fragment callback; frame body overflow is dropped.
	maxBytes int

	// dropping is set while frame body overflow is being discarded.
	dropping bool
}

func newFrameScanner(maxBytes int, logger *slog.Logger) *frameScanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &frameScanner{logger: logger, maxBytes: maxBytes}
}

// Write feeds a chunk of stream bytes into the scanner and returns the
// diagnostic fragments completed by this chunk, in emission order. Marker
// lines and frame bodies are never returned as fragments.
func (s *frameScanner) Write(p []byte) []string {
	var fragments []string

	for len(p) > 0 {
		nl := bytes.IndexByte(p, '\n')
		if nl < 0 {
			fragments = append(fragments, s.buffer(p)...)
			break
		}
		fragments = append(fragments, s.buffer(p[:nl])...)
		p = p[nl+1:]

		line := s.takePending()
		if frag, ok := s.consumeLine(line); ok {
			fragments = append(fragments, frag)
		}
	}

	return fragments
}

// Flush returns any trailing partial line as a final fragment. Called once
// when the stream closes.
func (s *frameScanner) Flush() []string {
	if len(s.pending) == 0 {
		return nil
	}
	line := s.takePending()
	if frag, ok := s.consumeLine(line); ok {
		return []string{frag}
	}
	return nil
}

// Result returns the last known good structured result, or nil if no valid
// frame was ever captured.
func (s *frameScanner) Result() *frame {
	return s.last
}

// consumeLine classifies one complete line. Returns a fragment when the line
// is passthrough diagnostic output.
func (s *frameScanner) consumeLine(line string) (string, bool) {
	switch {
	case !s.inFrame && line == FrameStartMarker:
		s.inFrame = true
		s.body = s.body[:0]
		return "", false

	case s.inFrame && line == FrameEndMarker:
		s.inFrame = false
		s.parseFrame()
		return "", false

	case s.inFrame:
		// Anything between the first start marker and the next end
		// marker belongs to the frame body, including stray start
		// markers. A body at the cap stops accumulating; the end marker
		// line must still be recognized so the frame terminates.
		if s.maxBytes > 0 && len(s.body) >= s.maxBytes {
			s.markDropping(len(line))
			return "", false
		}
		s.body = append(s.body, line...)
		s.body = append(s.body, '\n')
		return "", false

	default:
		if line == "" {
			return "", false
		}
		return line, true
	}
}

// parseFrame parses the accumulated frame body. A malformed frame is treated
// as if no result was captured: the previous last known good output (if any)
// stays in place.
func (s *frameScanner) parseFrame() {
	body := bytes.TrimSpace(s.body)
	s.body = s.body[:0]

	var f frame
	if err := json.Unmarshal(body, &f); err != nil {
		s.logger.Warn("agent: discarding malformed output frame", "error", err)
		return
	}
	if f.Status != StatusSuccess && f.Status != StatusError {
		s.logger.Warn("agent: discarding frame with unknown status", "status", f.Status)
		return
	}
	s.last = &f
}

// buffer appends bytes to the pending line. The cap bounds cached bytes only:
// over-cap diagnostic bytes are spilled straight back to the caller as a
// fragment instead of being cached, so fragment delivery sees the whole
// stream. Over-cap frame body bytes are dropped; the truncated body then
// fails to parse and the frame is discarded as malformed.
func (s *frameScanner) buffer(p []byte) []string {
	if s.maxBytes <= 0 {
		s.pending = append(s.pending, p...)
		return nil
	}

	budget := s.maxBytes - len(s.pending)
	if budget >= len(p) {
		s.pending = append(s.pending, p...)
		return nil
	}
	if budget < 0 {
		budget = 0
	}

	s.pending = append(s.pending, p[:budget]...)
	overflow := p[budget:]
	if s.inFrame {
		s.markDropping(len(overflow))
		return nil
	}

	frag := string(s.pending) + string(overflow)
	s.pending = s.pending[:0]
	return []string{frag}
}

func (s *frameScanner) markDropping(n int) {
	if !s.dropping {
		s.dropping = true
		s.logger.Warn("agent: output cap reached inside frame body, discarding bytes",
			"cap", s.maxBytes, "dropped", n)
	}
}

// takePending returns the pending line and resets the line buffer.
func (s *frameScanner) takePending() string {
	line := string(bytes.TrimSuffix(s.pending, []byte("\r")))
	s.pending = s.pending[:0]
	s.dropping = false
	return line
}
