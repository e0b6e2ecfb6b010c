// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package toolparse

import (
	"strings"
	"unicode"

	"github.com/jeranaias/rigloop/internal/toolfmt"
)

// =============================================================================
// STREAMED STRIPPING
// =============================================================================

// Stream strips markup from a reply that arrives in pieces and reports the
// newly visible text after each one. Lines that can no longer change are
// settled and never stripped again, so each Write costs time in proportion
// to the unsettled tail rather than the whole reply.
//
// A Stream is not safe for concurrent use.
type Stream struct {
	rules   []spanRule
	markers []string
	spans   []spanRule

	raw     strings.Builder
	base    int    // offset of the unsettled tail in raw
	owed    string // whitespace between settled text and the tail
	shown   string // text emitted for the tail
	started bool   // text was emitted before the tail
}

// NewStream returns a Stream. extra adds model-specific delimiters.
func NewStream(extra ...toolfmt.ToolTags) *Stream {
	rules, markers := markupRules(extra)
	spans := append(rules[:len(rules):len(rules)], tailRules...)
	return &Stream{rules: rules, markers: markers, spans: spans}
}

// Write appends piece and returns the text that became visible. When the
// visible text is revised rather than extended, nothing is returned until
// it extends what was already emitted.
func (s *Stream) Write(piece string) string {
	s.raw.WriteString(piece)
	tail := s.raw.String()[s.base:]
	visible := s.render(stripMarkup(tail, s.rules, s.markers))

	var delta string
	if len(visible) > len(s.shown) && strings.HasPrefix(visible, s.shown) {
		delta = visible[len(s.shown):]
		s.shown = visible
	}
	if visible == s.shown {
		if n := settledLen(tail, s.spans); n > 0 {
			s.settle(tail, n)
		}
	}
	return delta
}

// render applies the display trimming to the stripped tail. Trailing
// whitespace is held back until text follows it.
func (s *Stream) render(body string) string {
	text := collapseBlankRuns(s.owed + body)
	if !s.started {
		text = strings.TrimLeftFunc(text, unicode.IsSpace)
	}
	return strings.TrimRightFunc(text, unicode.IsSpace)
}

// settle moves the first n bytes of tail out of the working window.
func (s *Stream) settle(tail string, n int) {
	if s.shown != "" {
		s.started = true
	}
	s.base += n
	rest := stripMarkup(tail[n:], s.rules, s.markers)
	if strings.TrimSpace(rest) != "" {
		// The rest was emitted along with the whitespace before it.
		s.owed = ""
		s.shown = s.render(rest)
		return
	}
	head := collapseBlankRuns(s.owed + stripMarkup(tail[:n], s.rules, s.markers))
	s.owed = head[len(strings.TrimRightFunc(head, unicode.IsSpace)):]
	s.shown = ""
}

// settledLen returns the length of the longest prefix of text that ends at
// a line break outside every markup span, with each span before it closed.
func settledLen(text string, spans []spanRule) int {
	settled, i := 0, 0
	for {
		pos, end := nextSpan(text, i, spans)
		stop := len(text)
		if pos >= 0 {
			stop = pos
		}
		if nl := strings.LastIndexByte(text[i:stop], '\n'); nl >= 0 {
			settled = i + nl + 1
		}
		if pos < 0 || end < 0 {
			return settled
		}
		i = end
	}
}

// nextSpan finds the earliest span opening at or after i and returns its
// start and end. end is -1 while the span is open; pos is -1 when there is
// no span.
func nextSpan(text string, i int, spans []spanRule) (pos, end int) {
	pos = -1
	var first spanRule
	for _, r := range spans {
		if rel := strings.Index(text[i:], r.open); rel >= 0 && (pos < 0 || i+rel < pos) {
			pos, first = i+rel, r
		}
	}

	if rel := strings.Index(text[i:], mistralOpen); rel >= 0 && (pos < 0 || i+rel < pos) {
		at := i + rel
		e, complete := mistralCallEnd(text, at+len(mistralOpen))
		if !complete {
			return at, -1
		}
		return at, e
	}
	if pos < 0 {
		return -1, -1
	}
	return pos, first.end(text, pos)
}
