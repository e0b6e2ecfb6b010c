// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package toolparse

import "strings"

// markerPositions returns the start index of every occurrence of marker.
func markerPositions(text, marker string) []int {
	var out []int
	for i := 0; i <= len(text); {
		rel := strings.Index(text[i:], marker)
		if rel < 0 {
			break
		}
		out = append(out, i+rel)
		i += rel + len(marker)
	}
	return out
}

// span is the text between an open delimiter and its closer.
type span struct {
	body   string
	closed bool
}

// tagBodies returns the text between each open delimiter and its closer, as
// found by findCloser. A final span with no closer runs to the end of text
// and has closed set to false.
func tagBodies(text, open string, closers ...string) []span {
	var bodies []span
	i := 0
	for {
		rel := strings.Index(text[i:], open)
		if rel < 0 {
			return bodies
		}
		start := i + rel + len(open)

		at, n := findCloser(text, start, closers)
		if at < 0 {
			return append(bodies, span{body: text[start:]})
		}
		bodies = append(bodies, span{body: text[start:at], closed: true})
		i = at + n
	}
}

// findCloser returns the index and length of the first closer that ends the
// body starting at start, or -1 and 0 when the body is still open.
//
// A body that leads with a JSON value (optionally after "name,") is scanned
// with its string literals, so a closer quoted inside an argument never ends
// the body. Outside strings, a closer ends the body even if the JSON is
// malformed.
func findCloser(text string, start int, closers []string) (int, int) {
	from := start
	if j := jsonBodyStart(text, start); j >= 0 {
		at, n, past := scanJSONForCloser(text, j, closers)
		if n > 0 {
			return at, n
		}
		if past < 0 {
			return -1, 0
		}
		from = past
	}

	at, n := -1, 0
	for _, c := range closers {
		if idx := strings.Index(text[from:], c); idx >= 0 && (at < 0 || from+idx < at) {
			at, n = from+idx, len(c)
		}
	}
	return at, n
}

// jsonBodyStart returns the index of a JSON value that opens the body at
// start, either directly or after a "name," prefix. It returns -1 when the
// body does not lead with JSON.
func jsonBodyStart(text string, start int) int {
	j := skipSpace(text, start)
	if j < len(text) && (text[j] == '{' || text[j] == '[') {
		return j
	}

	e, ok := nameComma(text, j)
	if !ok {
		return -1
	}
	e = skipSpace(text, e)
	if e < len(text) && (text[e] == '{' || text[e] == '[') {
		return e
	}
	return -1
}

// nameComma matches a tool name followed by a comma at j and returns the
// index just past the comma.
func nameComma(text string, j int) (int, bool) {
	e := j
	for e < len(text) && isNameByte(text[e]) {
		e++
	}
	if e == j || !validName(text[j:e]) {
		return 0, false
	}
	e = skipSpace(text, e)
	if e >= len(text) || text[e] != ',' {
		return 0, false
	}
	return e + 1, true
}

// scanJSONForCloser walks the JSON value at j. It returns the position of a
// closer met outside a string literal before the value balances, or past,
// the index just after the balanced value. past is -1 when the value never
// closes.
func scanJSONForCloser(text string, j int, closers []string) (at, n, past int) {
	depth := 0
	inString, escaped := false, false
	for i := j; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		for _, cl := range closers {
			if strings.HasPrefix(text[i:], cl) {
				return i, len(cl), 0
			}
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth <= 0 {
				return -1, 0, i + 1
			}
		}
	}
	return -1, 0, -1
}

func isNameByte(c byte) bool {
	return c == '_' || c == '-' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
