// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package toolfmt

import "strings"

// =============================================================================
// BALANCED JSON EXTRACTION
// =============================================================================

// ExtractBalancedJSON returns the JSON object or array that starts at
// s[start] and ends where nesting depth returns to zero.
//
// The scan tracks string literals and backslash escapes, so braces inside
// argument values ("{not json}") never terminate the extraction early.
// Returns false if s[start] is not '{' or '[', or if the value never closes.
func ExtractBalancedJSON(s string, start int) (string, bool) {
	end := balancedEnd(s, start)
	if end < 0 {
		return "", false
	}
	return s[start:end], true
}

// balancedEnd returns the index one past the closing delimiter of the JSON
// value starting at s[start], or -1 if it is not balanced.
func balancedEnd(s string, start int) int {
	if start < 0 || start >= len(s) {
		return -1
	}
	if s[start] != '{' && s[start] != '[' {
		return -1
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1
			}
			if depth < 0 {
				return -1
			}
		}
	}

	return -1
}

// IsBalancedJSON reports whether s, after leading whitespace, starts with a
// JSON object or array that closes.
func IsBalancedJSON(s string) bool {
	trimmed := strings.TrimLeft(s, " \t\r\n")
	return balancedEnd(trimmed, 0) > 0
}

// FirstJSONStart returns the index of the first '{' or '[' at or after from,
// or -1 if there is none.
func FirstJSONStart(s string, from int) int {
	if from < 0 {
		from = 0
	}
	for i := from; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			return i
		}
	}
	return -1
}

// =============================================================================
// STREAMING SPANS
// =============================================================================

// HasUnterminatedSpan reports whether the last occurrence of open in text is
// not followed by close. Used to detect a tool call still being streamed.
func HasUnterminatedSpan(text, open, close string) bool {
	if open == "" {
		return false
	}
	idx := strings.LastIndex(text, open)
	if idx < 0 {
		return false
	}
	if close == "" {
		return true
	}
	return !strings.Contains(text[idx+len(open):], close)
}

// TrailingPartialPrefix returns the length of the longest suffix of text that
// is a proper prefix of one of the markers, e.g. "<tool_c" for "<tool_call>".
// Single-character suffixes are ignored so ordinary prose ending in "<" or
// "[" is left alone. Returns 0 if the text does not end mid-marker.
func TrailingPartialPrefix(text string, markers ...string) int {
	best := 1
	for _, m := range markers {
		max := len(m) - 1
		if max > len(text) {
			max = len(text)
		}
		for n := max; n > best; n-- {
			if strings.HasSuffix(text, m[:n]) {
				best = n
				break
			}
		}
	}
	if best < 2 {
		return 0
	}
	return best
}
