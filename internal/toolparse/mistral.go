// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package toolparse

import (
	"strings"

	"github.com/jeranaias/rigloop/internal/toolfmt"
)

const (
	mistralOpen  = "[TOOL_CALLS]"
	mistralClose = "[/TOOL_CALLS]"
	mistralArgs  = "[ARGS]"
)

// MistralParser handles the three Mistral-family sub-dialects, tried in
// order: bracket, closed-tag, bare JSON. Bare JSON is only attempted when
// the first two produce nothing.
type MistralParser struct{}

// Format implements Parser.
func (MistralParser) Format() Format { return FormatMistral }

// Detect implements Parser.
func (MistralParser) Detect(text string) bool {
	return strings.Contains(text, mistralOpen)
}

// Parse implements Parser.
func (MistralParser) Parse(text string) []ToolCall {
	if calls := parseMistralBracket(text); len(calls) > 0 {
		return calls
	}
	if calls := parseMistralClosed(text); len(calls) > 0 {
		return calls
	}
	return parseMistralBare(text)
}

// parseMistralBracket handles [TOOL_CALLS]name[ARGS]{json}. There is no
// closing delimiter: a call is complete when its JSON balances. Several
// name[ARGS]{json} groups may follow a single marker.
func parseMistralBracket(text string) []ToolCall {
	var calls []ToolCall
	for _, pos := range markerPositions(text, mistralOpen) {
		i := pos + len(mistralOpen)
		for {
			call, next, ok := readBracketCall(text, i)
			if !ok {
				break
			}
			calls = append(calls, call)
			i = next
		}
	}
	return calls
}

// readBracketCall reads one name[ARGS]{json} group starting at i and returns
// the index just past the JSON.
func readBracketCall(text string, i int) (ToolCall, int, bool) {
	i = skipSpace(text, i)
	rel := strings.Index(text[i:], mistralArgs)
	if rel < 0 {
		return ToolCall{}, i, false
	}
	name := strings.TrimSpace(text[i : i+rel])
	if !validName(name) {
		return ToolCall{}, i, false
	}

	j := skipSpace(text, i+rel+len(mistralArgs))
	raw, ok := toolfmt.ExtractBalancedJSON(text, j)
	if !ok || raw[0] != '{' {
		return ToolCall{}, i, false
	}
	args, ok := decodeArgs([]byte(raw))
	if !ok {
		return ToolCall{}, i, false
	}
	return newCall(name, args), j + len(raw), true
}

// parseMistralClosed handles [TOOL_CALLS]...[/TOOL_CALLS] wrapping either a
// name,{json} pair or a JSON object or array of {name, arguments}.
func parseMistralClosed(text string) []ToolCall {
	if !strings.Contains(text, mistralClose) {
		return nil
	}

	var calls []ToolCall
	for _, sp := range tagBodies(text, mistralOpen, mistralClose) {
		body := strings.TrimSpace(sp.body)
		if !sp.closed || body == "" {
			continue
		}
		if body[0] == '{' || body[0] == '[' {
			calls = append(calls, decodeCalls(body)...)
			continue
		}

		comma := strings.IndexByte(body, ',')
		if comma < 0 {
			continue
		}
		name := strings.TrimSpace(body[:comma])
		if !validName(name) {
			continue
		}
		rest := strings.TrimSpace(body[comma+1:])
		raw, ok := toolfmt.ExtractBalancedJSON(rest, 0)
		if !ok || raw[0] != '{' {
			continue
		}
		if args, ok := decodeArgs([]byte(raw)); ok {
			calls = append(calls, newCall(name, args))
		}
	}
	return calls
}

// parseMistralBare handles [TOOL_CALLS]{json} and [TOOL_CALLS][{json},...].
func parseMistralBare(text string) []ToolCall {
	var calls []ToolCall
	for _, pos := range markerPositions(text, mistralOpen) {
		i := skipSpace(text, pos+len(mistralOpen))
		if i >= len(text) || (text[i] != '{' && text[i] != '[') {
			continue
		}
		calls = append(calls, decodeCalls(text[i:])...)
	}
	return calls
}
