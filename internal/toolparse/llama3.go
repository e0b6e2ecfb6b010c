// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package toolparse

import (
	"regexp"
	"strings"

	"github.com/jeranaias/rigloop/internal/toolfmt"
)

const (
	llamaOpen  = "<function="
	llamaClose = "</function>"
)

var (
	llamaFunctionRe  = regexp.MustCompile(`<function=([^>\s]+)\s*>`)
	llamaParameterRe = regexp.MustCompile(`(?s)<parameter=([^>\s]+)\s*>(.*?)</parameter>`)
)

// Llama3Parser handles <function=name>{json}</function>. When the body is
// not JSON it falls back to <parameter=key>value</parameter> pairs.
type Llama3Parser struct{}

// Format implements Parser.
func (Llama3Parser) Format() Format { return FormatLlama3 }

// Detect implements Parser.
func (Llama3Parser) Detect(text string) bool {
	return strings.Contains(text, llamaOpen)
}

// Parse implements Parser.
func (Llama3Parser) Parse(text string) []ToolCall {
	var calls []ToolCall

	consumed := 0
	matches := llamaFunctionRe.FindAllStringSubmatchIndex(text, -1)
	for _, m := range matches {
		if m[0] < consumed {
			// Quoted inside the previous call's arguments.
			continue
		}
		name := strings.TrimSpace(text[m[2]:m[3]])
		if !validName(name) {
			continue
		}
		bodyStart := m[1]

		closeAt, n := findCloser(text, bodyStart, []string{llamaClose})
		if closeAt < 0 {
			// Unclosed: accept only a JSON body that balances.
			j := skipSpace(text, bodyStart)
			raw, ok := toolfmt.ExtractBalancedJSON(text, j)
			if !ok || raw[0] != '{' {
				continue
			}
			if args, ok := decodeArgs([]byte(raw)); ok {
				calls = append(calls, newCall(name, args))
				consumed = j + len(raw)
			}
			continue
		}

		consumed = closeAt + n
		if args, ok := llamaArgs(text[bodyStart:closeAt]); ok {
			calls = append(calls, newCall(name, args))
		}
	}
	return calls
}

// llamaArgs decodes a function body as a JSON object, then as parameter
// pairs. An empty body is a call without arguments.
func llamaArgs(body string) (map[string]any, bool) {
	body = strings.TrimSpace(body)
	if body == "" {
		return map[string]any{}, true
	}

	if body[0] == '{' {
		if raw, ok := toolfmt.ExtractBalancedJSON(body, 0); ok {
			if args, ok := decodeArgs([]byte(raw)); ok {
				return args, true
			}
		}
	}

	pairs := llamaParameterRe.FindAllStringSubmatch(body, -1)
	if len(pairs) == 0 {
		return nil, false
	}
	args := make(map[string]any, len(pairs))
	for _, p := range pairs {
		args[strings.TrimSpace(p[1])] = parseValue(p[2])
	}
	return args, true
}
