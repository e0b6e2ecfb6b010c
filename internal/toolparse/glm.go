// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package toolparse

import (
	"regexp"
	"strings"
)

var glmArgPairRe = regexp.MustCompile(`(?s)<arg_key>(.*?)</arg_key>\s*<arg_value>(.*?)</arg_value>`)

// GLMParser handles the GLM variants of the tag dialect: calls wrapped in
// <|begin_of_box|>...<|end_of_box|>, and tag bodies written as
//
//	<tool_call>name
//	<arg_key>k</arg_key>
//	<arg_value>v</arg_value>
//	</tool_call>
type GLMParser struct{}

// Format implements Parser.
func (GLMParser) Format() Format { return FormatGLM }

// Detect implements Parser.
func (GLMParser) Detect(text string) bool {
	return strings.Contains(text, boxOpen) ||
		strings.Contains(text, tagOpen) ||
		strings.Contains(text, glmArgKeyOpen)
}

// Parse implements Parser.
func (GLMParser) Parse(text string) []ToolCall {
	if strings.Contains(text, boxOpen) {
		var calls []ToolCall
		for _, sp := range tagBodies(text, boxOpen, boxClose) {
			calls = append(calls, parseGLMBody(sp.body)...)
		}
		if len(calls) > 0 {
			return calls
		}
	}
	return parseGLMTags(text)
}

// parseGLMBody parses the inside of a box wrapper, which holds either tagged
// calls or a bare JSON call.
func parseGLMBody(body string) []ToolCall {
	if strings.Contains(body, tagOpen) {
		return parseGLMTags(body)
	}
	return decodeCalls(body)
}

func parseGLMTags(text string) []ToolCall {
	var calls []ToolCall
	for _, sp := range tagBodies(text, tagOpen, tagClose, glmAltClose) {
		trimmed := strings.TrimSpace(sp.body)
		if trimmed == "" {
			continue
		}
		if trimmed[0] == '{' || trimmed[0] == '[' {
			calls = append(calls, decodeCalls(trimmed)...)
			continue
		}
		// Argument pairs have no self-delimiting structure, so an unclosed
		// span is still streaming.
		if !sp.closed {
			continue
		}
		if call, ok := parseArgPairs(trimmed); ok {
			calls = append(calls, call)
		}
	}
	return calls
}

// parseArgPairs parses "name <arg_key>k</arg_key><arg_value>v</arg_value>...".
func parseArgPairs(body string) (ToolCall, bool) {
	name := body
	if idx := strings.Index(body, glmArgKeyOpen); idx >= 0 {
		name = body[:idx]
	}
	name = strings.TrimSpace(name)
	if !validName(name) {
		return ToolCall{}, false
	}

	args := map[string]any{}
	for _, p := range glmArgPairRe.FindAllStringSubmatch(body, -1) {
		args[strings.TrimSpace(p[1])] = parseValue(p[2])
	}
	if len(args) == 0 && strings.Contains(body, glmArgKeyOpen) {
		return ToolCall{}, false
	}
	return newCall(name, args), true
}
