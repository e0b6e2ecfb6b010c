// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package toolparse

import "strings"

const (
	tagOpen         = "<tool_call>"
	tagClose        = "</tool_call>"
	glmAltClose     = "<|observation|>"
	boxOpen         = "<|begin_of_box|>"
	boxClose        = "<|end_of_box|>"
	glmArgKeyOpen   = "<arg_key>"
	glmArgKeyClose  = "</arg_key>"
	glmArgValOpen   = "<arg_value>"
	glmArgValClose  = "</arg_value>"
	responseOpen    = "<tool_response>"
	responseClose   = "</tool_response>"
	mistralResOpen  = "[TOOL_RESULTS]"
	mistralResClose = "[/TOOL_RESULTS]"
)

// QwenParser handles <tool_call>{json}</tool_call>. A JSON array inside one
// tag is several calls. GLM's <|observation|> is accepted as a closer.
type QwenParser struct{}

// Format implements Parser.
func (QwenParser) Format() Format { return FormatQwen }

// Detect implements Parser.
func (QwenParser) Detect(text string) bool {
	return strings.Contains(text, tagOpen)
}

// Parse implements Parser.
func (QwenParser) Parse(text string) []ToolCall {
	var calls []ToolCall
	for _, sp := range tagBodies(text, tagOpen, tagClose, glmAltClose) {
		calls = append(calls, decodeCalls(sp.body)...)
	}
	return calls
}
