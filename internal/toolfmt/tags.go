// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package toolfmt

import "strings"

// =============================================================================
// TOOL TAGS
// =============================================================================

// ToolTags describes the literal delimiters a model family uses around a tool
// call and around the tool result fed back to it.
type ToolTags struct {
	ExecOpen    string `json:"exec_open" toml:"exec_open"`
	ExecClose   string `json:"exec_close" toml:"exec_close"`
	OutputOpen  string `json:"output_open" toml:"output_open"`
	OutputClose string `json:"output_close" toml:"output_close"`
}

// DefaultTags returns the generic fallback dialect used when the backend does
// not report tags for the loaded model.
func DefaultTags() ToolTags {
	return ToolTags{
		ExecOpen:    "<tool_call>",
		ExecClose:   "</tool_call>",
		OutputOpen:  "<tool_response>",
		OutputClose: "</tool_response>",
	}
}

// familyTags maps lower-cased model family names to their delimiters.
var familyTags = map[string]ToolTags{
	"mistral": {
		ExecOpen:    "[TOOL_CALLS]",
		ExecClose:   "",
		OutputOpen:  "[TOOL_RESULTS]",
		OutputClose: "[/TOOL_RESULTS]",
	},
	"llama": {
		ExecOpen:    "<function=",
		ExecClose:   "</function>",
		OutputOpen:  "<|python_tag|>",
		OutputClose: "<|eom_id|>",
	},
	"qwen": DefaultTags(),
	"glm": {
		ExecOpen:    "<tool_call>",
		ExecClose:   "</tool_call>",
		OutputOpen:  "<observation>",
		OutputClose: "</observation>",
	},
}

// TagsForFamily returns the delimiters for a model family such as "mistral",
// "llama3" or "qwen2". Unknown families get DefaultTags.
func TagsForFamily(family string) ToolTags {
	f := strings.ToLower(strings.TrimSpace(family))
	for prefix, tags := range familyTags {
		if strings.HasPrefix(f, prefix) {
			return tags
		}
	}
	return DefaultTags()
}

// IsZero reports whether no delimiter is set.
func (t ToolTags) IsZero() bool {
	return t == ToolTags{}
}

// Resolve returns t, or DefaultTags when t is nil or empty.
func Resolve(t *ToolTags) ToolTags {
	if t == nil || t.IsZero() {
		return DefaultTags()
	}
	return *t
}

// WrapResult wraps a tool result in the output delimiters.
func (t ToolTags) WrapResult(result string) string {
	return t.OutputOpen + "\n" + result + "\n" + t.OutputClose
}
