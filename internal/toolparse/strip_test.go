// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package toolparse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jeranaias/rigloop/internal/toolfmt"
)

func TestStripMarkup(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text", "Hello, world.", "Hello, world."},
		{"comparison operators", "a < b and c > d", "a < b and c > d"},
		{"mistral complete", `Let me look.[TOOL_CALLS]bash[ARGS]{"command":"ls"}`, "Let me look."},
		{"mistral streaming json", `Let me look.[TOOL_CALLS]bash[ARGS]{"comm`, "Let me look."},
		{"mistral streaming name", "Hi [TOOL_CALLS]ba", "Hi"},
		{"mistral streaming args marker", "Hi [TOOL_CALLS]bash[AR", "Hi"},
		{"mistral text after call", "A[TOOL_CALLS]bash[ARGS]{\"c\":1}\nB", "A\nB"},
		{"mistral marker in prose", "The [TOOL_CALLS] marker starts a call.", "The marker starts a call."},
		{"mistral closed", `x[TOOL_CALLS]bash,{"command":"pwd"}[/TOOL_CALLS]y`, "xy"},
		{"mistral closed streaming json", `Ok [TOOL_CALLS]bash, {"command": "ls"`, "Ok"},
		{"mistral closed awaiting closer", `Ok [TOOL_CALLS]bash, {"command": "ls"}`, "Ok"},
		{"mistral closed partial closer", `Ok [TOOL_CALLS]bash, {"command": "ls"} [/TOOL_`, "Ok"},
		{"mistral closed name only", "Ok [TOOL_CALLS]bash, ", "Ok"},
		{"mistral closed with spaces", `x [TOOL_CALLS]bash, {"command": "ls"}[/TOOL_CALLS] y`, "x  y"},
		{"mistral bare json", `[TOOL_CALLS]{"name":"bash","arguments":{}} ok`, "ok"},
		{"mistral results", "[TOOL_RESULTS]file.txt[/TOOL_RESULTS]Found it.", "Found it."},
		{"qwen complete", "Before\n<tool_call>{\"name\":\"bash\",\"arguments\":{}}</tool_call>\nAfter", "Before\n\nAfter"},
		{"qwen closer quoted in arguments", `a<tool_call>{"name":"write_file","arguments":{"content":"x</tool_call>y"}}</tool_call>b`, "ab"},
		{"qwen streaming closer quoted", `a<tool_call>{"name":"write_file","arguments":{"content":"x</tool_call>y`, "a"},
		{"llama closer quoted in arguments", `x<function=write_file>{"content":"see </function> here"}</function>y`, "xy"},
		{"qwen streaming", "Checking <tool_call>{\"name\":\"ba", "Checking"},
		{"partial open tag", "Checking <tool_ca", "Checking"},
		{"partial mistral marker", "Checking [TOOL_", "Checking"},
		{"llama complete", `x <function=bash>{"command":"ls"}</function> y`, "x  y"},
		{"llama streaming", `x <function=bash>{"command":"l`, "x"},
		{"glm alternate closer", "a<tool_call>bash\n<arg_key>command</arg_key><arg_value>ls</arg_value><|observation|>b", "ab"},
		{"glm streaming pairs", "a<tool_call>bash\n<arg_key>command</arg_key><arg_va", "a"},
		{"glm box call", `<|begin_of_box|>{"name":"bash","arguments":{}}<|end_of_box|>done`, "done"},
		{"glm box plain content", "The answer is <|begin_of_box|>42<|end_of_box|>.", "The answer is 42."},
		{"tool response block", "<tool_response>\nfile.txt\n</tool_response>\nThe file exists.", "The file exists."},
		{"orphan closer", "done</tool_call>", "done"},
		{"blank line runs collapse", "a\n\n\n\n\nb", "a\n\nb"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := StripMarkup(tc.input)
			if got != tc.want {
				t.Errorf("StripMarkup(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestStripMarkup_ExtraTags(t *testing.T) {
	tags := toolfmt.ToolTags{ExecOpen: "<<run>>", ExecClose: "<</run>>", OutputOpen: "<<out>>", OutputClose: "<</out>>"}

	assert.Equal(t, "x y", StripMarkup("x<<run>>ls<</run>> y", tags))
	assert.Equal(t, "x", StripMarkup("x <<run>>l", tags))
	assert.Equal(t, "x", StripMarkup("x <<ru", tags))
	assert.Equal(t, "seen", StripMarkup("<<out>>a.txt<</out>>seen", tags))
}

// Every complete call fixture strips to text with no dialect delimiters.
func TestStripMarkup_RemovesCompleteCalls(t *testing.T) {
	delimiters := []string{"[TOOL_CALLS]", "<tool_call>", "<function=", "<|begin_of_box|>", "[ARGS]"}

	for _, tc := range dialectFixtures {
		t.Run(tc.name, func(t *testing.T) {
			got := StripMarkup(tc.input)
			for _, d := range delimiters {
				if strings.Contains(got, d) {
					t.Errorf("StripMarkup(%q) = %q, still contains %q", tc.input, got, d)
				}
			}
		})
	}
}

// Each prefix of a streamed call never shows a delimiter fragment.
func TestStripMarkup_StreamingPrefixes(t *testing.T) {
	full := "Let me check.\n<tool_call>{\"name\":\"bash\",\"arguments\":{\"command\":\"ls\"}}</tool_call>"
	for i := 1; i <= len(full); i++ {
		got := StripMarkup(full[:i])
		assert.NotContains(t, got, "<tool", "prefix %d", i)
		assert.NotContains(t, got, "\"name\"", "prefix %d", i)
	}
}

// The comma form of a Mistral call has whitespace in its body, so it must
// stay hidden until the JSON and its closer have arrived.
func TestStripMarkup_MistralClosedStreamingPrefixes(t *testing.T) {
	full := `Ok [TOOL_CALLS]bash, {"command": "ls -la"}[/TOOL_CALLS] done`
	for i := 1; i <= len(full); i++ {
		got := StripMarkup(full[:i])
		assert.NotContains(t, got, "bash", "prefix %d", i)
		assert.NotContains(t, got, "command", "prefix %d", i)
		assert.NotContains(t, got, "TOOL", "prefix %d", i)
	}
	assert.Equal(t, "Ok  done", StripMarkup(full))
}

// A closer quoted inside arguments never ends the call early while it
// streams.
func TestStripMarkup_QuotedCloserPrefixes(t *testing.T) {
	full := `Saving.<tool_call>{"name":"write_file","arguments":{"content":"a</tool_call>b"}}</tool_call> Saved.`
	for i := 1; i <= len(full); i++ {
		got := StripMarkup(full[:i])
		assert.NotContains(t, got, "content", "prefix %d", i)
		assert.NotContains(t, got, `b"`, "prefix %d", i)
	}
	assert.Equal(t, "Saving. Saved.", StripMarkup(full))
}

func TestFormatResults(t *testing.T) {
	got := FormatResults([]string{"a", "Error: boom"}, toolfmt.DefaultTags())
	want := "<tool_response>\na\n</tool_response>\n\n<tool_response>\nError: boom\n</tool_response>"
	assert.Equal(t, want, got)
	assert.Equal(t, "", FormatResults(nil, toolfmt.DefaultTags()))
}
