// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package toolparse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wantCall struct {
	name string
	args map[string]any
}

// dialectFixtures are well-formed calls in every dialect, with prose around.
var dialectFixtures = []struct {
	name   string
	input  string
	format Format
	want   []wantCall
}{
	{
		name:   "mistral bracket",
		input:  `[TOOL_CALLS]bash[ARGS]{"command": "ls"}`,
		format: FormatMistral,
		want:   []wantCall{{"bash", map[string]any{"command": "ls"}}},
	},
	{
		name:   "mistral bracket repeated marker",
		input:  `Let me check.[TOOL_CALLS]bash[ARGS]{"command":"ls"}[TOOL_CALLS]read_file[ARGS]{"path":"a.txt"}`,
		format: FormatMistral,
		want: []wantCall{
			{"bash", map[string]any{"command": "ls"}},
			{"read_file", map[string]any{"path": "a.txt"}},
		},
	},
	{
		name:   "mistral bracket chained without marker",
		input:  `[TOOL_CALLS]bash[ARGS]{"command":"ls"} read_file[ARGS]{"path":"b"}`,
		format: FormatMistral,
		want: []wantCall{
			{"bash", map[string]any{"command": "ls"}},
			{"read_file", map[string]any{"path": "b"}},
		},
	},
	{
		name:   "mistral bracket nested args",
		input:  `ok [TOOL_CALLS]write_file[ARGS]{"path":"x.json","content":"{\"a\": {\"b\": [1]}}"} trailing`,
		format: FormatMistral,
		want:   []wantCall{{"write_file", map[string]any{"path": "x.json", "content": `{"a": {"b": [1]}}`}}},
	},
	{
		name:   "mistral closed name comma json",
		input:  `[TOOL_CALLS]bash,{"command":"pwd"}[/TOOL_CALLS]`,
		format: FormatMistral,
		want:   []wantCall{{"bash", map[string]any{"command": "pwd"}}},
	},
	{
		name:   "mistral closed array",
		input:  `[TOOL_CALLS][{"name":"bash","arguments":{"command":"ls"}},{"name":"read_file","arguments":{"path":"x"}}][/TOOL_CALLS]`,
		format: FormatMistral,
		want: []wantCall{
			{"bash", map[string]any{"command": "ls"}},
			{"read_file", map[string]any{"path": "x"}},
		},
	},
	{
		name:   "mistral bare json",
		input:  `[TOOL_CALLS]{"name":"bash","arguments":{"command":"ls"}}`,
		format: FormatMistral,
		want:   []wantCall{{"bash", map[string]any{"command": "ls"}}},
	},
	{
		name:   "mistral bare json array",
		input:  `[TOOL_CALLS] [{"name":"bash","arguments":{"command":"ls"}}]`,
		format: FormatMistral,
		want:   []wantCall{{"bash", map[string]any{"command": "ls"}}},
	},
	{
		name:   "llama3 json body",
		input:  "Sure.\n<function=read_file>{\"path\": \"/etc/hosts\"}</function>\nDone",
		format: FormatLlama3,
		want:   []wantCall{{"read_file", map[string]any{"path": "/etc/hosts"}}},
	},
	{
		name:   "llama3 parameter pairs",
		input:  "<function=bash>\n<parameter=command>ls -la</parameter>\n<parameter=timeout>30</parameter>\n</function>",
		format: FormatLlama3,
		want:   []wantCall{{"bash", map[string]any{"command": "ls -la", "timeout": float64(30)}}},
	},
	{
		name:   "qwen braces inside string",
		input:  "I'll run it.\n<tool_call>\n{\"name\": \"bash\", \"arguments\": {\"command\": \"echo {not json}\"}}\n</tool_call>",
		format: FormatQwen,
		want:   []wantCall{{"bash", map[string]any{"command": "echo {not json}"}}},
	},
	{
		name:   "qwen array is several calls",
		input:  `<tool_call>[{"name":"list_dir","arguments":{}},{"name":"read_file","arguments":{"path":"go.mod"}}]</tool_call>`,
		format: FormatQwen,
		want: []wantCall{
			{"list_dir", map[string]any{}},
			{"read_file", map[string]any{"path": "go.mod"}},
		},
	},
	{
		name:   "qwen string encoded arguments",
		input:  `<tool_call>{"name":"bash","arguments":"{\"command\":\"ls\"}"}</tool_call>`,
		format: FormatQwen,
		want:   []wantCall{{"bash", map[string]any{"command": "ls"}}},
	},
	{
		name:   "qwen with glm alternate closer",
		input:  `<tool_call>{"name":"bash","arguments":{"command":"ls"}}<|observation|>`,
		format: FormatQwen,
		want:   []wantCall{{"bash", map[string]any{"command": "ls"}}},
	},
	{
		name:   "qwen closer quoted in arguments",
		input:  `<tool_call>{"name":"write_file","arguments":{"path":"a.html","content":"x</tool_call>y"}}</tool_call>`,
		format: FormatQwen,
		want:   []wantCall{{"write_file", map[string]any{"path": "a.html", "content": "x</tool_call>y"}}},
	},
	{
		name:   "llama3 closer quoted in arguments",
		input:  `<function=write_file>{"path":"n.md","content":"see </function> here"}</function>`,
		format: FormatLlama3,
		want:   []wantCall{{"write_file", map[string]any{"path": "n.md", "content": "see </function> here"}}},
	},
	{
		name:   "mistral closed closer quoted in arguments",
		input:  `[TOOL_CALLS]write_file,{"path":"m.txt","content":"ends with [/TOOL_CALLS]"}[/TOOL_CALLS]`,
		format: FormatMistral,
		want:   []wantCall{{"write_file", map[string]any{"path": "m.txt", "content": "ends with [/TOOL_CALLS]"}}},
	},
	{
		name:   "glm box wrapped json",
		input:  `<|begin_of_box|>{"name":"bash","arguments":{"command":"ls"}}<|end_of_box|>`,
		format: FormatGLM,
		want:   []wantCall{{"bash", map[string]any{"command": "ls"}}},
	},
	{
		name:   "glm argument pairs",
		input:  "<tool_call>bash\n<arg_key>command</arg_key>\n<arg_value>ls</arg_value>\n</tool_call>",
		format: FormatGLM,
		want:   []wantCall{{"bash", map[string]any{"command": "ls"}}},
	},
}

func assertCalls(t *testing.T, want []wantCall, got []ToolCall) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].name, got[i].Name, "call %d name", i)
		assert.Equal(t, want[i].args, got[i].Arguments, "call %d arguments", i)
		assert.True(t, strings.HasPrefix(got[i].ID, "call_"), "call %d id = %q", i, got[i].ID)
	}
}

// =============================================================================
// AUTO PARSE TESTS
// =============================================================================

func TestAutoParse_Dialects(t *testing.T) {
	reg := DefaultRegistry()
	for _, tc := range dialectFixtures {
		t.Run(tc.name, func(t *testing.T) {
			format, calls := reg.AutoParse(tc.input)
			if format != tc.format {
				t.Errorf("AutoParse format = %s, want %s", format, tc.format)
			}
			assertCalls(t, tc.want, calls)
		})
	}
}

func TestAutoParse_BracketScenario(t *testing.T) {
	_, calls := DefaultRegistry().AutoParse("[TOOL_CALLS]bash[ARGS]{\"command\": \"ls\"}")
	require.Len(t, calls, 1)
	assert.Equal(t, "bash", calls[0].Name)
	assert.Equal(t, map[string]any{"command": "ls"}, calls[0].Arguments)
}

func TestAutoParse_Priority(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		format Format
		names  []string
	}{
		{
			name:   "mistral marker in prose falls through to qwen",
			input:  `The [TOOL_CALLS] token is Mistral's. <tool_call>{"name":"bash","arguments":{"command":"ls"}}</tool_call>`,
			format: FormatQwen,
			names:  []string{"bash"},
		},
		{
			name:   "function tag in prose falls through to qwen",
			input:  `Write <function=name> tags like this. <tool_call>{"name":"read_file","arguments":{"path":"a"}}</tool_call>`,
			format: FormatQwen,
			names:  []string{"read_file"},
		},
		{
			name:   "mistral wins over qwen when both parse",
			input:  `[TOOL_CALLS]bash[ARGS]{"command":"ls"} <tool_call>{"name":"read_file","arguments":{"path":"a"}}</tool_call>`,
			format: FormatMistral,
			names:  []string{"bash"},
		},
		{
			name:   "function tag inside tool_call is llama3",
			input:  "<tool_call>\n<function=bash>\n<parameter=command>ls</parameter>\n</function>\n</tool_call>",
			format: FormatLlama3,
			names:  []string{"bash"},
		},
		{
			name:   "box around tagged json is qwen",
			input:  `<|begin_of_box|><tool_call>{"name":"bash","arguments":{}}</tool_call><|end_of_box|>`,
			format: FormatQwen,
			names:  []string{"bash"},
		},
		{
			name:   "argument pairs are not json so glm takes them",
			input:  "<tool_call>read_file<arg_key>path</arg_key><arg_value>x</arg_value></tool_call>",
			format: FormatGLM,
			names:  []string{"read_file"},
		},
	}

	reg := DefaultRegistry()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			format, calls := reg.AutoParse(tc.input)
			if format != tc.format {
				t.Errorf("AutoParse format = %s, want %s", format, tc.format)
			}
			var names []string
			for _, c := range calls {
				names = append(names, c.Name)
			}
			assert.Equal(t, tc.names, names)
		})
	}
}

func TestAutoParse_NoCall(t *testing.T) {
	inputs := []string{
		"",
		"Just a plain answer.",
		"Use the <tool_call> tag to call tools.",
		"<tool_call>not json</tool_call>",
		`<tool_call>{"arguments":{"a":1}}</tool_call>`,
		`<tool_call>{"name":"","arguments":{}}</tool_call>`,
		`[TOOL_CALLS]bash[ARGS]{"command": "ls"`,
		`[TOOL_CALLS]bash[ARGS]["ls"]`,
		"<function=bash>no closer and no json",
		"<|begin_of_box|>42<|end_of_box|>",
		`Prices are in the range {"low": 1, "high": 2}.`,
	}

	reg := DefaultRegistry()
	for _, in := range inputs {
		format, calls := reg.AutoParse(in)
		if format != FormatUnknown || len(calls) != 0 {
			t.Errorf("AutoParse(%q) = %s, %d calls; want no call", in, format, len(calls))
		}
	}
}

// =============================================================================
// REGISTRY TESTS
// =============================================================================

type stubParser struct{}

func (stubParser) Format() Format          { return Format(99) }
func (stubParser) Detect(text string) bool { return strings.HasPrefix(text, "CALL ") }
func (stubParser) Parse(text string) []ToolCall {
	return []ToolCall{newCall(strings.TrimPrefix(text, "CALL "), nil)}
}

func TestRegistry_Register(t *testing.T) {
	reg := DefaultRegistry()
	assert.Equal(t, []Format{FormatMistral, FormatLlama3, FormatQwen, FormatGLM}, reg.Formats())

	reg.Register(stubParser{})
	require.Len(t, reg.Formats(), 5)

	format, calls := reg.AutoParse("CALL ping")
	assert.Equal(t, Format(99), format)
	require.Len(t, calls, 1)
	assert.Equal(t, "ping", calls[0].Name)
	assert.Equal(t, map[string]any{}, calls[0].Arguments)
	assert.True(t, reg.Detect("CALL x"))
	assert.False(t, DefaultRegistry().Detect("CALL x"))
}

func TestFormat_String(t *testing.T) {
	assert.Equal(t, "mistral", FormatMistral.String())
	assert.Equal(t, "llama3", FormatLlama3.String())
	assert.Equal(t, "qwen", FormatQwen.String())
	assert.Equal(t, "glm", FormatGLM.String())
	assert.Equal(t, "unknown", FormatUnknown.String())
}

// =============================================================================
// SIGNATURE TESTS
// =============================================================================

func TestToolCall_Signature(t *testing.T) {
	a := ToolCall{Name: "bash", Arguments: map[string]any{"b": 1, "a": "x"}}
	b := ToolCall{Name: "bash", Arguments: map[string]any{"a": "x", "b": 1}}

	assert.Equal(t, `bash({"a":"x","b":1})`, a.Signature())
	assert.Equal(t, a.Signature(), b.Signature())
	assert.Equal(t, "list_dir({})", ToolCall{Name: "list_dir"}.Signature())

	c := ToolCall{Name: "bash", Arguments: map[string]any{"a": "y", "b": 1}}
	assert.NotEqual(t, a.Signature(), c.Signature())
}

func TestBatchSignature(t *testing.T) {
	calls := []ToolCall{
		{Name: "a", Arguments: map[string]any{"x": 1}},
		{Name: "b"},
	}
	assert.Equal(t, `a({"x":1});b({})`, BatchSignature(calls))
	assert.Equal(t, "", BatchSignature(nil))
}

func TestCallIDsAreUnique(t *testing.T) {
	_, calls := DefaultRegistry().AutoParse(`<tool_call>[{"name":"a","arguments":{}},{"name":"a","arguments":{}}]</tool_call>`)
	require.Len(t, calls, 2)
	assert.NotEqual(t, calls[0].ID, calls[1].ID)
}
