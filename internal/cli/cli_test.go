// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigloop/internal/audit"
	"github.com/jeranaias/rigloop/internal/chat"
	"github.com/jeranaias/rigloop/internal/config"
	"github.com/jeranaias/rigloop/internal/model"
	"github.com/jeranaias/rigloop/internal/notify"
	"github.com/jeranaias/rigloop/internal/toolfmt"
)

const qwenReply = "Let me look.\n<tool_call>{\"name\": \"read_file\", \"arguments\": {\"path\": \"a.txt\"}}</tool_call>"

// isolate points the config directory at a temp dir for the test.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("RIGLOOP_HOME", dir)
	return dir
}

// run executes the command tree with args and returns stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func decodeData(t *testing.T, out string) map[string]any {
	t.Helper()
	var resp struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.True(t, resp.Success)
	return resp.Data
}

func TestStreamPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := newStreamPrinter(&buf, toolfmt.DefaultTags())

	for _, tok := range []string{"Hi ", "there", "<tool_", "call>{\"name\": \"x\", \"arguments\": {}}</tool_call>"} {
		p.Token("m1", tok)
	}
	p.End()
	p.Token("m2", "Next")
	p.Line("done")

	assert.Equal(t, "Hi there\nNext\ndone\n", buf.String())
}

func TestStreamPrinter_MultiLineReply(t *testing.T) {
	var buf bytes.Buffer
	p := newStreamPrinter(&buf, toolfmt.DefaultTags())

	reply := "Plan:\n  1. look\n\n<tool_call>{\"name\": \"bash\", \"arguments\": {}}</tool_call>\nDone."
	for _, r := range reply {
		p.Token("m1", string(r))
	}
	p.End()

	assert.Equal(t, "Plan:\n  1. look\n\nDone.\n", buf.String())
}

func TestStreamPrinter_NewMessageEndsLine(t *testing.T) {
	var buf bytes.Buffer
	p := newStreamPrinter(&buf, toolfmt.DefaultTags())

	p.Token("m1", "first")
	p.Token("m2", "second")
	p.End()

	assert.Equal(t, "first\nsecond\n", buf.String())
}

func TestParseCommand(t *testing.T) {
	out, err := run(t, qwenReply, "parse")
	require.NoError(t, err)
	assert.Contains(t, out, "qwen")
	assert.Contains(t, out, `read_file({"path":"a.txt"})`)
	assert.Contains(t, out, "Let me look.")
	assert.NotContains(t, out, "<tool_call>")
}

func TestParseCommand_JSON(t *testing.T) {
	out, err := run(t, qwenReply, "parse", "--json")
	require.NoError(t, err)

	data := decodeData(t, out)
	assert.Equal(t, "qwen", data["dialect"])
	assert.Equal(t, "Let me look.", data["text"])
	calls, ok := data["calls"].([]any)
	require.True(t, ok)
	require.Len(t, calls, 1)
	assert.Equal(t, "read_file", calls[0].(map[string]any)["name"])
}

func TestParseCommand_NoCalls(t *testing.T) {
	out, err := run(t, "plain answer", "parse", "--json")
	require.NoError(t, err)

	data := decodeData(t, out)
	assert.Equal(t, "unknown", data["dialect"])
	assert.Empty(t, data["calls"])
}

func TestPlanCommand_Manual(t *testing.T) {
	isolate(t)
	out, err := run(t, "", "plan", "--json",
		"--layers", "32", "--heads", "32", "--kv-heads", "8", "--embedding", "4096",
		"--size-gb", "4.7", "--max-context", "131072", "--available-gb", "6.4", "--requested", "8192")
	require.NoError(t, err)

	data := decodeData(t, out)
	assert.Equal(t, float64(32), data["gpu_layers"])
	assert.Equal(t, float64(8192), data["context_size"])
	assert.Equal(t, "flag", data["vram_source"])
	assert.InDelta(t, 6.2, data["estimate_gb"], 1e-9)
}

func TestPlanCommand_InvalidManual(t *testing.T) {
	isolate(t)
	_, err := run(t, "", "plan", "--layers", "32", "--available-gb", "8")
	assert.Error(t, err)
}

func TestAvailableVRAM_Precedence(t *testing.T) {
	a := &app{cfg: config.Default(), log: logr.Discard()}

	gb, src, err := availableVRAM(context.Background(), a, &planFlags{availableGB: 3})
	require.NoError(t, err)
	assert.Equal(t, 3.0, gb)
	assert.Equal(t, "flag", src)

	a.cfg.VRAM.AvailableGB = 5
	gb, src, err = availableVRAM(context.Background(), a, &planFlags{})
	require.NoError(t, err)
	assert.Equal(t, 5.0, gb)
	assert.Equal(t, "config", src)
}

func TestConfigCommands(t *testing.T) {
	dir := isolate(t)

	out, err := run(t, "", "config", "path")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.toml")+"\n", out)

	_, err = run(t, "", "config", "set", "tools.max_iterations", "7")
	require.NoError(t, err)

	out, err = run(t, "", "config", "get", "tools.max_iterations")
	require.NoError(t, err)
	assert.Equal(t, "7\n", out)

	_, err = run(t, "", "config", "set", "tools.mode", "cloud")
	assert.Error(t, err, "invalid values are not saved")

	out, err = run(t, "", "config")
	require.NoError(t, err)
	assert.Contains(t, out, "max_iterations = 7")
}

func TestAuditCommand(t *testing.T) {
	dir := isolate(t)
	store, err := audit.Open(filepath.Join(dir, "audit.db"))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.RecordCall(ctx, audit.CallRecord{
		TurnID: "t1", Iteration: 1, Dialect: "qwen", ToolName: "read_file",
		Arguments: `{"path":"a.txt"}`, Success: true, Duration: 15 * time.Millisecond,
	}))
	require.NoError(t, store.RecordStop(ctx, audit.StopRecord{TurnID: "t1", Reason: "repeat_loop", Detail: "read_file"}))
	require.NoError(t, store.Close())

	out, err := run(t, "", "audit")
	require.NoError(t, err)
	assert.Contains(t, out, "read_file")
	assert.Contains(t, out, "repeat_loop")
	assert.Contains(t, out, "1 (0 failed)")
}

func newTestShell(buf *bytes.Buffer) *chatShell {
	sess := chat.New(nil, nil, nil)
	return &chatShell{sess: sess, printer: newStreamPrinter(buf, toolfmt.DefaultTags()), out: buf}
}

func TestHandleSlash(t *testing.T) {
	tests := []struct {
		input string
		quit  bool
		want  string
	}{
		{"/quit", true, ""},
		{"/exit", true, ""},
		{"/help", false, "/cancel"},
		{"/cancel", false, "Nothing to cancel."},
		{"/clear", false, "Transcript cleared."},
		{"/status", false, "(not assigned yet)"},
		{"/status", false, "0 / 20"},
		{"/bogus now", false, "/bogus"},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			var buf bytes.Buffer
			sh := newTestShell(&buf)
			assert.Equal(t, tc.quit, sh.handleSlash(tc.input))
			assert.Contains(t, buf.String(), tc.want)
		})
	}
}

func TestHandleSlash_Save(t *testing.T) {
	var buf bytes.Buffer
	sh := newTestShell(&buf)
	sh.sess.Conversation().AddUserMessage("list files")
	path := filepath.Join(t.TempDir(), "chat.log")

	assert.False(t, sh.handleSlash("/save "+path))
	assert.Contains(t, buf.String(), "Saved to")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	msgs := model.ParseLog(string(data))
	require.Len(t, msgs, 1)
	assert.Equal(t, "list files", msgs[0].Content)

	buf.Reset()
	sh.handleSlash("/save")
	assert.Contains(t, buf.String(), "Usage")
}

func TestHandleSlash_StatusShowsLastMessage(t *testing.T) {
	var buf bytes.Buffer
	sh := newTestShell(&buf)
	sh.sess.Conversation().AddUserMessage("list the files\nin this directory please, all of them, recursively and sorted")

	sh.handleSlash("/status")
	out := buf.String()
	assert.Contains(t, out, "You: list the files in this directory")
	assert.Contains(t, out, "...")
}

func TestPrintStatus(t *testing.T) {
	r := &statusReport{}
	r.Backend.URL = "http://127.0.0.1:8080"
	r.Backend.Error = "connection refused"
	r.Ollama.URL = "http://127.0.0.1:11434"
	r.Ollama.Running = true
	r.Ollama.Model = "llama3.1:8b"
	r.Ollama.Present = true
	r.Ollama.Models = []statusModel{{Name: "llama3.1:8b", Size: "4.6 GB"}}
	r.GPU.Error = "no GPU"

	var buf bytes.Buffer
	printStatus(&buf, r)
	out := buf.String()
	assert.Contains(t, out, "rigloop status")
	assert.Contains(t, out, "====")
	assert.Contains(t, out, "connection refused")
	assert.Contains(t, out, "llama3.1:8b (available)")
	assert.Contains(t, out, "4.6 GB")
	assert.Contains(t, out, "none detected")
}

func TestRenderNotice(t *testing.T) {
	tests := []struct {
		kind notify.Kind
		want string
	}{
		{notify.KindSafety, "[Stopped]"},
		{notify.KindTool, "[Tool]"},
		{notify.KindTransport, "[Connection]"},
		{notify.KindInfo, "hello"},
	}
	for _, tc := range tests {
		got := RenderNotice(notify.New(tc.kind, "hello"))
		assert.Contains(t, got, tc.want)
		assert.Contains(t, got, "hello")
	}
}

func TestPadCell(t *testing.T) {
	assert.Equal(t, "abc  ", padCell("abc", 5))
	assert.Equal(t, "ab...", padCell("abcdefgh", 5))
	assert.Equal(t, "日本 ", padCell("日本", 5))
}

func TestJSONResponse(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewJSONErrorResponse("plan", assert.AnError).Write(&buf))

	var resp JSONResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, assert.AnError.Error(), *resp.Error)
	assert.Equal(t, "plan", resp.Command)
}
