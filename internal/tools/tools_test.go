// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T, opts ...Option) (*Executor, string) {
	t.Helper()
	dir := t.TempDir()
	reg := NewRegistry()
	reg.RegisterBuiltins()
	return NewExecutor(reg, append([]Option{WithWorkDir(dir)}, opts...)...), dir
}

func requireBash(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("bash tests need a unix shell")
	}
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not installed")
	}
}

func TestRegistry_Builtins(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterBuiltins()
	assert.Equal(t, []string{"bash", "list_dir", "read_file", "write_file"}, reg.Names())
	assert.Equal(t, RiskHigh, reg.Get("bash").RiskLevel)
	assert.Nil(t, reg.Get("nope"))
}

func TestGetIntParam(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want int
	}{
		{"int", 5, 5},
		{"int64", int64(6), 6},
		{"float", 7.0, 7},
		{"string", "8", 8},
		{"bad string", "x", -1},
		{"missing", nil, -1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			params := map[string]any{}
			if tc.v != nil {
				params["n"] = tc.v
			}
			assert.Equal(t, tc.want, getIntParam(params, "n", -1))
		})
	}
}

func TestValidateCommand(t *testing.T) {
	tests := []struct {
		command string
		blocked bool
	}{
		{"ls -la", false},
		{"echo hello && cat file.txt", false},
		{"rm -rf build/", false},
		{"rm -rf /", true},
		{"rm -fr ~", true},
		{"RM -RF /", true},
		{"ｒｍ -rf /", true},
		{":(){ :|:& };:", true},
		{"mkfs.ext4 /dev/sda1", true},
		{"dd if=/dev/zero of=/dev/sda", true},
		{"sudo reboot", true},
		{"vim main.go", true},
	}
	for _, tc := range tests {
		t.Run(tc.command, func(t *testing.T) {
			err := validateCommand(tc.command)
			if tc.blocked {
				var secErr *BashSecurityError
				assert.ErrorAs(t, err, &secErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSanitizeEnvironment(t *testing.T) {
	env := []string{
		"PATH=/usr/bin",
		"HOME=/home/u",
		"LD_PRELOAD=/tmp/evil.so",
		"DYLD_INSERT_LIBRARIES=x",
		"BASH_ENV=/tmp/rc",
		"BASH_FUNC_ls%%=() { echo; }",
		"malformed",
	}
	assert.Equal(t, []string{"PATH=/usr/bin", "HOME=/home/u"}, sanitizeEnvironment(env))
}

func TestBash_Success(t *testing.T) {
	requireBash(t)
	e, dir := newTestExecutor(t)

	res := e.Execute(context.Background(), "bash", map[string]any{"command": "pwd -P"})
	require.True(t, res.Success, res.Error)
	real, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, real, strings.TrimSpace(res.Output))
}

func TestBash_StderrAndExitCode(t *testing.T) {
	requireBash(t)
	e, _ := newTestExecutor(t)

	res := e.Execute(context.Background(), "bash", map[string]any{"command": "echo out; echo err >&2; exit 3"})
	assert.False(t, res.Success)
	assert.Equal(t, "command exited with code 3", res.Error)
	assert.Equal(t, "out\n\n\nSTDERR:\nerr\n", res.Output)
}

func TestBash_NoOutput(t *testing.T) {
	requireBash(t)
	e, _ := newTestExecutor(t)

	res := e.Execute(context.Background(), "bash", map[string]any{"command": "true"})
	assert.True(t, res.Success)
	assert.Equal(t, "(no output)", res.Output)
}

func TestBash_Timeout(t *testing.T) {
	requireBash(t)
	e, _ := newTestExecutor(t, WithTimeout(100*time.Millisecond))

	res := e.Execute(context.Background(), "bash", map[string]any{"command": "sleep 5"})
	assert.False(t, res.Success)
	assert.Equal(t, "command timed out", res.Error)
	assert.Less(t, res.Duration, 4*time.Second)
}

func TestBash_Cancelled(t *testing.T) {
	requireBash(t)
	e, _ := newTestExecutor(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	res := e.Execute(ctx, "bash", map[string]any{"command": "sleep 5"})
	assert.False(t, res.Success)
	assert.Equal(t, "command cancelled", res.Error)
}

func TestBash_Blocked(t *testing.T) {
	e, _ := newTestExecutor(t)
	res := e.Execute(context.Background(), "bash", map[string]any{"command": "rm -rf /"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "command blocked")

	res = e.Execute(context.Background(), "bash", map[string]any{})
	assert.Equal(t, "command is required", res.Error)
}

func TestReadFile(t *testing.T) {
	e, dir := newTestExecutor(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\ntwo\nthree\n"), 0644))

	res := e.Execute(context.Background(), "read_file", map[string]any{"path": "a.txt"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "     1\tone\n     2\ttwo\n     3\tthree\n", res.Output)

	res = e.Execute(context.Background(), "read_file", map[string]any{"path": "a.txt", "offset": 2.0, "limit": "1"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "     2\ttwo\n... (1 more lines)\n", res.Output)
	assert.True(t, res.Truncated)

	res = e.Execute(context.Background(), "read_file", map[string]any{"path": "a.txt", "offset": 9})
	assert.False(t, res.Success)
}

func TestReadFile_Errors(t *testing.T) {
	e, dir := newTestExecutor(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bin"), []byte{0x7f, 'E', 0, 1}, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty"), nil, 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))

	tests := []struct {
		path    string
		success bool
		want    string
	}{
		{"bin", false, "binary"},
		{"empty", true, "(empty file)"},
		{"sub", false, "directory"},
		{"missing", false, "cannot read"},
		{"../outside", false, "escapes work directory"},
		{"/etc/passwd", false, "escapes work directory"},
		{"", false, "path is required"},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			res := e.Execute(context.Background(), "read_file", map[string]any{"path": tc.path})
			assert.Equal(t, tc.success, res.Success)
			assert.Contains(t, res.Output+res.Error, tc.want)
		})
	}
}

func TestResolvePath_SymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	dir := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "link")))

	_, err := resolvePath(dir, "link")
	assert.Error(t, err)

	got, err := resolvePath(dir, "sub/../file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "file.txt"), got)
}

func TestResolvePath_NewFileUnderSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	e, dir := newTestExecutor(t)
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "link")))
	require.NoError(t, os.Symlink(filepath.Join(outside, "gone.txt"), filepath.Join(dir, "dangling")))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "real"), 0755))

	tests := []struct {
		path string
		ok   bool
	}{
		{"link/new.txt", false},
		{"link/deeper/new.txt", false},
		{"dangling", false},
		{"real/new.txt", true},
		{"missing/dir/new.txt", true},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			_, err := resolvePath(dir, tc.path)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}

	res := e.Execute(context.Background(), "write_file", map[string]any{"path": "link/new.txt", "content": "x"})
	assert.False(t, res.Success)
	_, statErr := os.Stat(filepath.Join(outside, "new.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriteFile(t *testing.T) {
	e, dir := newTestExecutor(t)

	res := e.Execute(context.Background(), "write_file", map[string]any{"path": "nested/out.txt", "content": "hello"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "wrote 5 bytes to nested/out.txt", res.Output)

	data, err := os.ReadFile(filepath.Join(dir, "nested", "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	res = e.Execute(context.Background(), "write_file", map[string]any{"path": "x.txt"})
	assert.Equal(t, "content is required", res.Error)

	res = e.Execute(context.Background(), "write_file", map[string]any{"path": "../x.txt", "content": "no"})
	assert.False(t, res.Success)
}

func TestListDir(t *testing.T) {
	e, dir := newTestExecutor(t)

	res := e.Execute(context.Background(), "list_dir", map[string]any{})
	require.True(t, res.Success)
	assert.Equal(t, "(empty directory)", res.Output)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("abc"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "a"), 0755))

	res = e.Execute(context.Background(), "list_dir", map[string]any{"path": "."})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "a/\nb.txt (3 bytes)\n", res.Output)
}

func TestExecutor_UnknownTool(t *testing.T) {
	e, _ := newTestExecutor(t)
	res := e.Execute(context.Background(), "teleport", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "unknown tool: teleport", res.Error)
}

func TestExecutor_TruncatesOutput(t *testing.T) {
	e, _ := newTestExecutor(t, WithMaxOutput(50))
	e.registry.Register(&Tool{
		Name: "big",
		Handler: HandlerFunc(func(ctx context.Context, workDir string, params map[string]any) (Result, error) {
			return Result{Success: true, Output: strings.Repeat("x", 500)}, nil
		}),
	})

	res := e.Execute(context.Background(), "big", nil)
	assert.True(t, res.Truncated)
	assert.Contains(t, res.Output, "bytes truncated")
	assert.Less(t, len(res.Output), 500)
}

func TestExecutor_ExecuteTool(t *testing.T) {
	e, _ := newTestExecutor(t)
	e.registry.Register(&Tool{
		Name: "ok",
		Handler: HandlerFunc(func(ctx context.Context, workDir string, params map[string]any) (Result, error) {
			return Result{Success: true, Output: "fine"}, nil
		}),
	})
	e.registry.Register(&Tool{
		Name: "fail",
		Handler: HandlerFunc(func(ctx context.Context, workDir string, params map[string]any) (Result, error) {
			return Result{Success: false, Error: "bad", Output: "details"}, nil
		}),
	})
	e.registry.Register(&Tool{
		Name: "broken",
		Handler: HandlerFunc(func(ctx context.Context, workDir string, params map[string]any) (Result, error) {
			return Result{}, assert.AnError
		}),
	})

	resp, err := e.ExecuteTool(context.Background(), "ok", nil)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "fine", resp.Result)

	resp, err = e.ExecuteTool(context.Background(), "fail", nil)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "bad\ndetails", resp.Error)

	resp, err = e.ExecuteTool(context.Background(), "broken", nil)
	require.NoError(t, err)
	assert.Equal(t, assert.AnError.Error(), resp.Error)

	st := e.Stats()
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 1, st.Succeeded)
	assert.Equal(t, 2, st.Failed)
	assert.Len(t, e.History(), 3)
}
