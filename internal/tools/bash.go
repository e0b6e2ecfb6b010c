// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// SECURITY: Unicode Normalization
// =============================================================================

// normalizeCommand folds a command to NFKC so fullwidth and other
// compatibility lookalikes match the block list.
func normalizeCommand(cmd string) string {
	return norm.NFKC.String(cmd)
}

// =============================================================================
// SECURITY: Block List
// =============================================================================

// blockedPatterns match commands that are never run for the model.
var blockedPatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`\brm\s+(-[a-z]*r[a-z]*f|-[a-z]*f[a-z]*r)[a-z]*\s+(/|~|\$home)(\s|$|\*)`), "recursive delete of a root or home directory"},
	{regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`), "fork bomb"},
	{regexp.MustCompile(`\bmkfs(\.\w+)?\b`), "filesystem formatting"},
	{regexp.MustCompile(`\bdd\b.*\bof=/dev/`), "raw device write"},
	{regexp.MustCompile(`>\s*/dev/(sd|nvme|hd)`), "raw device write"},
	{regexp.MustCompile(`\b(shutdown|reboot|halt|poweroff)\b`), "system power control"},
	{regexp.MustCompile(`\bchmod\s+(-r\s+)?777\s+/(\s|$)`), "permission change on the root directory"},
}

// interactiveCommands need a TTY the tool runner does not have.
var interactiveCommands = []string{"vim", "vi", "nano", "emacs", "less", "more", "top", "htop", "ssh"}

// BashSecurityError is returned for a blocked command.
type BashSecurityError struct {
	Command string
	Reason  string
}

func (e *BashSecurityError) Error() string {
	return "command blocked: " + e.Reason
}

// validateCommand checks a command against the block list.
func validateCommand(command string) error {
	normalized := strings.ToLower(normalizeCommand(command))
	normalized = strings.ReplaceAll(normalized, "\t", " ")

	for _, p := range blockedPatterns {
		if p.re.MatchString(normalized) {
			return &BashSecurityError{Command: command, Reason: p.reason}
		}
	}

	fields := strings.Fields(normalized)
	if len(fields) > 0 {
		for _, interactive := range interactiveCommands {
			if fields[0] == interactive {
				return &BashSecurityError{
					Command: command,
					Reason:  "interactive command '" + interactive + "' cannot run without a terminal",
				}
			}
		}
	}
	return nil
}

// =============================================================================
// BASH HANDLER
// =============================================================================

// BashHandler runs shell commands.
type BashHandler struct {
	// MaxTimeout caps the timeout a call may ask for (default: 10 minutes)
	MaxTimeout time.Duration
}

// Execute implements Handler.
func (h *BashHandler) Execute(ctx context.Context, workDir string, params map[string]any) (Result, error) {
	command := strings.TrimSpace(getStringParam(params, "command", ""))
	if command == "" {
		return Result{Success: false, Error: "command is required"}, nil
	}
	if err := validateCommand(command); err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}

	maxTimeout := h.MaxTimeout
	if maxTimeout == 0 {
		maxTimeout = 10 * time.Minute
	}
	if secs := getIntParam(params, "timeout", 0); secs > 0 {
		timeout := time.Duration(secs) * time.Second
		if timeout > maxTimeout {
			timeout = maxTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(ctx, "bash", "-c", command)
	}
	cmd.Dir = workDir
	cmd.Env = sanitizeEnvironment(os.Environ())
	// Children that inherit the pipes must not hold Wait open after a kill.
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	output := buildOutput(&stdout, &stderr)

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return Result{Success: false, Error: "command timed out", Output: output}, nil
		}
		return Result{Success: false, Error: "command cancelled", Output: output}, nil
	}
	if err != nil {
		msg := "command failed: " + err.Error()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg = fmt.Sprintf("command exited with code %d", exitErr.ExitCode())
		}
		return Result{Success: false, Error: msg, Output: output}, nil
	}
	return Result{Success: true, Output: output}, nil
}

// buildOutput joins stdout and stderr.
func buildOutput(stdout, stderr *bytes.Buffer) string {
	var out strings.Builder
	out.Write(stdout.Bytes())
	if stderr.Len() > 0 {
		if out.Len() > 0 {
			out.WriteString("\n\nSTDERR:\n")
		}
		out.Write(stderr.Bytes())
	}
	if out.Len() == 0 {
		return "(no output)"
	}
	return out.String()
}

// sanitizeEnvironment drops variables that let a command hijack the shell
// or the dynamic loader.
func sanitizeEnvironment(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		idx := strings.Index(kv, "=")
		if idx <= 0 {
			continue
		}
		key := strings.ToUpper(kv[:idx])
		switch {
		case key == "BASH_ENV", key == "ENV", key == "PROMPT_COMMAND", key == "SHELLOPTS":
			continue
		case strings.HasPrefix(key, "BASH_FUNC_"), strings.HasPrefix(key, "LD_"), strings.HasPrefix(key, "DYLD_"):
			continue
		}
		out = append(out, kv)
	}
	return out
}
