// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeranaias/rigloop/internal/util"
)

const (
	// maxReadSize bounds the file size read_file accepts.
	maxReadSize = 10 * 1024 * 1024
	// defaultLineLimit is the number of lines read_file returns by default.
	defaultLineLimit = 2000
	// maxListEntries bounds list_dir output.
	maxListEntries = 1000
)

// =============================================================================
// PATH CONFINEMENT
// =============================================================================

// resolvePath resolves p against workDir and rejects paths that leave it.
func resolvePath(workDir, p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("path is required")
	}
	root, err := filepath.Abs(workDir)
	if err != nil {
		return "", fmt.Errorf("invalid work directory: %w", err)
	}
	target := p
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	target = filepath.Clean(target)

	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes work directory: %s", p)
	}

	// Symlinks may point out of the tree even when the lexical path does not.
	// A file that does not exist yet is checked through its deepest existing
	// parent.
	resolved, err := resolveExisting(target)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		realRoot = root
	}
	rel, err = filepath.Rel(realRoot, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes work directory: %s", p)
	}
	return target, nil
}

// maxLinkHops bounds dangling-link chains followed by resolveExisting.
const maxLinkHops = 40

// resolveExisting evaluates symlinks in the longest existing prefix of path
// and appends the components that do not exist yet. A dangling symlink is
// followed to where it points.
func resolveExisting(path string) (string, error) {
	var missing []string
	cur := path
	for hops := 0; ; {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return resolved, nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		if fi, lerr := os.Lstat(cur); lerr == nil && fi.Mode()&os.ModeSymlink != 0 {
			if hops++; hops > maxLinkHops {
				return "", fmt.Errorf("too many levels of symbolic links: %s", path)
			}
			dest, rerr := os.Readlink(cur)
			if rerr != nil {
				return "", rerr
			}
			if !filepath.IsAbs(dest) {
				dest = filepath.Join(filepath.Dir(cur), dest)
			}
			cur = dest
			continue
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return path, nil
		}
		missing = append(missing, filepath.Base(cur))
		cur = parent
	}
}

// =============================================================================
// READ FILE
// =============================================================================

// ReadFileHandler reads text files with line numbers.
type ReadFileHandler struct{}

// Execute implements Handler.
func (h *ReadFileHandler) Execute(ctx context.Context, workDir string, params map[string]any) (Result, error) {
	path, err := resolvePath(workDir, getStringParam(params, "path", ""))
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("cannot read %s: %v", params["path"], err)}, nil
	}
	if info.IsDir() {
		return Result{Success: false, Error: "path is a directory, use list_dir"}, nil
	}
	if info.Size() > maxReadSize {
		return Result{Success: false, Error: fmt.Sprintf("file too large (%d bytes)", info.Size())}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("cannot read %s: %v", params["path"], err)}, nil
	}
	if isBinary(data) {
		return Result{Success: false, Error: "file appears to be binary"}, nil
	}
	if len(data) == 0 {
		return Result{Success: true, Output: "(empty file)"}, nil
	}

	offset := getIntParam(params, "offset", 1)
	if offset < 1 {
		offset = 1
	}
	limit := getIntParam(params, "limit", defaultLineLimit)
	if limit <= 0 {
		limit = defaultLineLimit
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if offset > len(lines) {
		return Result{Success: false, Error: fmt.Sprintf("offset %d is past the end of the file (%d lines)", offset, len(lines))}, nil
	}
	end := offset - 1 + limit
	truncated := false
	if end > len(lines) {
		end = len(lines)
	} else if end < len(lines) {
		truncated = true
	}

	var out strings.Builder
	for i := offset - 1; i < end; i++ {
		fmt.Fprintf(&out, "%6d\t%s\n", i+1, lines[i])
	}
	if truncated {
		fmt.Fprintf(&out, "... (%d more lines)\n", len(lines)-end)
	}
	return Result{Success: true, Output: out.String(), Truncated: truncated}, nil
}

// isBinary reports whether data looks like a binary file.
func isBinary(data []byte) bool {
	sample := data
	if len(sample) > 8000 {
		sample = sample[:8000]
	}
	return bytes.IndexByte(sample, 0) >= 0
}

// =============================================================================
// WRITE FILE
// =============================================================================

// WriteFileHandler writes a whole file atomically.
type WriteFileHandler struct{}

// Execute implements Handler.
func (h *WriteFileHandler) Execute(ctx context.Context, workDir string, params map[string]any) (Result, error) {
	path, err := resolvePath(workDir, getStringParam(params, "path", ""))
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	content, ok := params["content"].(string)
	if !ok {
		return Result{Success: false, Error: "content is required"}, nil
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return Result{Success: false, Error: "path is a directory"}, nil
	}

	if err := util.AtomicWriteFile(path, []byte(content), 0644); err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	return Result{Success: true, Output: fmt.Sprintf("wrote %d bytes to %s", len(content), params["path"])}, nil
}

// =============================================================================
// LIST DIR
// =============================================================================

// ListDirHandler lists one directory level.
type ListDirHandler struct{}

// Execute implements Handler.
func (h *ListDirHandler) Execute(ctx context.Context, workDir string, params map[string]any) (Result, error) {
	path, err := resolvePath(workDir, getStringParam(params, "path", "."))
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("cannot list %s: %v", params["path"], err)}, nil
	}
	if len(entries) == 0 {
		return Result{Success: true, Output: "(empty directory)"}, nil
	}

	var out strings.Builder
	truncated := false
	for i, entry := range entries {
		if i >= maxListEntries {
			fmt.Fprintf(&out, "... (%d more entries)\n", len(entries)-i)
			truncated = true
			break
		}
		if entry.IsDir() {
			out.WriteString(entry.Name() + "/\n")
			continue
		}
		size := int64(0)
		if info, err := entry.Info(); err == nil {
			size = info.Size()
		}
		fmt.Fprintf(&out, "%s (%d bytes)\n", entry.Name(), size)
	}
	return Result{Success: true, Output: out.String(), Truncated: truncated}, nil
}
