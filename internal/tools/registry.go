// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// =============================================================================
// RISK LEVEL
// =============================================================================

// RiskLevel represents how dangerous a tool is.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "unknown"
	}
}

// =============================================================================
// TOOL DEFINITION
// =============================================================================

// Handler executes one tool. A failure the model should see is a Result
// with Success false; an error means the handler itself broke.
type Handler interface {
	Execute(ctx context.Context, workDir string, params map[string]any) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, workDir string, params map[string]any) (Result, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, workDir string, params map[string]any) (Result, error) {
	return f(ctx, workDir, params)
}

// Tool is a named, registered handler.
type Tool struct {
	Name        string
	Description string
	RiskLevel   RiskLevel
	Handler     Handler
}

// Result holds the outcome of a tool execution.
type Result struct {
	Success   bool
	Output    string
	Error     string
	Duration  time.Duration
	Truncated bool
}

// =============================================================================
// TOOL REGISTRY
// =============================================================================

// Registry holds the available tools. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// RegisterBuiltins registers bash, read_file, write_file and list_dir.
func (r *Registry) RegisterBuiltins() {
	r.Register(&Tool{
		Name:        "bash",
		Description: "Run a shell command in the work directory. Params: command, timeout (seconds).",
		RiskLevel:   RiskHigh,
		Handler:     &BashHandler{},
	})
	r.Register(&Tool{
		Name:        "read_file",
		Description: "Read a text file. Params: path, offset (first line, 1-based), limit (lines).",
		RiskLevel:   RiskLow,
		Handler:     &ReadFileHandler{},
	})
	r.Register(&Tool{
		Name:        "write_file",
		Description: "Write a file, replacing it. Params: path, content.",
		RiskLevel:   RiskMedium,
		Handler:     &WriteFileHandler{},
	})
	r.Register(&Tool{
		Name:        "list_dir",
		Description: "List a directory. Params: path.",
		RiskLevel:   RiskLow,
		Handler:     &ListDirHandler{},
	})
}

// Register adds or replaces a tool.
func (r *Registry) Register(tool *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// =============================================================================
// PARAMETER HELPERS
// =============================================================================

// getStringParam extracts a string parameter with a default value.
func getStringParam(params map[string]any, name, defaultVal string) string {
	if v, ok := params[name].(string); ok {
		return v
	}
	return defaultVal
}

// getIntParam extracts an integer parameter with a default value. Models
// send numbers as JSON floats or, often, as strings.
func getIntParam(params map[string]any, name string, defaultVal int) int {
	switch v := params[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
