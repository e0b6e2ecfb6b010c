// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/jeranaias/rigloop/internal/backend"
	"github.com/jeranaias/rigloop/internal/util"
)

// TOOLS: Proper timeout, validation, and resource cleanup
// DefaultToolTimeout is applied when the context has no deadline.
const DefaultToolTimeout = 120 * time.Second

// DefaultMaxOutput bounds the bytes of output returned to the model.
const DefaultMaxOutput = 30000

// maxHistory caps the in-memory execution history.
const maxHistory = 200

// ExecutionRecord tracks one execution.
type ExecutionRecord struct {
	ToolName  string
	Params    map[string]any
	Result    Result
	Timestamp time.Time
}

// ExecutionStats summarizes the history.
type ExecutionStats struct {
	Total     int
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithWorkDir sets the directory tools run in.
func WithWorkDir(dir string) Option {
	return func(e *Executor) {
		if dir != "" {
			e.workDir = dir
		}
	}
}

// WithTimeout sets the per-call timeout used when ctx has no deadline.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMaxOutput sets the output byte limit.
func WithMaxOutput(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxOutputSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(e *Executor) { e.log = log.WithName("tools") }
}

// Executor runs tools from a registry. It implements the controller's
// ToolExecutor so local execution can stand in for the backend.
type Executor struct {
	registry      *Registry
	workDir       string
	timeout       time.Duration
	maxOutputSize int
	log           logr.Logger

	mu      sync.Mutex
	history []ExecutionRecord
}

// NewExecutor creates an executor over registry.
func NewExecutor(registry *Registry, opts ...Option) *Executor {
	e := &Executor{
		registry:      registry,
		workDir:       ".",
		timeout:       DefaultToolTimeout,
		maxOutputSize: DefaultMaxOutput,
		log:           logr.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if abs, err := filepath.Abs(e.workDir); err == nil {
		e.workDir = abs
	}
	return e
}

// WorkDir returns the absolute work directory.
func (e *Executor) WorkDir() string {
	return e.workDir
}

// Execute runs a tool and returns its result. Unknown tools and handler
// errors come back as failed Results.
func (e *Executor) Execute(ctx context.Context, name string, params map[string]any) Result {
	start := time.Now()
	if params == nil {
		params = map[string]any{}
	}

	tool := e.registry.Get(name)
	if tool == nil {
		result := Result{Success: false, Error: "unknown tool: " + name, Duration: time.Since(start)}
		e.addToHistory(name, params, result, start)
		return result
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	result, err := tool.Handler.Execute(ctx, e.workDir, params)
	if err != nil {
		result = Result{Success: false, Error: err.Error()}
	}
	if len(result.Output) > e.maxOutputSize {
		result.Output = util.TruncateMiddle(result.Output, e.maxOutputSize)
		result.Truncated = true
	}
	result.Duration = time.Since(start)

	e.log.V(1).Info("TOOL_EXEC", "tool", name, "risk", tool.RiskLevel.String(), "success", result.Success,
		"bytes", len(result.Output), "duration", result.Duration.String())
	e.addToHistory(name, params, result, start)
	return result
}

// ExecuteTool implements the controller's ToolExecutor.
func (e *Executor) ExecuteTool(ctx context.Context, name string, args map[string]any) (backend.ToolResponse, error) {
	result := e.Execute(ctx, name, args)
	if result.Success {
		return backend.ToolResponse{Success: true, Result: result.Output}, nil
	}
	msg := result.Error
	if result.Output != "" {
		msg = fmt.Sprintf("%s\n%s", msg, result.Output)
	}
	return backend.ToolResponse{Success: false, Error: msg}, nil
}

// History returns a copy of the execution history.
func (e *Executor) History() []ExecutionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ExecutionRecord, len(e.history))
	copy(out, e.history)
	return out
}

// Stats summarizes the execution history.
func (e *Executor) Stats() ExecutionStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	var st ExecutionStats
	for _, rec := range e.history {
		st.Total++
		if rec.Result.Success {
			st.Succeeded++
		} else {
			st.Failed++
		}
		st.Duration += rec.Result.Duration
	}
	return st
}

func (e *Executor) addToHistory(name string, params map[string]any, result Result, start time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, ExecutionRecord{ToolName: name, Params: params, Result: result, Timestamp: start})
	if len(e.history) > maxHistory {
		e.history = e.history[len(e.history)-maxHistory:]
	}
}
