// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigloop/internal/audit"
	"github.com/jeranaias/rigloop/internal/backend"
	"github.com/jeranaias/rigloop/internal/notify"
	"github.com/jeranaias/rigloop/internal/toolfmt"
	"github.com/jeranaias/rigloop/internal/toolparse"
)

// ErrBusy is returned when a pass is already running for this controller.
var ErrBusy = errors.New("a tool pass is already in flight")

// =============================================================================
// COLLABORATORS
// =============================================================================

// ToolExecutor runs one tool call. *backend.Client and *tools.Executor
// implement it. A tool that ran and failed reports Success false; an error
// means the call could not be made at all.
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, name string, args map[string]any) (backend.ToolResponse, error)
}

// Submitter sends the tool results back to the model. Requests always carry
// Continuation true.
type Submitter interface {
	Submit(ctx context.Context, req backend.Request) error
}

// SubmitFunc adapts a function to Submitter.
type SubmitFunc func(ctx context.Context, req backend.Request) error

// Submit implements Submitter.
func (f SubmitFunc) Submit(ctx context.Context, req backend.Request) error { return f(ctx, req) }

// Source identifies the assistant message the calls were parsed from.
type Source struct {
	MessageID      string
	ConversationID string
	Format         toolparse.Format
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Option configures a Controller.
type Option func(*Controller)

// WithLimits overrides the default limits.
func WithLimits(l Limits) Option {
	return func(c *Controller) { c.limits = l.normalize() }
}

// WithNotifier sets where safety and tool notices go.
func WithNotifier(n notify.Notifier) Option {
	return func(c *Controller) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithRecorder sets the audit ledger.
func WithRecorder(r audit.Recorder) Option {
	return func(c *Controller) {
		if r != nil {
			c.audit = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(c *Controller) { c.log = log.WithName("controller") }
}

// WithContextSize reports the model's maximum context, 0 when unknown.
func WithContextSize(fn func() int) Option {
	return func(c *Controller) { c.contextSize = fn }
}

// Controller owns the tool loop of one conversation. Batches are processed
// strictly one at a time; calls within a batch run concurrently.
type Controller struct {
	mu       sync.Mutex
	state    *State
	inFlight bool
	tags     toolfmt.ToolTags

	limits      Limits
	exec        ToolExecutor
	submit      Submitter
	notifier    notify.Notifier
	audit       audit.Recorder
	log         logr.Logger
	contextSize func() int
}

// New creates a controller over state. A nil state starts a fresh one.
func New(state *State, exec ToolExecutor, submit Submitter, opts ...Option) *Controller {
	if state == nil {
		state = NewState()
	}
	c := &Controller{
		state:       state,
		tags:        toolfmt.DefaultTags(),
		limits:      DefaultLimits(),
		exec:        exec,
		submit:      submit,
		notifier:    notify.Nop,
		audit:       audit.Nop{},
		log:         logr.Discard(),
		contextSize: func() int { return 0 },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTags sets the delimiters results are wrapped in.
func (c *Controller) SetTags(tags toolfmt.ToolTags) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tags.IsZero() {
		tags = toolfmt.DefaultTags()
	}
	c.tags = tags
}

// Limits returns the active limits.
func (c *Controller) Limits() Limits {
	return c.limits
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// ResetForNewTurn starts a new user turn.
func (c *Controller) ResetForNewTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.ResetForNewTurn()
	c.log.V(1).Info("TURN_RESET", "turn", c.state.TurnID)
}

// ShouldStop reports whether calls must not run, and why. It does not
// change the state.
func (c *Controller) ShouldStop(calls []toolparse.ToolCall) (StopReason, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	reason, _ := c.checkLocked(calls)
	return reason, reason != StopNone
}

func (c *Controller) checkLocked(calls []toolparse.ToolCall) (StopReason, string) {
	if c.state.Halted != StopNone {
		return c.state.Halted, "tool loop already halted this turn"
	}
	if max := c.contextSize(); max > 0 && max < c.limits.MinContext {
		return StopContextTooSmall, fmt.Sprintf(
			"model context is %d tokens; tool use needs at least %d", max, c.limits.MinContext)
	}
	if c.state.IterationCount >= c.limits.MaxIterations {
		return StopIterationCap, fmt.Sprintf(
			"reached %d automatic tool round-trips this turn", c.limits.MaxIterations)
	}
	sig := toolparse.BatchSignature(calls)
	if c.state.repeats(sig, c.limits.LoopWindow) {
		return StopRepeatLoop, fmt.Sprintf(
			"the model repeated %s %d times in a row", sig, c.limits.LoopWindow)
	}
	return StopNone, ""
}

// Process runs one batch of tool calls parsed from source and submits the
// results as a continuation.
//
// A source message already processed is a no-op. A safety stop returns a
// *HaltError after notifying the user. Per-call failures become
// "Error: <message>" results and never fail the batch.
func (c *Controller) Process(ctx context.Context, calls []toolparse.ToolCall, source Source) error {
	if len(calls) == 0 {
		return nil
	}

	c.mu.Lock()
	if source.MessageID != "" && source.MessageID == c.state.LastProcessedMessageID {
		c.mu.Unlock()
		c.log.V(1).Info("TOOL_PASS_DUPLICATE", "message", source.MessageID)
		return nil
	}
	if c.inFlight {
		c.mu.Unlock()
		return ErrBusy
	}
	c.state.LastProcessedMessageID = source.MessageID

	alreadyHalted := c.state.Halted != StopNone
	reason, detail := c.checkLocked(calls)
	if reason != StopNone {
		c.state.Halted = reason
		turnID := c.state.TurnID
		c.mu.Unlock()
		if !alreadyHalted {
			c.halt(ctx, turnID, reason, detail)
		}
		return &HaltError{Reason: reason, Detail: detail}
	}

	c.state.IterationCount++
	c.state.CallHistory = append(c.state.CallHistory, toolparse.BatchSignature(calls))
	iteration := c.state.IterationCount
	turnID := c.state.TurnID
	tags := c.tags
	c.inFlight = true
	c.mu.Unlock()

	c.log.Info("TOOL_PASS", "turn", turnID, "iteration", iteration, "dialect", source.Format.String(),
		"calls", len(calls))

	results := c.executeBatch(ctx, calls, turnID, iteration, source.Format)

	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	req := backend.Request{
		Message:        toolparse.FormatResults(results, tags),
		ConversationID: source.ConversationID,
		Continuation:   true,
	}
	if err := c.submit.Submit(ctx, req); err != nil {
		return fmt.Errorf("failed to submit tool results: %w", err)
	}
	return nil
}

// executeBatch runs every call concurrently and returns the results in call
// order.
func (c *Controller) executeBatch(ctx context.Context, calls []toolparse.ToolCall, turnID string, iteration int, format toolparse.Format) []string {
	results := make([]string, len(calls))

	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			results[i] = c.executeOne(ctx, call, turnID, iteration, format)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (c *Controller) executeOne(ctx context.Context, call toolparse.ToolCall, turnID string, iteration int, format toolparse.Format) string {
	start := time.Now()
	resp, err := c.exec.ExecuteTool(ctx, call.Name, call.Arguments)

	var out string
	success := false
	switch {
	case err != nil:
		out = "Error: " + err.Error()
	case !resp.Success:
		msg := resp.Error
		if msg == "" {
			msg = "tool reported failure"
		}
		out = "Error: " + msg
	default:
		out = resp.Result
		success = true
	}
	elapsed := time.Since(start)

	if !success {
		c.log.Info("TOOL_FAILED", "turn", turnID, "iteration", iteration, "dialect", format.String(),
			"tool", call.Name, "error", out)
		c.notifier.Notify(notify.New(notify.KindTool, fmt.Sprintf("%s: %s", call.Name, out)))
	} else {
		c.log.V(1).Info("TOOL_OK", "turn", turnID, "iteration", iteration, "tool", call.Name,
			"bytes", len(out), "duration", elapsed.String())
	}

	args, _ := json.Marshal(call.Arguments)
	rec := audit.CallRecord{
		TurnID:    turnID,
		Iteration: iteration,
		Dialect:   format.String(),
		ToolName:  call.Name,
		Arguments: string(args),
		Success:   success,
		OutputLen: len(out),
		Duration:  elapsed,
	}
	if err := c.audit.RecordCall(context.WithoutCancel(ctx), rec); err != nil {
		c.log.Error(err, "AUDIT_WRITE_FAILED", "tool", call.Name)
	}
	return out
}

func (c *Controller) halt(ctx context.Context, turnID string, reason StopReason, detail string) {
	c.log.Info("TOOL_LOOP_HALTED", "turn", turnID, "reason", reason.String(), "detail", detail)
	c.notifier.Notify(notify.New(notify.KindSafety, "Automatic tool use stopped: "+detail))
	if err := c.audit.RecordStop(context.WithoutCancel(ctx), audit.StopRecord{
		TurnID: turnID,
		Reason: reason.String(),
		Detail: detail,
	}); err != nil {
		c.log.Error(err, "AUDIT_WRITE_FAILED", "reason", reason.String())
	}
}
