// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package controller

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// =============================================================================
// LIMITS
// =============================================================================

const (
	DefaultMaxIterations = 20
	DefaultLoopWindow    = 3
	DefaultMinContext    = 4096
)

// Limits bounds automatic tool execution within one turn.
type Limits struct {
	MaxIterations int
	LoopWindow    int
	MinContext    int
}

// DefaultLimits returns the stock limits.
func DefaultLimits() Limits {
	return Limits{
		MaxIterations: DefaultMaxIterations,
		LoopWindow:    DefaultLoopWindow,
		MinContext:    DefaultMinContext,
	}
}

// normalize replaces unset fields with defaults. A loop window below 2
// would flag every batch, so it falls back too.
func (l Limits) normalize() Limits {
	if l.MaxIterations <= 0 {
		l.MaxIterations = DefaultMaxIterations
	}
	if l.LoopWindow < 2 {
		l.LoopWindow = DefaultLoopWindow
	}
	if l.MinContext < 0 {
		l.MinContext = DefaultMinContext
	}
	return l
}

// =============================================================================
// STOP REASONS
// =============================================================================

// StopReason says why the tool loop halted.
type StopReason int

const (
	StopNone StopReason = iota
	StopContextTooSmall
	StopIterationCap
	StopRepeatLoop
)

func (r StopReason) String() string {
	switch r {
	case StopNone:
		return "none"
	case StopContextTooSmall:
		return "context_too_small"
	case StopIterationCap:
		return "iteration_cap"
	case StopRepeatLoop:
		return "repeat_loop"
	default:
		return "unknown"
	}
}

// ErrHalted matches every *HaltError.
var ErrHalted = errors.New("tool loop halted")

// HaltError is returned by Process when a safety limit stops the loop.
type HaltError struct {
	Reason StopReason
	Detail string
}

func (e *HaltError) Error() string {
	return fmt.Sprintf("tool loop halted (%s): %s", e.Reason, e.Detail)
}

// Is lets errors.Is(err, ErrHalted) match.
func (e *HaltError) Is(target error) bool {
	return target == ErrHalted
}

// =============================================================================
// STATE
// =============================================================================

// State is the tool-execution state of one user turn.
//
// IterationCount only grows within a turn. CallHistory holds one signature
// per executed batch. LastProcessedMessageID survives turn resets: message
// IDs are unique, and keeping it stops a late re-detection of an old
// message from running its tools again.
type State struct {
	TurnID                 string
	IterationCount         int
	CallHistory            []string
	LastProcessedMessageID string
	Halted                 StopReason
}

// NewState returns a state for a fresh turn.
func NewState() *State {
	s := &State{}
	s.ResetForNewTurn()
	return s
}

// ResetForNewTurn clears the per-turn counters.
func (s *State) ResetForNewTurn() {
	s.TurnID = uuid.NewString()
	s.IterationCount = 0
	s.CallHistory = nil
	s.Halted = StopNone
}

// clone returns a copy that shares nothing with s.
func (s *State) clone() State {
	cp := *s
	cp.CallHistory = append([]string(nil), s.CallHistory...)
	return cp
}

// repeats reports whether sig would make the last window batches identical.
func (s *State) repeats(sig string, window int) bool {
	need := window - 1
	if len(s.CallHistory) < need {
		return false
	}
	for _, prev := range s.CallHistory[len(s.CallHistory)-need:] {
		if prev != sig {
			return false
		}
	}
	return true
}
