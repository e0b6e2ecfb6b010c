// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package controller decides whether the model's tool calls run, runs them,
// and feeds the results back as a continuation.
//
// The per-turn counters live in an explicit State passed by pointer. A new
// user turn resets it through ResetForNewTurn; tool-result continuations
// never do.
//
// Safety limits are checked in order, and the first one that matches halts
// the loop for the rest of the turn:
//
//  1. context too small (reported max context below Limits.MinContext)
//  2. iteration cap (Limits.MaxIterations round-trips per turn)
//  3. repeat loop (the last Limits.LoopWindow batches are identical)
package controller
