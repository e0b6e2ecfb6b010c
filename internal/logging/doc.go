// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the logr.Logger used across rigloop.
//
// Log lines are not written inline. They go to a bounded Queue that a timer
// drains in batches, so a burst of frame-level debug lines never blocks the
// streaming path. When the queue is full the oldest line is dropped and
// counted.
//
// # Usage
//
//	q := logging.NewQueue(os.Stderr, 1024, 250*time.Millisecond)
//	defer q.Close()
//	log := logging.New(q, 1)
//	log.Info("TOOL_EXEC", "tool", "bash", "iteration", 3)
package logging
