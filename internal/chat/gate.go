// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "sync/atomic"

// StreamGate reports whether a live stream owns the conversation.
type StreamGate struct {
	active atomic.Bool
}

// Begin marks a stream active. It returns false if one already was.
func (g *StreamGate) Begin() bool {
	return g.active.CompareAndSwap(false, true)
}

// End marks the stream finished.
func (g *StreamGate) End() {
	g.active.Store(false)
}

// Active reports whether a stream is in flight.
func (g *StreamGate) Active() bool {
	return g.active.Load()
}
