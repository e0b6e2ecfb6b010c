// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package notify is the single channel through which transport failures,
// tool failures and safety stops reach the user.
package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
)

// Kind categorizes a notice.
type Kind string

const (
	KindTransport Kind = "transport"
	KindTool      Kind = "tool"
	KindSafety    Kind = "safety"
	KindInfo      Kind = "info"
)

// Notice is one user-visible message.
type Notice struct {
	Kind    Kind
	Message string
	Time    time.Time
}

// New creates a notice stamped with the current time.
func New(kind Kind, message string) Notice {
	return Notice{Kind: kind, Message: message, Time: time.Now()}
}

// Notifier receives user-visible notices.
type Notifier interface {
	Notify(n Notice)
}

// Func adapts a function to Notifier.
type Func func(Notice)

// Notify implements Notifier.
func (f Func) Notify(n Notice) { f(n) }

// Nop discards notices.
var Nop Notifier = Func(func(Notice) {})

// =============================================================================
// CHANNEL
// =============================================================================

// Channel delivers notices on a buffered channel. Notify never blocks: when
// the buffer is full the notice is dropped and logged.
type Channel struct {
	ch      chan Notice
	log     logr.Logger
	dropped atomic.Uint64
}

// NewChannel creates a channel notifier with the given buffer size.
func NewChannel(size int, log logr.Logger) *Channel {
	if size <= 0 {
		size = 64
	}
	return &Channel{
		ch:  make(chan Notice, size),
		log: log.WithName("notify"),
	}
}

// Notify implements Notifier.
func (c *Channel) Notify(n Notice) {
	select {
	case c.ch <- n:
	default:
		c.dropped.Add(1)
		c.log.Info("NOTICE_DROPPED", "kind", string(n.Kind), "message", n.Message)
	}
}

// C returns the receive side.
func (c *Channel) C() <-chan Notice {
	return c.ch
}

// Dropped returns how many notices were discarded.
func (c *Channel) Dropped() uint64 {
	return c.dropped.Load()
}

// =============================================================================
// RECORDER
// =============================================================================

// Recorder keeps every notice in memory. Intended for tests.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

// Notify implements Notifier.
func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

// Notices returns a copy of the recorded notices.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// OfKind returns the recorded notices of one kind.
func (r *Recorder) OfKind(kind Kind) []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notice
	for _, n := range r.notices {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// Reset clears the recorded notices.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = nil
}
