// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package watcher

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/jeranaias/rigloop/internal/model"
)

// ConnState is the externally reported connection state.
type ConnState int

const (
	ConnReconnecting ConnState = iota
	ConnConnected
)

func (s ConnState) String() string {
	if s == ConnConnected {
		return "connected"
	}
	return "reconnecting"
}

// Sink receives parsed snapshots. It returns false when it refused one.
// *chat.Session implements it.
type Sink interface {
	ApplySnapshot(messages []*model.Message, tokensUsed, maxTokens int) bool
}

// Gate reports whether a live stream owns the conversation.
type Gate interface {
	Active() bool
}

// Stats counts what the watcher did with updates.
type Stats struct {
	Applied    uint64
	Suppressed uint64
	Reconnects uint64
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithGate sets the live-stream gate. Without one nothing is suppressed.
func WithGate(g Gate) Option {
	return func(w *Watcher) { w.gate = g }
}

// WithBackoff sets the reconnect delays. Non-positive values keep the
// defaults.
func WithBackoff(base, max time.Duration) Option {
	return func(w *Watcher) {
		if base > 0 {
			w.backoff.Base = base
		}
		if max > 0 {
			w.backoff.Max = max
		}
	}
}

// WithStateHandler registers fn for connection state changes.
func WithStateHandler(fn func(ConnState)) Option {
	return func(w *Watcher) { w.onState = fn }
}

// WithConversationID sets how the watched conversation is found. It is
// called on every connect, so a conversation the backend assigns later is
// picked up on reconnect.
func WithConversationID(fn func() string) Option {
	return func(w *Watcher) { w.conversationID = fn }
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(w *Watcher) { w.log = log.WithName("watcher") }
}

// Watcher applies pushed log snapshots to a Sink.
type Watcher struct {
	src            Source
	sink           Sink
	gate           Gate
	onState        func(ConnState)
	conversationID func() string
	log            logr.Logger

	backoff Backoff

	mu    sync.Mutex
	state ConnState

	applied    atomic.Uint64
	suppressed atomic.Uint64
	reconnects atomic.Uint64
}

// New creates a watcher reading src into sink.
func New(src Source, sink Sink, opts ...Option) *Watcher {
	w := &Watcher{
		src:            src,
		sink:           sink,
		conversationID: func() string { return "" },
		log:            logr.Discard(),
		backoff:        Backoff{Base: DefaultBaseBackoff, Max: DefaultMaxBackoff},
		state:          ConnReconnecting,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// State returns the current connection state.
func (w *Watcher) State() ConnState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Stats returns the update counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Applied:    w.applied.Load(),
		Suppressed: w.suppressed.Load(),
		Reconnects: w.reconnects.Load(),
	}
}

// Run connects and applies updates until ctx is done, reconnecting on every
// failure. It returns ctx's error.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		convID := w.conversationID()
		stream, err := w.src.Open(ctx, convID)
		if err == nil {
			w.backoff.Reset()
			w.setState(ConnConnected)
			w.log.V(1).Info("WATCH_CONNECTED", "conversation", convID)
			err = w.consume(ctx, stream)
			stream.Close()
		}
		if ctx.Err() != nil {
			w.setState(ConnReconnecting)
			return ctx.Err()
		}

		w.setState(ConnReconnecting)
		w.reconnects.Add(1)
		delay := w.backoff.Next()
		w.log.Info("WATCH_RECONNECT", "error", err.Error(), "delay", delay.String())
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
	}
}

func (w *Watcher) consume(ctx context.Context, stream Stream) error {
	for {
		u, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		w.handle(u)
	}
}

// handle applies one update unless a live stream owns the conversation.
func (w *Watcher) handle(u Update) {
	if strings.TrimSpace(u.Content) == "" {
		w.log.V(1).Info("WATCH_EMPTY_UPDATE")
		return
	}
	if w.gate != nil && w.gate.Active() {
		w.suppressed.Add(1)
		w.log.V(1).Info("WATCH_SUPPRESSED", "reason", "streaming")
		return
	}
	msgs := model.ParseLog(u.Content)
	if !w.sink.ApplySnapshot(msgs, u.TokensUsed, u.MaxTokens) {
		w.suppressed.Add(1)
		w.log.V(1).Info("WATCH_SUPPRESSED", "reason", "refused")
		return
	}
	w.applied.Add(1)
	w.log.V(1).Info("WATCH_APPLIED", "messages", len(msgs))
}

func (w *Watcher) setState(s ConnState) {
	w.mu.Lock()
	changed := w.state != s
	w.state = s
	w.mu.Unlock()
	if changed && w.onState != nil {
		w.onState(s)
	}
}
