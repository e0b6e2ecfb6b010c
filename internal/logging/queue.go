// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"io"
	"os"
	"sync"
	"time"
)

const (
	// DefaultQueueSize is the number of lines buffered before the oldest is dropped.
	DefaultQueueSize = 1024

	// DefaultFlushInterval is how long a line may wait before being written.
	DefaultFlushInterval = 250 * time.Millisecond
)

// =============================================================================
// QUEUE
// =============================================================================

// Queue is a bounded line buffer drained by a timer.
// It is safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	lines    []string
	size     int
	dropped  uint64
	interval time.Duration
	timer    *time.Timer
	closed   bool

	writeMu sync.Mutex
	out     io.Writer
}

// NewQueue creates a queue writing to out. Non-positive size or interval
// take the defaults.
func NewQueue(out io.Writer, size int, interval time.Duration) *Queue {
	if out == nil {
		out = os.Stderr
	}
	if size <= 0 {
		size = DefaultQueueSize
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Queue{
		lines:    make([]string, 0, size),
		size:     size,
		interval: interval,
		out:      out,
	}
}

// Push enqueues a line and arms the flush timer. Lines pushed after Close
// are dropped.
func (q *Queue) Push(line string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.dropped++
		return
	}
	if len(q.lines) >= q.size {
		copy(q.lines, q.lines[1:])
		q.lines = q.lines[:len(q.lines)-1]
		q.dropped++
	}
	q.lines = append(q.lines, line)

	if q.timer == nil {
		q.timer = time.AfterFunc(q.interval, q.Flush)
	}
}

// Flush writes every queued line now.
func (q *Queue) Flush() {
	q.mu.Lock()
	lines := q.lines
	q.lines = make([]string, 0, q.size)
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.mu.Unlock()

	if len(lines) == 0 {
		return
	}

	q.writeMu.Lock()
	defer q.writeMu.Unlock()
	for _, line := range lines {
		_, _ = io.WriteString(q.out, line+"\n")
	}
}

// Len returns the number of lines waiting to be written.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lines)
}

// Dropped returns how many lines were discarded because the queue was full
// or closed.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close flushes the remaining lines and stops accepting new ones.
func (q *Queue) Close() error {
	q.Flush()
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}

// =============================================================================
// PROCESS-WIDE QUEUE
// =============================================================================

var (
	defaultMu    sync.Mutex
	defaultQueue *Queue
)

// Default returns the process-wide queue, writing to stderr.
func Default() *Queue {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultQueue == nil {
		defaultQueue = NewQueue(os.Stderr, DefaultQueueSize, DefaultFlushInterval)
	}
	return defaultQueue
}

// SetDefault replaces the process-wide queue. The previous queue is flushed
// and closed.
func SetDefault(q *Queue) {
	defaultMu.Lock()
	prev := defaultQueue
	defaultQueue = q
	defaultMu.Unlock()

	if prev != nil && prev != q {
		_ = prev.Close()
	}
}
