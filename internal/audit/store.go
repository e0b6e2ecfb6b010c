// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// =============================================================================
// RECORDS
// =============================================================================

// CallRecord is one executed tool call.
type CallRecord struct {
	TurnID    string
	Iteration int
	Dialect   string
	ToolName  string
	Arguments string
	Success   bool
	OutputLen int
	Duration  time.Duration
	CreatedAt time.Time
}

// StopRecord is one safety stop.
type StopRecord struct {
	TurnID    string
	Reason    string
	Detail    string
	CreatedAt time.Time
}

// Stats summarizes the ledger.
type Stats struct {
	Calls    int
	Failures int
	Stops    int
}

// Recorder receives ledger rows.
type Recorder interface {
	RecordCall(ctx context.Context, rec CallRecord) error
	RecordStop(ctx context.Context, rec StopRecord) error
}

// Nop is a Recorder that keeps nothing.
type Nop struct{}

// RecordCall implements Recorder.
func (Nop) RecordCall(context.Context, CallRecord) error { return nil }

// RecordStop implements Recorder.
func (Nop) RecordStop(context.Context, StopRecord) error { return nil }

// ErrClosed is returned after Close.
var ErrClosed = errors.New("audit store is closed")

// =============================================================================
// STORE
// =============================================================================

// Store is the SQLite ledger. It is safe for concurrent use.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens or creates the ledger at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("audit path cannot be empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA wal_autocheckpoint=1000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(InitMetadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize metadata: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) handle() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	return s.db, nil
}

// RecordCall implements Recorder.
func (s *Store) RecordCall(ctx context.Context, rec CallRecord) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO tool_calls (turn_id, iteration, dialect, tool_name, arguments, success, output_len, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TurnID, rec.Iteration, rec.Dialect, rec.ToolName, rec.Arguments,
		boolToInt(rec.Success), rec.OutputLen, rec.Duration.Milliseconds(), rec.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record tool call: %w", err)
	}
	return nil
}

// RecordStop implements Recorder.
func (s *Store) RecordStop(ctx context.Context, rec StopRecord) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO stops (turn_id, reason, detail, created_at) VALUES (?, ?, ?, ?)`,
		rec.TurnID, rec.Reason, rec.Detail, rec.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record stop: %w", err)
	}
	return nil
}

// RecentCalls returns up to limit calls, newest first.
func (s *Store) RecentCalls(ctx context.Context, limit int) ([]CallRecord, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT turn_id, iteration, dialect, tool_name, arguments, success, output_len, duration_ms, created_at
		FROM tool_calls ORDER BY id DESC LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query tool calls: %w", err)
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		var rec CallRecord
		var success int
		var durationMs, createdAt int64
		if err := rows.Scan(&rec.TurnID, &rec.Iteration, &rec.Dialect, &rec.ToolName, &rec.Arguments,
			&success, &rec.OutputLen, &durationMs, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan tool call: %w", err)
		}
		rec.Success = success != 0
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		rec.CreatedAt = time.Unix(0, createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecentStops returns up to limit stops, newest first.
func (s *Store) RecentStops(ctx context.Context, limit int) ([]StopRecord, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT turn_id, reason, detail, created_at FROM stops ORDER BY id DESC LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query stops: %w", err)
	}
	defer rows.Close()

	var out []StopRecord
	for rows.Next() {
		var rec StopRecord
		var createdAt int64
		if err := rows.Scan(&rec.TurnID, &rec.Reason, &rec.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan stop: %w", err)
		}
		rec.CreatedAt = time.Unix(0, createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Stats counts calls, failed calls and stops.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	db, err := s.handle()
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	err = db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM tool_calls),
			(SELECT COUNT(*) FROM tool_calls WHERE success = 0),
			(SELECT COUNT(*) FROM stops)`).Scan(&st.Calls, &st.Failures, &st.Stops)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to load stats: %w", err)
	}
	return st, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 50
	}
	return limit
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
