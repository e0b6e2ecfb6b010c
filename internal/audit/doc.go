// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audit records every automatic tool call and every safety stop in
// a local SQLite ledger, so dialect mismatches and runaway loops can be
// diagnosed after the fact.
//
// Store is backed by modernc.org/sqlite (pure Go, no cgo). Nop satisfies
// Recorder when auditing is disabled.
//
//	store, err := audit.Open(cfg.Audit.Path)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//	calls, _ := store.RecentCalls(ctx, 20)
package audit
