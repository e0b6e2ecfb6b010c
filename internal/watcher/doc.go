// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package watcher keeps the local conversation in step with the backend's
// authoritative log.
//
// A Source pushes the full log text whenever it changes: WSSource over the
// backend's watch channel, FileSource by watching the log file with
// fsnotify. Each update is parsed into messages and handed to a Sink, which
// replaces its view wholesale. Updates that arrive while the gate reports a
// live stream are suppressed.
//
// When the source fails the watcher reconnects with exponential backoff
// (500ms doubling to a 5s cap, reset after a successful connect) and reports
// a binary connection state: connected or reconnecting.
package watcher
