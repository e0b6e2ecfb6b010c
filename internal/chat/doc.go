// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat drives one conversation: it streams a request, accumulates
// tokens into the open assistant message, parses the final text for tool
// calls and hands them to the tool controller, whose results come back as
// continuation requests.
//
// The StreamGate is the one flag shared with the conversation watcher.
// Watcher snapshots are applied only while it is idle.
//
// Exchanges are numbered. A callback or completion carrying a stale number
// is dropped, so cancelling and immediately sending again cannot mix two
// exchanges' tokens.
package chat
