// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across rigloop.
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - TruncateWidth, StringWidth: terminal column aware (go-runewidth)
//   - TruncateMiddle: head+tail truncation for tool output
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync
//
// # Usage
//
//	// Fit a notice on one terminal line
//	line := util.TruncateWidth(notice, termWidth)
//
//	// Write config without risking a torn file
//	err := util.AtomicWriteFile(path, data, 0600)
package util
