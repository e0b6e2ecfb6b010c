// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend is the HTTP client for the inference backend's
// request/response endpoints.
//
// The streaming channel lives in package transport. This package covers the
// calls that do not stream:
//
//   - Send: one non-streaming exchange (POST /api/chat)
//   - Cancel: best-effort out-of-band cancel (POST /api/cancel)
//   - ExecuteTool: remote tool execution (POST /api/tools/execute)
//   - ModelStatus: loaded model, tool delimiters and VRAM (GET /api/status)
//
// Errors are *ClientError values; use IsUnreachable, IsTimeout and
// IsBadStatus to classify them.
package backend
