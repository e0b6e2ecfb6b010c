// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package toolfmt provides the primitive helpers shared by the tool-call
// dialect parsers.
//
// # Key Types
//
//   - ToolTags: literal delimiters wrapping a tool call and its result
//
// # Key Functions
//
//   - ExtractBalancedJSON: bound a JSON object or array starting at an offset
//   - IsBalancedJSON: report whether a JSON fragment is complete
//   - HasUnterminatedSpan: detect an open delimiter still waiting for its closer
//   - TrailingPartialPrefix: detect a half-streamed delimiter at the end of text
//
// # Usage
//
//	body, ok := toolfmt.ExtractBalancedJSON(text, strings.Index(text, "{"))
//	if !ok {
//	    // still streaming
//	}
package toolfmt
