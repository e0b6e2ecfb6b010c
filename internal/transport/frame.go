// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

// FrameType identifies a server frame.
type FrameType string

const (
	FrameToken FrameType = "token"
	FrameDone  FrameType = "done"
	FrameError FrameType = "error"
	FrameAbort FrameType = "abort"
)

// ClientFrame is the single frame the client sends per exchange.
type ClientFrame struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ServerFrame is one frame from the server. Zero counters mean "not
// reported".
type ServerFrame struct {
	Type            FrameType `json:"type"`
	Token           string    `json:"token,omitempty"`
	TokensUsed      int       `json:"tokens_used,omitempty"`
	MaxTokens       int       `json:"max_tokens,omitempty"`
	ConversationID  string    `json:"conversation_id,omitempty"`
	PromptTokPerSec float64   `json:"prompt_tok_per_sec,omitempty"`
	GenTokPerSec    float64   `json:"gen_tok_per_sec,omitempty"`
	Error           string    `json:"error,omitempty"`
}
