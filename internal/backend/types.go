// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"github.com/jeranaias/rigloop/internal/toolfmt"
)

// =============================================================================
// CHAT TYPES
// =============================================================================

// Request is one message sent to the backend.
type Request struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`

	// Continuation marks a tool-result resubmission. It never goes on the
	// wire; it tells the sender not to start a new turn.
	Continuation bool `json:"-"`
}

// ExchangeResult is the reply to a non-streaming exchange.
type ExchangeResult struct {
	ConversationID  string  `json:"conversation_id"`
	Content         string  `json:"content"`
	TokensUsed      int     `json:"tokens_used,omitempty"`
	MaxTokens       int     `json:"max_tokens,omitempty"`
	PromptTokPerSec float64 `json:"prompt_tok_per_sec,omitempty"`
	GenTokPerSec    float64 `json:"gen_tok_per_sec,omitempty"`
}

type cancelRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
}

// =============================================================================
// TOOL TYPES
// =============================================================================

// ToolRequest asks the backend to run one tool.
type ToolRequest struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResponse is the outcome of one tool call.
type ToolResponse struct {
	Success bool   `json:"success"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// =============================================================================
// STATUS TYPES
// =============================================================================

// VRAMStatus is the backend's view of GPU memory, in GB.
type VRAMStatus struct {
	TotalGB     float64 `json:"total_gb"`
	AvailableGB float64 `json:"available_gb"`
}

// ModelStatus describes the loaded model.
type ModelStatus struct {
	Model      string            `json:"model"`
	Family     string            `json:"family,omitempty"`
	ToolTags   *toolfmt.ToolTags `json:"tool_tags,omitempty"`
	MaxContext int               `json:"max_context,omitempty"`
	VRAM       *VRAMStatus       `json:"vram,omitempty"`
}

// Tags returns the tool delimiters to use with this model. Reported tags win,
// then the family table, then the generic fallback.
func (s *ModelStatus) Tags() toolfmt.ToolTags {
	if s == nil {
		return toolfmt.DefaultTags()
	}
	if s.ToolTags != nil && !s.ToolTags.IsZero() {
		return *s.ToolTags
	}
	if s.Family != "" {
		return toolfmt.TagsForFamily(s.Family)
	}
	return toolfmt.DefaultTags()
}

type errorBody struct {
	Error string `json:"error"`
}
