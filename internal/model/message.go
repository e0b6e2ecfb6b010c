// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigloop/internal/util"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
//
// Assistant messages are created empty and open. Tokens are appended while
// open; every other field is fixed at creation.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// Content
	Content        string `json:"content"`
	IsSystemPrompt bool   `json:"is_system_prompt,omitempty"`

	// Streaming state (not persisted)
	IsStreaming   bool            `json:"-"`
	streamContent strings.Builder // merged into Content on finalize

	// Generation statistics (assistant messages)
	TokensUsed      int           `json:"tokens_used,omitempty"`
	PromptTokPerSec float64       `json:"prompt_tok_per_sec,omitempty"`
	GenTokPerSec    float64       `json:"gen_tok_per_sec,omitempty"`
	TotalDuration   time.Duration `json:"total_duration_ns,omitempty"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        generateID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) *Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a new, empty, open assistant message.
func NewAssistantMessage() *Message {
	return &Message{
		ID:          generateID(),
		Role:        RoleAssistant,
		Timestamp:   time.Now(),
		IsStreaming: true,
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) *Message {
	return NewMessage(RoleSystem, content)
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// AppendToken appends a token to an open message. Closed messages are
// left unchanged.
func (m *Message) AppendToken(token string) {
	if m.IsStreaming {
		m.streamContent.WriteString(token)
	}
}

// FinalizeStream closes the message and records statistics.
func (m *Message) FinalizeStream(stats *Statistics) {
	if !m.IsStreaming {
		return
	}

	m.Content = m.streamContent.String()
	m.streamContent.Reset()
	m.IsStreaming = false

	if stats != nil {
		m.TokensUsed = stats.TokensUsed
		m.PromptTokPerSec = stats.PromptTokPerSec
		m.GenTokPerSec = stats.GenTokPerSec
		m.TotalDuration = stats.TotalDuration
	}
}

// GetDisplayContent returns the content so far, open or closed.
func (m *Message) GetDisplayContent() string {
	if m.IsStreaming {
		return m.streamContent.String()
	}
	return m.Content
}

// Preview returns the content so far cut to maxLen runes, for one-line
// summaries.
func (m *Message) Preview(maxLen int) string {
	return util.TruncateRunes(m.GetDisplayContent(), maxLen)
}

// Clone returns an independent copy. An open message's partial content is
// carried in Content.
func (m *Message) Clone() *Message {
	return &Message{
		ID:              m.ID,
		Role:            m.Role,
		Timestamp:       m.Timestamp,
		Content:         m.GetDisplayContent(),
		IsSystemPrompt:  m.IsSystemPrompt,
		IsStreaming:     m.IsStreaming,
		TokensUsed:      m.TokensUsed,
		PromptTokPerSec: m.PromptTokPerSec,
		GenTokPerSec:    m.GenTokPerSec,
		TotalDuration:   m.TotalDuration,
	}
}

// FormatStats returns a formatted string of message statistics.
func (m *Message) FormatStats() string {
	if m.Role != RoleAssistant || m.IsStreaming {
		return ""
	}
	parts := make([]string, 0, 3)
	if m.TotalDuration > 0 {
		parts = append(parts, fmt.Sprintf("%.1fs", m.TotalDuration.Seconds()))
	}
	if m.TokensUsed > 0 {
		parts = append(parts, fmt.Sprintf("%d tokens", m.TokensUsed))
	}
	if m.GenTokPerSec > 0 {
		parts = append(parts, fmt.Sprintf("%.0f tok/s", m.GenTokPerSec))
	}
	return strings.Join(parts, " | ")
}

// =============================================================================
// STATISTICS TYPE
// =============================================================================

// Statistics holds the usage figures reported when an exchange completes.
type Statistics struct {
	StartTime       time.Time
	TokensUsed      int
	MaxTokens       int
	PromptTokPerSec float64
	GenTokPerSec    float64
	TotalDuration   time.Duration
}

// NewStatistics creates a new Statistics with the start time set.
func NewStatistics() *Statistics {
	return &Statistics{StartTime: time.Now()}
}

// Finish records the total duration since StartTime.
func (s *Statistics) Finish() {
	if !s.StartTime.IsZero() {
		s.TotalDuration = time.Since(s.StartTime)
	}
}

// generateID creates a unique message ID.
func generateID() string {
	return "msg_" + uuid.NewString()
}
