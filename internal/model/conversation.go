// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxMessages is the maximum number of messages to keep in conversation history.
// When exceeded, old messages are pruned to prevent unbounded memory growth.
const MaxMessages = 1000

// ErrAssistantOpen is returned when an assistant message is opened while
// another one is still receiving tokens.
var ErrAssistantOpen = errors.New("an assistant message is already open")

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds the message list for one chat.
//
// At most one assistant message is open at a time. The Conversation is
// safe for concurrent use; accessors return copies.
type Conversation struct {
	mu sync.RWMutex

	id        string
	createdAt time.Time
	updatedAt time.Time

	messages []*Message
	openID   string

	tokensUsed int
	maxTokens  int
}

// NewConversation creates a new conversation with a generated ID.
func NewConversation() *Conversation {
	return NewConversationWithID("")
}

// NewConversationWithID creates a conversation bound to an existing backend
// conversation. An empty id generates one.
func NewConversationWithID(id string) *Conversation {
	if id == "" {
		id = generateConversationID()
	}
	now := time.Now()
	return &Conversation{
		id:        id,
		createdAt: now,
		updatedAt: now,
		messages:  make([]*Message, 0),
	}
}

// ID returns the conversation ID.
func (c *Conversation) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// SetID rebinds the conversation to the ID the backend assigned.
func (c *Conversation) SetID(id string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// AddUserMessage appends a user message and returns its ID.
func (c *Conversation) AddUserMessage(content string) string {
	msg := NewUserMessage(content)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addLocked(msg)
	return msg.ID
}

// AddSystemMessage appends a system message and returns its ID.
func (c *Conversation) AddSystemMessage(content string) string {
	msg := NewSystemMessage(content)
	c.mu.Lock()
	defer c.mu.Unlock()
	msg.IsSystemPrompt = len(c.messages) == 0
	c.addLocked(msg)
	return msg.ID
}

// OpenAssistantMessage appends an empty assistant message that will receive
// tokens. It fails with ErrAssistantOpen if one is already open.
func (c *Conversation) OpenAssistantMessage() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openID != "" {
		return "", ErrAssistantOpen
	}
	msg := NewAssistantMessage()
	c.addLocked(msg)
	c.openID = msg.ID
	return msg.ID, nil
}

// OpenID returns the ID of the open assistant message, if any.
func (c *Conversation) OpenID() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.openID, c.openID != ""
}

// AppendToOpen appends a token to the open assistant message. It returns
// false if id is not the open message.
func (c *Conversation) AppendToOpen(id, token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := c.openLocked(id)
	if msg == nil {
		return false
	}
	msg.AppendToken(token)
	return true
}

// FinalizeOpen closes the open assistant message and returns its final
// content.
func (c *Conversation) FinalizeOpen(id string, stats *Statistics) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := c.openLocked(id)
	if msg == nil {
		return "", false
	}
	msg.FinalizeStream(stats)
	c.openID = ""
	c.updatedAt = time.Now()
	if stats != nil {
		c.setUsageLocked(stats.TokensUsed, stats.MaxTokens)
	}
	return msg.Content, true
}

// DiscardOpen removes the open assistant message, partial content included.
func (c *Conversation) DiscardOpen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openLocked(id) == nil {
		return false
	}
	for i, msg := range c.messages {
		if msg.ID == id {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			break
		}
	}
	c.openID = ""
	c.updatedAt = time.Now()
	return true
}

// Replace swaps the whole message list, as the watcher does with an
// authoritative snapshot. Any open message is dropped.
func (c *Conversation) Replace(messages []*Message) {
	cp := make([]*Message, len(messages))
	for i, m := range messages {
		cp[i] = m.Clone()
		cp[i].IsStreaming = false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = cp
	c.openID = ""
	c.updatedAt = time.Now()
	c.pruneLocked()
}

// Snapshot returns copies of all messages in order.
func (c *Conversation) Snapshot() []*Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.Clone()
	}
	return out
}

// Get returns a copy of the message with the given ID.
func (c *Conversation) Get(id string) (*Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.messages {
		if m.ID == id {
			return m.Clone(), true
		}
	}
	return nil, false
}

// LastAssistant returns a copy of the most recent assistant message.
func (c *Conversation) LastAssistant() (*Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == RoleAssistant {
			return c.messages[i].Clone(), true
		}
	}
	return nil, false
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Clear removes all messages.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = make([]*Message, 0)
	c.openID = ""
	c.tokensUsed = 0
	c.updatedAt = time.Now()
}

// =============================================================================
// CONTEXT TRACKING
// =============================================================================

// SetUsage records the token usage the backend reported. Zero values leave
// the previous figure in place.
func (c *Conversation) SetUsage(tokensUsed, maxTokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setUsageLocked(tokensUsed, maxTokens)
}

// Usage returns the last reported token usage and context size.
func (c *Conversation) Usage() (tokensUsed, maxTokens int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokensUsed, c.maxTokens
}

// ContextPercent returns the percentage of the context window used.
func (c *Conversation) ContextPercent() float64 {
	used, max := c.Usage()
	if max <= 0 {
		return 0
	}
	return float64(used) / float64(max) * 100
}

func (c *Conversation) setUsageLocked(tokensUsed, maxTokens int) {
	if tokensUsed > 0 {
		c.tokensUsed = tokensUsed
	}
	if maxTokens > 0 {
		c.maxTokens = maxTokens
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func (c *Conversation) addLocked(msg *Message) {
	c.messages = append(c.messages, msg)
	c.updatedAt = time.Now()
	c.pruneLocked()
}

func (c *Conversation) openLocked(id string) *Message {
	if id == "" || id != c.openID {
		return nil
	}
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID == id {
			return c.messages[i]
		}
	}
	return nil
}

// pruneLocked drops the oldest messages beyond MaxMessages, keeping a
// leading system prompt.
func (c *Conversation) pruneLocked() {
	if len(c.messages) <= MaxMessages {
		return
	}
	excess := len(c.messages) - MaxMessages
	if len(c.messages) > 0 && c.messages[0].IsSystemPrompt {
		kept := append([]*Message{c.messages[0]}, c.messages[1+excess:]...)
		c.messages = kept
		return
	}
	c.messages = c.messages[excess:]
}

// generateConversationID creates a unique conversation ID.
func generateConversationID() string {
	return "conv_" + uuid.NewString()
}
