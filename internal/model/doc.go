// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// # Key Types
//
//   - Conversation: ordered message list with at most one open assistant message
//   - Message: single message with role, content, timestamp, and statistics
//   - Role: message role enumeration (user, assistant, system)
//
// # Key Functions
//
//   - ParseLog: parse the backend's USER:/ASSISTANT:/SYSTEM: transcript
//   - Reconcile: keep local message IDs across a transcript replacement
//
// # Usage
//
//	conv := model.NewConversation()
//	conv.AddUserMessage("Hello!")
//	id, _ := conv.OpenAssistantMessage()
//	conv.AppendToOpen(id, "Hi")
//	content, _ := conv.FinalizeOpen(id, nil)
package model
