// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"bufio"
	"strings"
	"time"
)

// =============================================================================
// TRANSCRIPT LOG
// =============================================================================

// logHeaders maps the role header lines of the backend transcript format.
var logHeaders = map[string]Role{
	"USER:":      RoleUser,
	"ASSISTANT:": RoleAssistant,
	"SYSTEM:":    RoleSystem,
}

// ParseLog parses the backend's authoritative transcript:
//
//	USER:
//	<body>
//	ASSISTANT:
//	<body>
//
// A header must be alone on its line. Text before the first header is
// ignored. A SYSTEM message at the very start is marked as the system
// prompt. Bodies are trimmed of surrounding blank lines. Every message gets a
// fresh ID; use Reconcile to carry over IDs from a local view.
func ParseLog(content string) []*Message {
	var (
		messages []*Message
		role     Role
		body     []string
		inBody   bool
	)
	now := time.Now()

	flush := func() {
		if !inBody {
			return
		}
		msg := NewMessage(role, strings.TrimSpace(strings.Join(body, "\n")))
		msg.Timestamp = now
		if role == RoleSystem && len(messages) == 0 {
			msg.IsSystemPrompt = true
		}
		messages = append(messages, msg)
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if r, ok := logHeaders[strings.TrimSpace(line)]; ok {
			flush()
			role, body, inBody = r, body[:0], true
			continue
		}
		if inBody {
			body = append(body, line)
		}
	}
	flush()

	return messages
}

// FormatLog renders messages in the transcript format ParseLog reads.
func FormatLog(messages []*Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(strings.ToUpper(string(m.Role)))
		b.WriteString(":\n")
		b.WriteString(m.GetDisplayContent())
		b.WriteString("\n")
	}
	return b.String()
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// Reconcile carries local IDs and timestamps onto a freshly parsed remote
// list. Positions are matched from the start while role and trimmed content
// agree; the first disagreement ends the matching. The returned slice is
// remote, modified in place.
func Reconcile(local, remote []*Message) []*Message {
	for i := 0; i < len(remote) && i < len(local); i++ {
		l, r := local[i], remote[i]
		if l.Role != r.Role {
			break
		}
		if strings.TrimSpace(l.GetDisplayContent()) != strings.TrimSpace(r.Content) {
			break
		}
		r.ID = l.ID
		r.Timestamp = l.Timestamp
		r.TokensUsed = l.TokensUsed
		r.PromptTokPerSec = l.PromptTokPerSec
		r.GenTokPerSec = l.GenTokPerSec
		r.TotalDuration = l.TotalDuration
	}
	return remote
}
