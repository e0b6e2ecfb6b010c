// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/jeranaias/rigloop/internal/transport"
)

// Update is one push of the authoritative log.
type Update struct {
	Content    string
	TokensUsed int
	MaxTokens  int
}

// Stream delivers updates until it fails or ctx is done.
type Stream interface {
	Next(ctx context.Context) (Update, error)
	Close() error
}

// Source opens a stream of updates for one conversation.
type Source interface {
	Open(ctx context.Context, conversationID string) (Stream, error)
}

// =============================================================================
// WEBSOCKET SOURCE
// =============================================================================

// watchFrame is the wire form of the watch channel, both directions.
type watchFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Content        string `json:"content,omitempty"`
	TokensUsed     int    `json:"tokens_used,omitempty"`
	MaxTokens      int    `json:"max_tokens,omitempty"`
	Error          string `json:"error,omitempty"`
}

// WSSource subscribes to the backend's watch channel.
type WSSource struct {
	URL    string
	Origin string
}

// Open dials the watch channel and subscribes to conversationID.
func (s *WSSource) Open(ctx context.Context, conversationID string) (Stream, error) {
	u, err := url.Parse(s.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid watch url: %w", err)
	}
	if conversationID != "" {
		q := u.Query()
		q.Set("conversation_id", conversationID)
		u.RawQuery = q.Encode()
	}

	conn, err := transport.WSDialer{URL: u.String(), Origin: s.Origin}.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteFrame(watchFrame{Type: "subscribe", ConversationID: conversationID}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return newWSStream(conn), nil
}

type wsStream struct {
	conn transport.Conn
}

func newWSStream(conn transport.Conn) *wsStream {
	return &wsStream{conn: conn}
}

// Next blocks for the next update frame. Frames of other types are skipped.
func (s *wsStream) Next(ctx context.Context) (Update, error) {
	// A blocked read only returns when the connection closes.
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	for {
		data, err := s.conn.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return Update{}, ctx.Err()
			}
			return Update{}, err
		}
		var f watchFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return Update{}, errors.New(transport.MalformedFrameMessage)
		}
		switch f.Type {
		case "update":
			return Update{Content: f.Content, TokensUsed: f.TokensUsed, MaxTokens: f.MaxTokens}, nil
		case "error":
			return Update{}, fmt.Errorf("watch channel error: %s", f.Error)
		}
	}
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}
