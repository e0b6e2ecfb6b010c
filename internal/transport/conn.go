// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"fmt"

	"golang.org/x/net/websocket"
)

// Conn is one open streaming channel.
type Conn interface {
	// ReadFrame blocks for the next raw frame.
	ReadFrame() ([]byte, error)
	// WriteFrame sends v as one JSON frame.
	WriteFrame(v any) error
	Close() error
}

// Dialer opens a Conn. Dial must honour ctx cancellation and deadlines.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

// =============================================================================
// WEBSOCKET
// =============================================================================

// DefaultOrigin is sent as the Origin header when none is configured.
const DefaultOrigin = "http://localhost/"

// WSDialer dials a websocket endpoint such as ws://127.0.0.1:8787/ws/chat.
type WSDialer struct {
	URL    string
	Origin string
}

// Dial implements Dialer.
func (d WSDialer) Dial(ctx context.Context) (Conn, error) {
	origin := d.Origin
	if origin == "" {
		origin = DefaultOrigin
	}
	cfg, err := websocket.NewConfig(d.URL, origin)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket url %q: %w", d.URL, err)
	}
	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, err
	}
	return NewWSConn(ws), nil
}

// WSConn adapts a websocket connection to Conn.
type WSConn struct {
	ws *websocket.Conn
}

// NewWSConn wraps an established websocket connection.
func NewWSConn(ws *websocket.Conn) *WSConn {
	return &WSConn{ws: ws}
}

// ReadFrame implements Conn.
func (c *WSConn) ReadFrame() ([]byte, error) {
	var data []byte
	if err := websocket.Message.Receive(c.ws, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// WriteFrame implements Conn.
func (c *WSConn) WriteFrame(v any) error {
	return websocket.JSON.Send(c.ws, v)
}

// Close implements Conn.
func (c *WSConn) Close() error {
	return c.ws.Close()
}
