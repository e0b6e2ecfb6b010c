// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the backend client.
type ClientError struct {
	Type    ErrorType
	Message string
	Status  int
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeUnreachable
	ErrTypeTimeout
	ErrTypeBadStatus
	ErrTypeInvalidResponse
)

// Sentinel errors for easy checking.
var (
	ErrUnreachable = &ClientError{Type: ErrTypeUnreachable, Message: "backend is not reachable"}
	ErrTimeout     = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the backend client.
type ClientConfig struct {
	// BaseURL is the backend HTTP base URL (default: http://127.0.0.1:8787)
	BaseURL string

	// Timeout for non-streaming requests (default: 30s)
	Timeout time.Duration

	// CancelRate is the most cancel requests sent per second for one
	// conversation (default: 2). Extra cancels wait for a slot.
	CancelRate float64
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:    "http://127.0.0.1:8787",
		Timeout:    30 * time.Second,
		CancelRate: 2,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the backend's request/response endpoints.
//
// The Client is safe for concurrent use.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	cancelRate rate.Limit
	log        logr.Logger

	mu      sync.Mutex
	cancels map[string]*rate.Limiter
}

// maxIdleLimiters bounds the per-conversation cancel limiters kept once
// their bucket has refilled.
const maxIdleLimiters = 64

// NewClient creates a backend client. A nil config uses DefaultConfig.
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.CancelRate > 0 {
		limit = rate.Limit(cfg.CancelRate)
	}

	return &Client{
		config:     &cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cancelRate: limit,
		log:        logr.Discard(),
		cancels:    make(map[string]*rate.Limiter),
	}
}

// SetLogger sets the logger used for request diagnostics.
func (c *Client) SetLogger(log logr.Logger) {
	c.log = log.WithName("backend")
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Send performs one non-streaming exchange.
func (c *Client) Send(ctx context.Context, req Request) (*ExchangeResult, error) {
	var result ExchangeResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/chat", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Cancel asks the backend to stop generating for a conversation. Cancels
// for one conversation are paced by CancelRate; ctx bounds only the wait for
// a slot, and the request itself runs under the client timeout. "Nothing to
// cancel" answers count as success.
func (c *Client) Cancel(ctx context.Context, conversationID string) error {
	if err := c.cancelLimiter(conversationID).Wait(ctx); err != nil {
		c.log.V(1).Info("CANCEL_SKIPPED", "conversation", conversationID, "error", err.Error())
		return err
	}
	err := c.doJSON(context.WithoutCancel(ctx), http.MethodPost, "/api/cancel", cancelRequest{ConversationID: conversationID}, nil)
	var ce *ClientError
	if errors.As(err, &ce) && (ce.Status == http.StatusNotFound || ce.Status == http.StatusConflict) {
		return nil
	}
	if err != nil {
		c.log.Info("CANCEL_FAILED", "conversation", conversationID, "error", err.Error())
	}
	return err
}

func (c *Client) cancelLimiter(conversationID string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lim, ok := c.cancels[conversationID]; ok {
		return lim
	}
	if len(c.cancels) >= maxIdleLimiters {
		for id, lim := range c.cancels {
			if lim.Tokens() >= 1 {
				delete(c.cancels, id)
			}
		}
	}
	lim := rate.NewLimiter(c.cancelRate, 1)
	c.cancels[conversationID] = lim
	return lim
}

// ExecuteTool runs a tool on the backend. A tool that ran and failed is a
// ToolResponse with Success false, not an error.
func (c *Client) ExecuteTool(ctx context.Context, name string, args map[string]any) (ToolResponse, error) {
	if args == nil {
		args = map[string]any{}
	}
	var resp ToolResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/tools/execute", ToolRequest{ToolName: name, Arguments: args}, &resp)
	return resp, err
}

// ModelStatus reports the loaded model and its tool delimiters.
func (c *Client) ModelStatus(ctx context.Context) (*ModelStatus, error) {
	var status ModelStatus
	if err := c.doJSON(ctx, http.MethodGet, "/api/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// =============================================================================
// HTTP HELPERS
// =============================================================================

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return &ClientError{Type: ErrTypeUnknown, Message: "failed to create request", Cause: err}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return ErrTimeout
		}
		if ctx.Err() != nil {
			return &ClientError{Type: ErrTypeUnknown, Message: "request cancelled", Cause: ctx.Err()}
		}
		return &ClientError{Type: ErrTypeUnreachable, Message: ErrUnreachable.Message, Cause: err}
	}
	defer drainAndClose(resp.Body)

	c.log.V(1).Info("HTTP", "method", method, "path", path, "status", resp.StatusCode,
		"duration", time.Since(start).String())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := path + " failed: " + resp.Status
		var eb errorBody
		if json.NewDecoder(resp.Body).Decode(&eb) == nil && eb.Error != "" {
			msg = eb.Error
		}
		return &ClientError{Type: ErrTypeBadStatus, Message: msg, Status: resp.StatusCode}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// drainAndClose lets the connection be reused.
func drainAndClose(r io.ReadCloser) {
	io.Copy(io.Discard, r)
	r.Close()
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsUnreachable checks if an error means the backend could not be reached.
func IsUnreachable(err error) bool {
	return hasType(err, ErrTypeUnreachable)
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	return hasType(err, ErrTypeTimeout)
}

// IsBadStatus checks if the backend answered with a non-2xx status.
func IsBadStatus(err error) bool {
	return hasType(err, ErrTypeBadStatus)
}

func hasType(err error, t ErrorType) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == t
	}
	return false
}
