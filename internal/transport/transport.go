// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/jeranaias/rigloop/internal/backend"
)

// DefaultConnectTimeout bounds the channel handshake.
const DefaultConnectTimeout = 10 * time.Second

// cancelTimeout bounds the out-of-band cancel request.
const cancelTimeout = 5 * time.Second

// =============================================================================
// STATE
// =============================================================================

// State is the lifecycle position of the current exchange.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateStreaming
	StateCompleted
	StateErrored
	StateAborted
	StateTimedOut
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	case StateAborted:
		return "aborted"
	case StateTimedOut:
		return "timed_out"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StreamState tracks one exchange. Outcome is the terminal state reached
// before Closed.
type StreamState struct {
	IsCompleted    bool
	WasAborted     bool
	LastTokensUsed int
	LastMaxTokens  int
	Outcome        State
}

// Completion is passed to OnComplete with the last known usage counters.
type Completion struct {
	ConversationID  string
	TokensUsed      int
	MaxTokens       int
	PromptTokPerSec float64
	GenTokPerSec    float64
}

// Callbacks receive the events of one exchange, in arrival order, on the
// goroutine that called StreamMessage.
type Callbacks struct {
	OnToken    func(token string)
	OnComplete func(Completion)
	OnError    func(err error)
}

// RPC is the request/response side of the backend. *backend.Client
// implements it.
type RPC interface {
	Send(ctx context.Context, req backend.Request) (*backend.ExchangeResult, error)
	Cancel(ctx context.Context, conversationID string) error
}

// =============================================================================
// TRANSPORT
// =============================================================================

// Option configures a Transport.
type Option func(*Transport)

// WithConnectTimeout sets the connect budget. Non-positive values keep the
// default.
func WithConnectTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.connectTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(t *Transport) {
		t.log = log.WithName("transport")
	}
}

// Transport runs exchanges against the backend. It is safe for concurrent
// use; State and Stream report the most recently started exchange.
type Transport struct {
	dialer         Dialer
	rpc            RPC
	connectTimeout time.Duration
	log            logr.Logger

	mu       sync.Mutex
	current  uint64
	state    State
	stream   StreamState
	epoch    context.Context
	endEpoch context.CancelFunc
}

// New creates a Transport. rpc may be nil when neither Send nor server-side
// cancel is needed.
func New(dialer Dialer, rpc RPC, opts ...Option) *Transport {
	t := &Transport{
		dialer:         dialer,
		rpc:            rpc,
		connectTimeout: DefaultConnectTimeout,
		log:            logr.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns the state of the most recent exchange.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Stream returns the stream state of the most recent exchange.
func (t *Transport) Stream() StreamState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stream
}

// Send performs a non-streaming exchange.
func (t *Transport) Send(ctx context.Context, req backend.Request) (*backend.ExchangeResult, error) {
	if t.rpc == nil {
		return nil, errors.New("transport has no request client")
	}
	return t.rpc.Send(ctx, req)
}

// StreamMessage runs one streaming exchange and blocks until it settles.
//
// Cancelling ctx aborts the exchange: no callback fires, ErrAborted is
// returned, and if the request was sent the backend is asked to stop. On
// failure the *Error passed to OnError is also returned.
func (t *Transport) StreamMessage(ctx context.Context, req backend.Request, cb Callbacks) error {
	ex := t.begin(req, cb)
	ex.setState(StateConnecting)
	if ctx.Err() != nil {
		return ex.abort(false)
	}

	conn, err := t.dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ex.abort(false)
		}
		return ex.fail(err)
	}
	defer conn.Close()
	ex.setState(StateOpen)

	if err := conn.WriteFrame(ClientFrame{Message: req.Message, ConversationID: req.ConversationID}); err != nil {
		if ctx.Err() != nil {
			return ex.abort(false)
		}
		return ex.fail(&Error{Kind: KindAbnormalClose, Message: "failed to send message", Cause: err})
	}
	ex.setState(StateStreaming)

	return ex.run(ctx, conn)
}

func (t *Transport) begin(req backend.Request, cb Callbacks) *exchange {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current++
	t.state = StateIdle
	t.stream = StreamState{}
	if t.endEpoch != nil {
		t.endEpoch()
	}
	t.epoch, t.endEpoch = context.WithCancel(context.Background())
	return &exchange{
		t:     t,
		id:    t.current,
		req:   req,
		cb:    cb,
		epoch: t.epoch,
		log:   t.log.WithValues("exchange", t.current),
	}
}

func (t *Transport) dial(ctx context.Context) (Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, t.connectTimeout)
	defer cancel()

	conn, err := t.dialer.Dial(dctx)
	if err == nil {
		return conn, nil
	}
	if ctx.Err() == nil && errors.Is(dctx.Err(), context.DeadlineExceeded) {
		return nil, &Error{
			Kind:    KindConnectTimeout,
			Message: fmt.Sprintf("connection timed out after %s", t.connectTimeout),
			Cause:   err,
		}
	}
	return nil, &Error{Kind: KindDial, Message: "failed to connect", Cause: err}
}

// =============================================================================
// EXCHANGE
// =============================================================================

type readResult struct {
	data []byte
	err  error
}

// exchange is the per-request state. Only the StreamMessage goroutine
// touches it.
type exchange struct {
	t       *Transport
	id      uint64
	req     backend.Request
	cb      Callbacks
	epoch   context.Context // ends when a newer exchange begins
	log     logr.Logger
	settled bool
	stream  StreamState
}

func (ex *exchange) run(ctx context.Context, conn Conn) error {
	frames := make(chan readResult)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			data, err := conn.ReadFrame()
			select {
			case frames <- readResult{data: data, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ex.abort(true)
		case r := <-frames:
			// Cancellation wins over a frame that arrived at the same time.
			if ctx.Err() != nil {
				return ex.abort(true)
			}
			if r.err != nil {
				return ex.fail(&Error{
					Kind:    KindAbnormalClose,
					Message: "connection closed before the response completed",
					Cause:   r.err,
				})
			}
			if settled, err := ex.handle(r.data); settled {
				return err
			}
		}
	}
}

// handle applies one frame and reports whether it settled the exchange.
func (ex *exchange) handle(data []byte) (bool, error) {
	var f ServerFrame
	if err := json.Unmarshal(data, &f); err != nil || f.Type == "" {
		ex.log.V(1).Info("FRAME_MALFORMED", "bytes", len(data))
		return true, ex.fail(&Error{Kind: KindMalformedFrame, Message: MalformedFrameMessage, Cause: err})
	}

	switch f.Type {
	case FrameToken:
		ex.log.V(2).Info("FRAME", "type", f.Type, "len", len(f.Token))
		ex.count(f)
		if ex.cb.OnToken != nil {
			ex.cb.OnToken(f.Token)
		}
		return false, nil
	case FrameDone:
		ex.log.V(1).Info("FRAME", "type", f.Type, "tokens_used", f.TokensUsed, "max_tokens", f.MaxTokens)
		ex.count(f)
		return true, ex.complete(f)
	case FrameError:
		ex.log.V(1).Info("FRAME", "type", f.Type)
		msg := f.Error
		if msg == "" {
			msg = "backend reported an error"
		}
		return true, ex.fail(&Error{Kind: KindServer, Message: msg})
	case FrameAbort:
		ex.log.V(1).Info("FRAME", "type", f.Type)
		return true, ex.abort(true)
	default:
		// Frame types added by newer backends are skipped, not fatal.
		ex.log.V(1).Info("FRAME_UNKNOWN", "type", f.Type)
		return false, nil
	}
}

func (ex *exchange) count(f ServerFrame) {
	if f.TokensUsed > 0 {
		ex.stream.LastTokensUsed = f.TokensUsed
	}
	if f.MaxTokens > 0 {
		ex.stream.LastMaxTokens = f.MaxTokens
	}
	ex.publish()
}

// settle marks the exchange finished. Only the first call returns true.
func (ex *exchange) settle() bool {
	if ex.settled {
		return false
	}
	ex.settled = true
	return true
}

func (ex *exchange) complete(f ServerFrame) error {
	if !ex.settle() {
		return nil
	}
	ex.stream.IsCompleted = true
	ex.finish(StateCompleted)

	convID := f.ConversationID
	if convID == "" {
		convID = ex.req.ConversationID
	}
	if ex.cb.OnComplete != nil {
		ex.cb.OnComplete(Completion{
			ConversationID:  convID,
			TokensUsed:      ex.stream.LastTokensUsed,
			MaxTokens:       ex.stream.LastMaxTokens,
			PromptTokPerSec: f.PromptTokPerSec,
			GenTokPerSec:    f.GenTokPerSec,
		})
	}
	ex.setState(StateClosed)
	ex.log.V(1).Info("EXCHANGE_SETTLED", "outcome", StateCompleted.String(), "tokens_used", ex.stream.LastTokensUsed)
	return nil
}

func (ex *exchange) fail(err error) error {
	if !ex.settle() {
		return err
	}
	outcome := StateErrored
	if IsKind(err, KindConnectTimeout) {
		outcome = StateTimedOut
	}
	ex.finish(outcome)
	if ex.cb.OnError != nil {
		ex.cb.OnError(err)
	}
	ex.setState(StateClosed)
	ex.log.Error(err, "EXCHANGE_FAILED", "outcome", outcome.String())
	return err
}

// abort settles without callbacks. sent says whether the backend may be
// generating, in which case it is asked to stop.
func (ex *exchange) abort(sent bool) error {
	if !ex.settle() {
		return ErrAborted
	}
	ex.stream.WasAborted = true
	ex.finish(StateAborted)
	if sent && !ex.stream.IsCompleted {
		ex.cancelRemote()
	}
	ex.setState(StateClosed)
	ex.log.V(1).Info("EXCHANGE_SETTLED", "outcome", StateAborted.String(), "sent", sent)
	return ErrAborted
}

// cancelRemote fires the out-of-band cancel without waiting for it. The
// cancel names only the conversation, so it is skipped if a newer exchange
// begins before the request goes out.
func (ex *exchange) cancelRemote() {
	rpc := ex.t.rpc
	if rpc == nil {
		return
	}
	convID := ex.req.ConversationID
	log := ex.log
	go func() {
		ctx, cancel := context.WithTimeout(ex.epoch, cancelTimeout)
		defer cancel()
		if err := rpc.Cancel(ctx, convID); err != nil {
			log.V(1).Info("CANCEL_FAILED", "conversation", convID, "error", err.Error())
		}
	}()
}

func (ex *exchange) finish(outcome State) {
	ex.stream.Outcome = outcome
	ex.setState(outcome)
}

func (ex *exchange) publish() {
	ex.t.mu.Lock()
	defer ex.t.mu.Unlock()
	if ex.t.current == ex.id {
		ex.t.stream = ex.stream
	}
}

// setState updates the transport view only while this is the latest
// exchange, so a late-settling aborted exchange cannot overwrite a newer one.
func (ex *exchange) setState(s State) {
	ex.t.mu.Lock()
	defer ex.t.mu.Unlock()
	if ex.t.current == ex.id {
		ex.t.state = s
		ex.t.stream = ex.stream
	}
}
