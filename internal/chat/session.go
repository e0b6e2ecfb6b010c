// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"github.com/jeranaias/rigloop/internal/audit"
	"github.com/jeranaias/rigloop/internal/backend"
	"github.com/jeranaias/rigloop/internal/controller"
	"github.com/jeranaias/rigloop/internal/model"
	"github.com/jeranaias/rigloop/internal/notify"
	"github.com/jeranaias/rigloop/internal/toolfmt"
	"github.com/jeranaias/rigloop/internal/toolparse"
	"github.com/jeranaias/rigloop/internal/transport"
)

var (
	// ErrBusy is returned when a turn is already running.
	ErrBusy = errors.New("a turn is already in progress")

	// ErrCancelled is returned by the exchange a Cancel interrupted.
	ErrCancelled = errors.New("exchange cancelled")

	// ErrEmptyMessage is returned for a blank user message.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrStaleContinuation is returned by Submit for tool results that do
	// not belong to the running turn.
	ErrStaleContinuation = errors.New("continuation does not belong to the running turn")
)

// Streamer runs one streaming exchange. *transport.Transport implements it.
type Streamer interface {
	StreamMessage(ctx context.Context, req backend.Request, cb transport.Callbacks) error
}

// Option configures a Session.
type Option func(*Session)

// WithParser sets the tool-call parser registry.
func WithParser(r *toolparse.Registry) Option {
	return func(s *Session) {
		if r != nil {
			s.parser = r
		}
	}
}

// WithLimits sets the tool loop limits.
func WithLimits(l controller.Limits) Option {
	return func(s *Session) { s.limits = l }
}

// WithNotifier sets where user-facing notices go.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Session) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithRecorder sets the tool audit ledger.
func WithRecorder(r audit.Recorder) Option {
	return func(s *Session) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(s *Session) {
		s.baseLog = log
		s.log = log.WithName("chat")
	}
}

// WithTags sets the active tool delimiters.
func WithTags(tags toolfmt.ToolTags) Option {
	return func(s *Session) {
		if !tags.IsZero() {
			s.tags = tags
		}
	}
}

// WithTokenHandler registers fn for every token applied to the open
// assistant message.
func WithTokenHandler(fn func(messageID, token string)) Option {
	return func(s *Session) { s.onToken = fn }
}

// WithContextSize reports the model context size used until the backend
// reports one.
func WithContextSize(fn func() int) Option {
	return func(s *Session) { s.contextSize = fn }
}

// WithConversationID binds the session to an existing backend conversation.
func WithConversationID(id string) Option {
	return func(s *Session) { s.remoteID = id }
}

// turnKey tags a turn's context with the turn that owns it.
type turnKey struct{}

// turn is one run of exchanges, from a user message or a watcher-detected
// tool call until the model stops asking for tools.
type turn struct {
	ctx     context.Context
	cancel  context.CancelFunc
	pending []backend.Request
}

// Session owns one conversation and the exchanges run against it. It is
// safe for concurrent use.
type Session struct {
	conv     *model.Conversation
	stream   Streamer
	parser   *toolparse.Registry
	ctrl     *controller.Controller
	notifier notify.Notifier
	recorder audit.Recorder
	limits   controller.Limits
	log      logr.Logger
	baseLog  logr.Logger
	onToken  func(messageID, token string)

	contextSize func() int
	gate        StreamGate

	mu       sync.Mutex
	seq      uint64
	active   *turn
	openID   string
	remoteID string
	tags     toolfmt.ToolTags

	bg sync.WaitGroup
}

// New creates a session over conv. Tool calls run on exec.
func New(conv *model.Conversation, stream Streamer, exec controller.ToolExecutor, opts ...Option) *Session {
	if conv == nil {
		conv = model.NewConversation()
	}
	s := &Session{
		conv:     conv,
		stream:   stream,
		parser:   toolparse.DefaultRegistry(),
		notifier: notify.Nop,
		recorder: audit.Nop{},
		limits:   controller.DefaultLimits(),
		log:      logr.Discard(),
		baseLog:  logr.Discard(),
		tags:     toolfmt.DefaultTags(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.remoteID != "" {
		conv.SetID(s.remoteID)
	}
	s.ctrl = controller.New(controller.NewState(), exec, s,
		controller.WithLimits(s.limits),
		controller.WithNotifier(s.notifier),
		controller.WithRecorder(s.recorder),
		controller.WithLogger(s.baseLog),
		controller.WithContextSize(s.maxContext),
	)
	s.ctrl.SetTags(s.tags)
	return s
}

// Conversation returns the conversation.
func (s *Session) Conversation() *model.Conversation { return s.conv }

// Controller returns the tool controller.
func (s *Session) Controller() *controller.Controller { return s.ctrl }

// Gate returns the stream gate shared with the watcher.
func (s *Session) Gate() *StreamGate { return &s.gate }

// ConversationID returns the backend conversation ID, empty until the
// backend assigns one.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteID
}

// Busy reports whether a turn is running.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Tags returns the active tool delimiters.
func (s *Session) Tags() toolfmt.ToolTags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tags
}

// SetTags switches the active tool delimiters, for example after a model
// change.
func (s *Session) SetTags(tags toolfmt.ToolTags) {
	if tags.IsZero() {
		tags = toolfmt.DefaultTags()
	}
	s.mu.Lock()
	s.tags = tags
	s.mu.Unlock()
	s.ctrl.SetTags(tags)
}

// DisplayText returns msg's content with tool markup removed.
func (s *Session) DisplayText(msg *model.Message) string {
	return toolparse.StripMarkup(msg.GetDisplayContent(), s.Tags())
}

// Wait blocks until turns started from watcher snapshots have finished.
func (s *Session) Wait() {
	s.bg.Wait()
}

// =============================================================================
// TURNS
// =============================================================================

// SendUserMessage starts a new user turn and blocks until it ends: the
// model answered without tool calls, a safety limit stopped the loop, an
// exchange failed, or Cancel interrupted it.
func (s *Session) SendUserMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	t, err := s.startTurn(ctx)
	if err != nil {
		return err
	}
	s.ctrl.ResetForNewTurn()
	s.conv.AddUserMessage(text)
	s.log.V(1).Info("TURN_START", "chars", len(text))
	return s.drive(t, &backend.Request{Message: text})
}

// Submit queues a continuation. It implements controller.Submitter. The
// request is accepted only from the running turn's context: a continuation
// from a cancelled or superseded turn is refused with ErrStaleContinuation.
func (s *Session) Submit(ctx context.Context, req backend.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	owner, _ := ctx.Value(turnKey{}).(*turn)

	s.mu.Lock()
	defer s.mu.Unlock()
	if owner == nil || s.active != owner {
		s.log.V(1).Info("CONTINUATION_DROPPED", "chars", len(req.Message))
		return ErrStaleContinuation
	}
	owner.pending = append(owner.pending, req)
	return nil
}

// Cancel interrupts the running turn. Its open assistant message is
// discarded at once and later events from its exchange are ignored, so a
// new message can be sent immediately. It reports whether anything was
// running.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	t := s.active
	if t == nil {
		s.mu.Unlock()
		return false
	}
	s.active = nil
	s.seq++
	if s.openID != "" {
		s.conv.DiscardOpen(s.openID)
		s.openID = ""
	}
	s.gate.End()
	s.mu.Unlock()

	t.cancel()
	s.log.Info("TURN_CANCELLED")
	return true
}

func (s *Session) startTurn(ctx context.Context) (*turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return nil, ErrBusy
	}
	t := newTurn(ctx)
	s.active = t
	return t, nil
}

func newTurn(parent context.Context) *turn {
	t := &turn{}
	t.ctx, t.cancel = context.WithCancel(parent)
	t.ctx = context.WithValue(t.ctx, turnKey{}, t)
	return t
}

func (s *Session) endTurn(t *turn) {
	s.mu.Lock()
	if s.active == t {
		s.active = nil
	}
	s.mu.Unlock()
	t.cancel()
}

// next pops the next queued continuation of t.
func (s *Session) next(t *turn) *backend.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != t || len(t.pending) == 0 {
		return nil
	}
	req := t.pending[0]
	t.pending = t.pending[1:]
	return &req
}

// drive runs req and every continuation it produces.
func (s *Session) drive(t *turn, req *backend.Request) error {
	defer s.endTurn(t)
	for req != nil {
		if err := s.exchange(t, *req); err != nil {
			return err
		}
		req = s.next(t)
	}
	return nil
}

func (s *Session) current(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq == seq
}

// =============================================================================
// EXCHANGE
// =============================================================================

// exchange streams one request into a new assistant message and, when it
// completes, runs any tool calls found in the final text.
func (s *Session) exchange(t *turn, req backend.Request) error {
	s.mu.Lock()
	if s.active != t {
		s.mu.Unlock()
		return ErrCancelled
	}
	if req.Continuation {
		s.conv.AddUserMessage(req.Message)
	}
	if req.ConversationID == "" {
		req.ConversationID = s.remoteID
	}
	id, err := s.conv.OpenAssistantMessage()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.seq++
	seq := s.seq
	s.openID = id
	s.gate.Begin()
	s.mu.Unlock()

	stats := model.NewStatistics()
	var (
		completion *transport.Completion
		streamErr  error
	)
	cb := transport.Callbacks{
		OnToken: func(token string) {
			if !s.current(seq) {
				return
			}
			if s.conv.AppendToOpen(id, token) && s.onToken != nil {
				s.onToken(id, token)
			}
		},
		OnComplete: func(c transport.Completion) { completion = &c },
		OnError:    func(err error) { streamErr = err },
	}
	err = s.stream.StreamMessage(t.ctx, req, cb)

	s.mu.Lock()
	if s.seq != seq {
		s.mu.Unlock()
		return ErrCancelled
	}
	s.openID = ""

	switch {
	case completion != nil:
		stats.TokensUsed = completion.TokensUsed
		stats.MaxTokens = completion.MaxTokens
		stats.PromptTokPerSec = completion.PromptTokPerSec
		stats.GenTokPerSec = completion.GenTokPerSec
		stats.Finish()
		content, _ := s.conv.FinalizeOpen(id, stats)
		if completion.ConversationID != "" {
			s.remoteID = completion.ConversationID
			s.conv.SetID(completion.ConversationID)
		}
		s.gate.End()
		s.mu.Unlock()
		s.log.V(1).Info("EXCHANGE_COMPLETE", "message", id, "tokens", completion.TokensUsed)
		return s.afterComplete(t, id, content)

	case errors.Is(err, transport.ErrAborted):
		s.conv.DiscardOpen(id)
		s.gate.End()
		s.mu.Unlock()
		s.log.Info("EXCHANGE_ABORTED", "message", id)
		return ErrCancelled

	default:
		if streamErr == nil {
			streamErr = err
		}
		if streamErr == nil {
			streamErr = errors.New("exchange ended without completing")
		}
		if msg, ok := s.conv.Get(id); ok && strings.TrimSpace(msg.Content) == "" {
			s.conv.DiscardOpen(id)
		} else {
			s.conv.FinalizeOpen(id, nil)
		}
		s.gate.End()
		s.mu.Unlock()
		s.log.Error(streamErr, "EXCHANGE_FAILED", "message", id)
		s.notifier.Notify(notify.New(notify.KindTransport, streamErr.Error()))
		return streamErr
	}
}

// afterComplete parses the final text and runs the tool pass, if any.
func (s *Session) afterComplete(t *turn, messageID, content string) error {
	format, calls := s.parser.AutoParse(content)
	if len(calls) == 0 {
		return nil
	}
	src := controller.Source{
		MessageID:      messageID,
		ConversationID: s.ConversationID(),
		Format:         format,
	}
	return s.processResult(s.ctrl.Process(t.ctx, calls, src))
}

// processResult maps a tool pass outcome to the turn's result. A safety
// stop ends the turn normally; the controller has already told the user.
func (s *Session) processResult(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, controller.ErrHalted):
		s.log.V(1).Info("TURN_HALTED", "reason", err.Error())
		return nil
	case errors.Is(err, controller.ErrBusy):
		s.notifier.Notify(notify.New(notify.KindInfo, "tool calls skipped: another tool pass is still running"))
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrStaleContinuation):
		return ErrCancelled
	default:
		s.notifier.Notify(notify.New(notify.KindTool, err.Error()))
		return err
	}
}

// =============================================================================
// WATCHER SNAPSHOTS
// =============================================================================

// ApplySnapshot replaces the conversation with an authoritative copy from
// the backend. It is refused while a stream or turn is in flight. When the
// snapshot ends in an assistant message with tool calls that have not been
// run, a background turn runs them.
func (s *Session) ApplySnapshot(messages []*model.Message, tokensUsed, maxTokens int) bool {
	s.mu.Lock()
	if s.gate.Active() || s.active != nil {
		s.mu.Unlock()
		return false
	}
	merged := model.Reconcile(s.conv.Snapshot(), messages)
	s.conv.Replace(merged)
	s.conv.SetUsage(tokensUsed, maxTokens)

	var (
		t     *turn
		calls []toolparse.ToolCall
		src   controller.Source
	)
	if n := len(merged); n > 0 && merged[n-1].Role == model.RoleAssistant {
		last := merged[n-1]
		var format toolparse.Format
		format, calls = s.parser.AutoParse(last.Content)
		if len(calls) > 0 && s.ctrl.State().LastProcessedMessageID != last.ID {
			t = newTurn(context.Background())
			s.active = t
			src = controller.Source{MessageID: last.ID, ConversationID: s.remoteID, Format: format}
		}
	}
	s.mu.Unlock()

	s.log.V(1).Info("SNAPSHOT_APPLIED", "messages", len(merged), "pending_calls", t != nil)
	if t != nil {
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			if err := s.processResult(s.ctrl.Process(t.ctx, calls, src)); err != nil {
				s.endTurn(t)
				return
			}
			if err := s.drive(t, s.next(t)); err != nil && !errors.Is(err, ErrCancelled) {
				s.log.Error(err, "CONTINUATION_FAILED")
			}
		}()
	}
	return true
}

// maxContext is the model context size: the backend's report when there is
// one, else the configured fallback.
func (s *Session) maxContext() int {
	if _, max := s.conv.Usage(); max > 0 {
		return max
	}
	if s.contextSize != nil {
		return s.contextSize()
	}
	return 0
}
