// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package toolparse

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/jeranaias/rigloop/internal/toolfmt"
)

// =============================================================================
// FORMATS
// =============================================================================

// Format identifies a tool-call markup dialect.
type Format int

const (
	FormatUnknown Format = iota
	FormatMistral
	FormatLlama3
	FormatQwen
	FormatGLM
)

// String returns the dialect name used in logs and audit rows.
func (f Format) String() string {
	switch f {
	case FormatMistral:
		return "mistral"
	case FormatLlama3:
		return "llama3"
	case FormatQwen:
		return "qwen"
	case FormatGLM:
		return "glm"
	default:
		return "unknown"
	}
}

// =============================================================================
// TOOL CALL
// =============================================================================

// ToolCall is a single tool invocation recovered from model output.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Signature returns name(json-args). Map keys are sorted by encoding/json,
// so equal arguments always produce equal signatures.
func (c ToolCall) Signature() string {
	args := c.Arguments
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return c.Name + "(?)"
	}
	return c.Name + "(" + string(data) + ")"
}

// BatchSignature joins the signatures of every call in a batch.
func BatchSignature(calls []ToolCall) string {
	sigs := make([]string, len(calls))
	for i, c := range calls {
		sigs[i] = c.Signature()
	}
	return strings.Join(sigs, ";")
}

func newCall(name string, args map[string]any) ToolCall {
	if args == nil {
		args = map[string]any{}
	}
	return ToolCall{
		ID:        "call_" + uuid.NewString(),
		Name:      name,
		Arguments: args,
	}
}

// =============================================================================
// PARSER REGISTRY
// =============================================================================

// Parser recognizes one dialect.
type Parser interface {
	// Format returns the dialect this parser handles.
	Format() Format
	// Detect reports whether text contains this dialect's delimiters. It is a
	// cheap pre-check only; a true result does not mean Parse will succeed.
	Detect(text string) bool
	// Parse returns every complete call in text. Malformed markup yields no
	// calls rather than an error.
	Parse(text string) []ToolCall
}

// Registry is an ordered list of dialect parsers.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	parsers []Parser
	log     logr.Logger
}

// NewRegistry creates a registry that tries parsers in the given order.
func NewRegistry(parsers ...Parser) *Registry {
	return &Registry{
		parsers: append([]Parser(nil), parsers...),
		log:     logr.Discard(),
	}
}

// DefaultRegistry returns the built-in dialects in priority order:
// Mistral, Llama3, Qwen, GLM.
func DefaultRegistry() *Registry {
	return NewRegistry(
		MistralParser{},
		Llama3Parser{},
		QwenParser{},
		GLMParser{},
	)
}

// SetLogger sets the logger used for dialect-mismatch diagnostics.
func (r *Registry) SetLogger(log logr.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = log.WithName("toolparse")
}

// Register appends a parser at the lowest priority.
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers = append(r.parsers, p)
}

// Formats returns the registered dialects in priority order.
func (r *Registry) Formats() []Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Format, len(r.parsers))
	for i, p := range r.parsers {
		out[i] = p.Format()
	}
	return out
}

// Detect reports whether any registered dialect's delimiters appear in text.
func (r *Registry) Detect(text string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.parsers {
		if p.Detect(text) {
			return true
		}
	}
	return false
}

// AutoParse tries each parser in priority order and returns the first
// non-empty result. It returns FormatUnknown and nil when no dialect yields a
// call.
func (r *Registry) AutoParse(text string) (Format, []ToolCall) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.parsers {
		if !p.Detect(text) {
			continue
		}
		calls := p.Parse(text)
		if len(calls) > 0 {
			r.log.V(1).Info("TOOL_PARSE", "dialect", p.Format().String(), "calls", len(calls))
			return p.Format(), calls
		}
		r.log.V(1).Info("TOOL_PARSE_MISS", "dialect", p.Format().String(), "reason", "delimiters present but no well-formed call")
	}
	return FormatUnknown, nil
}

// =============================================================================
// SHARED DECODING
// =============================================================================

// rawCall is the {name, arguments} shape shared by the JSON dialects.
// Some models emit "parameters" or "input" instead of "arguments", and some
// encode the arguments as a JSON string.
type rawCall struct {
	Name       string          `json:"name"`
	Arguments  json.RawMessage `json:"arguments"`
	Parameters json.RawMessage `json:"parameters"`
	Input      json.RawMessage `json:"input"`
}

// decodeCall decodes one {name, arguments} object.
func decodeCall(data []byte) (ToolCall, bool) {
	var rc rawCall
	if err := json.Unmarshal(data, &rc); err != nil {
		return ToolCall{}, false
	}
	name := strings.TrimSpace(rc.Name)
	if !validName(name) {
		return ToolCall{}, false
	}

	raw := rc.Arguments
	if len(raw) == 0 {
		raw = rc.Parameters
	}
	if len(raw) == 0 {
		raw = rc.Input
	}

	args, ok := decodeArgs(raw)
	if !ok {
		return ToolCall{}, false
	}
	return newCall(name, args), true
}

// decodeArgs decodes an arguments value. Missing or null arguments are an
// empty map; a JSON string is decoded a second time.
func decodeArgs(raw json.RawMessage) (map[string]any, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return map[string]any{}, true
	}

	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal([]byte(trimmed), &inner); err != nil {
			return nil, false
		}
		inner = strings.TrimSpace(inner)
		if inner == "" {
			return map[string]any{}, true
		}
		trimmed = inner
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
		return nil, false
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, true
}

// decodeCalls decodes a body holding one call object or an array of them.
// Trailing text after the JSON value is ignored.
func decodeCalls(body string) []ToolCall {
	body = trimFence(body)
	if body == "" {
		return nil
	}

	value, ok := toolfmt.ExtractBalancedJSON(body, 0)
	if !ok {
		return nil
	}

	if value[0] == '{' {
		if call, ok := decodeCall([]byte(value)); ok {
			return []ToolCall{call}
		}
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(value), &items); err != nil {
		return nil
	}
	var calls []ToolCall
	for _, item := range items {
		if call, ok := decodeCall(item); ok {
			calls = append(calls, call)
		}
	}
	return calls
}

// parseValue parses a parameter value as a JSON scalar or structure when it
// is one, and returns the trimmed raw string otherwise.
func parseValue(raw string) any {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

// trimFence removes a surrounding ```json fence.
func trimFence(body string) string {
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, "```") {
		return body
	}
	body = strings.TrimPrefix(body, "```")
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsAny(body[:nl], "{[") {
		body = body[nl+1:]
	}
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	return strings.TrimSpace(body)
}

// validName reports whether s looks like a tool name.
func validName(s string) bool {
	if s == "" || len(s) > 128 {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case i > 0 && (c == '-' || c == '.' || (c >= '0' && c <= '9')):
		default:
			return false
		}
	}
	return true
}

func skipSpace(s string, i int) int {
	for i < len(s) {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
			i++
		default:
			return i
		}
	}
	return i
}
