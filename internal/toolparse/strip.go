// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package toolparse

import (
	"regexp"
	"strings"

	"github.com/jeranaias/rigloop/internal/toolfmt"
)

// =============================================================================
// DISPLAY STRIPPING
// =============================================================================

const (
	observationOpen  = "<observation>"
	observationClose = "</observation>"
	pythonTagOpen    = "<|python_tag|>"
	pythonTagClose   = "<|eom_id|>"
)

var (
	boxSpanRe  = regexp.MustCompile(`(?s)<\|begin_of_box\|>(.*?)<\|end_of_box\|>`)
	blankRunRe = regexp.MustCompile(`\n{3,}`)

	orphanClosers = strings.NewReplacer(
		tagClose, "",
		glmAltClose, "",
		llamaClose, "",
		mistralClose, "",
		boxClose, "",
		responseClose, "",
		mistralResClose, "",
		pythonTagClose, "",
		observationClose, "",
		glmArgKeyClose, "",
		glmArgValClose, "",
	)
)

// spanRule is an open delimiter and the closers that end its span. With
// header set, the body starts after the first '>' following open.
type spanRule struct {
	open    string
	closers []string
	header  bool
}

// Result spans go first: their bodies may quote call markup verbatim.
var spanRules = []spanRule{
	{open: responseOpen, closers: []string{responseClose}},
	{open: mistralResOpen, closers: []string{mistralResClose}},
	{open: observationOpen, closers: []string{observationClose}},
	{open: tagOpen, closers: []string{tagClose, glmAltClose}},
	{open: llamaOpen, closers: []string{llamaClose}, header: true},
	{open: pythonTagOpen, closers: []string{pythonTagClose}},
}

// tailRules cover delimiters that can still be open after the span and
// box passes.
var tailRules = []spanRule{
	{open: boxOpen, closers: []string{boxClose}},
	{open: glmArgKeyOpen, closers: []string{glmArgKeyClose}},
	{open: glmArgValOpen, closers: []string{glmArgValClose}},
}

var partialMarkers = []string{
	mistralOpen, mistralResOpen, tagOpen, llamaOpen, responseOpen,
	boxOpen, observationOpen, pythonTagOpen,
}

// StripMarkup removes tool-call and tool-result markup from text for
// display. It is safe to call on partially streamed text: unterminated call
// spans and half-written delimiters at the tail are cut so they never flash
// on screen. extra adds model-specific delimiters reported by the backend.
func StripMarkup(text string, extra ...toolfmt.ToolTags) string {
	rules, markers := markupRules(extra)
	return strings.TrimSpace(collapseBlankRuns(stripMarkup(text, rules, markers)))
}

// markupRules returns the span rules and partial markers for the built-in
// dialects plus extra.
func markupRules(extra []toolfmt.ToolTags) ([]spanRule, []string) {
	rules := spanRules
	markers := partialMarkers
	for _, t := range extra {
		if t.OutputOpen != "" && t.OutputClose != "" {
			rules = append(rules[:len(rules):len(rules)], spanRule{open: t.OutputOpen, closers: []string{t.OutputClose}})
			markers = append(markers[:len(markers):len(markers)], t.OutputOpen)
		}
		if t.ExecOpen != "" && t.ExecClose != "" {
			rules = append(rules[:len(rules):len(rules)], spanRule{open: t.ExecOpen, closers: []string{t.ExecClose}})
			markers = append(markers[:len(markers):len(markers)], t.ExecOpen)
		}
	}
	return rules, markers
}

// stripMarkup removes markup but leaves whitespace as found.
func stripMarkup(text string, rules []spanRule, markers []string) string {
	if text == "" {
		return ""
	}
	for _, r := range rules {
		text = stripSpans(text, r)
	}

	text = boxSpanRe.ReplaceAllStringFunc(text, func(m string) string {
		inner := boxSpanRe.FindStringSubmatch(m)[1]
		if strings.TrimSpace(inner) == "" || len(parseGLMBody(inner)) > 0 {
			return ""
		}
		return inner
	})

	text = stripMistral(text)
	text = cutUnterminated(text, tailRules)

	text = orphanClosers.Replace(text)
	if n := toolfmt.TrailingPartialPrefix(text, markers...); n > 0 {
		text = text[:len(text)-n]
	}
	return text
}

func collapseBlankRuns(text string) string {
	return blankRunRe.ReplaceAllString(text, "\n\n")
}

// end returns the index just past the span of r that opens at pos, or -1
// while it is still open.
func (r spanRule) end(text string, pos int) int {
	start := pos + len(r.open)
	if r.header {
		gt := strings.IndexByte(text[start:], '>')
		if gt < 0 {
			return -1
		}
		start += gt + 1
	}
	at, n := findCloser(text, start, r.closers)
	if at < 0 {
		return -1
	}
	return at + n
}

// stripSpans removes every complete span of r and truncates text at the
// first one still open. Closers are found with findCloser, so a closer
// quoted inside JSON arguments does not end a span.
func stripSpans(text string, r spanRule) string {
	if !strings.Contains(text, r.open) {
		return text
	}

	var b strings.Builder
	i := 0
	for {
		rel := strings.Index(text[i:], r.open)
		if rel < 0 {
			b.WriteString(text[i:])
			return b.String()
		}
		pos := i + rel
		b.WriteString(text[i:pos])

		end := r.end(text, pos)
		if end < 0 {
			return b.String()
		}
		i = end
	}
}

// cutUnterminated truncates text at any open delimiter that has no closer
// after it.
func cutUnterminated(text string, rules []spanRule) string {
	for changed := true; changed; {
		changed = false
		for _, r := range rules {
			if !unterminated(text, r) {
				continue
			}
			text = text[:strings.LastIndex(text, r.open)]
			changed = true
		}
	}
	return text
}

func unterminated(text string, r spanRule) bool {
	for _, c := range r.closers {
		if !toolfmt.HasUnterminatedSpan(text, r.open, c) {
			return false
		}
	}
	return strings.Contains(text, r.open)
}

// stripMistral removes Mistral calls in all three forms. Bracket and bare
// calls have no required closer, so text from a marker onward is cut only
// while the call is still arriving.
func stripMistral(text string) string {
	for {
		pos := strings.Index(text, mistralOpen)
		if pos < 0 {
			return text
		}
		end, complete := mistralCallEnd(text, pos+len(mistralOpen))
		if !complete {
			return text[:pos]
		}
		text = text[:pos] + text[end:]
	}
}

// mistralCallEnd returns the index just past the call(s) that follow a
// [TOOL_CALLS] marker ending at i. complete is false while the call is still
// being streamed.
func mistralCallEnd(text string, i int) (end int, complete bool) {
	j := i
	consumed := false
	for {
		k := skipSpace(text, j)
		if k < len(text) && (text[k] == '{' || text[k] == '[') {
			raw, ok := toolfmt.ExtractBalancedJSON(text, k)
			if !ok {
				return 0, false
			}
			return mistralCloserEnd(text, k+len(raw))
		}

		if !consumed {
			if after, ok := nameComma(text, k); ok {
				js := skipSpace(text, after)
				if js == len(text) {
					return 0, false
				}
				if text[js] == '{' || text[js] == '[' {
					raw, ok := toolfmt.ExtractBalancedJSON(text, js)
					if !ok {
						return 0, false
					}
					return mistralCloserEnd(text, js+len(raw))
				}
			}
		}

		rel := strings.Index(text[k:], mistralArgs)
		if rel >= 0 && validName(strings.TrimSpace(text[k:k+rel])) {
			js := skipSpace(text, k+rel+len(mistralArgs))
			raw, ok := toolfmt.ExtractBalancedJSON(text, js)
			if !ok {
				return 0, false
			}
			j = js + len(raw)
			consumed = true
			continue
		}

		if consumed {
			return j, true
		}
		// A name still arriving, or a half-written [ARGS], has no whitespace.
		if !strings.ContainsAny(text[k:], " \t\r\n") {
			return 0, false
		}
		return k, true
	}
}

// mistralCloserEnd returns the index past an optional [/TOOL_CALLS] that
// follows a call ending at i. While the text after i could still grow into
// that closer, the call is incomplete.
func mistralCloserEnd(text string, i int) (int, bool) {
	k := skipSpace(text, i)
	rest := text[k:]
	if strings.HasPrefix(rest, mistralClose) {
		return k + len(mistralClose), true
	}
	if strings.HasPrefix(mistralClose, rest) {
		return 0, false
	}
	return i, true
}

// =============================================================================
// RESULT FORMATTING
// =============================================================================

// FormatResults wraps each tool result in the output delimiters and joins
// them with blank lines, ready to send back to the model.
func FormatResults(results []string, tags toolfmt.ToolTags) string {
	wrapped := make([]string, len(results))
	for i, r := range results {
		wrapped[i] = tags.WrapResult(r)
	}
	return strings.Join(wrapped, "\n\n")
}
