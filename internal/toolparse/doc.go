// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package toolparse recognizes tool calls that a model embeds as text markup.
//
// Four vendor dialects are supported, each behind the Parser interface:
//
//   - Mistral: [TOOL_CALLS]name[ARGS]{json}, [TOOL_CALLS]...[/TOOL_CALLS], [TOOL_CALLS]{json}
//   - Llama3: <function=name>{json}</function> or <parameter=key>value</parameter> pairs
//   - Qwen: <tool_call>{json}</tool_call>, where a JSON array is several calls
//   - GLM: <|begin_of_box|> wrappers and <arg_key>/<arg_value> bodies
//
// A Registry holds the parsers in a fixed priority order. AutoParse returns
// the first dialect whose Parse yields calls. Detection alone never decides,
// since any delimiter can show up in ordinary prose.
//
// # Usage
//
//	reg := toolparse.DefaultRegistry()
//	format, calls := reg.AutoParse(finalText)
//	if len(calls) > 0 {
//	    log.Printf("TOOL_CALLS | dialect=%s count=%d", format, len(calls))
//	}
//	display := toolparse.StripMarkup(streamingText)
package toolparse
