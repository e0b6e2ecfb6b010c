// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the rigloop command tree.
//
// # Commands
//
//   - chat: interactive REPL against the backend, with automatic tool loops
//   - parse: run the tool-call parsers over stdin
//   - plan: compute a GPU layer and context plan for a model
//   - status: show backend, Ollama and GPU status
//   - audit: list recent tool executions and safety stops
//   - config: show, get and set configuration values
//
// Global flags --config, --verbose and --log-file apply to every command.
// Output is styled with lipgloss on a terminal and plain when piped or when
// NO_COLOR is set.
package cli
