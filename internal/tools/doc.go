// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tools runs the model's tool calls on this machine when the
// backend is not executing them.
//
// # Built-in Tools
//
//   - bash: run a shell command in the work directory
//   - read_file: read a text file, optionally a line range
//   - write_file: atomically write a file
//   - list_dir: list a directory
//
// File tools are confined to the work directory. Commands are NFKC
// normalized before they are checked against the block list, so lookalike
// characters cannot slip a blocked command through.
//
// # Usage
//
//	reg := tools.NewRegistry()
//	reg.RegisterBuiltins()
//	exec := tools.NewExecutor(reg, tools.WithWorkDir(dir))
//	resp, err := exec.ExecuteTool(ctx, "bash", map[string]any{"command": "ls"})
package tools
