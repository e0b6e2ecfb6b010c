// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama reads model metadata from an Ollama server.
//
// The VRAM planner needs the architecture of the selected model: layer
// count, attention heads, embedding width, context limit and weight size.
// Ollama reports the first four in the model_info map of /api/show and the
// size in /api/tags; Metrics joins the two.
//
//	client := ollama.NewClient()
//	m, err := client.Metrics(ctx, "qwen2.5-coder:14b")
package ollama
