// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package vram

import (
	"errors"
	"fmt"
)

// ErrNoArchitecture is returned when model_info has no general.architecture.
var ErrNoArchitecture = errors.New("model info has no architecture")

// MetricsFromModelInfo reads the model_info map of an Ollama /api/show
// response. Keys are prefixed by the architecture name, for example
// llama.block_count. sizeBytes is the size of the weights.
func MetricsFromModelInfo(info map[string]any, sizeBytes int64) (ModelMetrics, error) {
	arch, _ := info["general.architecture"].(string)
	if arch == "" {
		return ModelMetrics{}, ErrNoArchitecture
	}
	get := func(key string) int { return intValue(info[arch+"."+key]) }

	m := ModelMetrics{
		ModelSizeGB:     float64(sizeBytes) / bytesPerGB,
		TotalLayers:     get("block_count"),
		HeadCount:       get("attention.head_count"),
		HeadCountKV:     get("attention.head_count_kv"),
		EmbeddingLength: get("embedding_length"),
		SlidingWindow:   get("attention.sliding_window"),
		ContextLength:   get("context_length"),
	}
	if m.SlidingWindow > 0 {
		// Interleaved local/global attention keeps a full cache on one
		// layer in sliding_window_pattern.
		if pattern := get("attention.sliding_window_pattern"); pattern > 0 {
			m.KVAttentionLayers = (m.TotalLayers + pattern - 1) / pattern
		}
	}
	if !m.Valid() {
		return m, fmt.Errorf("incomplete model info for architecture %q", arch)
	}
	return m, nil
}

// intValue converts a JSON number, or the largest of an array of them, to
// an int.
func intValue(v any) int {
	switch x := v.(type) {
	case float64:
		return int(x)
	case int:
		return x
	case int64:
		return int(x)
	case []any:
		best := 0
		for _, e := range x {
			if n := intValue(e); n > best {
				best = n
			}
		}
		return best
	}
	return 0
}
