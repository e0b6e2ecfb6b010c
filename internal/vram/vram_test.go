// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package vram

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// llama8B approximates an 8B Q4 model: 32 layers, GQA 32/8, 4096 wide.
var llama8B = ModelMetrics{
	ModelSizeGB:     4.7,
	TotalLayers:     32,
	HeadCount:       32,
	HeadCountKV:     8,
	EmbeddingLength: 4096,
	ContextLength:   131072,
}

func TestKVCacheGB(t *testing.T) {
	o := New(DefaultConfig())
	// 2 * 32 layers * 8192 ctx * 1024 dim * 2 bytes = 1 GiB exactly.
	assert.InDelta(t, 1.0, o.KVCacheGB(llama8B, 8192), 1e-9)
	assert.InDelta(t, 0.5, o.KVCacheGB(llama8B, 4096), 1e-9)
	assert.Zero(t, o.KVCacheGB(ModelMetrics{}, 4096))
}

func TestKVCacheGB_SlidingWindow(t *testing.T) {
	o := New(DefaultConfig())
	m := llama8B
	m.KVAttentionLayers = 8
	m.SlidingWindow = 1024
	// 8 full layers at 8192 plus 24 windowed layers at 1024.
	want := 2 * float64(8*8192+24*1024) * 1024 * 2 / bytesPerGB
	assert.InDelta(t, want, o.KVCacheGB(m, 8192), 1e-9)
	assert.Less(t, o.KVCacheGB(m, 8192), o.KVCacheGB(llama8B, 8192))
}

func TestEstimate(t *testing.T) {
	o := New(DefaultConfig())
	assert.InDelta(t, 4.7+1.0+0.5, o.Estimate(llama8B, 32, 8192), 1e-9)
	assert.InDelta(t, 4.7/2+1.0+0.5, o.Estimate(llama8B, 16, 8192), 1e-9)
	assert.InDelta(t, 1.0+0.5, o.Estimate(llama8B, 0, 8192), 1e-9)
}

func TestPlan_Strategies(t *testing.T) {
	tests := []struct {
		name      string
		available float64
		requested int
		maxCtx    int
		want      Plan
	}{
		{
			// 6.2 GB needed at 8192; 6.4 only stretches to 9728 tokens.
			name: "fits, growth too small to adopt", available: 6.4, requested: 8192, maxCtx: 131072,
			want: Plan{GPULayers: 32, ContextSize: 8192, KVAttentionLayers: 32},
		},
		{
			// 8.3 GB allows 3.1 GB of KV: 25344 tokens after rounding.
			name: "fits, grows context", available: 8.3, requested: 8192, maxCtx: 131072,
			want: Plan{GPULayers: 32, ContextSize: 25344, KVAttentionLayers: 32},
		},
		{
			name: "growth capped by architecture max", available: 40, requested: 8192, maxCtx: 16384,
			want: Plan{GPULayers: 32, ContextSize: 16384, KVAttentionLayers: 32},
		},
		{
			name: "no growth without a known max", available: 40, requested: 8192, maxCtx: -1,
			want: Plan{GPULayers: 32, ContextSize: 8192, KVAttentionLayers: 32},
		},
		{
			// 1.5 GB fixed leaves 2.5 GB of weights: 17 of 32 layers.
			name: "reduces layers", available: 4.0, requested: 8192, maxCtx: 131072,
			want: Plan{GPULayers: 17, ContextSize: 8192, KVAttentionLayers: 32},
		},
		{
			name: "cpu only at requested context", available: 1.6, requested: 8192, maxCtx: 131072,
			want: Plan{GPULayers: 0, ContextSize: 8192, KVAttentionLayers: 32},
		},
		{
			name: "too small for anything", available: 0.6, requested: 8192, maxCtx: 131072,
			want: Plan{GPULayers: 0, ContextSize: 2048, KVAttentionLayers: 32},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o := New(DefaultConfig())
			m := llama8B
			if tc.maxCtx < 0 {
				m.ContextLength = 0
				tc.maxCtx = 0
			}
			got := o.Plan(m, tc.available, tc.requested, tc.maxCtx)
			if got != tc.want {
				t.Errorf("Plan() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPlan_ShrinksContext(t *testing.T) {
	o := New(DefaultConfig())
	// A model whose KV cache dwarfs its weights: no layer count fits the
	// requested 32768, but the weights do.
	m := ModelMetrics{ModelSizeGB: 1, TotalLayers: 16, HeadCount: 16, HeadCountKV: 16, EmbeddingLength: 4096}
	// KV at ctx: 2*16*ctx*4096*2 / GiB = ctx/4096 GB.
	got := o.Plan(m, 4.1, 32768, 32768)
	// 4.1 - 1 - 0.5 leaves 2.6 GB: 10496 tokens with all layers.
	assert.Equal(t, Plan{GPULayers: 16, ContextSize: 10496, KVAttentionLayers: 16}, got)
	assert.LessOrEqual(t, o.Estimate(m, got.GPULayers, got.ContextSize), 4.1)
}

func TestPlan_InvalidMetrics(t *testing.T) {
	o := New(DefaultConfig())
	assert.Equal(t, Plan{GPULayers: 0, ContextSize: 2048}, o.Plan(ModelMetrics{}, 24, 8192, 0))
}

func TestPlan_Memoized(t *testing.T) {
	o := New(DefaultConfig())
	a := o.Plan(llama8B, 8, 8192, 0)
	b := o.Plan(llama8B, 8, 8192, 0)
	assert.Equal(t, a, b)
	assert.Len(t, o.cache, 1)
}

func TestConfig_Normalize(t *testing.T) {
	o := New(Config{HeadroomGB: -1, GrowthThreshold: 0.5})
	assert.Equal(t, DefaultConfig(), o.Config())
}

// TestPlan_Properties sweeps model sizes, depths and VRAM amounts and checks
// the invariants every plan must hold.
func TestPlan_Properties(t *testing.T) {
	o := New(DefaultConfig())
	rng := rand.New(rand.NewSource(42))
	cfg := o.Config()

	for size := 1.0; size <= 70; size += 3.5 {
		for layers := 10; layers <= 100; layers += 15 {
			for avail := 2.0; avail <= 48; avail += 2.3 {
				heads := 8 * (1 + rng.Intn(8))
				m := ModelMetrics{
					ModelSizeGB:     size,
					TotalLayers:     layers,
					HeadCount:       heads,
					HeadCountKV:     heads / (1 + rng.Intn(4)),
					EmbeddingLength: heads * 128,
					ContextLength:   32768,
				}
				requested := 2048 + 256*rng.Intn(48)
				p := o.Plan(m, avail, requested, 0)

				require.GreaterOrEqual(t, p.GPULayers, 0)
				require.LessOrEqual(t, p.GPULayers, layers)
				require.GreaterOrEqual(t, p.ContextSize, cfg.MinContext)
				require.LessOrEqual(t, p.ContextSize, 32768)

				fallback := p == Plan{GPULayers: 0, ContextSize: cfg.MinContext, KVAttentionLayers: layers}
				if !fallback {
					require.LessOrEqual(t, o.Estimate(m, p.GPULayers, p.ContextSize), avail+1e-9,
						"plan %v for %+v exceeds %.1f GB", p, m, avail)
				}
				if p.ContextSize > requested {
					require.Equal(t, layers, p.GPULayers, "context only grows with every layer offloaded")
					require.Zero(t, p.ContextSize%cfg.Granularity)
					require.Greater(t, float64(p.ContextSize), float64(requested)*cfg.GrowthThreshold)
				}
				if p.ContextSize < requested && !fallback {
					require.Zero(t, p.ContextSize%cfg.Granularity)
				}
				if p.GPULayers < layers && p.ContextSize == requested {
					// One more layer must not have fitted.
					require.Greater(t, o.Estimate(m, p.GPULayers+1, requested), avail)
				}
			}
		}
	}
}

func TestMetricsFromModelInfo(t *testing.T) {
	raw := `{
		"general.architecture": "llama",
		"llama.block_count": 32,
		"llama.attention.head_count": 32,
		"llama.attention.head_count_kv": 8,
		"llama.embedding_length": 4096,
		"llama.context_length": 131072
	}`
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &info))

	m, err := MetricsFromModelInfo(info, 4_700_000_000)
	require.NoError(t, err)
	assert.Equal(t, 32, m.TotalLayers)
	assert.Equal(t, 8, m.HeadCountKV)
	assert.Equal(t, 131072, m.ContextLength)
	assert.InDelta(t, 4.377, m.ModelSizeGB, 0.001)
	assert.Equal(t, 1024, m.kvDim())
}

func TestMetricsFromModelInfo_SlidingWindow(t *testing.T) {
	info := map[string]any{
		"general.architecture":                    "gemma3",
		"gemma3.block_count":                      float64(48),
		"gemma3.attention.head_count":             float64(16),
		"gemma3.attention.head_count_kv":          []any{float64(8), float64(8)},
		"gemma3.embedding_length":                 float64(3840),
		"gemma3.attention.sliding_window":         float64(1024),
		"gemma3.attention.sliding_window_pattern": float64(6),
	}
	m, err := MetricsFromModelInfo(info, 8<<30)
	require.NoError(t, err)
	assert.Equal(t, 8, m.HeadCountKV)
	assert.Equal(t, 8, m.KVAttentionLayers)
	assert.Equal(t, 1024, m.SlidingWindow)
	assert.InDelta(t, 8.0, m.ModelSizeGB, 1e-9)
}

func TestMetricsFromModelInfo_Errors(t *testing.T) {
	_, err := MetricsFromModelInfo(map[string]any{}, 1)
	assert.ErrorIs(t, err, ErrNoArchitecture)

	_, err = MetricsFromModelInfo(map[string]any{"general.architecture": "llama"}, 1)
	assert.Error(t, err)
}
