// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package vram

import (
	"fmt"
	"sync"
)

const (
	// DefaultHeadroomGB covers compute buffers and driver overhead.
	DefaultHeadroomGB = 0.5
	// DefaultMinContext is the fallback context size.
	DefaultMinContext = 2048
	// DefaultGranularity is the KV allocator unit, in tokens.
	DefaultGranularity = 256
	// DefaultGrowthThreshold is how much larger a grown context must be
	// than the requested one to be adopted.
	DefaultGrowthThreshold = 1.25
	// DefaultKVBytesPerElement is an f16 KV cache.
	DefaultKVBytesPerElement = 2.0
	// DefaultRequestedContext is used when no context size is requested.
	DefaultRequestedContext = 8192

	bytesPerGB = 1024 * 1024 * 1024
)

// ModelMetrics describes the architecture of a model.
type ModelMetrics struct {
	ModelSizeGB     float64
	TotalLayers     int
	HeadCount       int
	HeadCountKV     int
	EmbeddingLength int
	// KVAttentionLayers is the number of layers with a full-context KV
	// cache; zero means all of them.
	KVAttentionLayers int
	// SlidingWindow bounds the KV cache of the remaining layers.
	SlidingWindow int
	// ContextLength is the architecture maximum, zero when unknown.
	ContextLength int
}

// Valid reports whether the metrics are usable for planning.
func (m ModelMetrics) Valid() bool {
	return m.TotalLayers > 0 && m.HeadCount > 0 && m.EmbeddingLength > 0 && m.ModelSizeGB > 0
}

func (m ModelMetrics) kvLayers() int {
	if m.KVAttentionLayers > 0 && m.KVAttentionLayers < m.TotalLayers {
		return m.KVAttentionLayers
	}
	return m.TotalLayers
}

func (m ModelMetrics) kvDim() int {
	kvHeads := m.HeadCountKV
	if kvHeads <= 0 {
		kvHeads = m.HeadCount
	}
	return m.EmbeddingLength / m.HeadCount * kvHeads
}

// Plan is a GPU offload and context choice.
type Plan struct {
	GPULayers         int
	ContextSize       int
	KVAttentionLayers int
}

func (p Plan) String() string {
	return fmt.Sprintf("gpu_layers=%d context=%d kv_layers=%d", p.GPULayers, p.ContextSize, p.KVAttentionLayers)
}

// Config tunes the planner. Zero fields take the defaults.
type Config struct {
	HeadroomGB        float64
	MinContext        int
	Granularity       int
	GrowthThreshold   float64
	KVBytesPerElement float64
}

// DefaultConfig returns the default planner settings.
func DefaultConfig() Config {
	return Config{
		HeadroomGB:        DefaultHeadroomGB,
		MinContext:        DefaultMinContext,
		Granularity:       DefaultGranularity,
		GrowthThreshold:   DefaultGrowthThreshold,
		KVBytesPerElement: DefaultKVBytesPerElement,
	}
}

func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.HeadroomGB < 0 {
		c.HeadroomGB = d.HeadroomGB
	}
	if c.MinContext <= 0 {
		c.MinContext = d.MinContext
	}
	if c.Granularity <= 0 {
		c.Granularity = d.Granularity
	}
	if c.GrowthThreshold < 1 {
		c.GrowthThreshold = d.GrowthThreshold
	}
	if c.KVBytesPerElement <= 0 {
		c.KVBytesPerElement = d.KVBytesPerElement
	}
	return c
}

type planKey struct {
	m         ModelMetrics
	available float64
	requested int
	max       int
}

// Optimizer computes and memoizes plans. It is safe for concurrent use.
type Optimizer struct {
	cfg Config

	mu    sync.Mutex
	cache map[planKey]Plan
}

// New creates an optimizer.
func New(cfg Config) *Optimizer {
	return &Optimizer{cfg: cfg.normalize(), cache: make(map[planKey]Plan)}
}

// Config returns the normalized settings.
func (o *Optimizer) Config() Config {
	return o.cfg
}

// KVCacheGB is the KV cache size for ctx tokens.
func (o *Optimizer) KVCacheGB(m ModelMetrics, ctx int) float64 {
	if !m.Valid() || ctx <= 0 {
		return 0
	}
	tokens := float64(m.kvLayers()) * float64(ctx)
	if m.SlidingWindow > 0 {
		window := min(ctx, m.SlidingWindow)
		tokens += float64(m.TotalLayers-m.kvLayers()) * float64(window)
	}
	return 2 * tokens * float64(m.kvDim()) * o.cfg.KVBytesPerElement / bytesPerGB
}

// Estimate is the VRAM needed to run m with gpuLayers offloaded at ctx.
func (o *Optimizer) Estimate(m ModelMetrics, gpuLayers, ctx int) float64 {
	if !m.Valid() {
		return o.cfg.HeadroomGB
	}
	weights := m.ModelSizeGB * float64(gpuLayers) / float64(m.TotalLayers)
	return weights + o.KVCacheGB(m, ctx) + o.cfg.HeadroomGB
}

// Plan returns the plan for m with availableGB of free VRAM. requested is
// the preferred context size; maxContext the architecture limit (zero
// falls back to m.ContextLength, and unknown means no growth).
func (o *Optimizer) Plan(m ModelMetrics, availableGB float64, requested, maxContext int) Plan {
	key := planKey{m: m, available: availableGB, requested: requested, max: maxContext}
	o.mu.Lock()
	if p, ok := o.cache[key]; ok {
		o.mu.Unlock()
		return p
	}
	o.mu.Unlock()

	p := o.plan(m, availableGB, requested, maxContext)

	o.mu.Lock()
	o.cache[key] = p
	o.mu.Unlock()
	return p
}

func (o *Optimizer) plan(m ModelMetrics, available float64, requested, maxContext int) Plan {
	fallback := Plan{GPULayers: 0, ContextSize: o.cfg.MinContext}
	if !m.Valid() {
		return fallback
	}
	kvLayers := m.kvLayers()
	fallback.KVAttentionLayers = kvLayers

	if maxContext <= 0 {
		maxContext = m.ContextLength
	}
	if requested <= 0 {
		requested = DefaultRequestedContext
	}
	if maxContext > 0 && requested > maxContext {
		requested = maxContext
	}
	if requested < o.cfg.MinContext {
		requested = o.cfg.MinContext
	}

	fits := func(gpu, ctx int) bool { return o.Estimate(m, gpu, ctx) <= available }
	total := m.TotalLayers

	// 1. Everything on the GPU, growing the context when it is worth it.
	if fits(total, requested) {
		ctx := requested
		if maxContext > requested {
			grown := o.largestFitting(total, requested, maxContext, fits)
			if float64(grown) > float64(requested)*o.cfg.GrowthThreshold {
				ctx = grown
			}
		}
		return Plan{GPULayers: total, ContextSize: ctx, KVAttentionLayers: kvLayers}
	}

	// 2. Fewer layers at the requested context.
	for gpu := total - 1; gpu >= 0; gpu-- {
		if fits(gpu, requested) {
			return Plan{GPULayers: gpu, ContextSize: requested, KVAttentionLayers: kvLayers}
		}
	}

	// 3. The weights fit without a KV cache: shrink the context.
	if m.ModelSizeGB+o.cfg.HeadroomGB <= available {
		for _, gpu := range []int{total, 0} {
			if ctx := o.largestFitting(gpu, o.cfg.MinContext, requested, fits); ctx > 0 {
				return Plan{GPULayers: gpu, ContextSize: ctx, KVAttentionLayers: kvLayers}
			}
		}
	}

	// 4. CPU only at the minimum context.
	return fallback
}

// largestFitting binary-searches the largest context in [lo, hi], rounded
// down to the granularity, that fits with gpu layers. It returns 0 when
// none does.
func (o *Optimizer) largestFitting(gpu, lo, hi int, fits func(gpu, ctx int) bool) int {
	g := o.cfg.Granularity
	loUnits := (lo + g - 1) / g
	hiUnits := hi / g
	best := 0
	for loUnits <= hiUnits {
		mid := loUnits + (hiUnits-loUnits)/2
		ctx := mid * g
		if fits(gpu, ctx) {
			best = ctx
			loUnits = mid + 1
		} else {
			hiUnits = mid - 1
		}
	}
	return best
}
