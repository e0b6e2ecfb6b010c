// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package vram plans how many model layers to offload to the GPU and how
// large a context to allocate for a given amount of free VRAM.
//
// The cost of a plan is the offloaded share of the weights, plus the KV
// cache for the context, plus a fixed headroom for compute buffers:
//
//	vram(gpu, ctx) = sizeGB*gpu/layers + kvGB(ctx) + headroomGB
//	kvGB(ctx)      = 2 * kvLayers * ctx * (embedding/heads*kvHeads) * bytes / 1024^3
//
// Planning tries, in order: all layers at the requested context (growing
// the context when a much larger one fits), fewer layers at the requested
// context, a smaller context, and finally CPU only at the minimum context.
// Plans are pure functions of their inputs and are memoized.
package vram
