// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package detect reads the local GPU's memory figures.
//
// The VRAM planner prefers the figure the backend reports. When the backend
// does not report one, DetectVRAMCached asks nvidia-smi and falls back to
// rocm-smi, caching the result for five minutes.
//
//	gpu, err := detect.DetectVRAMCached(ctx)
//	if err == nil {
//		fmt.Printf("%s: %.1f GB free\n", gpu.Name, gpu.FreeGB())
//	}
package detect
