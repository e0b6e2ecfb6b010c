// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// gpuDetectTimeout is the default timeout for GPU detection operations.
const gpuDetectTimeout = 10 * time.Second

// ErrNoGPU is returned when no supported GPU tool reports a device.
var ErrNoGPU = errors.New("no supported GPU detected")

// =============================================================================
// GPU TYPE DEFINITIONS
// =============================================================================

// GpuType represents the type of GPU detected on the system.
type GpuType int

const (
	// GpuTypeCPU indicates no dedicated GPU found.
	GpuTypeCPU GpuType = iota
	// GpuTypeNvidia indicates an NVIDIA GPU (CUDA-capable).
	GpuTypeNvidia
	// GpuTypeAmd indicates an AMD GPU (ROCm-capable).
	GpuTypeAmd
)

// String returns the string representation of the GPU type.
func (t GpuType) String() string {
	switch t {
	case GpuTypeNvidia:
		return "NVIDIA"
	case GpuTypeAmd:
		return "AMD"
	case GpuTypeCPU:
		return "CPU"
	default:
		return "Unknown"
	}
}

// =============================================================================
// GPU INFO
// =============================================================================

// GpuInfo contains the memory figures of the first detected GPU.
type GpuInfo struct {
	// Name of the GPU (e.g., "NVIDIA RTX 4090")
	Name string
	// TotalMB and FreeMB are in MiB as the vendor tools report them.
	TotalMB int
	FreeMB  int
	// Driver version if available
	Driver string
	Type   GpuType
}

// TotalGB returns the total VRAM in GiB.
func (g *GpuInfo) TotalGB() float64 { return float64(g.TotalMB) / 1024 }

// FreeGB returns the free VRAM in GiB.
func (g *GpuInfo) FreeGB() float64 { return float64(g.FreeMB) / 1024 }

// String returns a formatted string representation of the GPU info.
func (g *GpuInfo) String() string {
	s := fmt.Sprintf("%s (%.1f/%.1f GB free)", g.Name, g.FreeGB(), g.TotalGB())
	if g.Driver != "" {
		s += fmt.Sprintf(" [Driver: %s]", g.Driver)
	}
	return s
}

// =============================================================================
// DETECTION
// =============================================================================

// runCommand is replaced in tests.
var runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// DetectVRAM queries nvidia-smi, then rocm-smi. It returns ErrNoGPU when
// neither reports a device.
func DetectVRAM(ctx context.Context) (*GpuInfo, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, gpuDetectTimeout)
		defer cancel()
	}

	if info := detectNvidia(ctx); info != nil {
		return info, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if info := detectAmd(ctx); info != nil {
		return info, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, ErrNoGPU
}

// =============================================================================
// GPU CACHE
// =============================================================================

var (
	gpuCache         *GpuInfo
	gpuCacheTime     time.Time
	gpuCacheMu       sync.Mutex
	gpuCacheDuration = 5 * time.Minute
)

// DetectVRAMCached returns the cached result if it is fresh. Failures are
// not cached.
func DetectVRAMCached(ctx context.Context) (*GpuInfo, error) {
	gpuCacheMu.Lock()
	defer gpuCacheMu.Unlock()

	if gpuCache != nil && time.Since(gpuCacheTime) < gpuCacheDuration {
		cp := *gpuCache
		return &cp, nil
	}

	info, err := DetectVRAM(ctx)
	if err != nil {
		return nil, err
	}
	gpuCache = info
	gpuCacheTime = time.Now()
	cp := *info
	return &cp, nil
}

// ClearCache forces fresh detection on the next call.
func ClearCache() {
	gpuCacheMu.Lock()
	defer gpuCacheMu.Unlock()
	gpuCache = nil
	gpuCacheTime = time.Time{}
}

// =============================================================================
// NVIDIA DETECTION
// =============================================================================

func detectNvidia(ctx context.Context) *GpuInfo {
	for _, path := range nvidiaSmiPaths() {
		out, err := runCommand(ctx, path,
			"--query-gpu=name,memory.total,memory.free,driver_version",
			"--format=csv,noheader,nounits")
		if err == nil {
			return parseNvidiaSmi(string(out))
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return nil
}

// parseNvidiaSmi reads the first CSV row: name, total MiB, free MiB, driver.
func parseNvidiaSmi(out string) *GpuInfo {
	line := strings.TrimSpace(strings.SplitN(strings.TrimSpace(out), "\n", 2)[0])
	parts := strings.Split(line, ",")
	if len(parts) < 3 {
		return nil
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	total, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || total <= 0 {
		return nil
	}
	free, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return nil
	}

	info := &GpuInfo{
		Name:    "NVIDIA " + parts[0],
		TotalMB: int(total),
		FreeMB:  int(free),
		Type:    GpuTypeNvidia,
	}
	if len(parts) > 3 {
		info.Driver = parts[3]
	}
	return info
}

// nvidiaSmiPaths returns possible paths for nvidia-smi based on OS.
func nvidiaSmiPaths() []string {
	if runtime.GOOS == "windows" {
		return []string{
			"nvidia-smi",
			`C:\Windows\System32\nvidia-smi.exe`,
			`C:\Program Files\NVIDIA Corporation\NVSMI\nvidia-smi.exe`,
		}
	}
	return []string{"nvidia-smi"}
}

// =============================================================================
// AMD DETECTION
// =============================================================================

var (
	amdTotalRegex = regexp.MustCompile(`(?i)VRAM Total Memory \(B\):\s*(\d+)`)
	amdUsedRegex  = regexp.MustCompile(`(?i)VRAM Total Used Memory \(B\):\s*(\d+)`)
	amdNameRegex  = regexp.MustCompile(`(?i)Card (?:series|model):\s*(.+)`)
)

func detectAmd(ctx context.Context) *GpuInfo {
	if runtime.GOOS == "windows" {
		return nil
	}
	out, err := runCommand(ctx, "rocm-smi", "--showproductname", "--showmeminfo", "vram")
	if err != nil {
		return nil
	}
	return parseRocmSmi(string(out))
}

// parseRocmSmi reads the first card's byte counts from rocm-smi output.
func parseRocmSmi(out string) *GpuInfo {
	m := amdTotalRegex.FindStringSubmatch(out)
	if m == nil {
		return nil
	}
	total, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || total <= 0 {
		return nil
	}
	var used int64
	if u := amdUsedRegex.FindStringSubmatch(out); u != nil {
		used, _ = strconv.ParseInt(u[1], 10, 64)
	}

	name := "AMD GPU"
	if n := amdNameRegex.FindStringSubmatch(out); n != nil {
		name = "AMD " + strings.TrimSpace(n[1])
	}

	const mib = 1024 * 1024
	return &GpuInfo{
		Name:    name,
		TotalMB: int(total / mib),
		FreeMB:  int((total - used) / mib),
		Type:    GpuTypeAmd,
	}
}
