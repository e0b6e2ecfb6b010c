// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCommands swaps runCommand for the duration of the test.
func fakeCommands(t *testing.T, outputs map[string]string) *int {
	t.Helper()
	calls := 0
	orig := runCommand
	runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls++
		if out, ok := outputs[name]; ok {
			return []byte(out), nil
		}
		return nil, errors.New("executable file not found")
	}
	t.Cleanup(func() {
		runCommand = orig
		ClearCache()
	})
	ClearCache()
	return &calls
}

func TestGpuType_String(t *testing.T) {
	tests := []struct {
		gpuType GpuType
		want    string
	}{
		{GpuTypeCPU, "CPU"},
		{GpuTypeNvidia, "NVIDIA"},
		{GpuTypeAmd, "AMD"},
		{GpuType(99), "Unknown"},
	}

	for _, tc := range tests {
		if got := tc.gpuType.String(); got != tc.want {
			t.Errorf("GpuType(%d).String() = %q, want %q", tc.gpuType, got, tc.want)
		}
	}
}

func TestGpuInfo_String(t *testing.T) {
	info := &GpuInfo{Name: "NVIDIA RTX 4090", TotalMB: 24576, FreeMB: 20480, Driver: "535.154.05"}
	assert.Equal(t, "NVIDIA RTX 4090 (20.0/24.0 GB free) [Driver: 535.154.05]", info.String())
	assert.Equal(t, 24.0, info.TotalGB())
	assert.Equal(t, 20.0, info.FreeGB())
}

func TestParseNvidiaSmi(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want *GpuInfo
	}{
		{
			"single gpu",
			"NVIDIA GeForce RTX 3080, 10240, 9800, 550.54.14\n",
			&GpuInfo{Name: "NVIDIA NVIDIA GeForce RTX 3080", TotalMB: 10240, FreeMB: 9800, Driver: "550.54.14", Type: GpuTypeNvidia},
		},
		{
			"first of two",
			"RTX 4090, 24564, 1000, 535\nRTX 3060, 12288, 12000, 535\n",
			&GpuInfo{Name: "NVIDIA RTX 4090", TotalMB: 24564, FreeMB: 1000, Driver: "535", Type: GpuTypeNvidia},
		},
		{"too few columns", "RTX 4090, 24564\n", nil},
		{"not a number", "RTX 4090, [N/A], 100, 535\n", nil},
		{"empty", "", nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, parseNvidiaSmi(tc.out))
		})
	}
}

func TestParseRocmSmi(t *testing.T) {
	out := strings.Join([]string{
		"======================= ROCm System Management Interface =======================",
		"GPU[0]		: Card series:		Radeon RX 7900 XTX",
		"GPU[0]		: VRAM Total Memory (B): 25753026560",
		"GPU[0]		: VRAM Total Used Memory (B): 1073741824",
	}, "\n")

	info := parseRocmSmi(out)
	require.NotNil(t, info)
	assert.Equal(t, "AMD Radeon RX 7900 XTX", info.Name)
	assert.Equal(t, 24560, info.TotalMB)
	assert.Equal(t, 23536, info.FreeMB)
	assert.Equal(t, GpuTypeAmd, info.Type)

	assert.Nil(t, parseRocmSmi("no devices"))
}

func TestDetectVRAM_Nvidia(t *testing.T) {
	fakeCommands(t, map[string]string{"nvidia-smi": "RTX 4090, 24564, 20000, 535\n"})

	info, err := DetectVRAM(context.Background())
	require.NoError(t, err)
	assert.Equal(t, GpuTypeNvidia, info.Type)
	assert.Equal(t, 20000, info.FreeMB)
}

func TestDetectVRAM_NoGPU(t *testing.T) {
	fakeCommands(t, nil)

	_, err := DetectVRAM(context.Background())
	assert.ErrorIs(t, err, ErrNoGPU)
}

func TestDetectVRAM_Cancelled(t *testing.T) {
	fakeCommands(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := DetectVRAM(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDetectVRAMCached(t *testing.T) {
	calls := fakeCommands(t, map[string]string{"nvidia-smi": "RTX 4090, 24564, 20000, 535\n"})

	first, err := DetectVRAMCached(context.Background())
	require.NoError(t, err)
	before := *calls

	first.FreeMB = 1
	second, err := DetectVRAMCached(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, *calls, "second call is served from cache")
	assert.Equal(t, 20000, second.FreeMB, "cache hands out copies")

	ClearCache()
	_, err = DetectVRAMCached(context.Background())
	require.NoError(t, err)
	assert.Greater(t, *calls, before)
}
