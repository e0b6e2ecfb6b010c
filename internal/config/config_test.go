// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigloop/internal/toolfmt"
)

// isolate points the config directory at a temp dir for the test.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("RIGLOOP_HOME", dir)
	return dir
}

func TestConfig_Default(t *testing.T) {
	cfg := Default()
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 20, cfg.Tools.MaxIterations)
	assert.Equal(t, 3, cfg.Tools.LoopWindow)
	assert.Equal(t, 4096, cfg.Tools.MinContext)
	assert.Equal(t, 10, cfg.Backend.ConnectTimeoutSecs)
	assert.Equal(t, 500, cfg.Watcher.BaseBackoffMs)
	assert.Equal(t, 5000, cfg.Watcher.MaxBackoffMs)
	assert.Equal(t, 2048, cfg.VRAM.MinContext)
	assert.Equal(t, 256, cfg.VRAM.Granularity)
	assert.Equal(t, 1.25, cfg.VRAM.GrowthThreshold)
}

func TestConfig_String(t *testing.T) {
	out := Default().String()
	assert.Contains(t, out, `"backend": {`)
	assert.Contains(t, out, `"cancel_rate_per_sec": 2`)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad tools mode", func(c *Config) { c.Tools.Mode = "cloud" }, "tools.mode"},
		{"zero iterations", func(c *Config) { c.Tools.MaxIterations = 0 }, "tools.max_iterations"},
		{"loop window of one", func(c *Config) { c.Tools.LoopWindow = 1 }, "tools.loop_window"},
		{"bad watcher source", func(c *Config) { c.Watcher.Source = "poll" }, "watcher.source"},
		{"file source without path", func(c *Config) { c.Watcher.Source = "file" }, "watcher.log_path"},
		{"backoff cap below base", func(c *Config) { c.Watcher.MaxBackoffMs = 100 }, "watcher.max_backoff_ms"},
		{"bad backend url", func(c *Config) { c.Backend.URL = "not a url" }, "backend.url"},
		{"growth below one", func(c *Config) { c.VRAM.GrowthThreshold = 0.5 }, "vram.growth_threshold"},
		{"verbosity too high", func(c *Config) { c.Logging.Verbosity = 5 }, "logging.verbosity"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)

			var verrs ValidateErrors
			require.ErrorAs(t, err, &verrs)
			found := false
			for _, e := range verrs {
				if e.Field == tc.field {
					found = true
				}
			}
			if !found {
				t.Errorf("Validate() = %v, want an error on %s", err, tc.field)
			}
		})
	}
}

func TestLoadFromPath_TOML(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	content := `
[backend]
url = "http://10.0.0.5:9000"

[tools]
max_iterations = 5
mode = "local"

[backend.tool_tags]
exec_open = "<<call>>"
exec_close = "<</call>>"
output_open = "<<out>>"
output_close = "<</out>>"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:9000", cfg.Backend.URL)
	assert.Equal(t, 5, cfg.Tools.MaxIterations)
	assert.Equal(t, "local", cfg.Tools.Mode)
	assert.Equal(t, 3, cfg.Tools.LoopWindow, "unset fields keep defaults")
	require.NotNil(t, cfg.Backend.ToolTags)
	assert.Equal(t, "<<call>>", cfg.Backend.ToolTags.ExecOpen)
	assert.Equal(t, "ws://10.0.0.5:9000/ws/chat", cfg.StreamURL())
	assert.Equal(t, "ws://10.0.0.5:9000/ws/watch", cfg.WatchURL())
}

func TestLoadFromPath_Invalid(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[tools]\nmode = \"cloud\"\n"), 0600))

	_, err := LoadFromPath(path)
	assert.Error(t, err)
}

func TestLoad_PrefersTOMLAndAppliesEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[ollama]\nmodel = \"from-toml\"\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"ollama":{"model":"from-json"}}`), 0600))
	t.Setenv("RIGLOOP_MAX_ITERATIONS", "7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-toml", cfg.Ollama.Model)
	assert.Equal(t, 7, cfg.Tools.MaxIterations)
	assert.Equal(t, filepath.Join(dir, "audit.db"), cfg.Audit.Path)
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	dir := isolate(t)
	cfg := Default()
	cfg.Tools.LoopWindow = 4
	cfg.SetDefaults()

	path := filepath.Join(dir, "config.toml")
	require.NoError(t, SaveTOML(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Tools.LoopWindow)
}

func TestConfig_GetSet(t *testing.T) {
	cfg := Default()

	v, err := cfg.Get("tools.max_iterations")
	require.NoError(t, err)
	assert.Equal(t, 20, v)

	require.NoError(t, cfg.Set("tools.max_iterations", "12"))
	assert.Equal(t, 12, cfg.Tools.MaxIterations)

	require.NoError(t, cfg.Set("watcher.enabled", "false"))
	assert.False(t, cfg.Watcher.Enabled)

	require.NoError(t, cfg.Set("vram.headroom_gb", "1.5"))
	assert.Equal(t, 1.5, cfg.VRAM.HeadroomGB)

	_, err = cfg.Get("tools.nope")
	assert.Error(t, err)
	assert.Error(t, cfg.Set("tools.max_iterations.x", "1"))
}

func TestGetAllKeys_Resolve(t *testing.T) {
	cfg := Default()
	for _, key := range GetAllKeys() {
		if _, err := cfg.Get(key); err != nil {
			t.Errorf("Get(%q) error = %v", key, err)
		}
	}
}

func TestConfig_CloneIsDeep(t *testing.T) {
	cfg := Default()
	cfg.Backend.ToolTags = &toolfmt.ToolTags{ExecOpen: "<a>"}

	clone := cfg.Clone()
	clone.Backend.ToolTags.ExecOpen = "<b>"
	clone.Tools.MaxIterations = 1

	assert.Equal(t, "<a>", cfg.Backend.ToolTags.ExecOpen)
	assert.Equal(t, 20, cfg.Tools.MaxIterations)
}
