// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for rigloop.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.rigloop/config.toml
//   - ~/.rigloop/config.json
//   - Built-in defaults
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/rigloop/internal/toolfmt"
	"github.com/jeranaias/rigloop/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigloop configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	Backend BackendConfig `toml:"backend" json:"backend"`
	Ollama  OllamaConfig  `toml:"ollama" json:"ollama"`
	Tools   ToolsConfig   `toml:"tools" json:"tools"`
	Watcher WatcherConfig `toml:"watcher" json:"watcher"`
	VRAM    VRAMConfig    `toml:"vram" json:"vram"`
	Audit   AuditConfig   `toml:"audit" json:"audit"`
	Logging LoggingConfig `toml:"logging" json:"logging"`
}

// BackendConfig describes the inference backend and its streaming channel.
type BackendConfig struct {
	// URL is the HTTP base URL for chat, cancel, status and tool execution.
	URL string `toml:"url" json:"url"`
	// WSURL is the streaming channel endpoint. Derived from URL when empty.
	WSURL string `toml:"ws_url" json:"ws_url"`
	// WatchURL is the conversation-watch channel endpoint. Derived from URL when empty.
	WatchURL string `toml:"watch_url" json:"watch_url"`
	// ConnectTimeoutSecs bounds the channel handshake.
	ConnectTimeoutSecs int `toml:"connect_timeout_secs" json:"connect_timeout_secs"`
	// RequestTimeoutSecs bounds non-streaming requests.
	RequestTimeoutSecs int `toml:"request_timeout_secs" json:"request_timeout_secs"`
	// CancelRatePerSec limits out-of-band cancel requests.
	CancelRatePerSec float64 `toml:"cancel_rate_per_sec" json:"cancel_rate_per_sec"`
	// ToolTags overrides the tool delimiters reported by the backend.
	ToolTags *toolfmt.ToolTags `toml:"tool_tags,omitempty" json:"tool_tags,omitempty"`
}

// OllamaConfig points at the Ollama server used for model metadata.
type OllamaConfig struct {
	URL   string `toml:"url" json:"url"`
	Model string `toml:"model" json:"model"`
}

// ToolsConfig controls automatic tool execution.
type ToolsConfig struct {
	// Mode is "remote" (backend executes tools) or "local" (built-in executor).
	Mode string `toml:"mode" json:"mode"`
	// MaxIterations is the number of automatic tool round-trips per user turn.
	MaxIterations int `toml:"max_iterations" json:"max_iterations"`
	// LoopWindow is how many identical consecutive batches count as a loop.
	LoopWindow int `toml:"loop_window" json:"loop_window"`
	// MinContext is the smallest context size tool use is allowed with.
	MinContext int `toml:"min_context" json:"min_context"`
	// WorkDir is the working directory for local tools.
	WorkDir string `toml:"work_dir" json:"work_dir"`
	// TimeoutSecs bounds a single local tool call.
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
}

// WatcherConfig controls the conversation watcher.
type WatcherConfig struct {
	Enabled bool `toml:"enabled" json:"enabled"`
	// Source is "ws" (push channel) or "file" (watch a transcript file).
	Source        string `toml:"source" json:"source"`
	LogPath       string `toml:"log_path" json:"log_path"`
	BaseBackoffMs int    `toml:"base_backoff_ms" json:"base_backoff_ms"`
	MaxBackoffMs  int    `toml:"max_backoff_ms" json:"max_backoff_ms"`
	DebounceMs    int    `toml:"debounce_ms" json:"debounce_ms"`
}

// VRAMConfig tunes the GPU offload planner.
type VRAMConfig struct {
	HeadroomGB        float64 `toml:"headroom_gb" json:"headroom_gb"`
	MinContext        int     `toml:"min_context" json:"min_context"`
	Granularity       int     `toml:"granularity" json:"granularity"`
	GrowthThreshold   float64 `toml:"growth_threshold" json:"growth_threshold"`
	KVBytesPerElement float64 `toml:"kv_bytes_per_element" json:"kv_bytes_per_element"`
	RequestedContext  int     `toml:"requested_context" json:"requested_context"`
	AvailableGB       float64 `toml:"available_gb" json:"available_gb"`
}

// AuditConfig controls the tool-execution ledger.
type AuditConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Path    string `toml:"path" json:"path"`
}

// LoggingConfig controls log verbosity and the log queue.
type LoggingConfig struct {
	Verbosity       int    `toml:"verbosity" json:"verbosity"`
	Path            string `toml:"path" json:"path"`
	QueueSize       int    `toml:"queue_size" json:"queue_size"`
	FlushIntervalMs int    `toml:"flush_interval_ms" json:"flush_interval_ms"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version: "1",
		Backend: BackendConfig{
			URL:                "http://127.0.0.1:8787",
			ConnectTimeoutSecs: 10,
			RequestTimeoutSecs: 30,
			CancelRatePerSec:   2,
		},
		Ollama: OllamaConfig{
			URL:   "http://127.0.0.1:11434",
			Model: "qwen2.5-coder:14b",
		},
		Tools: ToolsConfig{
			Mode:          "remote",
			MaxIterations: 20,
			LoopWindow:    3,
			MinContext:    4096,
			WorkDir:       ".",
			TimeoutSecs:   120,
		},
		Watcher: WatcherConfig{
			Enabled:       true,
			Source:        "ws",
			BaseBackoffMs: 500,
			MaxBackoffMs:  5000,
			DebounceMs:    100,
		},
		VRAM: VRAMConfig{
			HeadroomGB:        0.5,
			MinContext:        2048,
			Granularity:       256,
			GrowthThreshold:   1.25,
			KVBytesPerElement: 2,
			RequestedContext:  8192,
		},
		Audit: AuditConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Verbosity:       0,
			QueueSize:       1024,
			FlushIntervalMs: 250,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the rigloop configuration directory path.
func ConfigDir() (string, error) {
	if dir := os.Getenv("RIGLOOP_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigloop"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// DefaultAuditPath returns the default ledger location.
func DefaultAuditPath() string {
	dir, err := ConfigDir()
	if err != nil {
		return "rigloop-audit.db"
	}
	return filepath.Join(dir, "audit.db")
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	var loadErr error

	if path, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			cfg, err := LoadFromPath(path)
			if err == nil {
				return cfg, nil
			}
			loadErr = err
		}
	}

	if loadErr == nil {
		if path, err := ConfigPathJSON(); err == nil {
			if _, statErr := os.Stat(path); statErr == nil {
				cfg, err := LoadFromPath(path)
				if err == nil {
					return cfg, nil
				}
				loadErr = err
			}
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Return defaults (with any load error for informational purposes)
	return cfg, loadErr
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// LoadFromPath loads configuration from a specific file path with full
// validation. Fields missing from the file keep their defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SetDefaults fills zero values that would make a component unusable.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Backend.URL == "" {
		c.Backend.URL = d.Backend.URL
	}
	if c.Backend.ConnectTimeoutSecs <= 0 {
		c.Backend.ConnectTimeoutSecs = d.Backend.ConnectTimeoutSecs
	}
	if c.Backend.RequestTimeoutSecs <= 0 {
		c.Backend.RequestTimeoutSecs = d.Backend.RequestTimeoutSecs
	}
	if c.Backend.CancelRatePerSec <= 0 {
		c.Backend.CancelRatePerSec = d.Backend.CancelRatePerSec
	}
	if c.Ollama.URL == "" {
		c.Ollama.URL = d.Ollama.URL
	}
	if c.Tools.Mode == "" {
		c.Tools.Mode = d.Tools.Mode
	}
	if c.Tools.MaxIterations == 0 {
		c.Tools.MaxIterations = d.Tools.MaxIterations
	}
	if c.Tools.LoopWindow == 0 {
		c.Tools.LoopWindow = d.Tools.LoopWindow
	}
	if c.Tools.TimeoutSecs <= 0 {
		c.Tools.TimeoutSecs = d.Tools.TimeoutSecs
	}
	if c.Watcher.Source == "" {
		c.Watcher.Source = d.Watcher.Source
	}
	if c.Watcher.BaseBackoffMs <= 0 {
		c.Watcher.BaseBackoffMs = d.Watcher.BaseBackoffMs
	}
	if c.Watcher.MaxBackoffMs <= 0 {
		c.Watcher.MaxBackoffMs = d.Watcher.MaxBackoffMs
	}
	if c.VRAM.MinContext <= 0 {
		c.VRAM.MinContext = d.VRAM.MinContext
	}
	if c.VRAM.Granularity <= 0 {
		c.VRAM.Granularity = d.VRAM.Granularity
	}
	if c.VRAM.GrowthThreshold <= 0 {
		c.VRAM.GrowthThreshold = d.VRAM.GrowthThreshold
	}
	if c.VRAM.KVBytesPerElement <= 0 {
		c.VRAM.KVBytesPerElement = d.VRAM.KVBytesPerElement
	}
	if c.VRAM.RequestedContext <= 0 {
		c.VRAM.RequestedContext = d.VRAM.RequestedContext
	}
	if c.Audit.Path == "" {
		c.Audit.Path = DefaultAuditPath()
	}
	if c.Logging.QueueSize <= 0 {
		c.Logging.QueueSize = d.Logging.QueueSize
	}
	if c.Logging.FlushIntervalMs <= 0 {
		c.Logging.FlushIntervalMs = d.Logging.FlushIntervalMs
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML saves the configuration to a TOML file with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# rigloop configuration file\n")
	buf.WriteString("# Generated by rigloop - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	for field, raw := range map[string]string{
		"backend.url":       c.Backend.URL,
		"backend.ws_url":    c.Backend.WSURL,
		"backend.watch_url": c.Backend.WatchURL,
		"ollama.url":        c.Ollama.URL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			add(field, "invalid URL '%s'", raw)
		}
	}

	switch c.Tools.Mode {
	case "remote", "local":
	default:
		add("tools.mode", "invalid mode '%s', must be one of: remote, local", c.Tools.Mode)
	}
	if c.Tools.MaxIterations < 1 || c.Tools.MaxIterations > 1000 {
		add("tools.max_iterations", "must be between 1 and 1000, got %d", c.Tools.MaxIterations)
	}
	if c.Tools.LoopWindow < 2 || c.Tools.LoopWindow > 100 {
		add("tools.loop_window", "must be between 2 and 100, got %d", c.Tools.LoopWindow)
	}
	if c.Tools.MinContext < 0 {
		add("tools.min_context", "must not be negative, got %d", c.Tools.MinContext)
	}

	switch c.Watcher.Source {
	case "ws", "file":
	default:
		add("watcher.source", "invalid source '%s', must be one of: ws, file", c.Watcher.Source)
	}
	if c.Watcher.Enabled && c.Watcher.Source == "file" && c.Watcher.LogPath == "" {
		add("watcher.log_path", "required when watcher.source is 'file'")
	}
	if c.Watcher.MaxBackoffMs < c.Watcher.BaseBackoffMs {
		add("watcher.max_backoff_ms", "must be at least base_backoff_ms (%d), got %d", c.Watcher.BaseBackoffMs, c.Watcher.MaxBackoffMs)
	}

	if c.VRAM.HeadroomGB < 0 {
		add("vram.headroom_gb", "must not be negative, got %g", c.VRAM.HeadroomGB)
	}
	if c.VRAM.GrowthThreshold < 1 {
		add("vram.growth_threshold", "must be at least 1, got %g", c.VRAM.GrowthThreshold)
	}

	if c.Logging.Verbosity < 0 || c.Logging.Verbosity > 2 {
		add("logging.verbosity", "must be between 0 and 2, got %d", c.Logging.Verbosity)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// ConnectTimeout returns the streaming handshake budget.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Backend.ConnectTimeoutSecs) * time.Second
}

// RequestTimeout returns the non-streaming request budget.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Backend.RequestTimeoutSecs) * time.Second
}

// StreamURL returns the streaming channel endpoint, derived from the backend
// URL when not set.
func (c *Config) StreamURL() string {
	if c.Backend.WSURL != "" {
		return c.Backend.WSURL
	}
	return wsURL(c.Backend.URL, "/ws/chat")
}

// WatchURL returns the conversation-watch endpoint.
func (c *Config) WatchURL() string {
	if c.Backend.WatchURL != "" {
		return c.Backend.WatchURL
	}
	return wsURL(c.Backend.URL, "/ws/watch")
}

func wsURL(base, path string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String()
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - RIGLOOP_BACKEND_URL: overrides backend.url
//   - RIGLOOP_WS_URL: overrides backend.ws_url
//   - RIGLOOP_OLLAMA_URL: overrides ollama.url
//   - RIGLOOP_MODEL: overrides ollama.model
//   - RIGLOOP_TOOLS_MODE: overrides tools.mode
//   - RIGLOOP_MAX_ITERATIONS: overrides tools.max_iterations
//   - RIGLOOP_AUDIT: set to "0" or "false" to disable the ledger
//   - RIGLOOP_VERBOSITY: overrides logging.verbosity
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("RIGLOOP_BACKEND_URL"); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv("RIGLOOP_WS_URL"); v != "" {
		c.Backend.WSURL = v
	}
	if v := os.Getenv("RIGLOOP_OLLAMA_URL"); v != "" {
		c.Ollama.URL = v
	}
	if v := os.Getenv("RIGLOOP_MODEL"); v != "" {
		c.Ollama.Model = v
	}
	if v := os.Getenv("RIGLOOP_TOOLS_MODE"); v != "" {
		c.Tools.Mode = v
	}
	if v := os.Getenv("RIGLOOP_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Tools.MaxIterations = n
		}
	}
	if v := os.Getenv("RIGLOOP_AUDIT"); v != "" {
		c.Audit.Enabled = v == "1" || strings.ToLower(v) == "true"
	}
	if v := os.Getenv("RIGLOOP_VERBOSITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Logging.Verbosity = n
		}
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "tools.max_iterations").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation (e.g., "tools.max_iterations").
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			lower := strings.ToLower(strVal)
			field.SetBool(strVal == "1" || lower == "true" || lower == "yes")
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	return []string{
		"version",
		"backend.url",
		"backend.ws_url",
		"backend.watch_url",
		"backend.connect_timeout_secs",
		"backend.request_timeout_secs",
		"backend.cancel_rate_per_sec",
		"ollama.url",
		"ollama.model",
		"tools.mode",
		"tools.max_iterations",
		"tools.loop_window",
		"tools.min_context",
		"tools.work_dir",
		"tools.timeout_secs",
		"watcher.enabled",
		"watcher.source",
		"watcher.log_path",
		"watcher.base_backoff_ms",
		"watcher.max_backoff_ms",
		"watcher.debounce_ms",
		"vram.headroom_gb",
		"vram.min_context",
		"vram.granularity",
		"vram.growth_threshold",
		"vram.kv_bytes_per_element",
		"vram.requested_context",
		"vram.available_gb",
		"audit.enabled",
		"audit.path",
		"logging.verbosity",
		"logging.path",
		"logging.queue_size",
		"logging.flush_interval_ms",
	}
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Backend.ToolTags != nil {
		tags := *c.Backend.ToolTags
		clone.Backend.ToolTags = &tags
	}
	return &clone
}

// String returns an indented JSON rendering for display.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
