// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for rigloop.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - BackendConfig: inference backend URLs, timeouts and tool delimiters
//   - ToolsConfig: automatic tool execution limits
//   - WatcherConfig: conversation watcher source and reconnect backoff
//   - VRAMConfig: GPU offload planner tuning
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (RIGLOOP_*)
//   - ~/.rigloop/config.toml
//   - ~/.rigloop/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	limit := cfg.Tools.MaxIterations
package config
