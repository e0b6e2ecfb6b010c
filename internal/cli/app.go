// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-logr/logr"

	"github.com/jeranaias/rigloop/internal/audit"
	"github.com/jeranaias/rigloop/internal/backend"
	"github.com/jeranaias/rigloop/internal/config"
	"github.com/jeranaias/rigloop/internal/controller"
	"github.com/jeranaias/rigloop/internal/logging"
	"github.com/jeranaias/rigloop/internal/ollama"
	"github.com/jeranaias/rigloop/internal/tools"
	"github.com/jeranaias/rigloop/internal/toolfmt"
	"github.com/jeranaias/rigloop/internal/vram"
)

// statusTimeout bounds the startup status checks.
const statusTimeout = 5 * time.Second

// app holds what every command needs: configuration and logging.
type app struct {
	cfg     *config.Config
	log     logr.Logger
	queue   *logging.Queue
	logFile io.WriteCloser
	closers []func() error
}

// loadConfig reads --config, or the default config files.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	if opts.configPath != "" {
		return config.LoadFromPath(opts.configPath)
	}
	cfg, err := config.Load()
	if err != nil && cfg != nil {
		fmt.Fprintln(os.Stderr, WarningStyle.Render("Warning:"), err, "(using defaults)")
		return cfg, nil
	}
	return cfg, err
}

// configPath returns the file config set writes to.
func configPath(opts *rootOptions) (string, error) {
	if opts.configPath != "" {
		return opts.configPath, nil
	}
	return config.ConfigPathTOML()
}

// newApp loads configuration and starts logging.
func newApp(opts *rootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if opts.verbose > cfg.Logging.Verbosity {
		cfg.Logging.Verbosity = opts.verbose
	}
	if opts.logFile != "" {
		cfg.Logging.Path = opts.logFile
	}

	out, err := logging.OpenFile(cfg.Logging.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	q := logging.NewQueue(out, cfg.Logging.QueueSize, time.Duration(cfg.Logging.FlushIntervalMs)*time.Millisecond)
	logging.SetDefault(q)

	a := &app{
		cfg:     cfg,
		log:     logging.New(q, cfg.Logging.Verbosity).WithName("rigloop"),
		queue:   q,
		logFile: out,
	}
	a.log.V(2).Info("CONFIG_LOADED", "config", cfg.String())
	return a, nil
}

// Close releases everything the app opened, in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Error(err, "CLOSE_FAILED")
		}
	}
	a.queue.Close()
	a.logFile.Close()
}

// backendClient returns a client for the backend's HTTP endpoints.
func (a *app) backendClient() *backend.Client {
	c := backend.NewClient(&backend.ClientConfig{
		BaseURL:    a.cfg.Backend.URL,
		Timeout:    a.cfg.RequestTimeout(),
		CancelRate: a.cfg.Backend.CancelRatePerSec,
	})
	c.SetLogger(a.log)
	return c
}

// ollamaClient returns a client for model metadata.
func (a *app) ollamaClient() *ollama.Client {
	return ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL: a.cfg.Ollama.URL,
		Timeout: a.cfg.RequestTimeout(),
	})
}

// limits returns the tool loop limits from configuration.
func (a *app) limits() controller.Limits {
	return controller.Limits{
		MaxIterations: a.cfg.Tools.MaxIterations,
		LoopWindow:    a.cfg.Tools.LoopWindow,
		MinContext:    a.cfg.Tools.MinContext,
	}
}

// executor returns where tool calls run: the backend, or the built-in
// tools when tools.mode is "local".
func (a *app) executor(remote *backend.Client) controller.ToolExecutor {
	if a.cfg.Tools.Mode != "local" {
		return remote
	}
	reg := tools.NewRegistry()
	reg.RegisterBuiltins()
	return tools.NewExecutor(reg,
		tools.WithWorkDir(a.cfg.Tools.WorkDir),
		tools.WithTimeout(time.Duration(a.cfg.Tools.TimeoutSecs)*time.Second),
		tools.WithLogger(a.log),
	)
}

// recorder opens the audit ledger, or returns a no-op when disabled.
func (a *app) recorder() (audit.Recorder, error) {
	if !a.cfg.Audit.Enabled {
		return audit.Nop{}, nil
	}
	store, err := a.openAudit()
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (a *app) openAudit() (*audit.Store, error) {
	path := a.cfg.Audit.Path
	if path == "" {
		path = config.DefaultAuditPath()
	}
	store, err := audit.Open(path)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	return store, nil
}

// planner returns a VRAM optimizer configured from [vram].
func (a *app) planner() *vram.Optimizer {
	v := a.cfg.VRAM
	return vram.New(vram.Config{
		HeadroomGB:        v.HeadroomGB,
		MinContext:        v.MinContext,
		Granularity:       v.Granularity,
		GrowthThreshold:   v.GrowthThreshold,
		KVBytesPerElement: v.KVBytesPerElement,
	})
}

// modelStatus asks the backend what model is loaded. Failure is not fatal:
// the session falls back to configured tags and context size.
func (a *app) modelStatus(ctx context.Context, c *backend.Client) *backend.ModelStatus {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()
	status, err := c.ModelStatus(ctx)
	if err != nil {
		a.log.Info("MODEL_STATUS_UNAVAILABLE", "error", err.Error())
		return nil
	}
	return status
}

// tags resolves the active tool delimiters: configured override, then
// what the backend reports for the model.
func (a *app) tags(status *backend.ModelStatus) toolfmt.ToolTags {
	if t := a.cfg.Backend.ToolTags; t != nil && !t.IsZero() {
		return *t
	}
	return status.Tags()
}
