// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigloop/internal/backend"
	"github.com/jeranaias/rigloop/internal/detect"
)

// statusReport is what status prints.
type statusReport struct {
	Backend struct {
		URL     string               `json:"url"`
		Running bool                 `json:"running"`
		Error   string               `json:"error,omitempty"`
		Model   *backend.ModelStatus `json:"model,omitempty"`
	} `json:"backend"`
	Ollama struct {
		URL     string        `json:"url"`
		Running bool          `json:"running"`
		Model   string        `json:"model"`
		Present bool          `json:"model_present"`
		Models  []statusModel `json:"models,omitempty"`
	} `json:"ollama"`
	GPU struct {
		Name    string  `json:"name,omitempty"`
		TotalGB float64 `json:"total_gb,omitempty"`
		FreeGB  float64 `json:"free_gb,omitempty"`
		Error   string  `json:"error,omitempty"`
	} `json:"gpu"`
}

// statusModel is one locally pulled model.
type statusModel struct {
	Name string `json:"name"`
	Size string `json:"size"`
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Aliases: []string{"s"},
		Short:   "Show backend, Ollama and GPU status",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			report := collectStatus(cmd.Context(), a)
			if opts.jsonOut {
				return NewJSONResponse("status", report).Write(cmd.OutOrStdout())
			}
			printStatus(cmd.OutOrStdout(), report)
			return nil
		},
	}
}

// collectStatus queries the backend, Ollama and the GPU concurrently.
func collectStatus(ctx context.Context, a *app) *statusReport {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	r := &statusReport{}
	r.Backend.URL = a.cfg.Backend.URL
	r.Ollama.Model = a.cfg.Ollama.Model

	var g errgroup.Group
	g.Go(func() error {
		status, err := a.backendClient().ModelStatus(ctx)
		if err != nil {
			r.Backend.Error = err.Error()
			return nil
		}
		r.Backend.Running = true
		r.Backend.Model = status
		return nil
	})
	g.Go(func() error {
		c := a.ollamaClient()
		r.Ollama.URL = c.GetConfig().BaseURL
		if c.CheckRunning(ctx) != nil {
			return nil
		}
		r.Ollama.Running = true
		r.Ollama.Present = r.Ollama.Model != "" && c.ModelExists(ctx, r.Ollama.Model)
		if models, err := c.ListModels(ctx); err == nil {
			for _, m := range models {
				r.Ollama.Models = append(r.Ollama.Models, statusModel{Name: m.Name, Size: m.FormatSize()})
			}
		}
		return nil
	})
	g.Go(func() error {
		gpu, err := detect.DetectVRAMCached(ctx)
		if err != nil {
			r.GPU.Error = err.Error()
			return nil
		}
		r.GPU.Name = gpu.Name
		r.GPU.TotalGB = gpu.TotalGB()
		r.GPU.FreeGB = gpu.FreeGB()
		return nil
	})
	g.Wait()
	return r
}

func printStatus(w io.Writer, r *statusReport) {
	fmt.Fprintln(w, TitleStyle.Render("rigloop status"))
	fmt.Fprintln(w, RenderSeparator(40))

	fmt.Fprintln(w, SectionStyle.Render("Backend"))
	if r.Backend.Running {
		fmt.Fprintln(w, RenderField("Endpoint", r.Backend.URL+" "+RenderStatus("ok")))
		if m := r.Backend.Model; m != nil {
			fmt.Fprintln(w, RenderField("Model", m.Model))
			if m.MaxContext > 0 {
				fmt.Fprintln(w, RenderField("Context", fmt.Sprintf("%d", m.MaxContext)))
			}
			tags := m.Tags()
			fmt.Fprintln(w, RenderField("Tool tags", tags.ExecOpen+" ... "+tags.ExecClose))
		}
	} else {
		fmt.Fprintln(w, RenderField("Endpoint", r.Backend.URL+" "+RenderStatus("fail")))
		fmt.Fprintln(w, DimStyle.Render("  "+r.Backend.Error))
	}

	fmt.Fprintln(w, SectionStyle.Render("Ollama"))
	if r.Ollama.Running {
		fmt.Fprintln(w, RenderField("Endpoint", r.Ollama.URL+" "+RenderStatus("ok")))
		state := "not pulled"
		if r.Ollama.Present {
			state = "available"
		}
		fmt.Fprintln(w, RenderField("Model", r.Ollama.Model+" ("+state+")"))
		for _, m := range r.Ollama.Models {
			fmt.Fprintln(w, DimStyle.Render(fmt.Sprintf("  %-32s %s", m.Name, m.Size)))
		}
	} else {
		fmt.Fprintln(w, RenderField("Endpoint", r.Ollama.URL+" "+RenderStatus("fail")))
	}

	fmt.Fprintln(w, SectionStyle.Render("GPU"))
	if r.GPU.Error != "" {
		fmt.Fprintln(w, RenderField("Device", "none detected"))
	} else {
		fmt.Fprintln(w, RenderField("Device", r.GPU.Name))
		fmt.Fprintln(w, RenderField("VRAM", fmt.Sprintf("%.1f GB free of %.1f GB", r.GPU.FreeGB, r.GPU.TotalGB)))
	}
}
