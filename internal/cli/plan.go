// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigloop/internal/detect"
	"github.com/jeranaias/rigloop/internal/vram"
)

// planFlags describe a model by hand when Ollama is not available.
type planFlags struct {
	model       string
	sizeGB      float64
	layers      int
	heads       int
	kvHeads     int
	embedding   int
	kvLayers    int
	window      int
	maxContext  int
	availableGB float64
	requested   int
}

// planReport is what plan prints.
type planReport struct {
	Model       string  `json:"model"`
	AvailableGB float64 `json:"available_gb"`
	Source      string  `json:"vram_source"`
	GPULayers   int     `json:"gpu_layers"`
	TotalLayers int     `json:"total_layers"`
	ContextSize int     `json:"context_size"`
	EstimateGB  float64 `json:"estimate_gb"`
}

func newPlanCommand(opts *rootOptions) *cobra.Command {
	f := &planFlags{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Choose GPU layer offload and context size for a model",
		Long: `Compute how many layers to offload to the GPU and how large a context to
use, given the free VRAM.

The model architecture comes from Ollama unless --layers is given. Free VRAM
comes from --available-gb, vram.available_gb, the backend, or nvidia-smi /
rocm-smi, in that order.

Examples:
  rigloop plan --model llama3.1:8b
  rigloop plan --layers 32 --heads 32 --kv-heads 8 --embedding 4096 --size-gb 4.6 --available-gb 6`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := runPlan(cmd.Context(), a, f)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return NewJSONResponse("plan", report).Write(cmd.OutOrStdout())
			}
			printPlan(cmd.OutOrStdout(), report)
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.model, "model", "", "Ollama model to read metadata for (default: ollama.model)")
	fl.Float64Var(&f.sizeGB, "size-gb", 0, "model weight size in GB")
	fl.IntVar(&f.layers, "layers", 0, "total transformer layers")
	fl.IntVar(&f.heads, "heads", 0, "attention heads")
	fl.IntVar(&f.kvHeads, "kv-heads", 0, "key/value heads (default: heads)")
	fl.IntVar(&f.embedding, "embedding", 0, "embedding length")
	fl.IntVar(&f.kvLayers, "kv-layers", 0, "layers with full-context KV cache (default: all)")
	fl.IntVar(&f.window, "window", 0, "sliding window size for the other layers")
	fl.IntVar(&f.maxContext, "max-context", 0, "model context limit (default: from metadata)")
	fl.Float64Var(&f.availableGB, "available-gb", 0, "free VRAM in GB")
	fl.IntVar(&f.requested, "requested", 0, "requested context size (default: vram.requested_context)")
	return cmd
}

func runPlan(ctx context.Context, a *app, f *planFlags) (planReport, error) {
	m, name, err := planMetrics(ctx, a, f)
	if err != nil {
		return planReport{}, err
	}
	available, source, err := availableVRAM(ctx, a, f)
	if err != nil {
		return planReport{}, err
	}

	requested := f.requested
	if requested <= 0 {
		requested = a.cfg.VRAM.RequestedContext
	}
	maxContext := f.maxContext
	if maxContext <= 0 {
		maxContext = m.ContextLength
	}

	opt := a.planner()
	p := opt.Plan(m, available, requested, maxContext)
	a.log.V(1).Info("VRAM_PLAN", "model", name, "available_gb", available, "plan", p.String())

	return planReport{
		Model:       name,
		AvailableGB: available,
		Source:      source,
		GPULayers:   p.GPULayers,
		TotalLayers: m.TotalLayers,
		ContextSize: p.ContextSize,
		EstimateGB:  opt.Estimate(m, p.GPULayers, p.ContextSize),
	}, nil
}

// planMetrics returns hand-given metrics, or asks Ollama.
func planMetrics(ctx context.Context, a *app, f *planFlags) (vram.ModelMetrics, string, error) {
	if f.layers > 0 {
		kv := f.kvHeads
		if kv <= 0 {
			kv = f.heads
		}
		m := vram.ModelMetrics{
			ModelSizeGB:       f.sizeGB,
			TotalLayers:       f.layers,
			HeadCount:         f.heads,
			HeadCountKV:       kv,
			EmbeddingLength:   f.embedding,
			KVAttentionLayers: f.kvLayers,
			SlidingWindow:     f.window,
			ContextLength:     f.maxContext,
		}
		if !m.Valid() {
			return m, "", errors.New("--layers, --heads, --embedding and --size-gb must all be positive")
		}
		return m, "manual", nil
	}

	name := f.model
	if name == "" {
		name = a.cfg.Ollama.Model
	}
	if name == "" {
		return vram.ModelMetrics{}, "", errors.New("no model given: use --model or set ollama.model")
	}
	m, err := a.ollamaClient().Metrics(ctx, name)
	if err != nil {
		return m, name, fmt.Errorf("failed to read metadata for %s: %w", name, err)
	}
	return m, name, nil
}

// availableVRAM resolves free VRAM and says where the figure came from.
func availableVRAM(ctx context.Context, a *app, f *planFlags) (float64, string, error) {
	if f.availableGB > 0 {
		return f.availableGB, "flag", nil
	}
	if a.cfg.VRAM.AvailableGB > 0 {
		return a.cfg.VRAM.AvailableGB, "config", nil
	}
	if status := a.modelStatus(ctx, a.backendClient()); status != nil && status.VRAM != nil && status.VRAM.AvailableGB > 0 {
		return status.VRAM.AvailableGB, "backend", nil
	}
	gpu, err := detect.DetectVRAMCached(ctx)
	if err != nil {
		return 0, "", fmt.Errorf("cannot determine free VRAM (use --available-gb): %w", err)
	}
	return gpu.FreeGB(), gpu.Name, nil
}

func printPlan(w io.Writer, r planReport) {
	fmt.Fprintln(w, TitleStyle.Render("VRAM plan"))
	if r.Model != "" {
		fmt.Fprintln(w, RenderField("Model", r.Model))
	}
	fmt.Fprintln(w, RenderField("Free VRAM", fmt.Sprintf("%.1f GB (%s)", r.AvailableGB, r.Source)))
	fmt.Fprintln(w, RenderField("GPU layers", fmt.Sprintf("%d / %d", r.GPULayers, r.TotalLayers)))
	fmt.Fprintln(w, RenderField("Context", fmt.Sprintf("%d", r.ContextSize)))
	fmt.Fprintln(w, RenderField("Estimated use", fmt.Sprintf("%.2f GB", r.EstimateGB)))
	if r.GPULayers == 0 {
		fmt.Fprintln(w, WarningStyle.Render("The model runs on CPU at this VRAM level."))
	}
}
