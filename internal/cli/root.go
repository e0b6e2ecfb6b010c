// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set at build time)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configPath string
	verbose    int
	logFile    string
	jsonOut    bool
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "rigloop",
		Short: "Drive tool-calling LLM conversations from the terminal",
		Long: `rigloop streams a conversation with a local model backend, detects tool
calls in the model's output in any of the Mistral, Llama 3, Qwen and GLM
dialects, runs them, and feeds the results back until the model is done.

Examples:
  rigloop chat                          interactive session
  echo '<tool_call>{...}</tool_call>' | rigloop parse
  rigloop plan --model qwen2.5-coder:14b
  rigloop audit --limit 20`,
		Version:           fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default: ~/.rigloop/config.toml)")
	flags.CountVarP(&opts.verbose, "verbose", "v", "increase log verbosity (-v debug, -vv trace)")
	flags.StringVar(&opts.logFile, "log-file", "", "write logs to this file instead of stderr")
	flags.BoolVar(&opts.jsonOut, "json", false, "print machine-readable JSON")

	root.AddCommand(
		newChatCommand(opts),
		newParseCommand(opts),
		newPlanCommand(opts),
		newStatusCommand(opts),
		newAuditCommand(opts),
		newConfigCommand(opts),
	)
	return root
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error:"), err)
		return 1
	}
	return 0
}
