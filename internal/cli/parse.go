// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigloop/internal/toolfmt"
	"github.com/jeranaias/rigloop/internal/toolparse"
)

// maxParseInput caps how much model output parse reads.
const maxParseInput = 8 << 20

// parseResult is what parse reports for one input.
type parseResult struct {
	Dialect string               `json:"dialect"`
	Calls   []toolparse.ToolCall `json:"calls"`
	Text    string               `json:"text"`
}

func newParseCommand(opts *rootOptions) *cobra.Command {
	var family string
	cmd := &cobra.Command{
		Use:   "parse [file]",
		Short: "Detect tool calls in model output",
		Long: `Read model output from a file or stdin, report which tool-call dialect it
uses and the calls it contains, and print the text with tool markup removed.

Examples:
  rigloop parse reply.txt
  pbpaste | rigloop parse --family mistral --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			data, err := io.ReadAll(io.LimitReader(r, maxParseInput))
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}

			res := parseText(string(data), toolfmt.TagsForFamily(family))
			if opts.jsonOut {
				return NewJSONResponse("parse", res).Write(cmd.OutOrStdout())
			}
			printParseResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&family, "family", "", "model family whose result delimiters to strip (mistral, llama, qwen, glm)")
	return cmd
}

func parseText(text string, tags toolfmt.ToolTags) parseResult {
	format, calls := toolparse.DefaultRegistry().AutoParse(text)
	if calls == nil {
		calls = []toolparse.ToolCall{}
	}
	return parseResult{
		Dialect: format.String(),
		Calls:   calls,
		Text:    toolparse.StripMarkup(text, tags),
	}
}

func printParseResult(w io.Writer, res parseResult) {
	fmt.Fprintln(w, RenderField("Dialect", res.Dialect))
	fmt.Fprintln(w, RenderField("Calls", fmt.Sprintf("%d", len(res.Calls))))
	for i, c := range res.Calls {
		fmt.Fprintf(w, "  %d. %s\n", i+1, c.Signature())
	}
	if res.Text != "" {
		fmt.Fprintln(w, SectionStyle.Render("Text"))
		fmt.Fprintln(w, res.Text)
	}
}
