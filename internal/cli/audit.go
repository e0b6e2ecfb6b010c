// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigloop/internal/audit"
)

// auditReport is what audit prints.
type auditReport struct {
	Stats audit.Stats        `json:"stats"`
	Calls []audit.CallRecord `json:"calls"`
	Stops []audit.StopRecord `json:"stops"`
}

func newAuditCommand(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recent tool executions and safety stops",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			store, err := a.openAudit()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var r auditReport
			if r.Stats, err = store.Stats(ctx); err != nil {
				return err
			}
			if r.Calls, err = store.RecentCalls(ctx, limit); err != nil {
				return err
			}
			if r.Stops, err = store.RecentStops(ctx, limit); err != nil {
				return err
			}

			if opts.jsonOut {
				return NewJSONResponse("audit", r).Write(cmd.OutOrStdout())
			}
			printAudit(cmd.OutOrStdout(), r)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of rows to show")
	return cmd
}

func printAudit(w io.Writer, r auditReport) {
	fmt.Fprintln(w, TitleStyle.Render("Tool audit"))
	fmt.Fprintln(w, RenderField("Calls", fmt.Sprintf("%d (%d failed)", r.Stats.Calls, r.Stats.Failures)))
	fmt.Fprintln(w, RenderField("Safety stops", fmt.Sprintf("%d", r.Stats.Stops)))

	if len(r.Calls) > 0 {
		fmt.Fprintln(w, SectionStyle.Render("Recent calls"))
		fmt.Fprintln(w, DimStyle.Render(auditRow("TIME", "TOOL", "DIALECT", "RESULT", "DURATION", "ARGUMENTS")))
		for _, c := range r.Calls {
			result := RenderStatus("ok")
			if !c.Success {
				result = RenderStatus("fail")
			}
			fmt.Fprintln(w, auditRow(
				c.CreatedAt.Local().Format("01-02 15:04:05"),
				c.ToolName,
				c.Dialect,
				result,
				c.Duration.Round(time.Millisecond).String(),
				c.Arguments,
			))
		}
	}

	if len(r.Stops) > 0 {
		fmt.Fprintln(w, SectionStyle.Render("Recent stops"))
		for _, s := range r.Stops {
			fmt.Fprintf(w, "%s  %s  %s\n",
				s.CreatedAt.Local().Format("01-02 15:04:05"),
				WarningStyle.Render(padCell(s.Reason, 16)),
				s.Detail)
		}
	}
}

// auditRow lays out one table row. The last column takes what is left of
// the terminal width.
func auditRow(when, tool, dialect, result, dur, args string) string {
	var b strings.Builder
	b.WriteString(padCell(when, 15))
	b.WriteString(padCell(tool, 12))
	b.WriteString(padCell(dialect, 9))
	b.WriteString(result)
	b.WriteString(strings.Repeat(" ", max(1, 8-lipgloss.Width(result))))
	b.WriteString(padCell(dur, 10))
	rest := GetTerminalWidth() - 15 - 12 - 9 - 8 - 10
	if rest < 10 {
		rest = 10
	}
	b.WriteString(padCell(args, rest))
	return strings.TrimRight(b.String(), " ")
}
