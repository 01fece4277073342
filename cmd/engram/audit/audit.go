// Package auditcmder provides the audit command for querying the append-only
// provenance log.
package auditcmder

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/corticalco/engram/cmd/engram/internal/cmdutil"
	"github.com/corticalco/engram/pkg/audit"
	"github.com/corticalco/engram/pkg/cliui"
)

const auditLongDesc string = `Query the append-only audit trail.

Every policy evaluation and every graph mutation is one JSONL entry; the log
is never edited or pruned. Use subcommands:
  engram audit query    List entries, optionally filtered
  engram audit stats    Summarize the log

Examples:
  engram audit query --kind decision --limit 20
  engram audit query --since 24h
  engram audit stats`

const auditShortDesc string = "Query the audit trail"

func NewAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: auditShortDesc,
		Long:  auditLongDesc,
	}

	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newStatsCmd())

	return cmd
}

const queryLongDesc string = `List audit entries, newest last.

Filter by kind (decision or mutation), a relative time window, and a result
limit.

Examples:
  engram audit query
  engram audit query --kind mutation
  engram audit query --since 1h --limit 50`

const queryShortDesc string = "List audit entries"

type queryCommander struct {
	kind  string
	since time.Duration
	limit int
}

func newQueryCmd() *cobra.Command {
	cmder := &queryCommander{}

	cmd := &cobra.Command{
		Use:   "query",
		Short: queryShortDesc,
		Long:  queryLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	cmd.Flags().StringVar(&cmder.kind, "kind", "", "entry kind: decision or mutation")
	cmd.Flags().DurationVar(&cmder.since, "since", 0, "only entries newer than this window (e.g. 24h)")
	cmd.Flags().IntVarP(&cmder.limit, "limit", "n", 0, "maximum entries (0 means all)")

	return cmd
}

func (c *queryCommander) run(cmd *cobra.Command) error {
	ws, err := cmdutil.Workspace(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	filter := audit.Filter{Kind: c.kind, Limit: c.limit}
	if c.since > 0 {
		filter.Since = time.Now().Add(-c.since)
	}

	entries, err := ws.AuditLog().Query(filter)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Printf("  %s\n", cliui.DimStyle.Render("No matching entries."))
		return nil
	}

	fmt.Println()
	for _, e := range entries {
		printEntry(e)
	}
	fmt.Println()
	return nil
}

func printEntry(e *audit.Entry) {
	ts := cliui.DimStyle.Render(e.Timestamp.Format("2006-01-02 15:04:05"))

	switch e.Kind {
	case audit.KindDecision:
		outcome := e.Decision.Outcome
		rendered := cliui.ValueStyle.Render(outcome)
		if !e.Decision.Passed {
			rendered = cliui.BlockStyle.Render(outcome)
		}
		fmt.Printf("  %s %s %s %s\n", ts, cliui.KeyStyle.Render("eval"), rendered, cliui.PreviewStyle.Render(e.Preview))
	case audit.KindMutation:
		fmt.Printf("  %s %s %s %s %s\n",
			ts,
			cliui.KeyStyle.Render(e.Action),
			cliui.NameStyle.Render(e.Path),
			cliui.HashStyle.Render(cliui.ShortHash(e.CID)),
			cliui.DimStyle.Render(e.Outcome),
		)
	default:
		fmt.Printf("  %s %s\n", ts, e.Kind)
	}
}

const statsLongDesc string = `Summarize the audit trail: total entries, evaluations, violations and
mutations.

Examples:
  engram audit stats`

const statsShortDesc string = "Summarize the audit trail"

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: statsShortDesc,
		Long:  statsLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd)
		},
	}

	return cmd
}

func runStats(cmd *cobra.Command) error {
	ws, err := cmdutil.Workspace(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	st, err := ws.AuditLog().Stats()
	if err != nil {
		return err
	}

	fmt.Printf("\n  %s %d\n", cliui.KeyStyle.Render("Entries:    "), st.TotalEntries)
	fmt.Printf("  %s %d\n", cliui.KeyStyle.Render("Evaluations:"), st.EvaluationCount)
	fmt.Printf("  %s %d\n", cliui.KeyStyle.Render("Violations: "), st.ViolationCount)
	fmt.Printf("  %s %d\n\n", cliui.KeyStyle.Render("Mutations:  "), st.MutationCount)
	return nil
}
