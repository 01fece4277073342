// Package statscmder provides the stats command for summarizing the storage
// tiers.
package statscmder

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/corticalco/engram/cmd/engram/internal/cmdutil"
	"github.com/corticalco/engram/pkg/cliui"
)

const statsLongDesc string = `Summarize the memory substrate: record counts per tier and per lobe, path
count and audit totals.

Scope the index portion to a single lobe with --lobe.

Examples:
  engram stats
  engram stats --lobe solutions`

const statsShortDesc string = "Summarize the memory substrate"

type statsCommander struct {
	lobe string
}

func NewStatsCmd() *cobra.Command {
	cmder := &statsCommander{}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: statsShortDesc,
		Long:  statsLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.lobe, "lobe", "l", "", "scope the index counts to one lobe")

	return cmd
}

func (c *statsCommander) run(cmd *cobra.Command) error {
	ws, err := cmdutil.Workspace(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	st, err := ws.Stats(cmd.Context(), c.lobe)
	if err != nil {
		return err
	}

	fmt.Printf("\n  %s %d indexed (%d archived)\n", cliui.KeyStyle.Render("Fast index:"), st.Index.Total, st.Index.Archived)
	fmt.Printf("  %s %d records, %d paths\n", cliui.KeyStyle.Render("Graph:     "), st.GraphTotal, st.Paths)
	fmt.Printf("  %s %d entries (%d evaluations, %d mutations)\n",
		cliui.KeyStyle.Render("Audit:     "), st.Audit.TotalEntries, st.Audit.EvaluationCount, st.Audit.MutationCount)

	if len(st.GraphByLobe) > 0 {
		fmt.Printf("\n  %s\n", cliui.KeyStyle.Render("By lobe:"))
		lobes := make([]string, 0, len(st.GraphByLobe))
		for lobe := range st.GraphByLobe {
			lobes = append(lobes, lobe)
		}
		sort.Strings(lobes)
		for _, lobe := range lobes {
			fmt.Printf("    %s %d\n", cliui.LobeStyle.Render(lobe), st.GraphByLobe[lobe])
		}
	}
	fmt.Println()
	return nil
}
