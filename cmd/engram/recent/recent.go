// Package recentcmder provides the recent command for listing the newest
// records in a lobe from the fast index.
package recentcmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corticalco/engram/cmd/engram/internal/cmdutil"
	"github.com/corticalco/engram/pkg/cliui"
	"github.com/corticalco/engram/pkg/config"
	"github.com/corticalco/engram/pkg/recall"
	"github.com/corticalco/engram/pkg/utils"
)

const recentLongDesc string = `List the newest records, newest first.

Served entirely from the fast lookup index. Scope to a lobe with --lobe or
pass --all to span every lobe. Use --quiet to emit digests only, one per
line, for piping into other commands.

Examples:
  engram recent --lobe solutions
  engram recent --all -n 20
  engram recall $(engram recent --quiet -n 1)`

const recentShortDesc string = "List the newest records"

type recentCommander struct {
	lobe  string
	limit int
	all   bool
	quiet bool
}

func NewRecentCmd() *cobra.Command {
	cmder := &recentCommander{}

	cmd := &cobra.Command{
		Use:   "recent",
		Short: recentShortDesc,
		Long:  recentLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagLobe, &cmder.lobe)
	cmd.Flags().IntVarP(&cmder.limit, "limit", "n", 10, "maximum number of records")
	cmd.Flags().BoolVar(&cmder.all, "all", false, "span every lobe")
	cmd.Flags().BoolVarP(&cmder.quiet, "quiet", "q", false, "print digests only")

	return cmd
}

func (c *recentCommander) run(cmd *cobra.Command) error {
	ws, err := cmdutil.Workspace(cmd, config.FlagLobe)
	if err != nil {
		return err
	}
	defer ws.Close()

	lobe := c.lobe
	if c.all {
		lobe = ""
	}

	ctx := cmd.Context()
	ids, err := ws.Recent(ctx, lobe, c.limit)
	if err != nil {
		return err
	}

	if c.quiet {
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	}

	if len(ids) == 0 {
		fmt.Printf("  %s\n", cliui.DimStyle.Render("No records yet."))
		return nil
	}

	fmt.Println()
	for _, res := range ws.ReadMany(ctx, ids, recall.PreferFast) {
		if res.Err != nil {
			fmt.Printf("  %s %s\n", cliui.HashStyle.Render(cliui.ShortHash(res.CID)), cliui.DimStyle.Render(res.Err.Error()))
			continue
		}
		fmt.Printf("  %s %s\n",
			cliui.HashStyle.Render(cliui.ShortHash(res.CID)),
			cliui.PreviewStyle.Render(utils.Truncate(string(res.Payload), 72)),
		)
	}
	fmt.Println()
	return nil
}
