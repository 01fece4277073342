// Package citecmder provides the cite command for reporting which storage
// tiers hold a record or a path's history.
package citecmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corticalco/engram/cmd/engram/internal/cmdutil"
	"github.com/corticalco/engram/pkg/cliui"
)

const citeLongDesc string = `Report which tiers hold a record.

Pass a record digest to cite that record, or a path name to cite every
record on the path's history. Each line is one (record, tier) pair, so the
provenance of a recall is inspectable.

Examples:
  engram cite 4ac1f0…
  engram cite fix-login-bug`

const citeShortDesc string = "Report which tiers hold a record"

func NewCiteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cite <digest-or-path>",
		Short: citeShortDesc,
		Long:  citeLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCite(cmd, args[0])
		},
	}

	return cmd
}

func runCite(cmd *cobra.Command, ref string) error {
	ws, err := cmdutil.Workspace(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	cites, err := ws.CiteSources(cmd.Context(), ref)
	if err != nil {
		return err
	}

	fmt.Println()
	for _, c := range cites {
		fmt.Printf("  %s %s\n",
			cliui.HashStyle.Render(cliui.ShortHash(c.CID)),
			cliui.LobeStyle.Render(c.Tier),
		)
	}
	fmt.Println()
	return nil
}
