// Package recallcmder provides the recall command for reading records back
// from the storage tiers by digest.
package recallcmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corticalco/engram/cmd/engram/internal/cmdutil"
	"github.com/corticalco/engram/pkg/cliui"
	"github.com/corticalco/engram/pkg/recall"
)

const recallLongDesc string = `Recall one or more records by digest.

By default the fast index answers first, falling back to the blob store and
then the graph tier. Use --prefer to pin a tier. A batch recall preserves
input order and reports individual misses without aborting.

Use --verify to cross-check the payload bytes across every tier holding each
record; disagreement is reported, never silently resolved.

Examples:
  engram recall 4ac1f0…
  engram recall --prefer graph 4ac1f0…
  engram recall --verify 4ac1f0… 77be12…`

const recallShortDesc string = "Recall records by digest"

type recallCommander struct {
	prefer string
	verify bool
	quiet  bool
}

func NewRecallCmd() *cobra.Command {
	cmder := &recallCommander{}

	cmd := &cobra.Command{
		Use:   "recall <digest> [digest...]",
		Short: recallShortDesc,
		Long:  recallLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, args)
		},
	}

	cmd.Flags().StringVarP(&cmder.prefer, "prefer", "p", "auto", "tier preference: auto, fast, blob or graph")
	cmd.Flags().BoolVar(&cmder.verify, "verify", false, "cross-check payload bytes across tiers")
	cmd.Flags().BoolVarP(&cmder.quiet, "quiet", "q", false, "print payloads only")

	return cmd
}

func (c *recallCommander) run(cmd *cobra.Command, ids []string) error {
	ws, err := cmdutil.Workspace(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	ctx := cmd.Context()
	results := ws.ReadMany(ctx, ids, recall.Prefer(c.prefer))

	var missed bool
	for _, res := range results {
		if res.Err != nil {
			missed = true
			if !c.quiet {
				fmt.Printf("  %s %s %s\n",
					cliui.FailMark,
					cliui.HashStyle.Render(cliui.ShortHash(res.CID)),
					cliui.DimStyle.Render(res.Err.Error()),
				)
			}
			continue
		}

		if c.quiet {
			fmt.Printf("%s\n", res.Payload)
			continue
		}

		fmt.Printf("  %s %s %s\n%s\n",
			cliui.SuccessMark,
			cliui.HashStyle.Render(cliui.ShortHash(res.CID)),
			cliui.DimStyle.Render("via "+res.Source),
			string(res.Payload),
		)

		if c.verify {
			if err := ws.VerifyRecord(ctx, res.CID); err != nil {
				fmt.Printf("  %s %s\n", cliui.WarnStyle.Render("TIER MISMATCH"), err)
				missed = true
			}
		}
	}

	if missed {
		return fmt.Errorf("one or more recalls failed")
	}
	return nil
}
