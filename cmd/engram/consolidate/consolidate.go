// Package consolidatecmder provides the consolidate command for
// fast-forwarding the canonical history onto a path's head.
package consolidatecmder

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corticalco/engram/cmd/engram/internal/cmdutil"
	"github.com/corticalco/engram/pkg/cliui"
	"github.com/corticalco/engram/pkg/config"
	"github.com/corticalco/engram/pkg/dotdir"
	"github.com/corticalco/engram/pkg/workspace"
)

const consolidateLongDesc string = `Fast-forward the canonical history onto a path's head.

Consolidation succeeds only when the destination head is an ancestor of the
source head; the first consolidation seeds the destination. Diverged
histories are rejected and left untouched; merging is deliberately
unsupported, so sprout a fresh path from the canonical head instead.

When no source is given, the focused path is used. Attach a note to the
audit trail with --note when re-consolidating after rework.

Examples:
  engram consolidate
  engram consolidate fix-login-bug
  engram consolidate fix-login-bug --into release-notes
  engram consolidate fix-login-bug --note "second pass after review"`

const consolidateShortDesc string = "Fast-forward the canonical history"

type consolidateCommander struct {
	into          string
	note          string
	canonicalPath string
}

func NewConsolidateCmd() *cobra.Command {
	cmder := &consolidateCommander{}

	cmd := &cobra.Command{
		Use:   "consolidate [path]",
		Short: consolidateShortDesc,
		Long:  consolidateLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := ""
			if len(args) == 1 {
				src = args[0]
			}
			return cmder.run(cmd, src)
		},
	}

	cmd.Flags().StringVar(&cmder.into, "into", "", "destination path (defaults to the canonical path)")
	cmd.Flags().StringVar(&cmder.note, "note", "", "note recorded on the audit trail")
	config.AddStringFlag(cmd, config.Flags, config.FlagCanonicalPath, &cmder.canonicalPath)

	return cmd
}

func (c *consolidateCommander) run(cmd *cobra.Command, src string) error {
	if src == "" {
		focus, err := dotdir.NewManager().LoadFocus(cmdutil.ConfigDir(cmd))
		if err != nil {
			return fmt.Errorf("loading focus: %w", err)
		}
		if focus == nil {
			return errors.New("no path given and nothing focused; run engram branch <name> first")
		}
		src = focus.Path
	}

	ws, err := cmdutil.Workspace(cmd, config.FlagCanonicalPath)
	if err != nil {
		return err
	}
	defer ws.Close()

	var head *storageHead
	if c.note != "" {
		h, err := ws.Reconsolidate(cmd.Context(), src, c.into, c.note)
		if err != nil {
			return describeRejection(err, src)
		}
		head = &storageHead{h.Name, h.CID}
	} else {
		h, err := ws.Consolidate(cmd.Context(), src, c.into)
		if err != nil {
			return describeRejection(err, src)
		}
		head = &storageHead{h.Name, h.CID}
	}

	fmt.Printf("\n  %s Consolidated %s into %s at %s\n\n",
		cliui.SuccessMark,
		cliui.NameStyle.Render(src),
		cliui.NameStyle.Render(head.name),
		cliui.HashStyle.Render(cliui.ShortHash(head.cid)),
	)
	return nil
}

type storageHead struct {
	name string
	cid  string
}

func describeRejection(err error, src string) error {
	var nff *workspace.NonFastForwardError
	if errors.As(err, &nff) || errors.Is(err, workspace.ErrMergeUnsupported) {
		fmt.Printf("\n  %s Histories diverge; %s cannot fast-forward.\n  %s\n\n",
			cliui.FailMark,
			cliui.NameStyle.Render(src),
			cliui.DimStyle.Render("Sprout a new path from the canonical head and reapply the work."),
		)
	}
	return err
}
