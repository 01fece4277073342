// Package branchcmder provides the branch command for sprouting named paths
// and listing existing ones.
package branchcmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corticalco/engram/cmd/engram/internal/cmdutil"
	"github.com/corticalco/engram/pkg/cliui"
	"github.com/corticalco/engram/pkg/config"
	"github.com/corticalco/engram/pkg/dotdir"
)

const branchLongDesc string = `Sprout a named path, or list paths when no name is given.

A path is a named fast-forward-only pointer into the record graph. The base
may be a record digest or another path name; when omitted, the canonical
head is used, then the newest record in the lobe (--lobe), and on an empty
substrate a genesis record is seeded there. Sprouting an existing path is a
no-op.

The sprouted path becomes the focus: append, trace and latest default to it.

Examples:
  engram branch
  engram branch fix-login-bug
  engram branch hotfix 4ac1f0…
  engram branch followup fix-login-bug`

const branchShortDesc string = "Sprout or list named paths"

type branchCommander struct {
	lobe string
}

func NewBranchCmd() *cobra.Command {
	cmder := &branchCommander{}

	cmd := &cobra.Command{
		Use:   "branch [name] [base]",
		Short: branchShortDesc,
		Long:  branchLongDesc,
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runList(cmd)
			}
			base := ""
			if len(args) == 2 {
				base = args[1]
			}
			return cmder.runSprout(cmd, args[0], base)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagLobe, &cmder.lobe)

	return cmd
}

func (c *branchCommander) runSprout(cmd *cobra.Command, name, base string) error {
	ws, err := cmdutil.Workspace(cmd, config.FlagLobe)
	if err != nil {
		return err
	}
	defer ws.Close()

	head, err := ws.Sprout(cmd.Context(), name, base, c.lobe)
	if err != nil {
		return err
	}

	manager := dotdir.NewManager()
	if err := manager.SaveFocus(&dotdir.FocusState{Path: head.Name, Head: head.CID}, cmdutil.ConfigDir(cmd)); err != nil {
		return fmt.Errorf("saving focus: %w", err)
	}

	fmt.Printf("\n  %s Sprouted %s at %s\n\n",
		cliui.SuccessMark,
		cliui.NameStyle.Render(head.Name),
		cliui.HashStyle.Render(cliui.ShortHash(head.CID)),
	)
	return nil
}

func runList(cmd *cobra.Command) error {
	ws, err := cmdutil.Workspace(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	heads, err := ws.Heads(cmd.Context())
	if err != nil {
		return err
	}

	focus, err := dotdir.NewManager().LoadFocus(cmdutil.ConfigDir(cmd))
	if err != nil {
		return fmt.Errorf("loading focus: %w", err)
	}

	if len(heads) == 0 {
		fmt.Printf("  %s\n", cliui.DimStyle.Render("No paths yet. Sprout one with: engram branch <name>"))
		return nil
	}

	fmt.Println()
	for _, h := range heads {
		marker := " "
		if focus != nil && focus.Path == h.Name {
			marker = cliui.NameStyle.Render("*")
		}
		fmt.Printf("  %s %s %s\n",
			marker,
			cliui.NameStyle.Render(h.Name),
			cliui.HashStyle.Render(cliui.ShortHash(h.CID)),
		)
	}
	fmt.Println()
	return nil
}
