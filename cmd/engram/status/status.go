// Package statuscmder provides the status command for displaying the focused
// path and the health of the storage tiers.
package statuscmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corticalco/engram/cmd/engram/internal/cmdutil"
	"github.com/corticalco/engram/pkg/cliui"
	"github.com/corticalco/engram/pkg/dotdir"
)

const statusLongDesc string = `Show the current workspace state.

Displays the focused path and its head, the canonical head, and an integrity
probe of each tier (fast index, blob store, graph, audit log).

Examples:
  engram status`

const statusShortDesc string = "Show workspace state and tier health"

func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: statusShortDesc,
		Long:  statusLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd)
		},
	}

	return cmd
}

func runStatus(cmd *cobra.Command) error {
	ws, err := cmdutil.Workspace(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	ctx := cmd.Context()

	focus, err := dotdir.NewManager().LoadFocus(cmdutil.ConfigDir(cmd))
	if err != nil {
		return fmt.Errorf("loading focus: %w", err)
	}

	fmt.Println()
	if focus == nil {
		fmt.Printf("  %s No focused path. Sprout one with: engram branch <name>\n", cliui.DimStyle.Render("●"))
	} else if head, err := ws.Head(ctx, focus.Path); err == nil {
		fmt.Printf("  %s %s at %s\n",
			cliui.KeyStyle.Render("Focus:    "),
			cliui.NameStyle.Render(focus.Path),
			cliui.HashStyle.Render(cliui.ShortHash(head.CID)),
		)
	} else {
		fmt.Printf("  %s %s %s\n",
			cliui.KeyStyle.Render("Focus:    "),
			cliui.NameStyle.Render(focus.Path),
			cliui.DimStyle.Render("(path no longer exists)"),
		)
	}

	if head, err := ws.Head(ctx, ws.CanonicalPath()); err == nil {
		fmt.Printf("  %s %s at %s\n",
			cliui.KeyStyle.Render("Canonical:"),
			cliui.NameStyle.Render(ws.CanonicalPath()),
			cliui.HashStyle.Render(cliui.ShortHash(head.CID)),
		)
	} else {
		fmt.Printf("  %s %s\n", cliui.KeyStyle.Render("Canonical:"), cliui.DimStyle.Render("not seeded yet"))
	}

	report := ws.IntegrityCheck(ctx)
	fmt.Printf("\n  %s\n", cliui.KeyStyle.Render("Tiers:"))
	fmt.Printf("    %s fast index\n", cliui.PresenceMark(report.FastIndexPresent))
	fmt.Printf("    %s blob store\n", cliui.PresenceMark(report.BlobStorePresent))
	fmt.Printf("    %s graph\n", cliui.PresenceMark(report.GraphPresent))
	fmt.Printf("    %s audit log\n", cliui.PresenceMark(report.AuditLogPresent))
	for _, p := range report.Problems {
		fmt.Printf("    %s %s\n", cliui.WarnStyle.Render("!"), cliui.DimStyle.Render(p))
	}
	fmt.Println()
	return nil
}
