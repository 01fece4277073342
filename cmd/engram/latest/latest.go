// Package latestcmder provides the latest command for showing the record at
// a path's head.
package latestcmder

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corticalco/engram/cmd/engram/internal/cmdutil"
	"github.com/corticalco/engram/pkg/cliui"
	"github.com/corticalco/engram/pkg/dotdir"
)

const latestLongDesc string = `Show the full record at a path's head.

When no path is given, the focused path is used. Use --render to display the
payload as markdown, or --quiet to emit the raw payload for piping.

Examples:
  engram latest
  engram latest cortex
  engram latest fix-login-bug --render
  engram latest --quiet | jq .`

const latestShortDesc string = "Show the record at a path's head"

type latestCommander struct {
	render bool
	quiet  bool
}

func NewLatestCmd() *cobra.Command {
	cmder := &latestCommander{}

	cmd := &cobra.Command{
		Use:   "latest [path]",
		Short: latestShortDesc,
		Long:  latestLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return cmder.run(cmd, name)
		},
	}

	cmd.Flags().BoolVar(&cmder.render, "render", false, "render the payload as markdown")
	cmd.Flags().BoolVarP(&cmder.quiet, "quiet", "q", false, "print the raw payload only")

	return cmd
}

func (c *latestCommander) run(cmd *cobra.Command, name string) error {
	if name == "" {
		focus, err := dotdir.NewManager().LoadFocus(cmdutil.ConfigDir(cmd))
		if err != nil {
			return fmt.Errorf("loading focus: %w", err)
		}
		if focus == nil {
			return errors.New("no path given and nothing focused; run engram branch <name> first")
		}
		name = focus.Path
	}

	ws, err := cmdutil.Workspace(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	rec, err := ws.LatestOnPath(cmd.Context(), name)
	if err != nil {
		return err
	}

	if c.quiet {
		fmt.Printf("%s\n", rec.Payload)
		return nil
	}

	body := string(rec.Payload)
	if c.render {
		rendered, err := cliui.RenderMarkdown(body)
		if err == nil {
			body = rendered
		}
	}

	fmt.Printf("\n  %s %s\n", cliui.KeyStyle.Render("Record:"), cliui.HashStyle.Render(rec.CID))
	fmt.Printf("  %s %s", cliui.KeyStyle.Render("Lobe:  "), cliui.LobeStyle.Render(rec.Lobe))
	if rec.Key != "" {
		fmt.Printf("  %s", cliui.DimStyle.Render("key="+rec.Key))
	}
	fmt.Printf("\n  %s %s\n\n%s\n", cliui.KeyStyle.Render("At:    "), cliui.DimStyle.Render(rec.CreatedAt.Format("2006-01-02 15:04:05")), body)
	return nil
}
