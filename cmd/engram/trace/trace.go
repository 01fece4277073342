// Package tracecmder provides the trace command for walking a path's history
// newest to oldest.
package tracecmder

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corticalco/engram/cmd/engram/internal/cmdutil"
	"github.com/corticalco/engram/pkg/cliui"
	"github.com/corticalco/engram/pkg/config"
	"github.com/corticalco/engram/pkg/dotdir"
)

const traceLongDesc string = `Walk a path's history from the head toward the seed.

Entries are printed newest first with digest, timestamp, lobe and key. The
walk is bounded: --limit caps the entries, and the configured maximum trace
depth is never exceeded.

When no path is given, the focused path is used.

Examples:
  engram trace
  engram trace fix-login-bug
  engram trace cortex --limit 50`

const traceShortDesc string = "Walk a path's history"

type traceCommander struct {
	limit    int
	maxDepth int
}

func NewTraceCmd() *cobra.Command {
	cmder := &traceCommander{}

	cmd := &cobra.Command{
		Use:   "trace [path]",
		Short: traceShortDesc,
		Long:  traceLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return cmder.run(cmd, name)
		},
	}

	cmd.Flags().IntVarP(&cmder.limit, "limit", "n", 0, "maximum entries (0 means the configured depth bound)")
	config.AddIntFlag(cmd, config.Flags, config.FlagMaxDepth, &cmder.maxDepth)

	return cmd
}

func (c *traceCommander) run(cmd *cobra.Command, name string) error {
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

	ws, err := cmdutil.Workspace(cmd, config.FlagMaxDepth)
	if err != nil {
		return err
	}
	defer ws.Close()

	entries, err := ws.Trace(cmd.Context(), name, c.limit)
	if err != nil {
		return err
	}

	fmt.Printf("\n  %s %s\n\n", cliui.KeyStyle.Render("Path:"), cliui.NameStyle.Render(name))
	for _, e := range entries {
		key := ""
		if e.Key != "" {
			key = cliui.DimStyle.Render(" key=" + e.Key)
		}
		fmt.Printf("  %s %s %s%s\n",
			cliui.HashStyle.Render(cliui.ShortHash(e.CID)),
			cliui.DimStyle.Render(e.Timestamp.Format("2006-01-02 15:04:05")),
			cliui.LobeStyle.Render(e.Lobe),
			key,
		)
	}
	fmt.Println()
	return nil
}
