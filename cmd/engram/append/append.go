// Package appendcmder provides the append command for extending a named path
// with a new gated record.
package appendcmder

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/corticalco/engram/cmd/engram/internal/cmdutil"
	"github.com/corticalco/engram/pkg/cliui"
	"github.com/corticalco/engram/pkg/dotdir"
	"github.com/corticalco/engram/pkg/engram"
	"github.com/corticalco/engram/pkg/policy"
)

const appendLongDesc string = `Append a record to a named path.

The payload passes the policy gate, then a record is committed whose parent
is the path's current head, and the head advances atomically. A lost race
against a concurrent appender leaves no partial state and reports a
conflict.

When --path is omitted, the focused path (set by engram branch) is used.
Reads the payload from the argument, or from stdin when the argument is "-".

Examples:
  engram append "narrowed the bug to the session cache"
  engram append --path fix-login-bug "root cause: stale cookie"
  git diff | engram append --path fix-login-bug -`

const appendShortDesc string = "Append a record to a path"

type appendCommander struct {
	path string
	key  string
}

func NewAppendCmd() *cobra.Command {
	cmder := &appendCommander{}

	cmd := &cobra.Command{
		Use:   "append <payload>",
		Short: appendShortDesc,
		Long:  appendLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, args[0])
		},
	}

	cmd.Flags().StringVarP(&cmder.path, "path", "p", "", "path to append to (defaults to the focused path)")
	cmd.Flags().StringVarP(&cmder.key, "key", "k", "", "optional sub-key for the record")

	return cmd
}

func (c *appendCommander) run(cmd *cobra.Command, arg string) error {
	payload := []byte(arg)
	if arg == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		payload = data
	}

	manager := dotdir.NewManager()
	name := c.path
	if name == "" {
		focus, err := manager.LoadFocus(cmdutil.ConfigDir(cmd))
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

	cid, err := ws.Append(cmd.Context(), name, payload, engram.Meta{Key: c.key})
	if err != nil {
		var blocked *policy.BlockedError
		if errors.As(err, &blocked) {
			fmt.Printf("\n  %s %s\n\n", cliui.BlockStyle.Render("BLOCKED"), blocked.Decision.Reason)
		}
		return err
	}

	name = policy.NormalizePathName(name)
	if err := manager.SaveFocus(&dotdir.FocusState{Path: name, Head: cid}, cmdutil.ConfigDir(cmd)); err != nil {
		return fmt.Errorf("saving focus: %w", err)
	}

	fmt.Printf("\n  %s Appended %s to %s\n\n",
		cliui.SuccessMark,
		cliui.HashStyle.Render(cliui.ShortHash(cid)),
		cliui.NameStyle.Render(name),
	)
	return nil
}
