// Package writecmder provides the write command for recording a gated memory
// into a lobe.
package writecmder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corticalco/engram/cmd/engram/internal/cmdutil"
	"github.com/corticalco/engram/pkg/cliui"
	"github.com/corticalco/engram/pkg/config"
	"github.com/corticalco/engram/pkg/engram"
	"github.com/corticalco/engram/pkg/policy"
)

const writeLongDesc string = `Record a memory into a lobe.

The payload passes the policy gate before anything is persisted. Allowed
payloads are committed to all three storage tiers and chained onto the
lobe's write stream; blocked payloads persist nothing and report the
violation. Every decision and every successful write lands on the audit
trail.

Reads the payload from the argument, or from stdin when the argument is "-".

Examples:
  engram write "retry with exponential backoff worked"
  engram write --lobe solutions --key db-pool "cap pool size at 2x cores"
  cat notes.md | engram write --lobe docs -`

const writeShortDesc string = "Record a gated memory"

type writeCommander struct {
	lobe string
	key  string
	tags []string
}

func NewWriteCmd() *cobra.Command {
	cmder := &writeCommander{}

	cmd := &cobra.Command{
		Use:   "write <payload>",
		Short: writeShortDesc,
		Long:  writeLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, args[0])
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagLobe, &cmder.lobe)
	cmd.Flags().StringVarP(&cmder.key, "key", "k", "", "optional sub-key within the lobe")
	cmd.Flags().StringArrayVar(&cmder.tags, "tag", nil, "metadata tag as key=value (repeatable)")

	return cmd
}

func (c *writeCommander) run(cmd *cobra.Command, arg string) error {
	payload := []byte(arg)
	if arg == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		payload = data
	}

	tags, err := parseTags(c.tags)
	if err != nil {
		return err
	}

	ws, err := cmdutil.Workspace(cmd, config.FlagLobe)
	if err != nil {
		return err
	}
	defer ws.Close()

	cid, err := ws.Write(cmd.Context(), c.lobe, payload, engram.Meta{Key: c.key, Tags: tags})
	if err != nil {
		var blocked *policy.BlockedError
		if errors.As(err, &blocked) {
			printBlocked(blocked.Decision)
			return err
		}
		return err
	}

	fmt.Printf("\n  %s Recorded %s %s\n\n",
		cliui.SuccessMark,
		cliui.HashStyle.Render(cliui.ShortHash(cid)),
		cliui.LobeStyle.Render("("+orDefault(c.lobe, ws.DefaultLobe())+")"),
	)
	return nil
}

func printBlocked(d *policy.Decision) {
	fmt.Printf("\n  %s %s\n", cliui.BlockStyle.Render("BLOCKED"), d.Reason)
	if d.Suggestion != "" {
		fmt.Printf("  %s %s\n", cliui.DimStyle.Render("suggestion:"), d.Suggestion)
	}
	fmt.Println()
}

func parseTags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	tags := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid tag %q: expected key=value", p)
		}
		tags[k] = v
	}
	return tags, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
