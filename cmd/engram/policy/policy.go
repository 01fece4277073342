// Package policycmder provides the policy command for inspecting the
// decision engine without mutating memory.
package policycmder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/corticalco/engram/cmd/engram/internal/cmdutil"
	"github.com/corticalco/engram/pkg/cliui"
	"github.com/corticalco/engram/pkg/config"
	policyeng "github.com/corticalco/engram/pkg/policy"
	"github.com/corticalco/engram/pkg/workspace"
)

const policyLongDesc string = `Inspect the policy gate.

The policy engine evaluates content deterministically against the loaded
TOML rule set: the same input, category and rule set always produce the same
decision. Evaluations are audit-logged but never mutate memory.

Use subcommands:
  engram policy eval <text>    Evaluate text against the gate

Examples:
  engram policy eval "the api key is sk-123"
  engram policy eval --category path_append "progress note"`

const policyShortDesc string = "Inspect the policy gate"

func NewPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: policyShortDesc,
		Long:  policyLongDesc,
	}

	cmd.AddCommand(newEvalCmd())

	return cmd
}

const evalLongDesc string = `Evaluate text against the policy gate without storing anything.

Prints the outcome, risk, violation code, constraints and the digest of the
rule set that produced the decision, so the decision can be reproduced
later. The evaluation is recorded on the audit trail like any other.

With --watch (or policy.watch in config.toml) the command keeps running,
hot-reloads the rule set whenever the file changes, and re-evaluates the
text against each new version until interrupted.

Examples:
  engram policy eval "rumor: the cache is haunted"
  engram policy eval --category path_append "status update"
  engram policy eval --watch "the api key is sk-123"`

const evalShortDesc string = "Evaluate text against the gate"

type evalCommander struct {
	category string
	watch    bool
}

func newEvalCmd() *cobra.Command {
	cmder := &evalCommander{}

	cmd := &cobra.Command{
		Use:   "eval <text>",
		Short: evalShortDesc,
		Long:  evalLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, args[0])
		},
	}

	cmd.Flags().StringVarP(&cmder.category, "category", "c", "", "gate category (defaults to memory_storage)")
	config.AddBoolFlag(cmd, config.Flags, config.FlagWatch, &cmder.watch)

	return cmd
}

func (c *evalCommander) run(cmd *cobra.Command, text string) error {
	cfg, err := cmdutil.LoadConfig(cmd, config.FlagWatch)
	if err != nil {
		return err
	}
	ws, err := workspace.OpenAt(cmdutil.ConfigDir(cmd), cfg, cmdutil.Logger(cmd))
	if err != nil {
		return fmt.Errorf("opening workspace: %w", err)
	}
	defer ws.Close()

	d, err := ws.EvaluatePolicy(text, c.category)
	if err != nil {
		return err
	}
	printDecision(d)

	if !cfg.Policy.Watch {
		return nil
	}
	return c.watchLoop(cmd, ws, text, d.RuleSetDigest)
}

// watchLoop keeps the ruleset watcher running and re-evaluates the text
// whenever a reload lands, until the process is interrupted.
func (c *evalCommander) watchLoop(cmd *cobra.Command, ws *workspace.Workspace, text, digest string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := ws.WatchRuleset(ctx); err != nil && !errors.Is(err, context.Canceled) {
			cmdutil.Logger(cmd).Warn("ruleset watcher stopped", "error", err)
		}
	}()

	fmt.Printf("  %s\n", cliui.DimStyle.Render("watching the rule set; ctrl-c to stop"))

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if ws.Ruleset().Digest == digest {
				continue
			}
			d, err := ws.EvaluatePolicy(text, c.category)
			if err != nil {
				return err
			}
			digest = d.RuleSetDigest
			printDecision(d)
		}
	}
}

func printDecision(d *policyeng.Decision) {
	outcome := cliui.ValueStyle.Render(d.Outcome)
	if d.Outcome == policyeng.OutcomeBlock {
		outcome = cliui.BlockStyle.Render(d.Outcome)
	}

	fmt.Printf("\n  %s %s\n", cliui.KeyStyle.Render("Outcome:"), outcome)
	fmt.Printf("  %s %s\n", cliui.KeyStyle.Render("Risk:   "), d.Risk)
	fmt.Printf("  %s %s\n", cliui.KeyStyle.Render("Reason: "), d.Reason)
	if d.Code != "" {
		fmt.Printf("  %s %s\n", cliui.KeyStyle.Render("Code:   "), d.Code)
	}
	if len(d.Constraints) > 0 {
		fmt.Printf("  %s %s\n", cliui.KeyStyle.Render("Constraints:"), strings.Join(d.Constraints, ", "))
	}
	if d.RequiresEscalation {
		fmt.Printf("  %s violations span multiple rule groups\n", cliui.WarnStyle.Render("Escalate:"))
	}
	if d.Suggestion != "" {
		fmt.Printf("  %s %s\n", cliui.KeyStyle.Render("Suggestion:"), d.Suggestion)
	}
	fmt.Printf("  %s %s\n\n", cliui.KeyStyle.Render("Rule set:"), cliui.DimStyle.Render(d.RuleSetVersion+" "+cliui.ShortHash(d.RuleSetDigest)))
}
