// Package engramcmder assembles the engram CLI command tree.
package engramcmder

import (
	"github.com/spf13/cobra"

	appendcmder "github.com/corticalco/engram/cmd/engram/append"
	auditcmder "github.com/corticalco/engram/cmd/engram/audit"
	branchcmder "github.com/corticalco/engram/cmd/engram/branch"
	citecmder "github.com/corticalco/engram/cmd/engram/cite"
	configcmder "github.com/corticalco/engram/cmd/engram/config"
	consolidatecmder "github.com/corticalco/engram/cmd/engram/consolidate"
	initcmder "github.com/corticalco/engram/cmd/engram/init"
	latestcmder "github.com/corticalco/engram/cmd/engram/latest"
	policycmder "github.com/corticalco/engram/cmd/engram/policy"
	recallcmder "github.com/corticalco/engram/cmd/engram/recall"
	recentcmder "github.com/corticalco/engram/cmd/engram/recent"
	statscmder "github.com/corticalco/engram/cmd/engram/stats"
	statuscmder "github.com/corticalco/engram/cmd/engram/status"
	tracecmder "github.com/corticalco/engram/cmd/engram/trace"
	versioncmder "github.com/corticalco/engram/cmd/engram/version"
	writecmder "github.com/corticalco/engram/cmd/engram/write"
)

const engramLongDesc string = `Engram is a local-first memory substrate for autonomous agents.

Records are immutable and content-addressed; named paths advance by
fast-forward only; every write passes a deterministic policy gate and every
mutation lands on an append-only audit trail.

Common flows:
  engram init                      Materialize the .engram/ directory
  engram write "observation"      Record a gated memory
  engram branch fix-login          Sprout a working path
  engram append "progress note"   Extend the focused path
  engram consolidate               Fast-forward the canonical history`

const engramShortDesc string = "Engram - agent memory substrate"

func NewEngramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engram",
		Short: engramShortDesc,
		Long:  engramLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .engram/ directory")

	// Add subcommands
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(writecmder.NewWriteCmd())
	cmd.AddCommand(recallcmder.NewRecallCmd())
	cmd.AddCommand(recentcmder.NewRecentCmd())
	cmd.AddCommand(branchcmder.NewBranchCmd())
	cmd.AddCommand(appendcmder.NewAppendCmd())
	cmd.AddCommand(consolidatecmder.NewConsolidateCmd())
	cmd.AddCommand(tracecmder.NewTraceCmd())
	cmd.AddCommand(latestcmder.NewLatestCmd())
	cmd.AddCommand(policycmder.NewPolicyCmd())
	cmd.AddCommand(auditcmder.NewAuditCmd())
	cmd.AddCommand(statscmder.NewStatsCmd())
	cmd.AddCommand(statuscmder.NewStatusCmd())
	cmd.AddCommand(citecmder.NewCiteCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
