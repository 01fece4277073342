// Package initcmder provides the init command for initializing a local
// .engram directory and materializing the storage tiers inside it.
package initcmder

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/corticalco/engram/cmd/engram/internal/cmdutil"
	"github.com/corticalco/engram/pkg/cliui"
	"github.com/corticalco/engram/pkg/config"
	"github.com/corticalco/engram/pkg/workspace"
)

const (
	dirName = ".engram"
)

const initLongDesc string = `Initialize a new .engram/ directory in the current working directory.

Creates a local .engram/ directory that takes precedence over the default
~/.engram/ directory, then materializes the storage tiers inside it: the
graph database, the fast lookup index, the content-addressed blob area, the
default policy rule set and the audit log.

This is useful for maintaining separate memory state per project or agent.
The storage flags pick the tier layout for this run; persist choices with
"engram config set" so later commands use the same layout.

Examples:
  engram init
  engram init --storage-driver postgres --postgres-dsn postgres://localhost/engram
  engram init --blob-root /var/lib/engram`

const initShortDesc string = "Initialize a local .engram/ directory"

type initCommander struct {
	storageDriver string
	sqlitePath    string
	postgresDSN   string
	indexPath     string
	blobRoot      string
	rulesetPath   string
	auditPath     string
}

func NewInitCmd() *cobra.Command {
	cmder := &initCommander{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagStorageDriver, &cmder.storageDriver)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgresDSN, &cmder.postgresDSN)
	config.AddStringFlag(cmd, config.Flags, config.FlagIndexPath, &cmder.indexPath)
	config.AddStringFlag(cmd, config.Flags, config.FlagBlobRoot, &cmder.blobRoot)
	config.AddStringFlag(cmd, config.Flags, config.FlagRuleset, &cmder.rulesetPath)
	config.AddStringFlag(cmd, config.Flags, config.FlagAuditPath, &cmder.auditPath)

	return cmd
}

func (c *initCommander) run(cmd *cobra.Command) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	dir := filepath.Join(cwd, dirName)

	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		fmt.Printf("Already initialized: %s\n", dir)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating .engram directory: %w", err)
		}
		fmt.Printf("Initialized .engram directory: %s\n", dir)
	}

	// Opening and closing the workspace creates the tier files so the first
	// write doesn't pay for it.
	cfg, err := cmdutil.LoadConfig(cmd,
		config.FlagStorageDriver,
		config.FlagSQLite,
		config.FlagPostgresDSN,
		config.FlagIndexPath,
		config.FlagBlobRoot,
		config.FlagRuleset,
		config.FlagAuditPath,
	)
	if err != nil {
		return err
	}
	return cliui.Step(os.Stdout, "materializing storage tiers", func() error {
		ws, err := workspace.Open(cfg, dir, cmdutil.Logger(cmd))
		if err != nil {
			return err
		}
		return ws.Close()
	})
}
