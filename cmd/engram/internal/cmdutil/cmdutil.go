// Package cmdutil holds the plumbing shared by the engram subcommands:
// resolving flags through viper, building the logger and opening the
// workspace tiers.
package cmdutil

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/corticalco/engram/pkg/config"
	"github.com/corticalco/engram/pkg/logger"
	"github.com/corticalco/engram/pkg/workspace"
)

// Logger builds the CLI logger from the global --debug flag.
func Logger(cmd *cobra.Command) *slog.Logger {
	debug, _ := cmd.Flags().GetBool("debug")
	return logger.New(logger.WithPretty(true), logger.WithDebug(debug))
}

// LoadConfig resolves the effective configuration for a command: defaults,
// then config.toml, then ENGRAM_* environment variables, then any of the
// command's flags named in bindKeys.
func LoadConfig(cmd *cobra.Command, bindKeys ...string) (*config.Config, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")

	v, err := config.InitViper(configDir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	config.BindRegisteredFlags(v, cmd, config.Flags, bindKeys)

	return config.FromViper(v), nil
}

// Workspace opens the workspace tiers for a command. The caller owns the
// returned workspace and must Close it.
func Workspace(cmd *cobra.Command, bindKeys ...string) (*workspace.Workspace, error) {
	cfg, err := LoadConfig(cmd, bindKeys...)
	if err != nil {
		return nil, err
	}

	configDir, _ := cmd.Flags().GetString("config-dir")
	ws, err := workspace.OpenAt(configDir, cfg, Logger(cmd))
	if err != nil {
		return nil, fmt.Errorf("opening workspace: %w", err)
	}
	return ws, nil
}

// ConfigDir returns the --config-dir override, if any.
func ConfigDir(cmd *cobra.Command) string {
	dir, _ := cmd.Flags().GetString("config-dir")
	return dir
}
