// Package configcmder provides the config command for managing persistent
// engram configuration stored in the .engram/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent engram configuration.

Configuration is stored as config.toml in the .engram/ directory and provides
default values for command flags. CLI flags always take precedence over
config file values, and ENGRAM_* environment variables sit between the two.

Keys use dotted notation matching the TOML section structure:
  storage.driver, storage.sqlite_path, storage.postgres_dsn,
  storage.index_path, storage.blob_root,
  policy.ruleset_path, policy.watch,
  audit.path, audit.preview_len,
  workspace.default_lobe, workspace.canonical_path, workspace.max_trace_depth

Use subcommands to get, set, or list configuration values:
  engram config set <key> <value>    Set a configuration value
  engram config get <key>            Get a configuration value
  engram config list                 List all configuration values

Examples:
  engram config set storage.driver postgres
  engram config set workspace.default_lobe observations
  engram config get policy.ruleset_path
  engram config list`

const configShortDesc string = "Manage persistent engram configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
