package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline. This prevents flag drift
// when the same logical flag appears on multiple commands (e.g., --lobe on
// "engram write", "engram recent" and "engram branch").
type Flag struct {
	// Name is the long flag name (e.g. "lobe").
	Name string

	// Shorthand is the one-letter short flag (e.g. "l"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g.
	// "workspace.default_lobe"). Empty for flags that don't map to config.
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling AddStringFlag, AddIntFlag, AddBoolFlag
// and BindRegisteredFlags to avoid typos or drift from one command to
// another.
const (
	FlagStorageDriver = "storage-driver"
	FlagSQLite        = "sqlite"
	FlagPostgresDSN   = "postgres-dsn"
	FlagIndexPath     = "index-path"
	FlagBlobRoot      = "blob-root"
	FlagRuleset       = "ruleset"
	FlagWatch         = "watch"
	FlagAuditPath     = "audit-path"
	FlagLobe          = "lobe"
	FlagCanonicalPath = "canonical-path"
	FlagMaxDepth      = "max-depth"
)

// Flags is the shared registry used by the engram subcommands.
var Flags = FlagSet{
	FlagStorageDriver: {
		Name:        "storage-driver",
		ViperKey:    "storage.driver",
		Description: "graph tier backend (sqlite, postgres, inmemory)",
	},
	FlagSQLite: {
		Name:        "sqlite",
		ViperKey:    "storage.sqlite_path",
		Description: "path to the graph tier SQLite database",
	},
	FlagPostgresDSN: {
		Name:        "postgres-dsn",
		ViperKey:    "storage.postgres_dsn",
		Description: "PostgreSQL connection string for the graph tier",
	},
	FlagIndexPath: {
		Name:        "index-path",
		ViperKey:    "storage.index_path",
		Description: "path to the fast lookup index database",
	},
	FlagBlobRoot: {
		Name:        "blob-root",
		ViperKey:    "storage.blob_root",
		Description: "directory holding the content-addressed blob area",
	},
	FlagRuleset: {
		Name:        "ruleset",
		ViperKey:    "policy.ruleset_path",
		Description: "path to the policy rule-set TOML artifact",
	},
	FlagWatch: {
		Name:        "watch",
		ViperKey:    "policy.watch",
		Description: "hot-reload the rule set when the file changes",
	},
	FlagAuditPath: {
		Name:        "audit-path",
		ViperKey:    "audit.path",
		Description: "path to the append-only audit JSONL file",
	},
	FlagLobe: {
		Name:        "lobe",
		Shorthand:   "l",
		ViperKey:    "workspace.default_lobe",
		Description: "lobe (namespace) for the operation",
	},
	FlagCanonicalPath: {
		Name:        "canonical-path",
		ViperKey:    "workspace.canonical_path",
		Description: "name of the canonical consolidated path",
	},
	FlagMaxDepth: {
		Name:        "max-depth",
		ViperKey:    "workspace.max_trace_depth",
		Description: "maximum ancestry depth for traces and walks",
	},
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddIntFlag registers an int flag on cmd from the given FlagSet.
func AddIntFlag(cmd *cobra.Command, fs FlagSet, key string, target *int) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultInt(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().IntVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().IntVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddBoolFlag registers a bool flag on cmd from the given FlagSet.
func AddBoolFlag(cmd *cobra.Command, fs FlagSet, key string, target *bool) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultBool(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().BoolVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().BoolVar(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using
// definitions from the given FlagSet. Call this in PreRunE after InitViper
// to connect flags to the viper precedence chain (flag > env > config file >
// default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok || def.ViperKey == "" {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

// defaultString returns the default string value for a viper key from
// NewDefaultConfig.
func defaultString(viperKey string) string {
	v := viper.New()
	setViperDefaults(v)
	return v.GetString(viperKey)
}

// defaultInt returns the default int value for a viper key from
// NewDefaultConfig.
func defaultInt(viperKey string) int {
	v := viper.New()
	setViperDefaults(v)
	return v.GetInt(viperKey)
}

// defaultBool returns the default bool value for a viper key from
// NewDefaultConfig.
func defaultBool(viperKey string) bool {
	v := viper.New()
	setViperDefaults(v)
	return v.GetBool(viperKey)
}
