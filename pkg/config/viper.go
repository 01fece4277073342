package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/corticalco/engram/pkg/dotdir"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the ENGRAM_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (ENGRAM_STORAGE_DRIVER, ENGRAM_AUDIT_PATH, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery via dotdir resolution.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: ENGRAM_STORAGE_SQLITE_PATH, etc.
	v.SetEnvPrefix("ENGRAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of
// truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Storage
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("storage.postgres_dsn", d.Storage.PostgresDSN)
	v.SetDefault("storage.index_path", d.Storage.IndexPath)
	v.SetDefault("storage.blob_root", d.Storage.BlobRoot)

	// Policy
	v.SetDefault("policy.ruleset_path", d.Policy.RulesetPath)
	v.SetDefault("policy.watch", d.Policy.Watch)

	// Audit
	v.SetDefault("audit.path", d.Audit.Path)
	v.SetDefault("audit.preview_len", d.Audit.PreviewLen)

	// Workspace
	v.SetDefault("workspace.default_lobe", d.Workspace.DefaultLobe)
	v.SetDefault("workspace.canonical_path", d.Workspace.CanonicalPath)
	v.SetDefault("workspace.max_trace_depth", d.Workspace.MaxTraceDepth)
}

// FromViper materializes a Config from the resolved viper state, honoring
// the full precedence chain (flag > env > config file > default).
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Version: v.GetInt("version"),
		Storage: StorageConfig{
			Driver:      v.GetString("storage.driver"),
			SQLitePath:  v.GetString("storage.sqlite_path"),
			PostgresDSN: v.GetString("storage.postgres_dsn"),
			IndexPath:   v.GetString("storage.index_path"),
			BlobRoot:    v.GetString("storage.blob_root"),
		},
		Policy: PolicyConfig{
			RulesetPath: v.GetString("policy.ruleset_path"),
			Watch:       v.GetBool("policy.watch"),
		},
		Audit: AuditConfig{
			Path:       v.GetString("audit.path"),
			PreviewLen: v.GetInt("audit.preview_len"),
		},
		Workspace: WorkspaceConfig{
			DefaultLobe:   v.GetString("workspace.default_lobe"),
			CanonicalPath: v.GetString("workspace.canonical_path"),
			MaxTraceDepth: v.GetInt("workspace.max_trace_depth"),
		},
	}
}
