package config

import (
	"fmt"
	"strconv"
)

// Config represents the persistent engram configuration stored as config.toml
// in the .engram/ directory. The TOML layout uses sections for logical
// grouping.
type Config struct {
	Version   int             `toml:"version"`
	Storage   StorageConfig   `toml:"storage"`
	Policy    PolicyConfig    `toml:"policy"`
	Audit     AuditConfig     `toml:"audit"`
	Workspace WorkspaceConfig `toml:"workspace"`
}

// StorageConfig selects and configures the three storage tiers.
type StorageConfig struct {
	// Driver picks the graph backend: sqlite, postgres or inmemory.
	Driver string `toml:"driver,omitempty"`

	// SQLitePath is the graph database file (sqlite driver). Empty means
	// <dotdir>/graph.sqlite.
	SQLitePath string `toml:"sqlite_path,omitempty"`

	// PostgresDSN is the pgx connection string (postgres driver).
	PostgresDSN string `toml:"postgres_dsn,omitempty"`

	// IndexPath is the fast lookup index file. Empty means
	// <dotdir>/index.sqlite.
	IndexPath string `toml:"index_path,omitempty"`

	// BlobRoot is the directory holding the content-addressed blob area.
	// Empty means the dotdir itself (blobs live in <dotdir>/blobs/).
	BlobRoot string `toml:"blob_root,omitempty"`
}

// PolicyConfig configures the decision engine.
type PolicyConfig struct {
	// RulesetPath is the TOML rule-set artifact. Empty means
	// <dotdir>/policy/ruleset.toml.
	RulesetPath string `toml:"ruleset_path,omitempty"`

	// Watch enables hot reload of the rule set on file change.
	Watch bool `toml:"watch,omitempty"`
}

// AuditConfig configures the provenance log.
type AuditConfig struct {
	// Path is the JSONL audit file. Empty means <dotdir>/logbook/audit.jsonl.
	Path string `toml:"path,omitempty"`

	// PreviewLen caps the redacted input preview on decision entries.
	PreviewLen int `toml:"preview_len,omitempty"`
}

// WorkspaceConfig configures operation-surface defaults.
type WorkspaceConfig struct {
	// DefaultLobe receives writes with no explicit lobe, and seeds sprouted
	// paths when nothing else resolves.
	DefaultLobe string `toml:"default_lobe,omitempty"`

	// CanonicalPath is the reserved consolidated history ("cortex").
	CanonicalPath string `toml:"canonical_path,omitempty"`

	// MaxTraceDepth bounds ancestry walks and traces.
	MaxTraceDepth int `toml:"max_trace_depth,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on
// *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.driver": {
		get: func(c *Config) string { return c.Storage.Driver },
		set: func(c *Config, v string) error { c.Storage.Driver = v; return nil },
	},
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"storage.postgres_dsn": {
		get: func(c *Config) string { return c.Storage.PostgresDSN },
		set: func(c *Config, v string) error { c.Storage.PostgresDSN = v; return nil },
	},
	"storage.index_path": {
		get: func(c *Config) string { return c.Storage.IndexPath },
		set: func(c *Config, v string) error { c.Storage.IndexPath = v; return nil },
	},
	"storage.blob_root": {
		get: func(c *Config) string { return c.Storage.BlobRoot },
		set: func(c *Config, v string) error { c.Storage.BlobRoot = v; return nil },
	},
	"policy.ruleset_path": {
		get: func(c *Config) string { return c.Policy.RulesetPath },
		set: func(c *Config, v string) error { c.Policy.RulesetPath = v; return nil },
	},
	"policy.watch": {
		get: func(c *Config) string { return strconv.FormatBool(c.Policy.Watch) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for policy.watch: %w", err)
			}
			c.Policy.Watch = b
			return nil
		},
	},
	"audit.path": {
		get: func(c *Config) string { return c.Audit.Path },
		set: func(c *Config, v string) error { c.Audit.Path = v; return nil },
	},
	"audit.preview_len": {
		get: func(c *Config) string { return strconv.Itoa(c.Audit.PreviewLen) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for audit.preview_len: %w", err)
			}
			c.Audit.PreviewLen = n
			return nil
		},
	},
	"workspace.default_lobe": {
		get: func(c *Config) string { return c.Workspace.DefaultLobe },
		set: func(c *Config, v string) error { c.Workspace.DefaultLobe = v; return nil },
	},
	"workspace.canonical_path": {
		get: func(c *Config) string { return c.Workspace.CanonicalPath },
		set: func(c *Config, v string) error { c.Workspace.CanonicalPath = v; return nil },
	},
	"workspace.max_trace_depth": {
		get: func(c *Config) string { return strconv.Itoa(c.Workspace.MaxTraceDepth) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for workspace.max_trace_depth: %w", err)
			}
			c.Workspace.MaxTraceDepth = n
			return nil
		},
	},
}
