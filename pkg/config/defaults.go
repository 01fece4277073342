package config

const (
	defaultStorageDriver = "sqlite"

	defaultDefaultLobe   = "general"
	defaultCanonicalPath = "cortex"
	defaultMaxTraceDepth = 10_000

	defaultAuditPreviewLen = 120
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values. Path fields default
// to empty, meaning "resolve inside the .engram/ directory".
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Driver: defaultStorageDriver,
		},
		Policy: PolicyConfig{
			Watch: false,
		},
		Audit: AuditConfig{
			PreviewLen: defaultAuditPreviewLen,
		},
		Workspace: WorkspaceConfig{
			DefaultLobe:   defaultDefaultLobe,
			CanonicalPath: defaultCanonicalPath,
			MaxTraceDepth: defaultMaxTraceDepth,
		},
	}
}
