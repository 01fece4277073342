package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/corticalco/engram/pkg/audit"
	"github.com/corticalco/engram/pkg/cas"
	"github.com/corticalco/engram/pkg/config"
	"github.com/corticalco/engram/pkg/dotdir"
	"github.com/corticalco/engram/pkg/index"
	"github.com/corticalco/engram/pkg/policy"
	"github.com/corticalco/engram/pkg/storage"
	"github.com/corticalco/engram/pkg/storage/inmemory"
	"github.com/corticalco/engram/pkg/storage/postgres"
	"github.com/corticalco/engram/pkg/storage/sqlite"
)

// Default filenames inside the .engram/ directory. Config path fields
// override them individually.
const (
	graphDBName   = "graph.sqlite"
	indexDBName   = "index.sqlite"
	rulesetName   = "policy/ruleset.toml"
	auditFileName = "logbook/audit.jsonl"
)

// Open builds a Workspace from configuration, materializing every tier under
// the resolved .engram/ directory. Empty path fields resolve inside root.
// The default rule set is written on first open, then loaded, so the policy
// artifact is always inspectable on disk.
func Open(cfg *config.Config, root string, log *slog.Logger) (*Workspace, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	graph, err := openGraph(cfg, root)
	if err != nil {
		return nil, err
	}

	indexPath := cfg.Storage.IndexPath
	if indexPath == "" {
		indexPath = filepath.Join(root, indexDBName)
	}
	idx, err := index.NewSQLite(indexPath)
	if err != nil {
		graph.Close()
		return nil, fmt.Errorf("opening fast index: %w", err)
	}

	blobRoot := cfg.Storage.BlobRoot
	if blobRoot == "" {
		blobRoot = root
	}
	blobs, err := cas.New(blobRoot)
	if err != nil {
		graph.Close()
		idx.Close()
		return nil, fmt.Errorf("opening blob store: %w", err)
	}

	rulesetPath := cfg.Policy.RulesetPath
	if rulesetPath == "" {
		rulesetPath = filepath.Join(root, rulesetName)
	}
	if _, err := policy.WriteDefault(rulesetPath); err != nil {
		graph.Close()
		idx.Close()
		return nil, err
	}
	rs, err := policy.Load(rulesetPath)
	if err != nil {
		graph.Close()
		idx.Close()
		return nil, err
	}
	engine := policy.NewEngine(rs)

	auditPath := cfg.Audit.Path
	if auditPath == "" {
		auditPath = filepath.Join(root, auditFileName)
	}
	auditor, err := audit.New(auditPath, audit.WithPreviewLen(cfg.Audit.PreviewLen))
	if err != nil {
		graph.Close()
		idx.Close()
		return nil, err
	}

	w, err := New(Options{
		Graph:         graph,
		Index:         idx,
		Blobs:         blobs,
		Engine:        engine,
		Audit:         auditor,
		Logger:        log,
		DefaultLobe:   cfg.Workspace.DefaultLobe,
		CanonicalPath: cfg.Workspace.CanonicalPath,
		MaxTraceDepth: cfg.Workspace.MaxTraceDepth,
	})
	if err != nil {
		graph.Close()
		idx.Close()
		return nil, err
	}
	w.rulesetPath = rulesetPath
	return w, nil
}

func openGraph(cfg *config.Config, root string) (storage.Driver, error) {
	switch cfg.Storage.Driver {
	case "", "sqlite":
		path := cfg.Storage.SQLitePath
		if path == "" {
			path = filepath.Join(root, graphDBName)
		}
		d, err := sqlite.New(path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite graph: %w", err)
		}
		return d, nil
	case "postgres":
		if cfg.Storage.PostgresDSN == "" {
			return nil, errors.New("storage.postgres_dsn is required for the postgres driver")
		}
		d, err := postgres.New(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("opening postgres graph: %w", err)
		}
		return d, nil
	case "inmemory":
		return inmemory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// OpenAt resolves the .engram/ directory (override, then ./.engram, then
// ~/.engram) and opens a Workspace under it.
func OpenAt(overrideDir string, cfg *config.Config, log *slog.Logger) (*Workspace, error) {
	root, err := dotdir.NewManager().Target(overrideDir)
	if err != nil {
		return nil, err
	}
	return Open(cfg, root, log)
}

// WatchRuleset hot-reloads the policy rule set whenever the on-disk artifact
// changes, until the context is cancelled. Only available for workspaces
// built by Open.
func (w *Workspace) WatchRuleset(ctx context.Context) error {
	if w.rulesetPath == "" {
		return errors.New("workspace was not opened from a ruleset file")
	}
	watcher, err := policy.NewWatcher(w.engine, w.rulesetPath, w.log)
	if err != nil {
		return err
	}
	defer watcher.Close()
	return watcher.Run(ctx)
}
