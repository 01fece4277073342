// Package workspace is the operation surface of the memory substrate. It
// coordinates the policy gate, the three storage tiers and the audit log so
// that callers see single atomic operations: gated writes, path sprouting,
// fast-forward consolidation, bounded traces and cross-tier recall.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/corticalco/engram/pkg/audit"
	"github.com/corticalco/engram/pkg/cas"
	"github.com/corticalco/engram/pkg/engram"
	"github.com/corticalco/engram/pkg/index"
	"github.com/corticalco/engram/pkg/policy"
	"github.com/corticalco/engram/pkg/recall"
	"github.com/corticalco/engram/pkg/storage"
)

// Gate categories passed to the policy engine.
const (
	PurposeMemoryStorage = "memory_storage"
	PurposePathAppend    = "path_append"
)

// streamPrefix namespaces the internal per-lobe write streams so they can
// never collide with user-sprouted path names (normalization strips "/").
const streamPrefix = "ns/"

// writeRetries bounds the internal compare-and-swap retry loop for per-lobe
// stream heads. Explicit path appends never retry; their conflicts surface.
const writeRetries = 4

// Options carries the dependencies and tunables for a Workspace.
type Options struct {
	Graph  storage.Driver
	Index  index.Driver
	Blobs  *cas.Store
	Engine *policy.Engine
	Audit  *audit.Log
	Logger *slog.Logger

	// DefaultLobe receives writes with no explicit lobe.
	DefaultLobe string

	// CanonicalPath is the reserved consolidated history path.
	CanonicalPath string

	// MaxTraceDepth bounds every ancestry walk.
	MaxTraceDepth int
}

// Workspace executes the memory operations against a concrete set of tiers.
// A workspace assumes single-writer discipline per path; cross-process
// interleavings are still linearized by the head compare-and-swap.
type Workspace struct {
	graph   storage.Driver
	index   index.Driver
	blobs   *cas.Store
	engine  *policy.Engine
	auditor *audit.Log
	recall  *recall.Resolver
	log     *slog.Logger

	defaultLobe   string
	canonicalPath string
	maxTraceDepth int

	// rulesetPath is set when the workspace was opened from config and
	// enables WatchRuleset.
	rulesetPath string
}

// New wires a Workspace from explicit dependencies. Missing tunables fall
// back to the package defaults ("general", "cortex", 10000).
func New(opts Options) (*Workspace, error) {
	switch {
	case opts.Graph == nil:
		return nil, errors.New("workspace: graph driver is required")
	case opts.Index == nil:
		return nil, errors.New("workspace: index driver is required")
	case opts.Blobs == nil:
		return nil, errors.New("workspace: blob store is required")
	case opts.Engine == nil:
		return nil, errors.New("workspace: policy engine is required")
	case opts.Audit == nil:
		return nil, errors.New("workspace: audit log is required")
	}

	w := &Workspace{
		graph:         opts.Graph,
		index:         opts.Index,
		blobs:         opts.Blobs,
		engine:        opts.Engine,
		auditor:       opts.Audit,
		recall:        recall.NewResolver(opts.Index, opts.Blobs, opts.Graph),
		log:           opts.Logger,
		defaultLobe:   opts.DefaultLobe,
		canonicalPath: opts.CanonicalPath,
		maxTraceDepth: opts.MaxTraceDepth,
	}
	if w.log == nil {
		w.log = slog.New(slog.DiscardHandler)
	}
	if w.defaultLobe == "" {
		w.defaultLobe = "general"
	}
	if w.canonicalPath == "" {
		w.canonicalPath = "cortex"
	}
	if w.maxTraceDepth <= 0 {
		w.maxTraceDepth = 10_000
	}
	return w, nil
}

// Close releases the underlying drivers.
func (w *Workspace) Close() error {
	return errors.Join(w.graph.Close(), w.index.Close())
}

// AuditLog exposes the audit log for query and stats commands.
func (w *Workspace) AuditLog() *audit.Log {
	return w.auditor
}

// CanonicalPath returns the reserved consolidated history name.
func (w *Workspace) CanonicalPath() string {
	return w.canonicalPath
}

// DefaultLobe returns the lobe used when writes supply none.
func (w *Workspace) DefaultLobe() string {
	return w.defaultLobe
}

// Write gates the payload through the policy engine and, if allowed, commits
// a new record to all three tiers and advances the per-lobe stream head. A
// blocked write persists nothing and returns policy.BlockedError carrying
// the full decision; the decision itself is always audit-logged.
func (w *Workspace) Write(ctx context.Context, lobe string, payload []byte, metas ...engram.Meta) (string, error) {
	if lobe == "" {
		lobe = w.defaultLobe
	}

	decision := w.engine.Evaluate(string(payload), PurposeMemoryStorage)
	if _, err := w.auditor.Decision(decision, string(payload)); err != nil {
		return "", fmt.Errorf("recording decision: %w", err)
	}
	if decision.Outcome == policy.OutcomeBlock {
		w.log.Warn("write blocked", "lobe", lobe, "code", decision.Code)
		return "", &policy.BlockedError{Decision: decision}
	}

	stream := streamPrefix + lobe
	for attempt := 0; ; attempt++ {
		var parent *string
		head, err := w.graph.Head(ctx, stream)
		switch {
		case err == nil:
			parent = &head.CID
		case isPathMiss(err):
			// First write to this lobe seeds the stream.
		default:
			return "", err
		}

		rec := engram.NewWithParentCID(lobe, payload, parent, metas...)
		if err := w.commit(ctx, rec); err != nil {
			return "", err
		}

		if parent == nil {
			err = w.graph.SeedHead(ctx, stream, rec.CID)
		} else {
			err = w.graph.AdvanceHead(ctx, stream, *parent, rec.CID)
		}
		if err == nil {
			detail := strings.Join(decision.Constraints, "; ")
			if _, err := w.auditor.Mutation(audit.ActionWrite, stream, rec.CID, deref(parent), decision.Outcome, detail); err != nil {
				return "", fmt.Errorf("recording mutation: %w", err)
			}
			w.log.Debug("record written", "cid", rec.CID, "lobe", lobe)
			return rec.CID, nil
		}

		w.rollback(ctx, rec.CID)
		var conflict *storage.ConflictError
		if !errors.As(err, &conflict) || attempt >= writeRetries {
			return "", err
		}
		// Lost the stream-head race; re-read the head and rebuild the record
		// on the new parent.
	}
}

// Ruleset returns the rule set the policy engine currently holds. The
// pointer changes when WatchRuleset applies a reload.
func (w *Workspace) Ruleset() *policy.RuleSet {
	return w.engine.RuleSet()
}

// EvaluatePolicy runs the policy engine without mutating any tier. The
// decision is still audit-logged, like every evaluation. An empty category
// defaults to the storage gate.
func (w *Workspace) EvaluatePolicy(text, category string) (*policy.Decision, error) {
	if category == "" {
		category = PurposeMemoryStorage
	}
	decision := w.engine.Evaluate(text, category)
	if _, err := w.auditor.Decision(decision, text); err != nil {
		return nil, fmt.Errorf("recording decision: %w", err)
	}
	return decision, nil
}

// Read recalls one record id against the preferred tier (auto walks
// fast, blob, graph).
func (w *Workspace) Read(ctx context.Context, id string, prefer recall.Prefer) (*recall.Result, error) {
	return w.recall.Recall(ctx, id, prefer)
}

// ReadMany recalls a batch, preserving input order. Individual misses are
// reported in their Result; the batch never aborts.
func (w *Workspace) ReadMany(ctx context.Context, ids []string, prefer recall.Prefer) []*recall.Result {
	return w.recall.RecallMany(ctx, ids, prefer)
}

// Recent returns up to n record ids in a lobe, newest first, served from the
// fast index. An empty lobe matches all lobes.
func (w *Workspace) Recent(ctx context.Context, lobe string, n int) ([]string, error) {
	return w.index.Recent(ctx, lobe, n)
}

// Stats aggregates counters across the tiers and the audit log.
type Stats struct {
	Index       *index.Stats   `json:"index"`
	GraphTotal  int            `json:"graph_total"`
	GraphByLobe map[string]int `json:"graph_by_lobe"`
	Paths       int            `json:"paths"`
	Audit       *audit.Stats   `json:"audit"`
}

// Stats reports record counts per tier, path count and audit totals,
// optionally scoped to one lobe for the index portion.
func (w *Workspace) Stats(ctx context.Context, lobe string) (*Stats, error) {
	idxStats, err := w.index.Stats(ctx, lobe)
	if err != nil {
		return nil, err
	}
	total, byLobe, err := w.graph.LobeStats(ctx)
	if err != nil {
		return nil, err
	}
	heads, err := w.graph.Heads(ctx)
	if err != nil {
		return nil, err
	}
	auditStats, err := w.auditor.Stats()
	if err != nil {
		return nil, err
	}
	return &Stats{
		Index:       idxStats,
		GraphTotal:  total,
		GraphByLobe: byLobe,
		Paths:       len(heads),
		Audit:       auditStats,
	}, nil
}

// Heads lists every known path head.
func (w *Workspace) Heads(ctx context.Context) ([]*storage.Head, error) {
	return w.graph.Heads(ctx)
}

// Head returns the head of one path by its (normalized) name.
func (w *Workspace) Head(ctx context.Context, name string) (*storage.Head, error) {
	n := policy.NormalizePathName(name)
	if n == "" {
		return nil, &InvalidPathError{Name: name}
	}
	return w.graph.Head(ctx, n)
}

// Sprout creates a named path rooted at a base record. The base may be a
// record digest, another path name (its head is used), or empty, in which
// case the canonical head is preferred, then the newest record in the given
// lobe, then a freshly committed genesis record in that lobe. An empty lobe
// falls back to the workspace default. Sprouting an existing path is
// idempotent and returns the stored head unchanged.
func (w *Workspace) Sprout(ctx context.Context, name, base, lobe string) (*storage.Head, error) {
	n := policy.NormalizePathName(name)
	if n == "" || n == w.canonicalPath || strings.HasPrefix(name, streamPrefix) {
		return nil, &InvalidPathError{Name: name}
	}

	if head, err := w.graph.Head(ctx, n); err == nil {
		return head, nil
	} else if !isPathMiss(err) {
		return nil, err
	}

	baseCID, err := w.resolveBase(ctx, base, lobe)
	if err != nil {
		return nil, err
	}

	if err := w.graph.SeedHead(ctx, n, baseCID); err != nil {
		var conflict *storage.ConflictError
		if errors.As(err, &conflict) {
			// Another caller sprouted the path between our miss and the
			// seed; return their head, same as the idempotent case above.
			return w.graph.Head(ctx, n)
		}
		return nil, err
	}
	if _, err := w.auditor.Mutation(audit.ActionSprout, n, baseCID, "", "ok", ""); err != nil {
		return nil, fmt.Errorf("recording mutation: %w", err)
	}
	w.log.Debug("path sprouted", "path", n, "base", baseCID)
	return &storage.Head{Name: n, CID: baseCID, Base: baseCID}, nil
}

// resolveBase turns the caller's base reference into a record digest that is
// guaranteed to exist in the graph tier.
func (w *Workspace) resolveBase(ctx context.Context, base, lobe string) (string, error) {
	if lobe == "" {
		lobe = w.defaultLobe
	}
	if base != "" {
		ok, err := w.graph.Has(ctx, base)
		if err != nil {
			return "", err
		}
		if ok {
			return base, nil
		}
		// Not a known digest; maybe the name of another path.
		if bn := policy.NormalizePathName(base); bn != "" {
			head, err := w.graph.Head(ctx, bn)
			if err == nil {
				return head.CID, nil
			}
			if !isPathMiss(err) {
				return "", err
			}
		}
		return "", &storage.NotFoundError{CID: base}
	}

	if head, err := w.graph.Head(ctx, w.canonicalPath); err == nil {
		return head.CID, nil
	} else if !isPathMiss(err) {
		return "", err
	}

	recent, err := w.graph.Recent(ctx, lobe, 1)
	if err != nil {
		return "", err
	}
	if len(recent) > 0 {
		return recent[0], nil
	}

	// Empty substrate: seed a genesis record so the path has a root.
	rec := engram.New(lobe, []byte("genesis"), nil, engram.Meta{Key: "genesis"})
	if err := w.commit(ctx, rec); err != nil {
		return "", err
	}
	return rec.CID, nil
}

// Append gates the payload and commits a record whose parent is the current
// head of the named path, then advances the head as a compare-and-swap. A
// lost race rolls the record back and surfaces storage.ConflictError; the
// caller decides whether to retry.
func (w *Workspace) Append(ctx context.Context, name string, payload []byte, metas ...engram.Meta) (string, error) {
	n := policy.NormalizePathName(name)
	if n == "" {
		return "", &InvalidPathError{Name: name}
	}

	head, err := w.graph.Head(ctx, n)
	if err != nil {
		return "", err
	}

	decision := w.engine.Evaluate(string(payload), PurposePathAppend)
	if _, err := w.auditor.Decision(decision, string(payload)); err != nil {
		return "", fmt.Errorf("recording decision: %w", err)
	}
	if decision.Outcome == policy.OutcomeBlock {
		w.log.Warn("append blocked", "path", n, "code", decision.Code)
		return "", &policy.BlockedError{Decision: decision}
	}

	parentRec, err := w.graph.Get(ctx, head.CID)
	if err != nil {
		return "", err
	}

	rec := engram.NewWithParentCID(parentRec.Lobe, payload, &head.CID, metas...)
	if err := w.commit(ctx, rec); err != nil {
		return "", err
	}
	if err := w.graph.AdvanceHead(ctx, n, head.CID, rec.CID); err != nil {
		w.rollback(ctx, rec.CID)
		return "", err
	}

	detail := strings.Join(decision.Constraints, "; ")
	if _, err := w.auditor.Mutation(audit.ActionAppend, n, rec.CID, head.CID, decision.Outcome, detail); err != nil {
		return "", fmt.Errorf("recording mutation: %w", err)
	}
	w.log.Debug("record appended", "path", n, "cid", rec.CID)
	return rec.CID, nil
}

// Consolidate fast-forwards the destination path (default: the canonical
// path) onto the head of the source path. If the destination does not exist
// it is seeded at the source head. Diverged histories are rejected with
// NonFastForwardError and leave the destination untouched; the rejection is
// audit-logged.
func (w *Workspace) Consolidate(ctx context.Context, src, dst string) (*storage.Head, error) {
	head, prev, err := w.fastForward(ctx, src, dst)
	if err != nil {
		var nff *NonFastForwardError
		if errors.As(err, &nff) {
			if _, aerr := w.auditor.Mutation(audit.ActionConsolidateRejected, nff.Dst, nff.SrcHead, nff.DstHead, "rejected", "histories diverge"); aerr != nil {
				return nil, fmt.Errorf("recording mutation: %w", aerr)
			}
		}
		return nil, err
	}
	if prev == head.CID {
		// Already up to date; not a mutation.
		return head, nil
	}
	if _, err := w.auditor.Mutation(audit.ActionConsolidate, head.Name, head.CID, prev, "ok", "fast-forward from "+policy.NormalizePathName(src)); err != nil {
		return nil, fmt.Errorf("recording mutation: %w", err)
	}
	w.log.Info("path consolidated", "src", src, "dst", head.Name, "head", head.CID)
	return head, nil
}

// Reconsolidate re-runs consolidation for a source path, attaching a note to
// the audit trail. Only fast-forwards are supported; diverged histories
// return ErrMergeUnsupported, and the caller should sprout a fresh path from
// the canonical head instead.
func (w *Workspace) Reconsolidate(ctx context.Context, src, dst, note string) (*storage.Head, error) {
	head, prev, err := w.fastForward(ctx, src, dst)
	if err != nil {
		var nff *NonFastForwardError
		if errors.As(err, &nff) {
			if _, aerr := w.auditor.Mutation(audit.ActionConsolidateRejected, nff.Dst, nff.SrcHead, nff.DstHead, "rejected", note); aerr != nil {
				return nil, fmt.Errorf("recording mutation: %w", aerr)
			}
			return nil, ErrMergeUnsupported
		}
		return nil, err
	}
	if prev == head.CID {
		return head, nil
	}
	if _, err := w.auditor.Mutation(audit.ActionHeadAdvanced, head.Name, head.CID, prev, "ok", note); err != nil {
		return nil, fmt.Errorf("recording mutation: %w", err)
	}
	return head, nil
}

// fastForward moves dst's head to src's head when dst's head is an ancestor
// of src's head (or dst does not exist yet). Returns the resulting head and
// the previous destination digest ("" when freshly seeded).
func (w *Workspace) fastForward(ctx context.Context, src, dst string) (*storage.Head, string, error) {
	ns := policy.NormalizePathName(src)
	if ns == "" {
		return nil, "", &InvalidPathError{Name: src}
	}
	if dst == "" {
		dst = w.canonicalPath
	}
	nd := policy.NormalizePathName(dst)
	if nd == "" {
		return nil, "", &InvalidPathError{Name: dst}
	}

	srcHead, err := w.graph.Head(ctx, ns)
	if err != nil {
		return nil, "", err
	}

	dstHead, err := w.graph.Head(ctx, nd)
	if isPathMiss(err) {
		// A lost seed race surfaces as ConflictError; the caller retries.
		if err := w.graph.SeedHead(ctx, nd, srcHead.CID); err != nil {
			return nil, "", err
		}
		return &storage.Head{Name: nd, CID: srcHead.CID, Base: srcHead.CID}, "", nil
	}
	if err != nil {
		return nil, "", err
	}

	if dstHead.CID == srcHead.CID {
		return dstHead, dstHead.CID, nil
	}

	ok, err := w.graph.IsAncestor(ctx, dstHead.CID, srcHead.CID, w.maxTraceDepth)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", &NonFastForwardError{Src: ns, Dst: nd, SrcHead: srcHead.CID, DstHead: dstHead.CID}
	}

	if err := w.graph.AdvanceHead(ctx, nd, dstHead.CID, srcHead.CID); err != nil {
		return nil, "", err
	}
	return &storage.Head{Name: nd, CID: srcHead.CID, Base: dstHead.Base}, dstHead.CID, nil
}

// TraceEntry is one step of a path trace, newest first.
type TraceEntry struct {
	CID       string    `json:"cid"`
	Timestamp time.Time `json:"timestamp"`
	Lobe      string    `json:"lobe"`
	Key       string    `json:"key,omitempty"`
}

// Trace walks a path's history from its head toward its seed and returns at
// most limit entries, newest first. A non-positive or oversized limit is
// clamped to the configured maximum depth.
func (w *Workspace) Trace(ctx context.Context, name string, limit int) ([]TraceEntry, error) {
	n := policy.NormalizePathName(name)
	if n == "" {
		return nil, &InvalidPathError{Name: name}
	}
	head, err := w.graph.Head(ctx, n)
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > w.maxTraceDepth {
		limit = w.maxTraceDepth
	}
	dag, err := engram.LoadDag(ctx, w.graph, head.CID, limit)
	if err != nil {
		return nil, err
	}

	nodes := dag.Ancestors(head.CID)
	entries := make([]TraceEntry, 0, len(nodes))
	for _, node := range nodes {
		entries = append(entries, TraceEntry{
			CID:       node.CID,
			Timestamp: node.CreatedAt,
			Lobe:      node.Lobe,
			Key:       node.Key,
		})
	}
	return entries, nil
}

// LatestOnPath returns the full record at a path's head.
func (w *Workspace) LatestOnPath(ctx context.Context, name string) (*engram.Engram, error) {
	n := policy.NormalizePathName(name)
	if n == "" {
		return nil, &InvalidPathError{Name: name}
	}
	head, err := w.graph.Head(ctx, n)
	if err != nil {
		return nil, err
	}
	return w.graph.Get(ctx, head.CID)
}

// Citation locates one record in one tier.
type Citation struct {
	CID  string `json:"cid"`
	Tier string `json:"tier"`
}

// CiteSources reports which tiers hold a record, or every record on a path's
// history when ref names a path. An unknown ref returns
// storage.NotFoundError.
func (w *Workspace) CiteSources(ctx context.Context, ref string) ([]Citation, error) {
	tiers, err := w.recall.Cite(ctx, ref)
	if err != nil {
		return nil, err
	}
	if len(tiers) > 0 {
		return citations(ref, tiers), nil
	}

	n := policy.NormalizePathName(ref)
	if n == "" {
		return nil, &storage.NotFoundError{CID: ref}
	}
	head, err := w.graph.Head(ctx, n)
	if err != nil {
		if isPathMiss(err) {
			return nil, &storage.NotFoundError{CID: ref}
		}
		return nil, err
	}
	dag, err := engram.LoadDag(ctx, w.graph, head.CID, w.maxTraceDepth)
	if err != nil {
		return nil, err
	}

	var out []Citation
	walkErr := dag.Walk(func(node *engram.Node) (bool, error) {
		tiers, err := w.recall.Cite(ctx, node.CID)
		if err != nil {
			return false, err
		}
		out = append(out, citations(node.CID, tiers)...)
		return true, nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return out, nil
}

// IntegrityReport records which tiers answered their probe.
type IntegrityReport struct {
	FastIndexPresent bool     `json:"fast_index_present"`
	BlobStorePresent bool     `json:"blob_store_present"`
	GraphPresent     bool     `json:"graph_present"`
	AuditLogPresent  bool     `json:"audit_log_present"`
	Problems         []string `json:"problems,omitempty"`
}

// Healthy reports whether every tier answered.
func (r *IntegrityReport) Healthy() bool {
	return r.FastIndexPresent && r.BlobStorePresent && r.GraphPresent && r.AuditLogPresent
}

// IntegrityCheck probes each tier and the audit log independently. Probe
// failures are collected, never fatal: a degraded substrate still reports.
func (w *Workspace) IntegrityCheck(ctx context.Context) *IntegrityReport {
	report := &IntegrityReport{}

	if _, err := w.index.Stats(ctx, ""); err != nil {
		report.Problems = append(report.Problems, fmt.Sprintf("fast index: %v", err))
	} else {
		report.FastIndexPresent = true
	}
	if _, err := w.blobs.List(); err != nil {
		report.Problems = append(report.Problems, fmt.Sprintf("blob store: %v", err))
	} else {
		report.BlobStorePresent = true
	}
	if _, _, err := w.graph.LobeStats(ctx); err != nil {
		report.Problems = append(report.Problems, fmt.Sprintf("graph: %v", err))
	} else {
		report.GraphPresent = true
	}
	if _, err := w.auditor.Stats(); err != nil {
		report.Problems = append(report.Problems, fmt.Sprintf("audit log: %v", err))
	} else {
		report.AuditLogPresent = true
	}
	return report
}

// VerifyRecord cross-checks a record's payload bytes across every tier that
// holds it.
func (w *Workspace) VerifyRecord(ctx context.Context, id string) error {
	return w.recall.Verify(ctx, id)
}

// commit writes a record to the blob and graph tiers, then replicates it
// into the fast index. An index failure rolls the graph insert back so no
// partially committed record is observable.
func (w *Workspace) commit(ctx context.Context, rec *engram.Engram) error {
	if _, err := w.blobs.Put(rec.CoreBytes()); err != nil {
		return fmt.Errorf("blob tier: %w", err)
	}
	if _, err := w.graph.Put(ctx, rec); err != nil {
		return fmt.Errorf("graph tier: %w", err)
	}
	if err := w.index.Put(ctx, rec, true); err != nil {
		_ = w.graph.Delete(ctx, rec.CID)
		return fmt.Errorf("fast index: %w", err)
	}
	return nil
}

// rollback removes a record from the mutable tiers after a failed head
// update. The blob is content-addressed and harmless to leave behind.
func (w *Workspace) rollback(ctx context.Context, cid string) {
	if err := w.index.Delete(ctx, cid); err != nil {
		w.log.Warn("rollback: index delete failed", "cid", cid, "error", err)
	}
	if err := w.graph.Delete(ctx, cid); err != nil {
		w.log.Warn("rollback: graph delete failed", "cid", cid, "error", err)
	}
}

func citations(cid string, tiers []string) []Citation {
	out := make([]Citation, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, Citation{CID: cid, Tier: t})
	}
	return out
}

func isPathMiss(err error) bool {
	var miss *storage.PathNotFoundError
	return errors.As(err, &miss)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
