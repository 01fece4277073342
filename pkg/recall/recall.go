// Package recall resolves reads across the three storage tiers with an
// explicit preference or an automatic fallback order.
package recall

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/corticalco/engram/pkg/cas"
	"github.com/corticalco/engram/pkg/engram"
	"github.com/corticalco/engram/pkg/index"
	"github.com/corticalco/engram/pkg/storage"
)

// Prefer selects which tier answers a recall.
type Prefer string

const (
	PreferAuto  Prefer = "auto"
	PreferFast  Prefer = "fast"
	PreferBlob  Prefer = "blob"
	PreferGraph Prefer = "graph"
)

// Tier names reported in results and citations.
const (
	TierFast  = "fast"
	TierBlob  = "blob"
	TierGraph = "graph"
)

// Result is the outcome of recalling one id. Err is set instead of Payload
// when the id missed (used by RecallMany, which never aborts a batch).
type Result struct {
	CID     string `json:"cid"`
	Payload []byte `json:"payload,omitempty"`
	Source  string `json:"source,omitempty"`
	Err     error  `json:"-"`
}

// MismatchError reports tier disagreement for a committed record: the same
// id resolved to different payload bytes in different tiers.
type MismatchError struct {
	CID   string
	Tiers []string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("tier disagreement for %s across %v", e.CID, e.Tiers)
}

// Resolver answers recalls against the fast index, the blob store and the
// graph tier.
type Resolver struct {
	index index.Driver
	blobs *cas.Store
	graph storage.Driver
}

// NewResolver wires the three tiers together.
func NewResolver(idx index.Driver, blobs *cas.Store, graph storage.Driver) *Resolver {
	return &Resolver{index: idx, blobs: blobs, graph: graph}
}

// Recall resolves an id against the preferred tier, or walks fast → blob →
// graph when prefer is auto. Misses on every consulted tier return
// storage.NotFoundError; blob corruption surfaces as cas.IntegrityError.
func (r *Resolver) Recall(ctx context.Context, id string, prefer Prefer) (*Result, error) {
	switch prefer {
	case PreferFast:
		return r.fromFast(ctx, id)
	case PreferBlob:
		return r.fromBlob(id)
	case PreferGraph:
		return r.fromGraph(ctx, id)
	case PreferAuto, "":
		res, err := r.fromFast(ctx, id)
		if err == nil {
			return res, nil
		}
		if !isMiss(err) {
			return nil, err
		}
		res, err = r.fromBlob(id)
		if err == nil {
			return res, nil
		}
		if !isMiss(err) {
			return nil, err
		}
		return r.fromGraph(ctx, id)
	default:
		return nil, fmt.Errorf("unknown recall preference %q", prefer)
	}
}

// RecallMany resolves each id independently, preserving input order. A miss
// produces a Result with Err set; the batch always completes.
func (r *Resolver) RecallMany(ctx context.Context, ids []string, prefer Prefer) []*Result {
	out := make([]*Result, 0, len(ids))
	for _, id := range ids {
		res, err := r.Recall(ctx, id, prefer)
		if err != nil {
			out = append(out, &Result{CID: id, Err: err})
			continue
		}
		out = append(out, res)
	}
	return out
}

// Cite lists which tiers hold an id.
func (r *Resolver) Cite(ctx context.Context, id string) ([]string, error) {
	var tiers []string
	if ok, err := r.index.Has(ctx, id); err != nil {
		return nil, err
	} else if ok {
		tiers = append(tiers, TierFast)
	}
	if ok, err := r.blobs.Has(id); err != nil {
		return nil, err
	} else if ok {
		tiers = append(tiers, TierBlob)
	}
	if ok, err := r.graph.Has(ctx, id); err != nil {
		return nil, err
	} else if ok {
		tiers = append(tiers, TierGraph)
	}
	return tiers, nil
}

// Verify cross-checks payload bytes across every tier that holds the id.
// Any disagreement is reported, never silently resolved.
func (r *Resolver) Verify(ctx context.Context, id string) error {
	type hit struct {
		tier    string
		payload []byte
	}
	var hits []hit

	if res, err := r.fromFast(ctx, id); err == nil {
		hits = append(hits, hit{TierFast, res.Payload})
	} else if !isMiss(err) {
		return err
	}
	if res, err := r.fromBlob(id); err == nil {
		hits = append(hits, hit{TierBlob, res.Payload})
	} else if !isMiss(err) {
		return err
	}
	if res, err := r.fromGraph(ctx, id); err == nil {
		hits = append(hits, hit{TierGraph, res.Payload})
	} else if !isMiss(err) {
		return err
	}

	if len(hits) == 0 {
		return &storage.NotFoundError{CID: id}
	}
	for _, h := range hits[1:] {
		if !bytes.Equal(h.payload, hits[0].payload) {
			tiers := make([]string, len(hits))
			for i, x := range hits {
				tiers[i] = x.tier
			}
			return &MismatchError{CID: id, Tiers: tiers}
		}
	}
	return nil
}

func (r *Resolver) fromFast(ctx context.Context, id string) (*Result, error) {
	rec, err := r.index.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Result{CID: id, Payload: rec.Payload, Source: TierFast}, nil
}

func (r *Resolver) fromBlob(id string) (*Result, error) {
	data, err := r.blobs.Get(id)
	if err != nil {
		return nil, err
	}
	core, err := engram.DecodeCore(data)
	if err != nil {
		return nil, fmt.Errorf("decoding blob %s: %w", id, err)
	}
	return &Result{CID: id, Payload: core.Payload, Source: TierBlob}, nil
}

func (r *Resolver) fromGraph(ctx context.Context, id string) (*Result, error) {
	rec, err := r.graph.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Result{CID: id, Payload: rec.Payload, Source: TierGraph}, nil
}

func isMiss(err error) bool {
	var storageMiss *storage.NotFoundError
	var blobMiss *cas.NotFoundError
	return errors.As(err, &storageMiss) || errors.As(err, &blobMiss)
}
