// Package storage defines the graph-tier driver contract: durable persistence
// of immutable records linked by parent digest, plus the mutable table of
// named path heads.
package storage

import (
	"context"

	"github.com/corticalco/engram/pkg/engram"
)

// Head is a named mutable pointer into the record graph.
type Head struct {
	// Name is the normalized path name.
	Name string

	// CID is the digest of the record currently at the head.
	CID string

	// Base is the digest of the record the path was originally seeded at.
	Base string
}

// Driver defines the interface for persisting and retrieving records in a
// graph backend. Implementations must reject records whose parent is not
// already stored, which makes cycles impossible by construction.
type Driver interface {
	// Put stores a record. Returns true if the record was newly inserted,
	// false if it already existed (no-op thanks to content-addressing).
	// Fails with NotFoundError when the record's parent is missing.
	Put(ctx context.Context, rec *engram.Engram) (bool, error)

	// Get retrieves a record by its digest.
	Get(ctx context.Context, cid string) (*engram.Engram, error)

	// Has checks whether a record exists by its digest.
	Has(ctx context.Context, cid string) (bool, error)

	// Ancestry returns the chain from a record back to its seed
	// (record first, seed last), walking at most maxDepth parent links.
	Ancestry(ctx context.Context, cid string, maxDepth int) ([]*engram.Engram, error)

	// IsAncestor reports whether ancestor is reachable from descendant via
	// parent links, walking at most maxDepth links. A record is its own
	// ancestor.
	IsAncestor(ctx context.Context, ancestor, descendant string, maxDepth int) (bool, error)

	// Recent returns the digests of the newest records in a lobe,
	// newest first, at most n of them. An empty lobe matches all records.
	Recent(ctx context.Context, lobe string, n int) ([]string, error)

	// LobeStats returns the total record count and per-lobe counts.
	LobeStats(ctx context.Context) (total int, byLobe map[string]int, err error)

	// Head returns the head for a named path.
	// Fails with PathNotFoundError when the path has never been seeded.
	Head(ctx context.Context, name string) (*Head, error)

	// Heads returns every known path head.
	Heads(ctx context.Context) ([]*Head, error)

	// SeedHead creates a path pointing at the given record, with Base set to
	// that record. Fails with ConflictError when the path already exists, so
	// two racing first writers cannot silently overwrite each other;
	// ordinary advancement goes through AdvanceHead.
	SeedHead(ctx context.Context, name, cid string) error

	// AdvanceHead moves a path head from oldCID to newCID as a single
	// compare-and-swap. Fails with ConflictError when the stored head no
	// longer equals oldCID.
	AdvanceHead(ctx context.Context, name, oldCID, newCID string) error

	// Delete removes a record. It exists solely so a failed multi-tier
	// commit can be rolled back; committed records are never deleted.
	Delete(ctx context.Context, cid string) error

	// Close releases any resources held by the driver.
	Close() error
}
