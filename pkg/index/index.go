// Package index implements the fast lookup tier: a flat cid-keyed table of
// records optimized for point reads and newest-first scans, replicated from
// the graph tier at commit time.
package index

import (
	"context"

	"github.com/corticalco/engram/pkg/engram"
)

// Stats summarizes the index contents.
type Stats struct {
	// Total is the number of indexed records.
	Total int `json:"total"`

	// Archived is the number of records also committed to the graph tier.
	Archived int `json:"archived"`

	// ByLobe maps lobe name to record count.
	ByLobe map[string]int `json:"by_lobe"`
}

// Driver is the fast-tier contract. Put replicates a committed record;
// Delete exists only so a failed multi-tier commit can be rolled back.
type Driver interface {
	// Put indexes a record. archived records also live in the graph tier.
	Put(ctx context.Context, rec *engram.Engram, archived bool) error

	// Get retrieves an indexed record by digest.
	Get(ctx context.Context, cid string) (*engram.Engram, error)

	// Has checks whether a digest is indexed.
	Has(ctx context.Context, cid string) (bool, error)

	// Recent returns up to n digests in a lobe, newest first.
	// An empty lobe matches all records.
	Recent(ctx context.Context, lobe string, n int) ([]string, error)

	// Delete removes an entry (commit rollback only).
	Delete(ctx context.Context, cid string) error

	// Stats summarizes the index, optionally scoped to one lobe.
	Stats(ctx context.Context, lobe string) (*Stats, error)

	// Close releases any resources held by the driver.
	Close() error
}
