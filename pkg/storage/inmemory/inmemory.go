// Package inmemory provides a non-durable graph driver backed by plain maps.
// Useful for tests and for throwaway sessions where persistence is not wanted.
package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/corticalco/engram/pkg/engram"
	"github.com/corticalco/engram/pkg/storage"
)

// Driver is an in-memory implementation of storage.Driver.
type Driver struct {
	mu    sync.RWMutex
	recs  map[string]*engram.Engram
	heads map[string]*storage.Head
	order []string // insertion order of record digests, oldest first
}

// New creates an empty in-memory driver.
func New() *Driver {
	return &Driver{
		recs:  make(map[string]*engram.Engram),
		heads: make(map[string]*storage.Head),
	}
}

func (d *Driver) Put(_ context.Context, rec *engram.Engram) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.recs[rec.CID]; ok {
		return false, nil
	}
	if rec.ParentCID != nil {
		if _, ok := d.recs[*rec.ParentCID]; !ok {
			return false, &storage.NotFoundError{CID: *rec.ParentCID}
		}
	}
	d.recs[rec.CID] = cloneRecord(rec)
	d.order = append(d.order, rec.CID)
	return true, nil
}

func (d *Driver) Get(_ context.Context, cid string) (*engram.Engram, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.recs[cid]
	if !ok {
		return nil, &storage.NotFoundError{CID: cid}
	}
	return cloneRecord(rec), nil
}

func (d *Driver) Has(_ context.Context, cid string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, ok := d.recs[cid]
	return ok, nil
}

func (d *Driver) Ancestry(_ context.Context, cid string, maxDepth int) ([]*engram.Engram, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var chain []*engram.Engram
	cur := cid
	for depth := 0; maxDepth <= 0 || depth < maxDepth; depth++ {
		rec, ok := d.recs[cur]
		if !ok {
			return nil, &storage.NotFoundError{CID: cur}
		}
		chain = append(chain, cloneRecord(rec))
		if rec.ParentCID == nil {
			break
		}
		cur = *rec.ParentCID
	}
	return chain, nil
}

func (d *Driver) IsAncestor(_ context.Context, ancestor, descendant string, maxDepth int) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	cur := descendant
	for depth := 0; maxDepth <= 0 || depth < maxDepth; depth++ {
		if cur == ancestor {
			return true, nil
		}
		rec, ok := d.recs[cur]
		if !ok {
			return false, &storage.NotFoundError{CID: cur}
		}
		if rec.ParentCID == nil {
			return false, nil
		}
		cur = *rec.ParentCID
	}
	return false, nil
}

func (d *Driver) Recent(_ context.Context, lobe string, n int) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []string
	for i := len(d.order) - 1; i >= 0 && (n <= 0 || len(out) < n); i-- {
		rec := d.recs[d.order[i]]
		if rec == nil {
			continue
		}
		if lobe != "" && rec.Lobe != lobe {
			continue
		}
		out = append(out, rec.CID)
	}
	return out, nil
}

func (d *Driver) LobeStats(_ context.Context) (int, map[string]int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	byLobe := make(map[string]int)
	for _, rec := range d.recs {
		byLobe[rec.Lobe]++
	}
	return len(d.recs), byLobe, nil
}

func (d *Driver) Head(_ context.Context, name string) (*storage.Head, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	h, ok := d.heads[name]
	if !ok {
		return nil, &storage.PathNotFoundError{Name: name}
	}
	cp := *h
	return &cp, nil
}

func (d *Driver) Heads(_ context.Context) ([]*storage.Head, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*storage.Head, 0, len(d.heads))
	for _, h := range d.heads {
		cp := *h
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (d *Driver) SeedHead(_ context.Context, name, cid string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.recs[cid]; !ok {
		return &storage.NotFoundError{CID: cid}
	}
	if h, ok := d.heads[name]; ok {
		return &storage.ConflictError{Name: name, Actual: h.CID}
	}
	d.heads[name] = &storage.Head{Name: name, CID: cid, Base: cid}
	return nil
}

func (d *Driver) AdvanceHead(_ context.Context, name, oldCID, newCID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	h, ok := d.heads[name]
	if !ok {
		return &storage.PathNotFoundError{Name: name}
	}
	if h.CID != oldCID {
		return &storage.ConflictError{Name: name, Expected: oldCID, Actual: h.CID}
	}
	if _, ok := d.recs[newCID]; !ok {
		return &storage.NotFoundError{CID: newCID}
	}
	h.CID = newCID
	return nil
}

func (d *Driver) Delete(_ context.Context, cid string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.recs, cid)
	for i, c := range d.order {
		if c == cid {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return nil
}

func (d *Driver) Close() error {
	return nil
}

func cloneRecord(rec *engram.Engram) *engram.Engram {
	cp := *rec
	if rec.ParentCID != nil {
		p := *rec.ParentCID
		cp.ParentCID = &p
	}
	cp.Payload = append([]byte(nil), rec.Payload...)
	if rec.Tags != nil {
		cp.Tags = make(map[string]string, len(rec.Tags))
		for k, v := range rec.Tags {
			cp.Tags[k] = v
		}
	}
	return &cp
}
