package index

import (
	"context"
	"sync"

	"github.com/corticalco/engram/pkg/engram"
	"github.com/corticalco/engram/pkg/storage"
)

// InMemory is a map-backed index for tests and ephemeral sessions.
type InMemory struct {
	mu       sync.RWMutex
	recs     map[string]*engram.Engram
	archived map[string]bool
	order    []string
}

// NewInMemory creates an empty in-memory index.
func NewInMemory() *InMemory {
	return &InMemory{
		recs:     make(map[string]*engram.Engram),
		archived: make(map[string]bool),
	}
}

func (m *InMemory) Put(_ context.Context, rec *engram.Engram, archived bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.recs[rec.CID]; !ok {
		m.order = append(m.order, rec.CID)
	}
	m.recs[rec.CID] = rec
	m.archived[rec.CID] = archived
	return nil
}

func (m *InMemory) Get(_ context.Context, cid string) (*engram.Engram, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.recs[cid]
	if !ok {
		return nil, &storage.NotFoundError{CID: cid}
	}
	return rec, nil
}

func (m *InMemory) Has(_ context.Context, cid string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.recs[cid]
	return ok, nil
}

func (m *InMemory) Recent(_ context.Context, lobe string, n int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for i := len(m.order) - 1; i >= 0 && (n <= 0 || len(out) < n); i-- {
		rec, ok := m.recs[m.order[i]]
		if !ok {
			continue
		}
		if lobe != "" && rec.Lobe != lobe {
			continue
		}
		out = append(out, rec.CID)
	}
	return out, nil
}

func (m *InMemory) Delete(_ context.Context, cid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.recs, cid)
	delete(m.archived, cid)
	for i, c := range m.order {
		if c == cid {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *InMemory) Stats(_ context.Context, lobe string) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := &Stats{ByLobe: make(map[string]int)}
	for cid, rec := range m.recs {
		if lobe != "" && rec.Lobe != lobe {
			continue
		}
		st.Total++
		st.ByLobe[rec.Lobe]++
		if m.archived[cid] {
			st.Archived++
		}
	}
	return st, nil
}

func (m *InMemory) Close() error {
	return nil
}
