// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package durable

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store intended for tests and local iteration.
// Not durable; not suitable for production.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string]*Instance
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{instances: make(map[string]*Instance)}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) Create(ctx context.Context, inst *Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.instances[inst.ID]; ok && !cur.Status.IsTerminal() {
		return ErrInstanceExists
	}
	cp := inst.Clone()
	cp.Version = 1
	m.instances[inst.ID] = cp
	inst.Version = 1
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cur, ok := m.instances[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	return cur.Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, id string, fn func(*Instance) error) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.instances[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	work := cur.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	work.ID = id
	work.Version = cur.Version + 1
	m.instances[id] = work
	return work.Clone(), nil
}

func (m *MemoryStore) List(ctx context.Context, q Query) ([]*Instance, error) {
	m.mu.RLock()
	out := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		if q.Matches(inst) {
			out = append(out, inst.Clone())
		}
	}
	m.mu.RUnlock()
	sortByCreation(out)
	return out, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.instances, id)
	m.mu.Unlock()
	return nil
}

func sortByCreation(list []*Instance) {
	sort.SliceStable(list, func(a, b int) bool {
		if list[a].CreatedAt.Equal(list[b].CreatedAt) {
			return list[a].ID < list[b].ID
		}
		return list[a].CreatedAt.Before(list[b].CreatedAt)
	})
}

var _ Store = (*MemoryStore)(nil)
