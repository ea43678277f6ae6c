// Package storage contains the in-memory registration store used when no
// database is configured.
package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/ProofDrop/internal/model"
)

// MemoryStore keeps registrations in a slice guarded by an RWMutex.
type MemoryStore struct {
	mu   sync.RWMutex
	regs []model.Registration
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record appends reg and assigns it a fresh id. Identical registrations are
// stored twice.
func (m *MemoryStore) Record(ctx context.Context, reg *model.Registration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	reg.ID = uuid.NewString()
	m.regs = append(m.regs, *reg)
	return nil
}

// List returns copies of the newest registrations first.
func (m *MemoryStore) List(ctx context.Context, limit int) ([]model.Registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Registration, 0, len(m.regs))
	for i := len(m.regs) - 1; i >= 0; i-- {
		out = append(out, m.regs[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len reports how many registrations are stored. Only tests read it; List
// is the reviewer's view.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.regs)
}
