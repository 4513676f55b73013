package store

import (
	"errors"
	"sync"

	"termpool/internal/model"
)

// ErrNotFound indicates no state has been saved yet.
var ErrNotFound = errors.New("store: no saved state")

// Store persists the pool snapshot.
type Store interface {
	// Load returns the saved snapshot or ErrNotFound.
	Load() (*model.Snapshot, error)
	Save(snap *model.Snapshot) error
	Close() error
}

// MemoryStore keeps the snapshot in memory.
type MemoryStore struct {
	mu   sync.Mutex
	snap *model.Snapshot
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Load() (*model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return nil, ErrNotFound
	}
	return m.snap.Clone(), nil
}

func (m *MemoryStore) Save(snap *model.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap.Clone()
	return nil
}

func (m *MemoryStore) Close() error { return nil }
