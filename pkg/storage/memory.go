package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/raterudder/indrav2h/pkg/types"
)

// Memory keeps snapshots in process memory. Snapshots are stored encoded so
// callers never share maps with the coordinator.
type Memory struct {
	mu        sync.Mutex
	snapshots map[string][]byte
}

var _ Database = (*Memory)(nil)

// NewMemory returns an empty Memory database.
func NewMemory() *Memory {
	return &Memory{snapshots: make(map[string][]byte)}
}

// SaveSnapshot replaces the stored snapshot for the entry.
func (m *Memory) SaveSnapshot(ctx context.Context, entryID string, snap types.Snapshot) error {
	if entryID == "" {
		return fmt.Errorf("entryID cannot be empty")
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[entryID] = b
	return nil
}

// GetSnapshot returns the stored snapshot or ErrSnapshotNotFound.
func (m *Memory) GetSnapshot(ctx context.Context, entryID string) (types.Snapshot, error) {
	m.mu.Lock()
	b, ok := m.snapshots[entryID]
	m.mu.Unlock()
	if !ok {
		return types.Snapshot{}, ErrSnapshotNotFound
	}
	var snap types.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return types.Snapshot{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
