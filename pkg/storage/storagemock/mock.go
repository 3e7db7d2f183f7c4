package storagemock

import (
	"context"

	"github.com/raterudder/indrav2h/pkg/storage"
	"github.com/raterudder/indrav2h/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) SaveSnapshot(ctx context.Context, entryID string, snap types.Snapshot) error {
	args := m.Called(ctx, entryID, snap)
	return args.Error(0)
}

func (m *MockDatabase) GetSnapshot(ctx context.Context, entryID string) (types.Snapshot, error) {
	args := m.Called(ctx, entryID)
	if len(args) > 0 {
		return args.Get(0).(types.Snapshot), args.Error(1)
	}
	return types.Snapshot{}, storage.ErrSnapshotNotFound
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
