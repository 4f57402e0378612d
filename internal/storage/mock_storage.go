package storage

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/grosser/soft-deletion/pkg/softdelete"
)

// MockStore is a testify mock of softdelete.Store. Transaction calls fn with
// the mock itself after recording the call.
type MockStore struct {
	mock.Mock
}

var _ softdelete.Store = (*MockStore)(nil)

func (m *MockStore) Transaction(ctx context.Context, fn func(tx softdelete.Store) error) error {
	args := m.Called(ctx)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(m)
}

func (m *MockStore) UpdateWhere(ctx context.Context, table string, ids []string, values map[string]any) error {
	args := m.Called(ctx, table, ids, values)
	return args.Error(0)
}

func (m *MockStore) Save(ctx context.Context, rec softdelete.Record, opts softdelete.SaveOptions) error {
	args := m.Called(ctx, rec, opts)
	return args.Error(0)
}

func (m *MockStore) Relationships(table string) []softdelete.Relationship {
	args := m.Called(table)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]softdelete.Relationship)
}

func (m *MockStore) Associated(ctx context.Context, rec softdelete.Record, rel softdelete.Relationship) ([]softdelete.Record, error) {
	args := m.Called(ctx, rec, rel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]softdelete.Record), args.Error(1)
}

func (m *MockStore) Owner(ctx context.Context, rec softdelete.Record, rel softdelete.Relationship) (softdelete.Record, error) {
	args := m.Called(ctx, rec, rel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(softdelete.Record), args.Error(1)
}

func (m *MockStore) Find(ctx context.Context, table string, ids []string) ([]softdelete.Record, error) {
	args := m.Called(ctx, table, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]softdelete.Record), args.Error(1)
}

func (m *MockStore) Increment(ctx context.Context, table string, id string, column string, delta int) error {
	args := m.Called(ctx, table, id, column, delta)
	return args.Error(0)
}
