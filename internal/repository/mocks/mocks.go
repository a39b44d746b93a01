package mocks

import (
	"context"
	"time"

	"github.com/rpggio/overseer/internal/domain/activity"
	"github.com/rpggio/overseer/internal/domain/mode"
	"github.com/stretchr/testify/mock"
)

// ActivityRepository is a mock for activity.Repository.
type ActivityRepository struct {
	mock.Mock
}

func (m *ActivityRepository) Insert(ctx context.Context, a *activity.Activity) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *ActivityRepository) Get(ctx context.Context, id int64) (*activity.Activity, error) {
	args := m.Called(ctx, id)
	if a, ok := args.Get(0).(*activity.Activity); ok {
		return a, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ActivityRepository) Exists(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *ActivityRepository) List(ctx context.Context, filter activity.Filter) ([]activity.Activity, error) {
	args := m.Called(ctx, filter)
	if list, ok := args.Get(0).([]activity.Activity); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ActivityRepository) Resolve(ctx context.Context, id int64, r activity.Resolution, at time.Time) error {
	args := m.Called(ctx, id, r, at)
	return args.Error(0)
}

func (m *ActivityRepository) ListPending(ctx context.Context, now time.Time) ([]activity.Activity, error) {
	args := m.Called(ctx, now)
	if list, ok := args.Get(0).([]activity.Activity); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ActivityRepository) ListExpired(ctx context.Context, now time.Time) ([]activity.Activity, error) {
	args := m.Called(ctx, now)
	if list, ok := args.Get(0).([]activity.Activity); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ActivityRepository) LatestTimestamp(ctx context.Context) (time.Time, error) {
	args := m.Called(ctx)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *ActivityRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

// ModeRepository is a mock for mode.Repository.
type ModeRepository struct {
	mock.Mock
}

func (m *ModeRepository) Load(ctx context.Context) (*mode.State, error) {
	args := m.Called(ctx)
	if st, ok := args.Get(0).(*mode.State); ok {
		return st, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ModeRepository) Save(ctx context.Context, st mode.State) error {
	args := m.Called(ctx, st)
	return args.Error(0)
}
