package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/mygasbridge/mygasbridge/pkg/log"
	"github.com/mygasbridge/mygasbridge/pkg/registry"
	"github.com/mygasbridge/mygasbridge/pkg/scheduler"
	"github.com/mygasbridge/mygasbridge/pkg/types"
	"github.com/stretchr/testify/mock"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

type mockCoordinator struct {
	mock.Mock
}

func mapArg(args mock.Arguments, i int) map[string]any {
	if v := args.Get(i); v != nil {
		return v.(map[string]any)
	}
	return nil
}

func (m *mockCoordinator) Snapshot() *types.Snapshot {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.(*types.Snapshot)
	}
	return nil
}

func (m *mockCoordinator) ForceNextUpdate() {
	m.Called()
}

func (m *mockCoordinator) ClientInfo(ctx context.Context) (map[string]any, error) {
	args := m.Called(ctx)
	return mapArg(args, 0), args.Error(1)
}

func (m *mockCoordinator) Charges(ctx context.Context, lspuID int64) (map[string]any, error) {
	args := m.Called(ctx, lspuID)
	return mapArg(args, 0), args.Error(1)
}

func (m *mockCoordinator) Payments(ctx context.Context, lspuID int64) (map[string]any, error) {
	args := m.Called(ctx, lspuID)
	return mapArg(args, 0), args.Error(1)
}

func (m *mockCoordinator) GetBill(ctx context.Context, deviceID string, date time.Time, email string) (map[string]any, error) {
	args := m.Called(ctx, deviceID, date, email)
	return mapArg(args, 0), args.Error(1)
}

func (m *mockCoordinator) SendReadings(ctx context.Context, deviceID string, value float64) ([]map[string]any, error) {
	args := m.Called(ctx, deviceID, value)
	if v := args.Get(0); v != nil {
		return v.([]map[string]any), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockScheduler struct {
	mock.Mock
}

func (m *mockScheduler) Refresh(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockScheduler) RequestRefresh() {
	m.Called()
}

func (m *mockScheduler) Status() scheduler.Status {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.(scheduler.Status)
	}
	return scheduler.Status{}
}

type fakeDevices []registry.Entry

func (d fakeDevices) Devices() []registry.Entry {
	return d
}
