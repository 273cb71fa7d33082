package coordinator

import (
	"context"
	"log/slog"

	"github.com/mygasbridge/mygasbridge/pkg/log"
	"github.com/stretchr/testify/mock"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

type mockAPI struct {
	mock.Mock
}

var _ API = (*mockAPI)(nil)

func mapArg(args mock.Arguments, i int) map[string]any {
	if v := args.Get(i); v != nil {
		return v.(map[string]any)
	}
	return nil
}

func (m *mockAPI) GetClientInfo(ctx context.Context) (map[string]any, error) {
	args := m.Called(ctx)
	return mapArg(args, 0), args.Error(1)
}

func (m *mockAPI) GetAccounts(ctx context.Context) (any, error) {
	args := m.Called(ctx)
	return args.Get(0), args.Error(1)
}

func (m *mockAPI) GetELSInfo(ctx context.Context, elsID int64) (map[string]any, error) {
	args := m.Called(ctx, elsID)
	return mapArg(args, 0), args.Error(1)
}

func (m *mockAPI) GetLSPUInfo(ctx context.Context, lspuID int64) (any, error) {
	args := m.Called(ctx, lspuID)
	return args.Get(0), args.Error(1)
}

func (m *mockAPI) GetCharges(ctx context.Context, lspuID int64) (map[string]any, error) {
	args := m.Called(ctx, lspuID)
	return mapArg(args, 0), args.Error(1)
}

func (m *mockAPI) GetPayments(ctx context.Context, lspuID int64) (map[string]any, error) {
	args := m.Called(ctx, lspuID)
	return mapArg(args, 0), args.Error(1)
}

func (m *mockAPI) SendIndication(ctx context.Context, lspuID int64, equipmentUUID string, value float64, elsID *int64) ([]map[string]any, error) {
	args := m.Called(ctx, lspuID, equipmentUUID, value, elsID)
	if v := args.Get(0); v != nil {
		return v.([]map[string]any), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAPI) GetReceipt(ctx context.Context, date, email string, accountID int64, isELS bool) (map[string]any, error) {
	args := m.Called(ctx, date, email, accountID, isELS)
	return mapArg(args, 0), args.Error(1)
}

type fakeRegistry map[string][]string

func (r fakeRegistry) Identifiers(deviceID string) ([]string, bool) {
	ids, ok := r[deviceID]
	return ids, ok
}
