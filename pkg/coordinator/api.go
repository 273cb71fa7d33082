package coordinator

import (
	"context"
)

// API is the subset of the MyGas service used by the coordinator. Every call
// may fail with a *mygas.AuthError or any other error.
type API interface {
	GetClientInfo(ctx context.Context) (map[string]any, error)
	GetAccounts(ctx context.Context) (any, error)
	GetELSInfo(ctx context.Context, elsID int64) (map[string]any, error)
	GetLSPUInfo(ctx context.Context, lspuID int64) (any, error)
	GetCharges(ctx context.Context, lspuID int64) (map[string]any, error)
	GetPayments(ctx context.Context, lspuID int64) (map[string]any, error)
	SendIndication(ctx context.Context, lspuID int64, equipmentUUID string, value float64, elsID *int64) ([]map[string]any, error)
	GetReceipt(ctx context.Context, date, email string, accountID int64, isELS bool) (map[string]any, error)
}

// DeviceRegistry returns the stable identifiers recorded for a device.
type DeviceRegistry interface {
	Identifiers(deviceID string) ([]string, bool)
}
