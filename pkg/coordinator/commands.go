package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mygasbridge/mygasbridge/pkg/log"
	"github.com/mygasbridge/mygasbridge/pkg/types"
)

// GetBill fetches the receipt for the month of date for the account the device
// belongs to. A zero date means today. It returns nil without an error when
// the device cannot be resolved.
func (c *Coordinator) GetBill(ctx context.Context, deviceID string, date time.Time, email string) (map[string]any, error) {
	if date.IsZero() {
		date = c.now()
	}
	dateISO := date.Format(time.DateOnly)

	s := c.current()
	path, ok := c.findDevice(ctx, s, deviceID)
	if !ok {
		return nil, nil
	}
	isELS := s.IsELS()

	key := fmt.Sprintf("%d|%s|%s|%t", path.AccountID, dateISO, email, isELS)
	if cached, ok := c.receipts.Get(key); ok {
		log.Ctx(ctx).DebugContext(ctx, "receipt retrieved from cache", slog.Int64("accountID", int64(path.AccountID)), slog.String("date", dateISO))
		return cached.(map[string]any), nil
	}

	res, err := call(ctx, "get receipt", func(ctx context.Context) (map[string]any, error) {
		return c.api.GetReceipt(ctx, dateISO, email, int64(path.AccountID), isELS)
	})
	if err != nil {
		return nil, err
	}
	if len(res) > 0 {
		c.receipts.SetDefault(key, res)
	}
	return res, nil
}

// SendReadings submits a meter reading for the counter behind a device. The
// device must resolve to a full path, anything else is an error.
func (c *Coordinator) SendReadings(ctx context.Context, deviceID string, value float64) ([]map[string]any, error) {
	s := c.current()
	path, ok := c.findDevice(ctx, s, deviceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrDeviceNotResolved, deviceID)
	}

	lspuID, ok := accountIDFrom(subAccount(s, path.AccountID, path.SubAccount)[types.FieldAccountID])
	if !ok {
		return nil, fmt.Errorf("%w: %s has no linked account id", types.ErrDeviceNotResolved, deviceID)
	}
	counterList := counters(s, path.AccountID, path.SubAccount)
	equipmentUUID, _ := stringOf(counterList[path.Counter][types.FieldUUID])
	if equipmentUUID == "" {
		return nil, fmt.Errorf("%w: %s has no counter uuid", types.ErrDeviceNotResolved, deviceID)
	}

	var elsID *int64
	if s.IsELS() {
		id := int64(path.AccountID)
		elsID = &id
	}

	res, err := call(ctx, "send readings", func(ctx context.Context) ([]map[string]any, error) {
		return c.api.SendIndication(ctx, int64(lspuID), equipmentUUID, value, elsID)
	})
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"meter reading sent",
		slog.Int64("lspuID", int64(lspuID)),
		slog.String("equipment", equipmentUUID),
		slog.Float64("value", value),
	)
	return res, nil
}

// ClientInfo returns the profile of the account holder.
func (c *Coordinator) ClientInfo(ctx context.Context) (map[string]any, error) {
	return call(ctx, "get client info", c.api.GetClientInfo)
}

// Charges returns the charges of a sub-account.
func (c *Coordinator) Charges(ctx context.Context, lspuID int64) (map[string]any, error) {
	return call(ctx, "get charges", func(ctx context.Context) (map[string]any, error) {
		return c.api.GetCharges(ctx, lspuID)
	})
}

// Payments returns the payments of a sub-account.
func (c *Coordinator) Payments(ctx context.Context, lspuID int64) (map[string]any, error) {
	return call(ctx, "get payments", func(ctx context.Context) (map[string]any, error) {
		return c.api.GetPayments(ctx, lspuID)
	})
}
