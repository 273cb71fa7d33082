package coordinator

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/mygasbridge/mygasbridge/pkg/log"
	"github.com/mygasbridge/mygasbridge/pkg/types"
)

// Accounts returns the account ids of the current snapshot in upstream order.
func (c *Coordinator) Accounts() []types.AccountID {
	return append([]types.AccountID(nil), c.current().AccountIDs...)
}

// IsELS returns true when the current snapshot holds grouped accounts.
func (c *Coordinator) IsELS() bool {
	return c.current().IsELS()
}

// SubAccounts returns the sub-accounts of an account.
func (c *Coordinator) SubAccounts(id types.AccountID) []map[string]any {
	return subAccounts(c.current(), id)
}

// Counters returns the counters of a sub-account. Sub-accounts without
// counters are normal.
func (c *Coordinator) Counters(id types.AccountID, sub int) []map[string]any {
	return counters(c.current(), id, sub)
}

// AccountNumber returns the human account number of a sub-account. For grouped
// accounts this is the joint number of the group.
func (c *Coordinator) AccountNumber(id types.AccountID, sub int) (string, bool) {
	return accountNumber(c.current(), id, sub)
}

// AccountAlias returns the user defined alias of a sub-account.
func (c *Coordinator) AccountAlias(id types.AccountID, sub int) (string, bool) {
	return accountAlias(c.current(), id, sub)
}

// HasAccounts returns false when the last poll found no accounts at all, for
// example because the accounts payload came back empty. Devices is then empty
// without the devices having been removed upstream.
func (c *Coordinator) HasAccounts() bool {
	s := c.current()
	return s.Shape != types.ShapeEmpty || len(s.AccountIDs) > 0
}

// Devices returns every counter of the current snapshot that has a UUID.
func (c *Coordinator) Devices() []types.CounterDevice {
	s := c.current()
	var devices []types.CounterDevice
	walkCounters(s, func(path types.DevicePath, number, uuid string, counter map[string]any) bool {
		alias, _ := accountAlias(s, path.AccountID, path.SubAccount)
		devices = append(devices, types.CounterDevice{
			Path:          path,
			AccountNumber: number,
			Alias:         alias,
			UUID:          uuid,
			Identifier:    types.MakeDeviceIdentifier(number, uuid),
			Counter:       counter,
		})
		return true
	})
	return devices
}

// FindAccountByDeviceID resolves a registered device back to its path in the
// current snapshot. Every candidate is recomputed on each call since paths
// depend on the upstream order of the last poll.
func (c *Coordinator) FindAccountByDeviceID(ctx context.Context, deviceID string) (types.DevicePath, bool) {
	return c.findDevice(ctx, c.current(), deviceID)
}

func (c *Coordinator) findDevice(ctx context.Context, s *types.Snapshot, deviceID string) (types.DevicePath, bool) {
	identifiers, ok := c.registry.Identifiers(deviceID)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "device not found in registry", slog.String("deviceID", deviceID))
		return types.DevicePath{}, false
	}
	// a counter device is registered with exactly one identifier
	if len(identifiers) != 1 {
		return types.DevicePath{}, false
	}

	var found types.DevicePath
	var matched bool
	walkCounters(s, func(path types.DevicePath, number, uuid string, _ map[string]any) bool {
		if types.MakeDeviceIdentifier(number, uuid) == identifiers[0] {
			found = path
			matched = true
			return false
		}
		return true
	})
	if !matched {
		log.Ctx(ctx).DebugContext(ctx, "device does not match any counter", slog.String("deviceID", deviceID))
	}
	return found, matched
}

// walkCounters calls fn for every counter with a UUID until fn returns false.
func walkCounters(s *types.Snapshot, fn func(path types.DevicePath, number, uuid string, counter map[string]any) bool) {
	for _, id := range s.AccountIDs {
		for sub := range subAccounts(s, id) {
			number, _ := accountNumber(s, id, sub)
			for ci, counter := range counters(s, id, sub) {
				uuid, ok := stringOf(counter[types.FieldUUID])
				if !ok || uuid == "" {
					continue
				}
				path := types.DevicePath{AccountID: id, SubAccount: sub, Counter: ci}
				if !fn(path, number, uuid, counter) {
					return
				}
			}
		}
	}
}

func subAccounts(s *types.Snapshot, id types.AccountID) []map[string]any {
	switch s.Shape {
	case types.ShapeELS:
		return asMaps(s.ELS[id][types.FieldLSPUInfoGroup])
	case types.ShapeLSPU:
		return s.LSPU[id]
	default:
		return nil
	}
}

func subAccount(s *types.Snapshot, id types.AccountID, sub int) map[string]any {
	subs := subAccounts(s, id)
	if sub < 0 || sub >= len(subs) {
		return nil
	}
	return subs[sub]
}

func counters(s *types.Snapshot, id types.AccountID, sub int) []map[string]any {
	return asMaps(subAccount(s, id, sub)[types.FieldCounters])
}

func accountNumber(s *types.Snapshot, id types.AccountID, sub int) (string, bool) {
	if s.IsELS() {
		return stringOf(asMap(s.ELS[id][types.FieldELS])[types.FieldJntAccountNum])
	}
	return stringOf(subAccount(s, id, sub)[types.FieldAccount])
}

func accountAlias(s *types.Snapshot, id types.AccountID, sub int) (string, bool) {
	if s.IsELS() {
		return stringOf(asMap(s.ELS[id][types.FieldELS])[types.FieldAlias])
	}
	return stringOf(subAccount(s, id, sub)[types.FieldAlias])
}

func stringOf(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	default:
		return "", false
	}
}
