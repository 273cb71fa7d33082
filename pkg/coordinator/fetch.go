package coordinator

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/mygasbridge/mygasbridge/pkg/log"
	"github.com/mygasbridge/mygasbridge/pkg/types"
)

// fetchELSDetails fetches the detail of every grouped account. Items without a
// usable id and empty results are skipped; a failing call aborts the batch.
func (c *Coordinator) fetchELSDetails(ctx context.Context, raw any) (map[types.AccountID]map[string]any, []types.AccountID, error) {
	details := make(map[types.AccountID]map[string]any)
	var ids []types.AccountID
	for _, item := range ELSList(raw) {
		els := asMap(asMap(item)[types.FieldELS])
		id, ok := accountIDFrom(els[types.FieldID])
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "id not found in els info", slog.Any("item", item))
			continue
		}
		log.Ctx(ctx).DebugContext(ctx, "get els info", slog.Int64("elsID", int64(id)))
		info, err := call(ctx, "get els info", func(ctx context.Context) (map[string]any, error) {
			return c.api.GetELSInfo(ctx, int64(id))
		})
		if err != nil {
			return nil, nil, err
		}
		if len(info) == 0 {
			log.Ctx(ctx).WarnContext(ctx, "els info not retrieved", slog.Int64("elsID", int64(id)))
			continue
		}
		if _, seen := details[id]; !seen {
			ids = append(ids, id)
		}
		details[id] = info
		log.Ctx(ctx).DebugContext(ctx, "els info retrieved", slog.Int64("elsID", int64(id)))
	}
	return details, ids, nil
}

// fetchLSPUDetails fetches the sub-accounts of every flat account. A single
// object result is stored as a one element list.
func (c *Coordinator) fetchLSPUDetails(ctx context.Context, raw any) (map[types.AccountID][]map[string]any, []types.AccountID, error) {
	details := make(map[types.AccountID][]map[string]any)
	var ids []types.AccountID
	for _, item := range LSPUList(raw) {
		id, ok := accountIDFrom(asMap(item)[types.FieldID])
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "id not found in lspu info item", slog.Any("item", item))
			continue
		}
		log.Ctx(ctx).DebugContext(ctx, "get lspu info", slog.Int64("lspuID", int64(id)))
		info, err := call(ctx, "get lspu info", func(ctx context.Context) (any, error) {
			return c.api.GetLSPUInfo(ctx, int64(id))
		})
		if err != nil {
			return nil, nil, err
		}
		if !truthy(info) {
			log.Ctx(ctx).WarnContext(ctx, "lspu info not retrieved", slog.Int64("lspuID", int64(id)))
			continue
		}
		var subAccounts []map[string]any
		switch t := info.(type) {
		case []any, []map[string]any:
			subAccounts = asMaps(t)
		case map[string]any:
			subAccounts = []map[string]any{t}
		default:
			log.Ctx(ctx).WarnContext(ctx, "unexpected lspu info type", slog.Int64("lspuID", int64(id)), slog.Any("info", info))
			continue
		}
		if _, seen := details[id]; !seen {
			ids = append(ids, id)
		}
		details[id] = subAccounts
		log.Ctx(ctx).DebugContext(ctx, "lspu info retrieved", slog.Int64("lspuID", int64(id)), slog.Int("subAccounts", len(subAccounts)))
	}
	return details, ids, nil
}

// accountIDFrom converts an id field into an AccountID. Zero and values that
// are not integers are rejected.
func accountIDFrom(v any) (types.AccountID, bool) {
	var id int64
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			id = i
		} else if f, err := t.Float64(); err == nil && f == math.Trunc(f) {
			id = int64(f)
		} else {
			return 0, false
		}
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		id = int64(t)
	case int:
		id = int64(t)
	case int64:
		id = t
	case int32:
		id = int64(t)
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, false
		}
		id = i
	default:
		return 0, false
	}
	if id == 0 {
		return 0, false
	}
	return types.AccountID(id), true
}
