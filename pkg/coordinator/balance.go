package coordinator

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/mygasbridge/mygasbridge/pkg/types"
)

// ExtractBalance scans a loosely typed detail payload for a balance. The API
// nests it differently per backend so the values are scanned instead of
// addressed:
//
//  1. services[0].balance of a list element or map value
//  2. balance of that same element or map value
//
// The first element carrying either wins. A balance that is not numeric stops
// the scan and nothing is returned. Keys are scanned in sorted order.
func ExtractBalance(info any) (float64, bool) {
	m, ok := info.(map[string]any)
	if !ok {
		return 0, false
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]any, 0, len(keys))
	for _, k := range keys {
		values = append(values, m[k])
	}
	return scanBalance(values)
}

// snapshotBalance extracts the balance from the normalized details of a
// snapshot in upstream account order.
func snapshotBalance(s *types.Snapshot) (float64, bool) {
	values := make([]any, 0, len(s.AccountIDs))
	for _, id := range s.AccountIDs {
		switch s.Shape {
		case types.ShapeELS:
			values = append(values, s.ELS[id])
		case types.ShapeLSPU:
			values = append(values, s.LSPU[id])
		}
	}
	return scanBalance(values)
}

func scanBalance(values []any) (float64, bool) {
	for _, v := range values {
		if !truthy(v) {
			continue
		}
		switch items := v.(type) {
		case []any, []map[string]any:
			for _, item := range asList(items) {
				m, ok := item.(map[string]any)
				if !ok {
					continue
				}
				b, found, err := balanceOf(m)
				if err != nil {
					return 0, false
				}
				if found {
					return b, true
				}
			}
		case map[string]any:
			b, found, err := balanceOf(items)
			if err != nil {
				return 0, false
			}
			if found {
				return b, true
			}
		}
	}
	return 0, false
}

func balanceOf(m map[string]any) (float64, bool, error) {
	if services := asList(m[types.FieldServices]); len(services) > 0 {
		if s0, ok := services[0].(map[string]any); ok && s0[types.FieldBalance] != nil {
			b, err := toFloat(s0[types.FieldBalance])
			return b, err == nil, err
		}
	}
	if v := m[types.FieldBalance]; v != nil {
		b, err := toFloat(v)
		return b, err == nil, err
	}
	return 0, false, nil
}

// toFloat rejects NaN and infinities, which ParseFloat accepts as strings
// and encoding/json cannot marshal.
func toFloat(v any) (float64, error) {
	f, err := number(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("balance is not finite: %v", v)
	}
	return f, nil
}

func number(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return 0, fmt.Errorf("unsupported balance type %T", v)
	}
}
