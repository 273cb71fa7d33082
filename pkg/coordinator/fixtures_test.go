package coordinator

import (
	"encoding/json"
)

// elsAccounts has two usable groups (100 and 200) and one without an id.
func elsAccounts() map[string]any {
	return map[string]any{
		"elsGroup": []any{
			map[string]any{"els": map[string]any{"id": json.Number("100")}},
			map[string]any{"els": map[string]any{"alias": "no id"}},
			map[string]any{"els": map[string]any{"id": float64(200)}},
		},
		// ignored since elsGroup takes priority
		"lspu": []any{map[string]any{"id": 999}},
	}
}

func elsInfo(number string, balance any) map[string]any {
	return map[string]any{
		"els": map[string]any{
			"jntAccountNum": number,
			"alias":         "Home " + number,
		},
		"services": []any{
			map[string]any{"balance": balance},
		},
		"lspuInfoGroup": []any{
			map[string]any{
				"accountId": json.Number("5550"),
				"counters": []any{
					map[string]any{"uuid": "uuid-" + number + "-a"},
					map[string]any{"uuid": "uuid-" + number + "-b"},
				},
			},
			map[string]any{
				"accountId": json.Number("5551"),
			},
		},
	}
}

func lspuAccounts() map[string]any {
	return map[string]any{
		"lspuGroup": []any{
			map[string]any{"id": json.Number("10")},
			map[string]any{"id": "20"},
			map[string]any{"name": "missing id"},
		},
	}
}

func lspuInfo(account string, accountID int, balance any, uuids ...string) map[string]any {
	var counters []any
	for _, u := range uuids {
		counters = append(counters, map[string]any{"uuid": u})
	}
	return map[string]any{
		"account":   account,
		"accountId": float64(accountID),
		"alias":     "Flat " + account,
		"balance":   balance,
		"counters":  counters,
	}
}
