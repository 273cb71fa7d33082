package coordinator

import (
	"encoding/json"

	"github.com/mygasbridge/mygasbridge/pkg/types"
)

// lspuKeys are the alternative names of the flat account list, in priority
// order.
var lspuKeys = []string{types.FieldLSPU, types.FieldLSPUGroup, types.FieldLSPUInfoGroup}

// Classify decides which account shape the raw accounts payload has. Grouped
// accounts win over flat ones when both are present.
func Classify(raw any) types.Shape {
	m, ok := raw.(map[string]any)
	if !ok {
		return types.ShapeEmpty
	}
	if truthy(m[types.FieldELSGroup]) {
		return types.ShapeELS
	}
	if len(LSPUList(raw)) > 0 {
		return types.ShapeLSPU
	}
	return types.ShapeEmpty
}

// ELSList returns the grouped account wrappers of the payload. A group value
// that is not a list is treated as empty.
func ELSList(raw any) []any {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	return asList(m[types.FieldELSGroup])
}

// LSPUList returns the flat account list of the payload. The first truthy of
// lspu, lspuGroup and lspuInfoGroup is used and anything but a list counts as
// empty.
func LSPUList(raw any) []any {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	for _, key := range lspuKeys {
		if v := m[key]; truthy(v) {
			return asList(v)
		}
	}
	return nil
}

// truthy mirrors what the API considers a present value: nil, zero numbers
// and empty strings or collections are absent.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case float64:
		return t != 0
	case float32:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case int32:
		return t != 0
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	case []map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func asList(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []map[string]any:
		l := make([]any, len(t))
		for i, m := range t {
			l[i] = m
		}
		return l
	default:
		return nil
	}
}

// asMaps converts a list value into maps, keeping non-map elements as nil so
// that indexes stay aligned with the upstream list.
func asMaps(v any) []map[string]any {
	switch t := v.(type) {
	case []map[string]any:
		return t
	case []any:
		l := make([]map[string]any, len(t))
		for i, e := range t {
			l[i], _ = e.(map[string]any)
		}
		return l
	default:
		return nil
	}
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
