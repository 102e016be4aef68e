package value

import (
	"encoding/json"
	"fmt"
)

// ToNative converts value into the shape encoding/json produces with
// UseNumber: map[string]any, []any, json.Number, string, bool and nil. Key
// order is lost, use it only for consumers which do not care (validators).
func ToNative(v Value) (any, error) {
	switch t := v.(type) {
	case nil, Null:
		return nil, nil
	case Bool:
		return bool(t), nil
	case String:
		return string(t), nil
	case Number:
		return json.Number(t), nil
	case Array:
		out := make([]any, 0, len(t))
		for _, e := range t {
			c, err := ToNative(e)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, nil
	case *Object:
		out := make(map[string]any, t.Len())
		for _, m := range t.Members() {
			c, err := ToNative(m.Value)
			if err != nil {
				return nil, err
			}
			out[m.Key] = c
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
