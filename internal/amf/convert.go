package amf

import (
	"fmt"
	"math"
	"slices"
)

// Equal reports structural equality. NaN equals NaN and nil equals Null.
func Equal(a, b Value) bool {
	if a == nil {
		a = Null{}
	}
	if b == nil {
		b = Null{}
	}
	switch x := a.(type) {
	case Number:
		y, ok := b.(Number)
		if !ok {
			return false
		}
		if math.IsNaN(float64(x)) && math.IsNaN(float64(y)) {
			return true
		}
		return x == y
	case Boolean, String, Null:
		return a == b
	case Array:
		y, ok := b.(Array)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case *Object:
		y, ok := b.(*Object)
		if !ok {
			return false
		}
		if x == nil || y == nil {
			return x == y
		}
		if !slices.Equal(x.keys, y.keys) {
			return false
		}
		for _, k := range x.keys {
			if !Equal(x.props[k], y.props[k]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// From converts common Go values. Map keys are sorted so output is stable.
func From(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return t, nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(t), nil
	case int:
		return Number(t), nil
	case int32:
		return Number(t), nil
	case int64:
		return Number(t), nil
	case uint32:
		return Number(t), nil
	case bool:
		return Boolean(t), nil
	case string:
		return String(t), nil
	case []any:
		arr := make(Array, 0, len(t))
		for i, e := range t {
			ev, err := From(e)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			arr = append(arr, ev)
		}
		return arr, nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		obj := NewObject()
		for _, k := range keys {
			ev, err := From(t[k])
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			obj.Set(k, ev)
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

// Native converts v to plain Go values suitable for encoding/json.
// Object key order is lost.
func Native(v Value) any {
	switch t := v.(type) {
	case Number:
		return float64(t)
	case Boolean:
		return bool(t)
	case String:
		return string(t)
	case Array:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Native(e)
		}
		return out
	case *Object:
		if t == nil {
			return nil
		}
		out := make(map[string]any, len(t.keys))
		for _, k := range t.keys {
			out[k] = Native(t.props[k])
		}
		return out
	default:
		return nil
	}
}
