package amf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var ErrUnsupportedValue = errors.New("amf: unsupported value")

// Encode returns the canonical encoding of v. A nil Value encodes as Null.
func Encode(v Value) ([]byte, error) {
	return appendValue(nil, v)
}

// EncodeSequence encodes values back to back, the inverse of DecodeAll.
func EncodeSequence(values []Value) ([]byte, error) {
	var out []byte
	for i, v := range values {
		var err error
		if out, err = appendValue(out, v); err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
	}
	return out, nil
}

func appendValue(b []byte, v Value) ([]byte, error) {
	switch t := v.(type) {
	case nil, Null:
		return append(b, markerNull), nil
	case Number:
		b = append(b, markerNumber)
		return binary.BigEndian.AppendUint64(b, math.Float64bits(float64(t))), nil
	case Boolean:
		if t {
			return append(b, markerBoolean, 1), nil
		}
		return append(b, markerBoolean, 0), nil
	case String:
		if len(t) > MaxShortString {
			b = append(b, markerLongString)
			b = binary.BigEndian.AppendUint32(b, uint32(len(t)))
			return append(b, t...), nil
		}
		b = append(b, markerString)
		b = binary.BigEndian.AppendUint16(b, uint16(len(t)))
		return append(b, t...), nil
	case *Object:
		if t == nil {
			return append(b, markerNull), nil
		}
		b = append(b, markerObject)
		for _, k := range t.keys {
			if len(k) > MaxShortString {
				return nil, fmt.Errorf("%w: object key of %d bytes", ErrUnsupportedValue, len(k))
			}
			b = binary.BigEndian.AppendUint16(b, uint16(len(k)))
			b = append(b, k...)
			var err error
			if b, err = appendValue(b, t.props[k]); err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
		}
		return append(b, 0, 0, markerObjectEnd), nil
	case Array:
		b = append(b, markerStrictArr)
		b = binary.BigEndian.AppendUint32(b, uint32(len(t)))
		for i, e := range t {
			var err error
			if b, err = appendValue(b, e); err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}
