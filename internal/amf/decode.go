package amf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMalformedValue is returned for unknown type markers and truncated input.
var ErrMalformedValue = errors.New("amf: malformed value")

// maxDepth bounds nesting so hostile payloads cannot exhaust the stack.
const maxDepth = 64

// DecodeAll decodes consecutive values until b is exhausted.
func DecodeAll(b []byte) ([]Value, error) {
	d := decoder{buf: b}
	var out []Value
	for d.off < len(d.buf) {
		v, err := d.value(0)
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Decode decodes a single value and returns the number of bytes consumed.
func Decode(b []byte) (Value, int, error) {
	d := decoder{buf: b}
	v, err := d.value(0)
	return v, d.off, err
}

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s at offset %d", ErrMalformedValue, fmt.Sprintf(format, args...), d.off)
}

func (d *decoder) need(n int) error {
	if n < 0 || len(d.buf)-d.off < n {
		return d.malformed("truncated input, need %d bytes, have %d", n, len(d.buf)-d.off)
	}
	return nil
}

func (d *decoder) u8() (byte, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	b := d.buf[d.off]
	d.off++
	return b, nil
}

func (d *decoder) u16() (uint16, error) {
	if err := d.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(d.buf[d.off:])
	d.off += 2
	return v, nil
}

func (d *decoder) u32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

func (d *decoder) str(n int) (string, error) {
	if err := d.need(n); err != nil {
		return "", err
	}
	s := string(d.buf[d.off : d.off+n])
	d.off += n
	return s, nil
}

func (d *decoder) value(depth int) (Value, error) {
	if depth > maxDepth {
		return nil, d.malformed("nesting deeper than %d", maxDepth)
	}
	marker, err := d.u8()
	if err != nil {
		return nil, err
	}
	switch marker {
	case markerNumber:
		if err := d.need(8); err != nil {
			return nil, err
		}
		bits := binary.BigEndian.Uint64(d.buf[d.off:])
		d.off += 8
		return Number(math.Float64frombits(bits)), nil
	case markerBoolean:
		b, err := d.u8()
		if err != nil {
			return nil, err
		}
		return Boolean(b != 0), nil
	case markerString:
		n, err := d.u16()
		if err != nil {
			return nil, err
		}
		s, err := d.str(int(n))
		return String(s), err
	case markerLongString:
		n, err := d.u32()
		if err != nil {
			return nil, err
		}
		s, err := d.str(int(n))
		return String(s), err
	case markerNull, markerUndefined:
		return Null{}, nil
	case markerObject:
		return d.properties(depth)
	case markerECMAArray:
		// The count is only a hint; the end marker terminates the pairs.
		if _, err := d.u32(); err != nil {
			return nil, err
		}
		return d.properties(depth)
	case markerStrictArr:
		n, err := d.u32()
		if err != nil {
			return nil, err
		}
		// Every element takes at least one byte.
		if int64(n) > int64(len(d.buf)-d.off) {
			return nil, d.malformed("array count %d exceeds input", n)
		}
		arr := make(Array, 0, n)
		for i := uint32(0); i < n; i++ {
			v, err := d.value(depth + 1)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return arr, nil
	default:
		d.off--
		return nil, d.malformed("unknown type marker 0x%02x", marker)
	}
}

func (d *decoder) properties(depth int) (*Object, error) {
	obj := NewObject()
	for {
		n, err := d.u16()
		if err != nil {
			return nil, err
		}
		if n == 0 && d.off < len(d.buf) && d.buf[d.off] == markerObjectEnd {
			d.off++
			return obj, nil
		}
		key, err := d.str(int(n))
		if err != nil {
			return nil, err
		}
		v, err := d.value(depth + 1)
		if err != nil {
			return nil, err
		}
		obj.Set(key, v)
	}
}
