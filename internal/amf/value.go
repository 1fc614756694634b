// Package amf implements the AMF0 value format carried by RTMP command and
// data messages.
//
// A decoded payload is a flat sequence of Values. Objects keep insertion order
// because the order of keys is visible on the wire.
package amf

import (
	"fmt"
	"slices"
	"strings"
)

// Type markers.
const (
	markerNumber     = 0x00
	markerBoolean    = 0x01
	markerString     = 0x02
	markerObject     = 0x03
	markerNull       = 0x05
	markerUndefined  = 0x06
	markerECMAArray  = 0x08
	markerObjectEnd  = 0x09
	markerStrictArr  = 0x0a
	markerLongString = 0x0c
)

// MaxShortString is the longest string encoded with a 16-bit length.
const MaxShortString = 0xffff

type Kind uint8

const (
	KindNumber Kind = iota
	KindBoolean
	KindString
	KindNull
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindString:
		return "string"
	case KindNull:
		return "null"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is one node of the format.
type Value interface {
	Kind() Kind
}

type (
	Number  float64
	Boolean bool
	String  string
	Null    struct{}
	Array   []Value
)

func (Number) Kind() Kind  { return KindNumber }
func (Boolean) Kind() Kind { return KindBoolean }
func (String) Kind() Kind  { return KindString }
func (Null) Kind() Kind    { return KindNull }
func (Array) Kind() Kind   { return KindArray }

// Object is an ordered mapping with unique keys.
// The zero value is not usable; use NewObject.
type Object struct {
	keys  []string
	props map[string]Value
}

func NewObject() *Object {
	return &Object{props: make(map[string]Value)}
}

func (*Object) Kind() Kind { return KindObject }

// Set stores v under key. An existing key keeps its position.
func (o *Object) Set(key string, v Value) *Object {
	if v == nil {
		v = Null{}
	}
	if _, ok := o.props[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.props[key] = v
	return o
}

func (o *Object) Get(key string) (Value, bool) {
	v, ok := o.props[key]
	return v, ok
}

// Delete reports whether key was present.
func (o *Object) Delete(key string) bool {
	if _, ok := o.props[key]; !ok {
		return false
	}
	delete(o.props, key)
	if i := slices.Index(o.keys, key); i >= 0 {
		o.keys = slices.Delete(o.keys, i, i+1)
	}
	return true
}

func (o *Object) Len() int { return len(o.keys) }

func (o *Object) Keys() []string { return slices.Clone(o.keys) }

// GetString returns the string stored under key, if it is one.
func (o *Object) GetString(key string) (string, bool) {
	v, ok := o.props[key].(String)
	return string(v), ok
}

// GetNumber returns the number stored under key, if it is one.
func (o *Object) GetNumber(key string) (float64, bool) {
	v, ok := o.props[key].(Number)
	return float64(v), ok
}

// Clone returns a deep copy.
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	c := &Object{keys: slices.Clone(o.keys), props: make(map[string]Value, len(o.props))}
	for k, v := range o.props {
		c.props[k] = cloneValue(v)
	}
	return c
}

func (o *Object) Format(f fmt.State, _ rune) {
	if o == nil {
		_, _ = f.Write([]byte("<nil>"))
		return
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %v", k, o.props[k])
	}
	b.WriteByte('}')
	_, _ = f.Write([]byte(b.String()))
}

func cloneValue(v Value) Value {
	switch t := v.(type) {
	case *Object:
		return t.Clone()
	case Array:
		out := make(Array, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
