// Package body models packet bodies as a recursive value type.
//
// Values never coerce silently: readers go through fallible accessors that
// report whether a field is absent or carries an unexpected kind.
package body

import (
	"errors"
	"fmt"
)

var (
	ErrFieldMissing = errors.New("body: field missing")
	ErrFieldType    = errors.New("body: field type mismatch")
)

type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindLong
	KindDouble
	KindString
	KindBinary
	KindSequence
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindLong:
		return "long"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindBinary:
		return "binary"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is one body node. The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	bin  []byte
	seq  []Value
	m    Mapping
}

func Null() Value            { return Value{} }
func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }
func Int(i int32) Value      { return Value{kind: KindInt, i: int64(i)} }
func Long(i int64) Value     { return Value{kind: KindLong, i: i} }
func Double(f float64) Value { return Value{kind: KindDouble, f: f} }
func String(s string) Value  { return Value{kind: KindString, s: s} }

func Binary(b []byte) Value {
	if len(b) == 0 {
		return Value{kind: KindBinary}
	}
	return Value{kind: KindBinary, bin: append([]byte(nil), b...)}
}

func Seq(items ...Value) Value {
	if len(items) == 0 {
		return Value{kind: KindSequence}
	}
	return Value{kind: KindSequence, seq: items}
}

func Map(m Mapping) Value {
	if len(m) == 0 {
		return Value{kind: KindMapping}
	}
	return Value{kind: KindMapping, m: m}
}

// Longs builds a sequence of 64-bit ids.
func Longs(ids ...int64) Value {
	items := make([]Value, 0, len(ids))
	for _, id := range ids {
		items = append(items, Long(id))
	}
	return Seq(items...)
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) mismatch(want string) error {
	return fmt.Errorf("%w: want %s, have %s", ErrFieldType, want, v.kind)
}

func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, v.mismatch("bool")
	}
	return v.b, nil
}

// AsInt returns an int value. Longs are accepted only when they fit.
func (v Value) AsInt() (int32, error) {
	switch v.kind {
	case KindInt:
		return int32(v.i), nil
	case KindLong:
		if v.i < -1<<31 || v.i > 1<<31-1 {
			return 0, fmt.Errorf("%w: long %d overflows int", ErrFieldType, v.i)
		}
		return int32(v.i), nil
	default:
		return 0, v.mismatch("int")
	}
}

// AsLong returns a 64-bit integer. Ints widen; doubles are rejected.
func (v Value) AsLong() (int64, error) {
	switch v.kind {
	case KindInt, KindLong:
		return v.i, nil
	default:
		return 0, v.mismatch("long")
	}
}

func (v Value) AsDouble() (float64, error) {
	switch v.kind {
	case KindDouble:
		return v.f, nil
	case KindInt:
		return float64(v.i), nil
	default:
		return 0, v.mismatch("double")
	}
}

func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", v.mismatch("string")
	}
	return v.s, nil
}

func (v Value) AsBinary() ([]byte, error) {
	if v.kind != KindBinary {
		return nil, v.mismatch("binary")
	}
	return v.bin, nil
}

func (v Value) AsSeq() ([]Value, error) {
	if v.kind != KindSequence {
		return nil, v.mismatch("sequence")
	}
	return v.seq, nil
}

func (v Value) AsMap() (Mapping, error) {
	if v.kind != KindMapping {
		return nil, v.mismatch("mapping")
	}
	return v.m, nil
}
