package body

import "fmt"

// Field is one key/value pair of a Mapping.
type Field struct {
	Key   string
	Value Value
}

func KV(key string, v Value) Field {
	return Field{Key: key, Value: v}
}

// Mapping is a key-ordered document. Field order is wire order.
type Mapping []Field

func NewMapping(fields ...Field) Mapping {
	if len(fields) == 0 {
		return nil
	}
	return Mapping(fields)
}

func (m Mapping) Get(key string) (Value, bool) {
	for _, f := range m {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

func (m Mapping) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Set replaces key in place or appends it.
func (m Mapping) Set(key string, v Value) Mapping {
	for i := range m {
		if m[i].Key == key {
			m[i].Value = v
			return m
		}
	}
	return append(m, Field{Key: key, Value: v})
}

func (m Mapping) Keys() []string {
	out := make([]string, 0, len(m))
	for _, f := range m {
		out = append(out, f.Key)
	}
	return out
}

// First returns the first present, non-null field among keys. It is used
// where different protocol versions name the same field differently.
func (m Mapping) First(keys ...string) (Value, string, bool) {
	for _, k := range keys {
		if v, ok := m.Get(k); ok && !v.IsNull() {
			return v, k, true
		}
	}
	return Value{}, "", false
}

func (m Mapping) field(key string) (Value, error) {
	v, ok := m.Get(key)
	if !ok {
		return Value{}, fmt.Errorf("%w: %q", ErrFieldMissing, key)
	}
	return v, nil
}

func wrapKey(key string, err error) error {
	return fmt.Errorf("%q: %w", key, err)
}

func (m Mapping) Bool(key string) (bool, error) {
	v, err := m.field(key)
	if err != nil {
		return false, err
	}
	out, err := v.AsBool()
	if err != nil {
		return false, wrapKey(key, err)
	}
	return out, nil
}

func (m Mapping) Int(key string) (int32, error) {
	v, err := m.field(key)
	if err != nil {
		return 0, err
	}
	out, err := v.AsInt()
	if err != nil {
		return 0, wrapKey(key, err)
	}
	return out, nil
}

func (m Mapping) Long(key string) (int64, error) {
	v, err := m.field(key)
	if err != nil {
		return 0, err
	}
	out, err := v.AsLong()
	if err != nil {
		return 0, wrapKey(key, err)
	}
	return out, nil
}

func (m Mapping) Double(key string) (float64, error) {
	v, err := m.field(key)
	if err != nil {
		return 0, err
	}
	out, err := v.AsDouble()
	if err != nil {
		return 0, wrapKey(key, err)
	}
	return out, nil
}

func (m Mapping) String(key string) (string, error) {
	v, err := m.field(key)
	if err != nil {
		return "", err
	}
	out, err := v.AsString()
	if err != nil {
		return "", wrapKey(key, err)
	}
	return out, nil
}

func (m Mapping) Binary(key string) ([]byte, error) {
	v, err := m.field(key)
	if err != nil {
		return nil, err
	}
	out, err := v.AsBinary()
	if err != nil {
		return nil, wrapKey(key, err)
	}
	return out, nil
}

func (m Mapping) Seq(key string) ([]Value, error) {
	v, err := m.field(key)
	if err != nil {
		return nil, err
	}
	out, err := v.AsSeq()
	if err != nil {
		return nil, wrapKey(key, err)
	}
	return out, nil
}

func (m Mapping) Map(key string) (Mapping, error) {
	v, err := m.field(key)
	if err != nil {
		return nil, err
	}
	out, err := v.AsMap()
	if err != nil {
		return nil, wrapKey(key, err)
	}
	return out, nil
}

// LongOr returns the long at key, or def when absent or mistyped.
func (m Mapping) LongOr(key string, def int64) int64 {
	out, err := m.Long(key)
	if err != nil {
		return def
	}
	return out
}

func (m Mapping) IntOr(key string, def int32) int32 {
	out, err := m.Int(key)
	if err != nil {
		return def
	}
	return out
}

func (m Mapping) StringOr(key string, def string) string {
	out, err := m.String(key)
	if err != nil {
		return def
	}
	return out
}

func (m Mapping) BoolOr(key string, def bool) bool {
	out, err := m.Bool(key)
	if err != nil {
		return def
	}
	return out
}
