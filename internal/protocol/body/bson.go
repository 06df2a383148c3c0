package body

import (
	"fmt"
	"strconv"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

const binarySubtypeGeneric byte = 0x00

// Encode serializes m as a BSON document. Ints encode as int32 and Longs as
// int64, so ids above 2^53 survive intact.
func Encode(m Mapping) ([]byte, error) {
	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc, err := appendFields(doc, m)
	if err != nil {
		return nil, err
	}
	return bsoncore.AppendDocumentEnd(doc, idx)
}

// Decode parses one BSON document. An empty input decodes to an empty Mapping.
func Decode(b []byte) (Mapping, error) {
	if len(b) == 0 {
		return nil, nil
	}
	doc := bsoncore.Document(b)
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("body: invalid document: %w", err)
	}
	return decodeDocument(doc)
}

func appendFields(dst []byte, m Mapping) ([]byte, error) {
	var err error
	for _, f := range m {
		dst, err = appendValue(dst, f.Key, f.Value)
		if err != nil {
			return nil, err
		}
	}
	return dst, nil
}

func appendValue(dst []byte, key string, v Value) ([]byte, error) {
	switch v.kind {
	case KindNull:
		return bsoncore.AppendNullElement(dst, key), nil
	case KindBool:
		return bsoncore.AppendBooleanElement(dst, key, v.b), nil
	case KindInt:
		return bsoncore.AppendInt32Element(dst, key, int32(v.i)), nil
	case KindLong:
		return bsoncore.AppendInt64Element(dst, key, v.i), nil
	case KindDouble:
		return bsoncore.AppendDoubleElement(dst, key, v.f), nil
	case KindString:
		return bsoncore.AppendStringElement(dst, key, v.s), nil
	case KindBinary:
		return bsoncore.AppendBinaryElement(dst, key, binarySubtypeGeneric, v.bin), nil
	case KindSequence:
		idx, out := bsoncore.AppendArrayElementStart(dst, key)
		var err error
		for i, item := range v.seq {
			out, err = appendValue(out, strconv.Itoa(i), item)
			if err != nil {
				return nil, err
			}
		}
		return bsoncore.AppendArrayEnd(out, idx)
	case KindMapping:
		idx, out := bsoncore.AppendDocumentElementStart(dst, key)
		out, err := appendFields(out, v.m)
		if err != nil {
			return nil, err
		}
		return bsoncore.AppendDocumentEnd(out, idx)
	default:
		return nil, fmt.Errorf("body: cannot encode %s at %q", v.kind, key)
	}
}

func decodeDocument(doc bsoncore.Document) (Mapping, error) {
	elems, err := doc.Elements()
	if err != nil {
		return nil, fmt.Errorf("body: read elements: %w", err)
	}
	var out Mapping
	for _, el := range elems {
		key := el.Key()
		v, err := decodeValue(el.Value())
		if err != nil {
			return nil, fmt.Errorf("body: field %q: %w", key, err)
		}
		out = append(out, Field{Key: key, Value: v})
	}
	return out, nil
}

func decodeValue(raw bsoncore.Value) (Value, error) {
	switch raw.Type {
	case bsontype.Null, bsontype.Undefined:
		return Null(), nil
	case bsontype.Boolean:
		return Bool(raw.Boolean()), nil
	case bsontype.Int32:
		return Int(raw.Int32()), nil
	case bsontype.Int64:
		return Long(raw.Int64()), nil
	case bsontype.DateTime:
		return Long(raw.DateTime()), nil
	case bsontype.Double:
		return Double(raw.Double()), nil
	case bsontype.String:
		return String(raw.StringValue()), nil
	case bsontype.Binary:
		_, data := raw.Binary()
		return Binary(data), nil
	case bsontype.Array:
		vals, err := raw.Array().Values()
		if err != nil {
			return Value{}, err
		}
		var items []Value
		for _, item := range vals {
			v, err := decodeValue(item)
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		}
		return Seq(items...), nil
	case bsontype.EmbeddedDocument:
		m, err := decodeDocument(raw.Document())
		if err != nil {
			return Value{}, err
		}
		return Map(m), nil
	default:
		return Value{}, fmt.Errorf("unsupported bson type %s", raw.Type)
	}
}
