// Package value implements the structured payload stored in the cache.
//
// A Value is a tagged union of null, bool, number, string, array and object.
// Objects keep the order in which their keys were first set, so a value
// decoded from JSON re-encodes with the same key order and structural diffs
// can report fields in the order they were stored.
//
// Values are treated as immutable once built: functions that combine values
// (diffing, merging) never modify their inputs.
package value

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"strconv"
)

// Kind identifies the variant held by a Value.
type Kind uint8

// The zero Kind is KindNull, so the zero Value is null.
const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// ErrTrailingData is returned by Parse when the input holds more than one JSON value.
var ErrTrailingData = errors.New("value: trailing data after JSON value")

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a generic serializable value.
type Value struct {
	kind Kind
	b    bool
	s    string // string payload, or the literal of a number
	arr  []Value
	obj  *Object
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an integer number value.
func Int(i int64) Value { return Value{kind: KindNumber, s: strconv.FormatInt(i, 10)} }

// Float returns a number value. Non-finite floats have no JSON form and become null.
func Float(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null()
	}
	return Value{kind: KindNumber, s: strconv.FormatFloat(f, 'g', -1, 64)}
}

// Number returns a number value from a JSON number literal.
func Number(n json.Number) Value {
	if _, err := n.Float64(); err != nil {
		return Null()
	}
	return Value{kind: KindNumber, s: n.String()}
}

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array returns an array value holding a copy of items.
func Array(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindArray, arr: cp}
}

// FromObject wraps an object. A nil object yields an empty object value.
func FromObject(o *Object) Value {
	if o == nil {
		o = NewObject()
	}
	return Value{kind: KindObject, obj: o}
}

// EmptyObject returns a value holding an object with no fields.
func EmptyObject() Value { return FromObject(NewObject()) }

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsContainer reports whether v is an array or an object.
func (v Value) IsContainer() bool { return v.kind == KindArray || v.kind == KindObject }

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// AsFloat returns the number held by v as a float64.
func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.s, 64)
	return f, err == nil
}

// AsInt returns the number held by v when it is an integer literal.
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	i, err := strconv.ParseInt(v.s, 10, 64)
	return i, err == nil
}

// Items returns the elements of an array value. The slice must not be modified.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.arr
}

// Object returns the object held by v, or nil.
func (v Value) Object() *Object {
	if v.kind != KindObject {
		return nil
	}
	return v.obj
}

// Field looks up key in an object value.
func (v Value) Field(key string) (Value, bool) {
	if v.kind != KindObject {
		return Null(), false
	}
	return v.obj.Get(key)
}

// Len returns the number of elements of an array or fields of an object.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindObject:
		return v.obj.Len()
	default:
		return 0
	}
}

// String returns the compact JSON encoding of v.
func (v Value) String() string {
	var buf bytes.Buffer
	v.encode(&buf)
	return buf.String()
}

// MarshalJSON implements json.Marshaler, preserving object key order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	v.encode(&buf)
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler, preserving object key order.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v Value) encode(buf *bytes.Buffer) {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		buf.WriteString(v.s)
	case KindString:
		encodeString(buf, v.s)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			item.encode(buf)
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, key := range v.obj.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodeString(buf, key)
			buf.WriteByte(':')
			v.obj.fields[key].encode(buf)
		}
		buf.WriteByte('}')
	}
}

func encodeString(buf *bytes.Buffer, s string) {
	// Marshalling a string cannot fail.
	b, _ := json.Marshal(s)
	buf.Write(b)
}

// Parse decodes a single JSON document into a Value.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return Null(), fmt.Errorf("value: failed to parse JSON: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Null(), ErrTrailingData
	}
	return v, nil
}

// MustParse is like Parse but panics on malformed input. Intended for tests
// and literals.
func MustParse(s string) Value {
	v, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return v
}

// From converts an arbitrary JSON-serializable Go value into a Value.
func From(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case *Value:
		if t == nil {
			return Null(), nil
		}
		return *t, nil
	case json.RawMessage:
		return Parse(t)
	}

	data, err := json.Marshal(x)
	if err != nil {
		return Null(), fmt.Errorf("value: failed to marshal %T: %w", x, err)
	}
	return Parse(data)
}

// Decode unmarshals v into out, which must be a pointer.
func (v Value) Decode(out any) error {
	data, err := v.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// Interface converts v into plain Go values: nil, bool, int64 or float64,
// string, []any and map[string]any. Object key order is lost.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		if i, ok := v.AsInt(); ok {
			return i
		}
		f, _ := v.AsFloat()
		return f
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]any, v.obj.Len())
		for _, key := range v.obj.keys {
			out[key] = v.obj.fields[key].Interface()
		}
		return out
	default:
		return nil
	}
}

// Equal reports whether a and b are structurally equal. Numbers compare by
// numeric value and objects compare regardless of key order.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}

	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindString:
		return a.s == b.s
	case KindNumber:
		return equalNumbers(a, b)
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if a.obj.Len() != b.obj.Len() {
			return false
		}
		for _, key := range a.obj.keys {
			bv, ok := b.obj.fields[key]
			if !ok || !Equal(a.obj.fields[key], bv) {
				return false
			}
		}
		return true
	}
	return false
}

// equalNumbers compares number literals exactly, so integers beyond the
// float64 mantissa stay distinct.
func equalNumbers(a, b Value) bool {
	if a.s == b.s {
		return true
	}
	if ai, ok := a.AsInt(); ok {
		if bi, ok := b.AsInt(); ok {
			return ai == bi
		}
	}
	ar, aok := new(big.Rat).SetString(a.s)
	br, bok := new(big.Rat).SetString(b.s)
	return aok && bok && ar.Cmp(br) == 0
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Null(), err
	}

	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Value{kind: KindNumber, s: t.String()}, nil
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		}
	}
	return Null(), fmt.Errorf("unexpected token %v", tok)
}

func decodeObject(dec *json.Decoder) (Value, error) {
	obj := NewObject()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Null(), err
		}
		key, ok := tok.(string)
		if !ok {
			return Null(), fmt.Errorf("expected object key, got %v", tok)
		}
		field, err := decodeValue(dec)
		if err != nil {
			return Null(), err
		}
		obj.Set(key, field)
	}
	// closing '}'
	if _, err := dec.Token(); err != nil {
		return Null(), err
	}
	return FromObject(obj), nil
}

func decodeArray(dec *json.Decoder) (Value, error) {
	items := make([]Value, 0)
	for dec.More() {
		item, err := decodeValue(dec)
		if err != nil {
			return Null(), err
		}
		items = append(items, item)
	}
	// closing ']'
	if _, err := dec.Token(); err != nil {
		return Null(), err
	}
	return Value{kind: KindArray, arr: items}, nil
}
