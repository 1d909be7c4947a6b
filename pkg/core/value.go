package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrUnsupportedValue is returned when data cannot be represented as a Value.
var ErrUnsupportedValue = errors.New("unsupported value type")

type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindString
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is the JSON-compatible data exchanged between the engine and the
// scripts it runs. The zero Value is Null.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	s     string
	items []Value
}

func Null() Value {
	return Value{}
}

func BoolValue(b bool) Value {
	return Value{kind: KindBool, b: b}
}

func IntValue(i int64) Value {
	return Value{kind: KindInt, i: i}
}

func StringValue(s string) Value {
	return Value{kind: KindString, s: s}
}

// ArrayValue copies items into a new array Value.
func ArrayValue(items ...Value) Value {
	copied := make([]Value, len(items))
	copy(copied, items)
	return Value{kind: KindArray, items: copied}
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsNull() bool {
	return v.kind == KindNull
}

func (v Value) Bool() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) Int() (int64, bool) {
	return v.i, v.kind == KindInt
}

func (v Value) Str() (string, bool) {
	return v.s, v.kind == KindString
}

// Items returns a copy of the array elements, or nil for non-array values.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	items := make([]Value, len(v.items))
	copy(items, v.items)
	return items
}

func (v Value) Len() int {
	return len(v.items)
}

// Index returns the i-th array element. It panics if v is not an array or
// i is out of range.
func (v Value) Index(i int) Value {
	if v.kind != KindArray {
		panic("core: Index on " + v.kind.String() + " value")
	}
	return v.items[i]
}

// Equal reports structural equality.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindInt:
		return v.i == other.i
	case KindString:
		return v.s == other.s
	case KindArray:
		if len(v.items) != len(other.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(other.items[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Hash returns a structural hash; equal values hash equally.
func (v Value) Hash() uint64 {
	h := newHasher()
	v.hashInto(h)
	return h.Sum64()
}

func (v Value) hashInto(h *hasher) {
	h.writeByte(byte(v.kind))
	switch v.kind {
	case KindBool:
		if v.b {
			h.writeByte(1)
		} else {
			h.writeByte(0)
		}
	case KindInt:
		h.writeUint64(uint64(v.i))
	case KindString:
		h.writeUint64(uint64(len(v.s)))
		h.writeString(v.s)
	case KindArray:
		h.writeUint64(uint64(len(v.items)))
		for _, item := range v.items {
			item.hashInto(h)
		}
	}
}

// String renders the value for plain-text output. Strings are rendered raw,
// everything else as JSON.
func (v Value) String() string {
	if v.kind == KindString {
		return v.s
	}
	var sb strings.Builder
	v.writeJSON(&sb)
	return sb.String()
}

func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	v.writeJSON(&buf)
	return buf.Bytes(), nil
}

type jsonWriter interface {
	io.Writer
	io.StringWriter
	io.ByteWriter
}

func (v Value) writeJSON(w jsonWriter) {
	switch v.kind {
	case KindNull:
		w.WriteString("null")
	case KindBool:
		w.WriteString(strconv.FormatBool(v.b))
	case KindInt:
		w.WriteString(strconv.FormatInt(v.i, 10))
	case KindString:
		w.Write(quote(v.s))
	case KindArray:
		w.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				w.WriteByte(',')
			}
			item.writeJSON(w)
		}
		w.WriteByte(']')
	}
}

// quote encodes s as a JSON string without escaping <, > and &.
func quote(s string) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.Encode(s)
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromAny converts decoded JSON-like Go data into a Value. Floats with a
// fractional part and objects are rejected.
func FromAny(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return BoolValue(x), nil
	case string:
		return StringValue(x), nil
	case int:
		return IntValue(int64(x)), nil
	case int64:
		return IntValue(x), nil
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: number %s", ErrUnsupportedValue, x)
		}
		return IntValue(i), nil
	case float64:
		i, ok := integral(x)
		if !ok {
			return Value{}, fmt.Errorf("%w: non-integer number %v", ErrUnsupportedValue, x)
		}
		return IntValue(i), nil
	case []any:
		items := make([]Value, 0, len(x))
		for idx, elem := range x {
			item, err := FromAny(elem)
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", idx, err)
			}
			items = append(items, item)
		}
		return Value{kind: KindArray, items: items}, nil
	case []Value:
		return ArrayValue(x...), nil
	case Value:
		return x, nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, raw)
	}
}

func integral(f float64) (int64, bool) {
	const limit = 1 << 63
	if f != f || f >= limit || f < -limit {
		return 0, false
	}
	i := int64(f)
	if float64(i) != f {
		return 0, false
	}
	return i, true
}
