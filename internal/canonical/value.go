// Package canonical normalizes value trees into a hash-stable form and
// derives SHA-256 fingerprints from their canonical JSON encoding.
package canonical

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindDecimal
	KindTime
	KindDate
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindDecimal:
		return "decimal"
	case KindTime:
		return "time"
	case KindDate:
		return "date"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a closed sum type over the kinds that can be canonicalized.
// The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	d    decimal.Decimal
	t    time.Time
	s    string
	list []Value
	m    map[string]Value
}

// Valuer is implemented by domain types that know their own canonical tree.
type Valuer interface {
	CanonicalValue() (Value, error)
}

func Null() Value { return Value{} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Int(i int64) Value { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func Decimal(d decimal.Decimal) Value { return Value{kind: KindDecimal, d: d} }
func Time(t time.Time) Value { return Value{kind: KindTime, t: t} }
func String(s string) Value { return Value{kind: KindString, s: s} }

// Date holds a calendar date. Only the year, month and day of t are used.
func Date(t time.Time) Value {
	return Value{kind: KindDate, t: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

// List builds a list value. Element order is significant.
func List(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

// Map builds a map value from m.
func Map(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindMap, m: cp}
}

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) BoolValue() bool { return v.b }
func (v Value) IntValue() int64 { return v.i }
func (v Value) FloatValue() float64 { return v.f }
func (v Value) StringValue() string { return v.s }
func (v Value) TimeValue() time.Time { return v.t }
func (v Value) DecimalValue() decimal.Decimal { return v.d }

// Items returns a copy of the list elements.
func (v Value) Items() []Value {
	cp := make([]Value, len(v.list))
	copy(cp, v.list)
	return cp
}

// Keys returns the map keys in lexicographic order.
func (v Value) Keys() []string {
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Field returns the map entry for key.
func (v Value) Field(key string) (Value, bool) {
	f, ok := v.m[key]
	return f, ok
}

// Number reports the numeric value of int, float and decimal kinds.
func (v Value) Number() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	case KindDecimal:
		return v.d.InexactFloat64(), true
	default:
		return 0, false
	}
}

// From converts a Go value into a Value. Supported inputs are nil, bool,
// integer and float kinds, decimal.Decimal, time.Time, string, json.Number,
// Value, Valuer, slices of any supported type and maps keyed by string.
// Any other type is rejected.
func From(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case Valuer:
		return t.CanonicalValue()
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return fromUint(uint64(t))
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		return fromUint(t)
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case *float64:
		if t == nil {
			return Null(), nil
		}
		return Float(*t), nil
	case *bool:
		if t == nil {
			return Null(), nil
		}
		return Bool(*t), nil
	case *string:
		if t == nil {
			return Null(), nil
		}
		return String(*t), nil
	case decimal.Decimal:
		return Decimal(t), nil
	case time.Time:
		return Time(t), nil
	case string:
		return String(t), nil
	case json.Number:
		return fromNumber(t)
	case []Value:
		return List(t...), nil
	case []any:
		items := make([]Value, 0, len(t))
		for i, item := range t {
			cv, err := From(item)
			if err != nil {
				return Value{}, eris.Wrapf(err, "canonical: list index %d", i)
			}
			items = append(items, cv)
		}
		return Value{kind: KindList, list: items}, nil
	case []string:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			items = append(items, String(item))
		}
		return Value{kind: KindList, list: items}, nil
	case []float64:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			items = append(items, Float(item))
		}
		return Value{kind: KindList, list: items}, nil
	case []map[string]any:
		items := make([]Value, 0, len(t))
		for i, item := range t {
			cv, err := From(item)
			if err != nil {
				return Value{}, eris.Wrapf(err, "canonical: list index %d", i)
			}
			items = append(items, cv)
		}
		return Value{kind: KindList, list: items}, nil
	case map[string]Value:
		return Map(t), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			cv, err := From(item)
			if err != nil {
				return Value{}, eris.Wrapf(err, "canonical: key %q", k)
			}
			m[k] = cv
		}
		return Value{kind: KindMap, m: m}, nil
	case map[string]string:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			m[k] = String(item)
		}
		return Value{kind: KindMap, m: m}, nil
	case map[string]float64:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			m[k] = Float(item)
		}
		return Value{kind: KindMap, m: m}, nil
	default:
		return Value{}, eris.Errorf("canonical: unsupported type %T", x)
	}
}

// FromJSON converts any JSON-encodable value by round-tripping it through
// encoding/json. Numbers keep their integer or float form.
func FromJSON(x any) (Value, error) {
	raw, err := json.Marshal(x)
	if err != nil {
		return Value{}, eris.Wrap(err, "canonical: marshal")
	}
	return ParseJSON(raw)
}

// ParseJSON decodes raw JSON into a Value.
func ParseJSON(raw []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return Value{}, eris.Wrap(err, "canonical: decode")
	}
	return From(tree)
}

// Interface converts v back into plain Go values: nil, bool, int64,
// float64, string, []any and map[string]any. Times are rendered in their
// canonical string form and decimals become float64.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindDecimal:
		return v.d.InexactFloat64()
	case KindTime:
		return formatTime(v.t)
	case KindDate:
		return v.t.Format(dateLayout)
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, item := range v.m {
			out[k] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

func fromUint(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return Value{}, eris.Errorf("canonical: integer %d overflows int64", u)
	}
	return Int(int64(u)), nil
}

func fromNumber(n json.Number) (Value, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := n.Int64(); err == nil {
			return Int(i), nil
		}
	}
	f, err := n.Float64()
	if err != nil {
		return Value{}, eris.Wrapf(err, "canonical: parse number %q", s)
	}
	return Float(f), nil
}
