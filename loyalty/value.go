/*
value.go - Tagged variant for fact values and rule operands

PURPOSE:
  Facts resolve to one of a small set of shapes (Number, String, Bool,
  Date, List, Map, Null) and operators switch over them. Numbers are
  decimal-backed so rate math and equality behave exactly.

COERCION RULES:
  - Number vs numeric string: the string is parsed and compared numerically
  - Date vs ISO-8601 string: both sides are parsed to instants
  - String vs string ordering: instants when both parse as dates,
    lexicographic otherwise
  - Null: equal only to an explicit null; every other comparison misses
*/
package loyalty

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// KINDS AND CONSTRUCTION
// =============================================================================

type Kind int

const (
	KindNull Kind = iota
	KindNumber
	KindString
	KindBool
	KindDate
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindDate:
		return "date"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "null"
	}
}

// Value is an immutable tagged variant. The zero Value is Null.
type Value struct {
	kind Kind
	num  decimal.Decimal
	str  string
	b    bool
	t    time.Time
	list []Value
	m    map[string]Value
}

func Null() Value                          { return Value{} }
func NewNumber(d decimal.Decimal) Value    { return Value{kind: KindNumber, num: d} }
func NewNumberFromInt(n int64) Value       { return Value{kind: KindNumber, num: decimal.NewFromInt(n)} }
func NewNumberFromFloat(f float64) Value   { return Value{kind: KindNumber, num: decimal.NewFromFloat(f)} }
func NewString(s string) Value             { return Value{kind: KindString, str: s} }
func NewBool(b bool) Value                 { return Value{kind: KindBool, b: b} }
func NewDate(t time.Time) Value            { return Value{kind: KindDate, t: t} }
func NewList(vs []Value) Value             { return Value{kind: KindList, list: vs} }
func NewMap(m map[string]Value) Value      { return Value{kind: KindMap, m: m} }

// FromAny converts a JSON-decoded (or native) Go value into a Value.
// Unrecognized types become Null.
func FromAny(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case bool:
		return NewBool(x)
	case string:
		return NewString(x)
	case float64:
		return NewNumberFromFloat(x)
	case float32:
		return NewNumberFromFloat(float64(x))
	case int:
		return NewNumberFromInt(int64(x))
	case int32:
		return NewNumberFromInt(int64(x))
	case int64:
		return NewNumberFromInt(x)
	case uint:
		return NewNumberFromInt(int64(x))
	case uint32:
		return NewNumberFromInt(int64(x))
	case uint64:
		return NewNumberFromInt(int64(x))
	case decimal.Decimal:
		return NewNumber(x)
	case json.Number:
		if d, err := decimal.NewFromString(x.String()); err == nil {
			return NewNumber(d)
		}
		return Null()
	case time.Time:
		return NewDate(x)
	case *time.Time:
		if x == nil {
			return Null()
		}
		return NewDate(*x)
	case []Value:
		return NewList(x)
	case []any:
		out := make([]Value, len(x))
		for i, e := range x {
			out[i] = FromAny(e)
		}
		return NewList(out)
	case []string:
		out := make([]Value, len(x))
		for i, e := range x {
			out[i] = NewString(e)
		}
		return NewList(out)
	case map[string]Value:
		return NewMap(x)
	case map[string]any:
		out := make(map[string]Value, len(x))
		for k, e := range x {
			out[k] = FromAny(e)
		}
		return NewMap(out)
	default:
		return Null()
	}
}

// =============================================================================
// ACCESSORS
// =============================================================================

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Number() (decimal.Decimal, bool) {
	if v.kind != KindNumber {
		return decimal.Zero, false
	}
	return v.num, true
}

func (v Value) Text() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

func (v Value) Bool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) Date() (time.Time, bool) {
	if v.kind != KindDate {
		return time.Time{}, false
	}
	return v.t, true
}

func (v Value) List() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

func (v Value) Map() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

// MarshalJSON renders the value in its native JSON shape, so rule operands
// echo back exactly as they were written in the catalog files.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return []byte(v.num.String()), nil
	case KindString:
		return json.Marshal(v.str)
	case KindBool:
		return json.Marshal(v.b)
	case KindDate:
		return json.Marshal(v.t.Format(time.RFC3339))
	case KindList:
		return json.Marshal(v.list)
	case KindMap:
		return json.Marshal(v.m)
	default:
		return []byte("null"), nil
	}
}

// String renders the value for formula traces and error messages.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return v.num.String()
	case KindString:
		return v.str
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindDate:
		return v.t.Format(time.RFC3339)
	case KindList:
		parts := make([]string, len(v.list))
		for i, e := range v.list {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		return "{...}"
	default:
		return "null"
	}
}

// =============================================================================
// COERCION
// =============================================================================

// asNumber widens the value to a decimal: numbers directly, strings when
// they parse as one.
func (v Value) asNumber() (decimal.Decimal, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindString:
		d, err := decimal.NewFromString(strings.TrimSpace(v.str))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}

// asInstant widens the value to a point in time: dates directly, strings
// when they parse as ISO-8601 (with or without time component).
func (v Value) asInstant() (time.Time, bool) {
	switch v.kind {
	case KindDate:
		return v.t, true
	case KindString:
		return parseInstant(v.str)
	default:
		return time.Time{}, false
	}
}

var instantLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseInstant(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range instantLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// =============================================================================
// COMPARISON
// =============================================================================

// Equal applies the coercion rules above. Null equals only Null.
func (v Value) Equal(o Value) bool {
	if v.kind == KindNull || o.kind == KindNull {
		return v.kind == KindNull && o.kind == KindNull
	}

	switch {
	case v.kind == KindNumber || o.kind == KindNumber:
		a, aok := v.asNumber()
		b, bok := o.asNumber()
		return aok && bok && a.Cmp(b) == 0

	case v.kind == KindDate || o.kind == KindDate:
		a, aok := v.asInstant()
		b, bok := o.asInstant()
		return aok && bok && a.Equal(b)

	case v.kind == KindString && o.kind == KindString:
		return v.str == o.str

	case v.kind == KindBool && o.kind == KindBool:
		return v.b == o.b

	case v.kind == KindList && o.kind == KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true

	case v.kind == KindMap && o.kind == KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, a := range v.m {
			b, ok := o.m[k]
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true

	default:
		return false
	}
}

// Compare orders two values: -1, 0, or +1. The second return is false when
// the pair has no defined ordering (nulls, bools, lists, maps, or
// unparseable cross-kind operands); ordering operators then simply miss.
func (v Value) Compare(o Value) (int, bool) {
	if v.kind == KindNull || o.kind == KindNull {
		return 0, false
	}

	if v.kind == KindNumber || o.kind == KindNumber {
		a, aok := v.asNumber()
		b, bok := o.asNumber()
		if !aok || !bok {
			return 0, false
		}
		return a.Cmp(b), true
	}

	if v.kind == KindDate || o.kind == KindDate {
		a, aok := v.asInstant()
		b, bok := o.asInstant()
		if !aok || !bok {
			return 0, false
		}
		return compareTimes(a, b), true
	}

	if v.kind == KindString && o.kind == KindString {
		// Two ISO-8601 strings order chronologically even when their
		// layouts differ (date-only vs full timestamp).
		if a, aok := parseInstant(v.str); aok {
			if b, bok := parseInstant(o.str); bok {
				return compareTimes(a, b), true
			}
		}
		return strings.Compare(v.str, o.str), true
	}

	return 0, false
}

func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}

// Contains reports membership: list element equality, or substring match
// when both sides are strings.
func (v Value) Contains(member Value) bool {
	switch v.kind {
	case KindList:
		for _, e := range v.list {
			if e.Equal(member) {
				return true
			}
		}
		return false
	case KindString:
		s, ok := member.Text()
		return ok && strings.Contains(v.str, s)
	default:
		return false
	}
}

// In reports whether v is an element of the given list value.
func (v Value) In(list Value) bool {
	elems, ok := list.List()
	if !ok {
		return false
	}
	for _, e := range elems {
		if e.Equal(v) {
			return true
		}
	}
	return false
}
