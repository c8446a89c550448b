// Package types defines the data model shared by every part of the harness:
// the tagged Value union carried on step channels, the timestamped Datum
// wrapper, step and test definitions, events and the error kinds the runtime
// raises.
package types

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
	"unicode/utf8"
)

// ValueKind discriminates the Value union.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindBytes
	KindString
	KindInteger
	KindFloat
	KindArray
	KindMap
	KindSet
)

// String returns the lowercase name used in messages and serialized forms.
func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	case KindSet:
		return "set"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Value is the tagged union carried on every step channel. Integer and Float
// keep their source text verbatim so values are not constrained to machine
// widths. Bytes and String are distinct kinds; conversion between them is
// explicit via transforms.
type Value struct {
	kind ValueKind

	boolVal  bool
	bytesVal []byte
	strVal   string // String, and the textual form of Integer and Float
	elems    []Value
	mapVal   map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, boolVal: b} }

// Bytes wraps a byte sequence. The slice is owned by the value afterwards.
func Bytes(b []byte) Value { return Value{kind: KindBytes, bytesVal: b} }

// String wraps UTF-8 text.
func String(s string) Value { return Value{kind: KindString, strVal: s} }

// Integer wraps an integer given as decimal (or 0x/0b) text.
func Integer(text string) Value { return Value{kind: KindInteger, strVal: text} }

// Float wraps a decimal number given as text.
func Float(text string) Value { return Value{kind: KindFloat, strVal: text} }

// Array wraps an ordered sequence of values.
func Array(elems ...Value) Value { return Value{kind: KindArray, elems: elems} }

// Map wraps a string-keyed map of values.
func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMap, mapVal: m}
}

// Set wraps a collection of distinct values. Duplicates (by structural
// equality) are removed; element order is not significant.
func Set(elems ...Value) Value {
	var distinct []Value
	for _, e := range elems {
		dup := false
		for _, d := range distinct {
			if d.Equal(e) {
				dup = true
				break
			}
		}
		if !dup {
			distinct = append(distinct, e)
		}
	}
	return Value{kind: KindSet, elems: distinct}
}

// Kind reports which variant the value holds.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether the value is the null variant.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, fmt.Errorf("value is %s, not bool", v.kind)
	}
	return v.boolVal, nil
}

// AsBytes returns the byte payload.
func (v Value) AsBytes() ([]byte, error) {
	if v.kind != KindBytes {
		return nil, fmt.Errorf("value is %s, not bytes", v.kind)
	}
	return v.bytesVal, nil
}

// AsString returns the string payload.
func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", fmt.Errorf("value is %s, not string", v.kind)
	}
	return v.strVal, nil
}

// NumText returns the verbatim text of an Integer or Float.
func (v Value) NumText() (string, error) {
	if v.kind != KindInteger && v.kind != KindFloat {
		return "", fmt.Errorf("value is %s, not numeric", v.kind)
	}
	return v.strVal, nil
}

// AsInt parses an Integer value into a big.Int, honouring 0x and 0b bases.
func (v Value) AsInt() (*big.Int, error) {
	if v.kind != KindInteger {
		return nil, fmt.Errorf("value is %s, not integer", v.kind)
	}
	i, ok := new(big.Int).SetString(v.strVal, 0)
	if !ok {
		return nil, fmt.Errorf("malformed integer text %q", v.strVal)
	}
	return i, nil
}

// AsFloat parses an Integer or Float value into a big.Float.
func (v Value) AsFloat() (*big.Float, error) {
	if v.kind != KindInteger && v.kind != KindFloat {
		return nil, fmt.Errorf("value is %s, not numeric", v.kind)
	}
	f, ok := new(big.Float).SetString(v.strVal)
	if !ok {
		return nil, fmt.Errorf("malformed numeric text %q", v.strVal)
	}
	return f, nil
}

// Elems returns the elements of an Array or Set.
func (v Value) Elems() ([]Value, error) {
	if v.kind != KindArray && v.kind != KindSet {
		return nil, fmt.Errorf("value is %s, not a collection", v.kind)
	}
	return v.elems, nil
}

// AsMap returns the entries of a Map.
func (v Value) AsMap() (map[string]Value, error) {
	if v.kind != KindMap {
		return nil, fmt.Errorf("value is %s, not map", v.kind)
	}
	return v.mapVal, nil
}

// Equal reports structural equality. Integers and floats compare by numeric
// value (so "0x10" equals "16"), sets compare regardless of element order,
// and bytes never equal strings.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.boolVal == o.boolVal
	case KindBytes:
		return string(v.bytesVal) == string(o.bytesVal)
	case KindString:
		return v.strVal == o.strVal
	case KindInteger:
		a, errA := v.AsInt()
		b, errB := o.AsInt()
		if errA != nil || errB != nil {
			return v.strVal == o.strVal
		}
		return a.Cmp(b) == 0
	case KindFloat:
		a, errA := v.AsFloat()
		b, errB := o.AsFloat()
		if errA != nil || errB != nil {
			return v.strVal == o.strVal
		}
		return a.Cmp(b) == 0
	case KindArray:
		if len(v.elems) != len(o.elems) {
			return false
		}
		for i := range v.elems {
			if !v.elems[i].Equal(o.elems[i]) {
				return false
			}
		}
		return true
	case KindSet:
		if len(v.elems) != len(o.elems) {
			return false
		}
		for _, e := range v.elems {
			found := false
			for _, oe := range o.elems {
				if e.Equal(oe) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.mapVal) != len(o.mapVal) {
			return false
		}
		for k, ve := range v.mapVal {
			oe, ok := o.mapVal[k]
			if !ok || !ve.Equal(oe) {
				return false
			}
		}
		return true
	}
	return false
}

// Contains reports whether v contains needle: substring for strings and
// bytes, element membership for arrays and sets, key membership for maps
// when the needle is a string.
func (v Value) Contains(needle Value) (bool, error) {
	switch v.kind {
	case KindString:
		s, err := needle.AsString()
		if err != nil {
			return false, fmt.Errorf("string containment needs a string needle: %w", err)
		}
		return strings.Contains(v.strVal, s), nil
	case KindBytes:
		b, err := needle.AsBytes()
		if err != nil {
			return false, fmt.Errorf("bytes containment needs a bytes needle: %w", err)
		}
		return strings.Contains(string(v.bytesVal), string(b)), nil
	case KindArray, KindSet:
		for _, e := range v.elems {
			if e.Equal(needle) {
				return true, nil
			}
		}
		return false, nil
	case KindMap:
		k, err := needle.AsString()
		if err != nil {
			return false, fmt.Errorf("map containment needs a string key: %w", err)
		}
		_, ok := v.mapVal[k]
		return ok, nil
	}
	return false, fmt.Errorf("%s values have no containment relation", v.kind)
}

// Len returns the element, entry, byte or rune count of a collection-like
// value.
func (v Value) Len() (int, error) {
	switch v.kind {
	case KindBytes:
		return len(v.bytesVal), nil
	case KindString:
		return utf8.RuneCountInString(v.strVal), nil
	case KindArray, KindSet:
		return len(v.elems), nil
	case KindMap:
		return len(v.mapVal), nil
	}
	return 0, fmt.Errorf("%s values have no length", v.kind)
}

// String renders a compact display form used in logs and the TUI.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.boolVal)
	case KindBytes:
		return fmt.Sprintf("b%q", string(v.bytesVal))
	case KindString:
		return fmt.Sprintf("%q", v.strVal)
	case KindInteger, KindFloat:
		return v.strVal
	case KindArray, KindSet:
		open, shut := "[", "]"
		if v.kind == KindSet {
			open, shut = "{", "}"
		}
		parts := make([]string, len(v.elems))
		for i, e := range v.elems {
			parts[i] = e.String()
		}
		return open + strings.Join(parts, ", ") + shut
	case KindMap:
		keys := make([]string, 0, len(v.mapVal))
		for k := range v.mapVal {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%q: %s", k, v.mapVal[k].String())
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return "<invalid>"
}
