// ABOUTME: Tagged-variant value model for SCIM attribute trees
// ABOUTME: Every attribute value is a scalar, an object, or a list of values

package resource

import (
	"sort"
	"strconv"
	"strings"
)

// Value types for attribute tree nodes
const (
	TYPE_UNSET  = 0
	TYPE_STRING = 1
	TYPE_NUMBER = 2
	TYPE_BOOL   = 3
	TYPE_OBJECT = 4
	TYPE_LIST   = 5
)

// Value represents a single node in a resource's attribute tree. The zero
// Value is "unset" and stands for an absent attribute; explicit nulls are
// never stored.
type Value struct {
	Type uint8
	Str  string
	Num  float64
	Bool bool
	Obj  map[string]Value
	List []Value
}

// NewStringValue creates a string value
func NewStringValue(s string) Value {
	return Value{Type: TYPE_STRING, Str: s}
}

// NewNumberValue creates a numeric value
func NewNumberValue(n float64) Value {
	return Value{Type: TYPE_NUMBER, Num: n}
}

// NewBoolValue creates a boolean value
func NewBoolValue(b bool) Value {
	return Value{Type: TYPE_BOOL, Bool: b}
}

// NewObjectValue creates an object value around the given attribute map.
// A nil map is allocated so callers can set keys immediately.
func NewObjectValue(attrs map[string]Value) Value {
	if attrs == nil {
		attrs = make(map[string]Value)
	}
	return Value{Type: TYPE_OBJECT, Obj: attrs}
}

// NewListValue creates a list value over the given elements
func NewListValue(elems ...Value) Value {
	if elems == nil {
		elems = []Value{}
	}
	return Value{Type: TYPE_LIST, List: elems}
}

// IsUnset reports whether the value is absent.
func (v Value) IsUnset() bool {
	return v.Type == TYPE_UNSET
}

// IsScalar reports whether the value is a string, number or boolean.
func (v Value) IsScalar() bool {
	switch v.Type {
	case TYPE_STRING, TYPE_NUMBER, TYPE_BOOL:
		return true
	}
	return false
}

// Clone returns a deep copy of the value. Scalars copy by value; objects
// and lists copy recursively so the result shares no mutable state.
func (v Value) Clone() Value {
	switch v.Type {
	case TYPE_OBJECT:
		attrs := make(map[string]Value, len(v.Obj))
		for k, e := range v.Obj {
			attrs[k] = e.Clone()
		}
		return Value{Type: TYPE_OBJECT, Obj: attrs}
	case TYPE_LIST:
		elems := make([]Value, len(v.List))
		for i, e := range v.List {
			elems[i] = e.Clone()
		}
		return Value{Type: TYPE_LIST, List: elems}
	default:
		return v
	}
}

// Equal reports deep equality. List order is significant; object key order
// is not.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case TYPE_UNSET:
		return true
	case TYPE_STRING:
		return v.Str == o.Str
	case TYPE_NUMBER:
		return v.Num == o.Num
	case TYPE_BOOL:
		return v.Bool == o.Bool
	case TYPE_OBJECT:
		if len(v.Obj) != len(o.Obj) {
			return false
		}
		for k, e := range v.Obj {
			oe, ok := o.Obj[k]
			if !ok || !e.Equal(oe) {
				return false
			}
		}
		return true
	case TYPE_LIST:
		if len(v.List) != len(o.List) {
			return false
		}
		for i, e := range v.List {
			if !e.Equal(o.List[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Field returns the named member of an object value, matching the key
// case-insensitively. Unset when absent or when the value is not an object.
func (v Value) Field(name string) Value {
	_, e, _ := v.FieldKey(name)
	return e
}

// FieldKey is Field plus the stored key, for callers that rewrite members.
func (v Value) FieldKey(name string) (string, Value, bool) {
	if v.Type != TYPE_OBJECT {
		return "", Value{}, false
	}
	if e, ok := v.Obj[name]; ok {
		return name, e, true
	}
	for k, e := range v.Obj {
		if strings.EqualFold(k, name) {
			return k, e, true
		}
	}
	return "", Value{}, false
}

// StringSlice converts a list of string values into a []string. Non-string
// elements are skipped.
func (v Value) StringSlice() []string {
	if v.Type != TYPE_LIST {
		return nil
	}
	out := make([]string, 0, len(v.List))
	for _, e := range v.List {
		if e.Type == TYPE_STRING {
			out = append(out, e.Str)
		}
	}
	return out
}

// SortedKeys returns the object's attribute names in lexical order.
func (v Value) SortedKeys() []string {
	if v.Type != TYPE_OBJECT {
		return nil
	}
	keys := make([]string, 0, len(v.Obj))
	for k := range v.Obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GoString renders scalars for diagnostics; containers render a shape tag.
func (v Value) GoString() string {
	switch v.Type {
	case TYPE_UNSET:
		return "<unset>"
	case TYPE_STRING:
		return strconv.Quote(v.Str)
	case TYPE_NUMBER:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case TYPE_BOOL:
		return strconv.FormatBool(v.Bool)
	case TYPE_OBJECT:
		return "<object>"
	default:
		return "<list>"
	}
}
