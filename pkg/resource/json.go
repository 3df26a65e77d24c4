// ABOUTME: JSON codec for resources and values
// ABOUTME: Decoding drops nulls; encoding is deterministic for stable ETags

package resource

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/nainya/scimstore/pkg/scimerr"
)

// DecodeJSON reads one JSON object from r and builds a resource. Numbers
// keep full precision via json.Number before conversion; null members are
// dropped rather than stored.
func DecodeJSON(r io.Reader) (*Resource, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, scimerr.Newf(scimerr.KindInvalidSyntax, "malformed JSON body: %v", err)
	}
	return FromMap(raw), nil
}

// Unmarshal builds a resource from a JSON document held in memory.
func Unmarshal(data []byte) (*Resource, error) {
	return DecodeJSON(bytes.NewReader(data))
}

// FromMap converts a decoded JSON object into a resource.
func FromMap(raw map[string]any) *Resource {
	res := New()
	for k, e := range raw {
		v := FromAny(e)
		if v.IsUnset() {
			continue
		}
		res.Attrs[k] = v
	}
	return res
}

// FromAny converts a decoded JSON value into a Value. Nulls and unknown
// Go types map to unset.
func FromAny(e any) Value {
	switch t := e.(type) {
	case nil:
		return Value{}
	case Value:
		return t
	case string:
		return NewStringValue(t)
	case bool:
		return NewBoolValue(t)
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return Value{}
		}
		return NewNumberValue(n)
	case float64:
		return NewNumberValue(t)
	case int:
		return NewNumberValue(float64(t))
	case int64:
		return NewNumberValue(float64(t))
	case map[string]any:
		obj := make(map[string]Value, len(t))
		for k, sub := range t {
			v := FromAny(sub)
			if v.IsUnset() {
				continue
			}
			obj[k] = v
		}
		return Value{Type: TYPE_OBJECT, Obj: obj}
	case []any:
		elems := make([]Value, 0, len(t))
		for _, sub := range t {
			v := FromAny(sub)
			if v.IsUnset() {
				continue
			}
			elems = append(elems, v)
		}
		return Value{Type: TYPE_LIST, List: elems}
	}
	return Value{}
}

// ToAny converts a Value back into plain Go types for generic encoders.
func (v Value) ToAny() any {
	switch v.Type {
	case TYPE_STRING:
		return v.Str
	case TYPE_NUMBER:
		return v.Num
	case TYPE_BOOL:
		return v.Bool
	case TYPE_OBJECT:
		out := make(map[string]any, len(v.Obj))
		for k, e := range v.Obj {
			out[k] = e.ToAny()
		}
		return out
	case TYPE_LIST:
		out := make([]any, len(v.List))
		for i, e := range v.List {
			out[i] = e.ToAny()
		}
		return out
	}
	return nil
}

// MarshalJSON renders the resource with a fixed member order so the same
// attribute tree always produces the same bytes.
func (r *Resource) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	r.AppendJSON(&buf)
	return buf.Bytes(), nil
}

// AppendJSON writes the resource to buf. Members render as schemas, id and
// externalId first, then remaining attributes in lexical order, meta last.
func (r *Resource) AppendJSON(buf *bytes.Buffer) {
	buf.WriteByte('{')
	first := true
	emit := func(k string, v Value) {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		appendString(buf, k)
		buf.WriteByte(':')
		v.AppendJSON(buf)
	}
	for _, k := range []string{AttrSchemas, AttrID, AttrExternalID} {
		if v, ok := r.Attrs[k]; ok {
			emit(k, v)
		}
	}
	rest := make([]string, 0, len(r.Attrs))
	for k := range r.Attrs {
		switch k {
		case AttrSchemas, AttrID, AttrExternalID, AttrMeta:
			continue
		}
		rest = append(rest, k)
	}
	sort.Strings(rest)
	for _, k := range rest {
		emit(k, r.Attrs[k])
	}
	if v, ok := r.Attrs[AttrMeta]; ok {
		emit(AttrMeta, v)
	}
	buf.WriteByte('}')
}

// AppendJSON writes the value to buf with object keys in lexical order.
func (v Value) AppendJSON(buf *bytes.Buffer) {
	switch v.Type {
	case TYPE_STRING:
		appendString(buf, v.Str)
	case TYPE_NUMBER:
		appendNumber(buf, v.Num)
	case TYPE_BOOL:
		if v.Bool {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case TYPE_OBJECT:
		buf.WriteByte('{')
		for i, k := range v.SortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			appendString(buf, k)
			buf.WriteByte(':')
			v.Obj[k].AppendJSON(buf)
		}
		buf.WriteByte('}')
	case TYPE_LIST:
		buf.WriteByte('[')
		for i, e := range v.List {
			if i > 0 {
				buf.WriteByte(',')
			}
			e.AppendJSON(buf)
		}
		buf.WriteByte(']')
	default:
		buf.WriteString("null")
	}
}

// MarshalJSON renders a single value.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	v.AppendJSON(&buf)
	return buf.Bytes(), nil
}

func appendString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}

// appendNumber renders whole floats without a fraction and falls back to
// exponent form only outside the range encoding/json keeps plain.
func appendNumber(buf *bytes.Buffer, f float64) {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		buf.WriteByte('0')
		return
	}
	format := byte('f')
	if abs := math.Abs(f); abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		format = 'e'
	}
	buf.Write(strconv.AppendFloat(nil, f, format, -1, 64))
}
