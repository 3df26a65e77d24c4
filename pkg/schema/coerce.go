// ABOUTME: Coercion of client-supplied values to their declared attribute types
// ABOUTME: Canonicalizes sub-attribute names and validates scalar forms

package schema

import (
	"encoding/base64"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nainya/scimstore/pkg/resource"
	"github.com/nainya/scimstore/pkg/scimerr"
)

// Coerce validates a value against the attribute descriptor and returns its
// canonical form. A list against a multi-valued attribute coerces element
// by element; any other value coerces as a single element, so callers
// handling append semantics can pass one element at a time.
func Coerce(attr *Attribute, v resource.Value) (resource.Value, error) {
	if attr.MultiValued && v.Type == resource.TYPE_LIST {
		elems := make([]resource.Value, len(v.List))
		for i, e := range v.List {
			ce, err := coerceSingle(attr, e)
			if err != nil {
				return resource.Value{}, err
			}
			elems[i] = ce
		}
		return resource.NewListValue(elems...), nil
	}
	return coerceSingle(attr, v)
}

func coerceSingle(attr *Attribute, v resource.Value) (resource.Value, error) {
	if v.IsUnset() {
		return v, nil
	}
	if v.Type == resource.TYPE_LIST {
		return resource.Value{}, scimerr.InvalidValue("a list is not valid for attribute %q", attr.Name)
	}
	if attr.Type == TypeComplex {
		if v.Type == resource.TYPE_OBJECT {
			return coerceObject(attr, v)
		}
		// A bare scalar stands for the element's value sub-attribute.
		sub := attr.Sub("value")
		if sub == nil {
			return resource.Value{}, scimerr.InvalidValue("attribute %q takes an object value", attr.Name)
		}
		cv, err := coerceSingle(sub, v)
		if err != nil {
			return resource.Value{}, err
		}
		return resource.NewObjectValue(map[string]resource.Value{sub.Name: cv}), nil
	}
	if v.Type == resource.TYPE_OBJECT {
		return resource.Value{}, scimerr.InvalidValue("an object is not valid for attribute %q", attr.Name)
	}
	return coerceScalar(attr, v)
}

func coerceObject(attr *Attribute, v resource.Value) (resource.Value, error) {
	obj := make(map[string]resource.Value, len(v.Obj))

	// Some clients send displayName for the display sub-attribute of
	// multi-valued elements. Accept the alias when it cannot clash.
	renameFrom, renameTo := "", ""
	if attr.Sub("display") != nil && attr.Sub("displayName") == nil {
		hasDisplay := false
		hasAlias := ""
		for k := range v.Obj {
			if strings.EqualFold(k, "display") {
				hasDisplay = true
			}
			if strings.EqualFold(k, "displayName") {
				hasAlias = k
			}
		}
		if !hasDisplay && hasAlias != "" {
			renameFrom, renameTo = hasAlias, "display"
		}
	}

	for k, e := range v.Obj {
		name := k
		if k == renameFrom {
			name = renameTo
		}
		sub := attr.Sub(name)
		if sub == nil {
			return resource.Value{}, scimerr.InvalidValue("attribute %q has no sub-attribute %q", attr.Name, k)
		}
		ce, err := Coerce(sub, e)
		if err != nil {
			return resource.Value{}, err
		}
		if ce.IsUnset() {
			continue
		}
		obj[sub.Name] = ce
	}
	return resource.NewObjectValue(obj), nil
}

func coerceScalar(attr *Attribute, v resource.Value) (resource.Value, error) {
	switch attr.Type {
	case TypeString, TypeReference:
		if v.Type != resource.TYPE_STRING {
			return resource.Value{}, scimerr.InvalidValue("attribute %q takes a string value", attr.Name)
		}
		return v, nil

	case TypeBoolean:
		switch v.Type {
		case resource.TYPE_BOOL:
			return v, nil
		case resource.TYPE_STRING:
			return resource.NewBoolValue(!strings.EqualFold(v.Str, "false")), nil
		case resource.TYPE_NUMBER:
			return resource.NewBoolValue(v.Num != 0), nil
		}

	case TypeDecimal, TypeInteger:
		var n float64
		switch v.Type {
		case resource.TYPE_NUMBER:
			n = v.Num
		case resource.TYPE_STRING:
			parsed, err := strconv.ParseFloat(v.Str, 64)
			if err != nil {
				return resource.Value{}, scimerr.InvalidValue("attribute %q takes a numeric value", attr.Name)
			}
			n = parsed
		case resource.TYPE_BOOL:
			if v.Bool {
				n = 1
			}
		default:
			return resource.Value{}, scimerr.InvalidValue("attribute %q takes a numeric value", attr.Name)
		}
		if attr.Type == TypeInteger && math.Trunc(n) != n {
			return resource.Value{}, scimerr.InvalidValue("attribute %q takes an integer value", attr.Name)
		}
		return resource.NewNumberValue(n), nil

	case TypeDateTime:
		if v.Type != resource.TYPE_STRING {
			return resource.Value{}, scimerr.InvalidValue("attribute %q takes an RFC 3339 timestamp", attr.Name)
		}
		if _, err := time.Parse(time.RFC3339, v.Str); err != nil {
			return resource.Value{}, scimerr.InvalidValue("attribute %q takes an RFC 3339 timestamp", attr.Name)
		}
		return v, nil

	case TypeBinary:
		if v.Type != resource.TYPE_STRING {
			return resource.Value{}, scimerr.InvalidValue("attribute %q takes base64 data", attr.Name)
		}
		if _, err := base64.StdEncoding.DecodeString(v.Str); err != nil {
			return resource.Value{}, scimerr.InvalidValue("attribute %q takes base64 data", attr.Name)
		}
		return v, nil
	}
	return resource.Value{}, scimerr.InvalidValue("value not valid for attribute %q", attr.Name)
}

// CoerceResource coerces every declared top-level attribute of a decoded
// payload, including the contents of extension containers, and
// canonicalizes attribute name casing. Keys the resource type does not
// declare are dropped. Mutates the resource in place; on error the
// resource is left partially coerced and must be discarded.
func CoerceResource(d *TypeDescriptor, res *resource.Resource) error {
	keys := make([]string, 0, len(res.Attrs))
	for k := range res.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := res.Attrs[k]
		if ext := d.SchemaFor(k); ext != nil && !d.IsCoreURN(k) {
			if v.Type != resource.TYPE_OBJECT {
				return scimerr.InvalidValue("value for %q must be an object", k)
			}
			cv, err := coerceContainer(ext, v)
			if err != nil {
				return err
			}
			res.Remove(k)
			if len(cv.Obj) != 0 {
				res.Set(ext.ID, cv)
			}
			continue
		}
		attr := d.FindAttribute(k)
		if attr == nil {
			res.Remove(k)
			continue
		}
		if attr.MultiValued && v.Type != resource.TYPE_LIST {
			return scimerr.InvalidValue("attribute %q takes a list value", attr.Name)
		}
		cv, err := Coerce(attr, v)
		if err != nil {
			return err
		}
		res.Remove(k)
		if !emptyCoerced(cv) {
			res.Set(attr.Name, cv)
		}
	}
	return nil
}

// emptyCoerced reports values that carry no information and are never
// stored: unset, empty lists and empty objects.
func emptyCoerced(v resource.Value) bool {
	switch v.Type {
	case resource.TYPE_UNSET:
		return true
	case resource.TYPE_LIST:
		return len(v.List) == 0
	case resource.TYPE_OBJECT:
		return len(v.Obj) == 0
	}
	return false
}

func coerceContainer(ext *Schema, v resource.Value) (resource.Value, error) {
	obj := make(map[string]resource.Value, len(v.Obj))
	for k, e := range v.Obj {
		attr := ext.Attribute(k)
		if attr == nil {
			continue
		}
		if attr.MultiValued && e.Type != resource.TYPE_LIST {
			return resource.Value{}, scimerr.InvalidValue("attribute %q takes a list value", attr.Name)
		}
		ce, err := Coerce(attr, e)
		if err != nil {
			return resource.Value{}, err
		}
		if emptyCoerced(ce) {
			continue
		}
		obj[attr.Name] = ce
	}
	return resource.NewObjectValue(obj), nil
}

// ParseTime converts a stored dateTime string into an instant. ok is false
// when the value is not a valid timestamp.
func ParseTime(s string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
