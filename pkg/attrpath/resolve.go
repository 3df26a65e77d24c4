// ABOUTME: Read resolution over attribute paths
// ABOUTME: Produces comparison candidates for filters and keys for sorting

package attrpath

import (
	"strings"

	"github.com/nainya/scimstore/pkg/resource"
	"github.com/nainya/scimstore/pkg/schema"
	"github.com/nainya/scimstore/pkg/scimerr"
)

// Candidate is one value a path resolved to, with the descriptor of the
// attribute that produced it.
type Candidate struct {
	Value resource.Value
	Attr  *schema.Attribute
}

// Values resolves the path for filter evaluation. Multi-valued attributes
// contribute every element (dotted paths contribute every element's
// sub-attribute), so comparisons get existential semantics. Unknown
// attributes and absent values resolve to no candidates without error.
// Structural misuse of a sub-attribute is an invalidFilter error and
// touching a write-only or never-returned attribute is a sensitive error.
func Values(d *schema.TypeDescriptor, res *resource.Resource, p Path) ([]Candidate, error) {
	if p.WholeSchema || p.attr == nil {
		return nil, nil
	}
	if p.attr.Sensitive() {
		return nil, scimerr.Sensitive(p.Attr)
	}
	if p.Sub != "" {
		if p.attr.Simple() {
			return nil, scimerr.InvalidFilter("attribute %q has no sub-attributes", p.Attr)
		}
		if p.subAttr == nil {
			return nil, nil
		}
		if p.subAttr.Sensitive() {
			return nil, scimerr.Sensitive(p.Attr + "." + p.Sub)
		}
	}

	v := Container(d, res, p).Field(p.Attr)
	if v.IsUnset() {
		return nil, nil
	}

	elems := []resource.Value{v}
	if p.attr.MultiValued && v.Type == resource.TYPE_LIST {
		elems = v.List
	}

	var out []Candidate
	for _, elem := range elems {
		if p.Sub != "" {
			if sv := elem.Field(p.Sub); !sv.IsUnset() {
				out = append(out, Candidate{Value: sv, Attr: p.subAttr})
			}
			continue
		}
		out = append(out, Candidate{Value: elem, Attr: p.attr})
	}
	return out, nil
}

// SortKey resolves the path to a single comparable key. It never fails:
// anything unresolvable is absent (unset). Multi-valued attributes narrow
// to the elements the path's condition matches (match evaluates the
// condition, nil keeps every element), then sort by their primary element,
// else their first; complex values sort by their value sub-attribute;
// strings of caseExact=false attributes fold to lower case; dateTime keys
// normalize so lexical order is chronological.
func SortKey(d *schema.TypeDescriptor, res *resource.Resource, p Path, match Matcher) resource.Value {
	if p.WholeSchema || p.attr == nil || p.attr.Sensitive() {
		return resource.Value{}
	}
	if p.attr.Simple() && (p.Sub != "" || p.HasCond()) {
		return resource.Value{}
	}
	if !p.attr.MultiValued && p.HasCond() {
		return resource.Value{}
	}

	v := Container(d, res, p).Field(p.Attr)
	if v.IsUnset() {
		return resource.Value{}
	}

	elem := v
	if p.attr.MultiValued {
		if v.Type != resource.TYPE_LIST {
			return resource.Value{}
		}
		elems := v.List
		if match != nil {
			elems = nil
			for _, e := range v.List {
				if ok, err := match(e); err == nil && ok {
					elems = append(elems, e)
				}
			}
		}
		if len(elems) == 0 {
			return resource.Value{}
		}
		elem = elems[0]
		for _, e := range elems {
			if pv := e.Field("primary"); pv.Type == resource.TYPE_BOOL && pv.Bool {
				elem = e
				break
			}
		}
	}

	target := p.attr
	if p.Sub != "" {
		if p.subAttr == nil || p.subAttr.Sensitive() {
			return resource.Value{}
		}
		target = p.subAttr
		elem = elem.Field(p.Sub)
	} else if elem.Type == resource.TYPE_OBJECT {
		target = p.attr.Sub("value")
		if target == nil {
			return resource.Value{}
		}
		elem = elem.Field("value")
	}
	return NormalizeKey(target, elem)
}

// NormalizeKey canonicalizes a scalar for ordering and equality under the
// attribute's comparison rules. Containers and absent values are unset.
func NormalizeKey(attr *schema.Attribute, v resource.Value) resource.Value {
	if !v.IsScalar() {
		return resource.Value{}
	}
	if v.Type != resource.TYPE_STRING {
		return v
	}
	if attr != nil && attr.Type == schema.TypeDateTime {
		if t, ok := schema.ParseTime(v.Str); ok {
			return resource.NewStringValue(t.UTC().Format(sortTimeLayout))
		}
	}
	if attr == nil || !attr.CaseExact {
		return resource.NewStringValue(strings.ToLower(v.Str))
	}
	return v
}

// Fixed-width UTC layout so timestamp keys order lexically.
const sortTimeLayout = "2006-01-02T15:04:05.000000000Z"
