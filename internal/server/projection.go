// Response attribute projection: the attributes and excludedAttributes
// request parameters combine with each attribute's returned characteristic
// to decide which parts of a resource a response body carries.

package server

import (
	"strings"

	"github.com/nainya/scimstore/pkg/attrpath"
	"github.com/nainya/scimstore/pkg/resource"
	"github.com/nainya/scimstore/pkg/schema"
)

type projMode int

const (
	projAll projMode = iota
	projInclude
	projExclude
)

// attrSel records how one attribute was named in the request: as a whole,
// or through a set of sub-attributes.
type attrSel struct {
	whole bool
	subs  map[string]bool
}

// selection indexes the parsed attribute parameters by schema URN (empty
// for the base schema and the common attributes) and lowercase name.
type selection struct {
	mode         projMode
	attrs        map[string]map[string]*attrSel
	wholeSchemas map[string]bool
}

// buildSelection parses the requested attribute paths. Malformed or
// unknown entries are skipped rather than rejected; value-filter
// conditions inside a path are ignored for projection purposes.
func buildSelection(d *schema.TypeDescriptor, mode projMode, items []string) *selection {
	sel := &selection{
		mode:         mode,
		attrs:        make(map[string]map[string]*attrSel),
		wholeSchemas: make(map[string]bool),
	}
	for _, item := range items {
		p, err := attrpath.Parse(d, item)
		if err != nil {
			continue
		}
		if p.WholeSchema {
			urn := strings.ToLower(p.URN)
			if d.IsCoreURN(p.URN) {
				urn = ""
			}
			sel.wholeSchemas[urn] = true
			continue
		}
		urnKey := strings.ToLower(p.URN)
		byName := sel.attrs[urnKey]
		if byName == nil {
			byName = make(map[string]*attrSel)
			sel.attrs[urnKey] = byName
		}
		nameKey := strings.ToLower(p.Attr)
		as := byName[nameKey]
		if as == nil {
			as = &attrSel{subs: make(map[string]bool)}
			byName[nameKey] = as
		}
		if p.Sub == "" {
			as.whole = true
		} else {
			as.subs[strings.ToLower(p.Sub)] = true
		}
	}
	return sel
}

func (sel *selection) lookup(urn, name string) *attrSel {
	key := strings.ToLower(urn)
	if sel.wholeSchemas[key] {
		return &attrSel{whole: true}
	}
	byName := sel.attrs[key]
	if byName == nil {
		return nil
	}
	return byName[strings.ToLower(name)]
}

// project builds the response form of a resource. Write-only and
// never-returned attributes never survive; attributes returned on request
// only appear when named; complex values are narrowed to the selected
// sub-attributes. Attribute keys come out in their canonical spelling.
func project(d *schema.TypeDescriptor, res *resource.Resource, attrs, excluded []string) resource.Value {
	var sel *selection
	switch {
	case len(attrs) > 0:
		sel = buildSelection(d, projInclude, attrs)
	case len(excluded) > 0:
		sel = buildSelection(d, projExclude, excluded)
	default:
		sel = &selection{mode: projAll}
	}

	out := make(map[string]resource.Value, len(res.Attrs))
	for key, v := range res.Attrs {
		if ext := extensionSchema(d, key); ext != nil {
			pv := projectExtension(ext, v, sel)
			if !pv.IsUnset() {
				out[ext.ID] = pv
			}
			continue
		}
		attr := d.FindAttribute(key)
		if attr == nil {
			continue
		}
		pv := projectAttr(attr, "", v, sel)
		if !pv.IsUnset() {
			out[attr.Name] = pv
		}
	}
	return resource.NewObjectValue(out)
}

// extensionSchema resolves a top-level key to the extension it names, or
// nil for ordinary attributes and the base schema URN.
func extensionSchema(d *schema.TypeDescriptor, key string) *schema.Schema {
	sch := d.SchemaFor(key)
	if sch == nil || d.IsCoreURN(key) {
		return nil
	}
	return sch
}

func projectExtension(ext *schema.Schema, v resource.Value, sel *selection) resource.Value {
	if v.Type != resource.TYPE_OBJECT {
		return resource.Value{}
	}
	out := make(map[string]resource.Value, len(v.Obj))
	for key, sub := range v.Obj {
		attr := ext.Attribute(key)
		if attr == nil {
			continue
		}
		pv := projectAttr(attr, ext.ID, sub, sel)
		if !pv.IsUnset() {
			out[attr.Name] = pv
		}
	}
	if len(out) == 0 {
		return resource.Value{}
	}
	return resource.NewObjectValue(out)
}

func projectAttr(attr *schema.Attribute, urn string, v resource.Value, sel *selection) resource.Value {
	if attr.Sensitive() {
		return resource.Value{}
	}
	as := sel.lookup(urn, attr.Name)
	switch sel.mode {
	case projAll:
		if attr.Returned == schema.ReturnedRequest {
			return resource.Value{}
		}
	case projInclude:
		if as == nil && attr.Returned != schema.ReturnedAlways {
			return resource.Value{}
		}
	case projExclude:
		if attr.Returned == schema.ReturnedRequest {
			return resource.Value{}
		}
		if as != nil && as.whole && attr.Returned != schema.ReturnedAlways {
			return resource.Value{}
		}
	}
	if attr.Type != schema.TypeComplex {
		return v
	}
	return narrowComplex(attr, v, as, sel.mode)
}

func narrowComplex(attr *schema.Attribute, v resource.Value, as *attrSel, mode projMode) resource.Value {
	if attr.MultiValued {
		if v.Type != resource.TYPE_LIST {
			return resource.Value{}
		}
		elems := make([]resource.Value, 0, len(v.List))
		for _, e := range v.List {
			ne := narrowObject(attr, e, as, mode)
			if !ne.IsUnset() {
				elems = append(elems, ne)
			}
		}
		if len(elems) == 0 {
			return resource.Value{}
		}
		return resource.NewListValue(elems...)
	}
	return narrowObject(attr, v, as, mode)
}

// narrowObject filters one complex value's members. Empty results become
// unset so callers drop the attribute instead of emitting {}.
func narrowObject(attr *schema.Attribute, v resource.Value, as *attrSel, mode projMode) resource.Value {
	if v.Type != resource.TYPE_OBJECT {
		return v
	}
	out := make(map[string]resource.Value, len(v.Obj))
	for key, sv := range v.Obj {
		sub := attr.Sub(key)
		if sub != nil && sub.Sensitive() {
			continue
		}
		name := key
		if sub != nil {
			name = sub.Name
		}
		lower := strings.ToLower(name)
		switch mode {
		case projInclude:
			if as != nil && !as.whole && !as.subs[lower] {
				continue
			}
		case projExclude:
			if as != nil && !as.whole && as.subs[lower] {
				continue
			}
		}
		out[name] = sv
	}
	if len(out) == 0 {
		return resource.Value{}
	}
	return resource.NewObjectValue(out)
}
