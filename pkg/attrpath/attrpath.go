// ABOUTME: Attribute path model and parser
// ABOUTME: Splits URN-qualified paths and binds them to schema descriptors

package attrpath

import (
	"strings"

	filterv2 "github.com/scim2/filter-parser/v2"

	"github.com/nainya/scimstore/pkg/resource"
	"github.com/nainya/scimstore/pkg/schema"
	"github.com/nainya/scimstore/pkg/scimerr"
)

// Matcher reports whether one element of a multi-valued attribute satisfies
// a value-filter condition.
type Matcher func(elem resource.Value) (bool, error)

// Path is one parsed attribute path: an optionally URN-qualified attribute,
// an optional value-filter condition and an optional sub-attribute.
// Attr and Sub hold canonical names when the descriptor knows them,
// otherwise the client's spelling. A bare extension URN parses with
// WholeSchema set and no attribute.
type Path struct {
	URN         string
	Attr        string
	Sub         string
	Cond        filterv2.Expression
	WholeSchema bool

	attr    *schema.Attribute
	subAttr *schema.Attribute
}

// Parse parses a raw path against the resource type. Syntax errors come
// back as invalidPath; unknown attribute names parse fine and stay unbound
// so each caller can apply its own resolution rules.
func Parse(d *schema.TypeDescriptor, raw string) (Path, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Path{}, scimerr.InvalidPath("empty path")
	}

	var p Path
	if urn, rest, ok := d.StripURN(raw); ok {
		if rest == "" {
			p.URN = urn
			p.WholeSchema = true
			return p, nil
		}
		if !d.IsCoreURN(urn) {
			p.URN = urn
		}
		raw = rest
	}

	parsed, err := filterv2.ParsePath([]byte(raw))
	if err != nil {
		return Path{}, scimerr.InvalidPath("malformed path %q", raw)
	}
	if p.URN == "" && parsed.AttributePath.URIPrefix != nil {
		p.URN = *parsed.AttributePath.URIPrefix
	}
	p.Attr = parsed.AttributePath.AttributeName
	if parsed.AttributePath.SubAttribute != nil {
		p.Sub = *parsed.AttributePath.SubAttribute
	}
	if parsed.SubAttribute != nil {
		p.Sub = *parsed.SubAttribute
	}
	p.Cond = parsed.ValueExpression

	p.bind(d)
	return p, nil
}

// Resolve builds an already-split path without reparsing, binding it to the
// type's descriptors. The URN may be empty or the core schema's URN for
// base attributes.
func Resolve(d *schema.TypeDescriptor, urn, attr, sub string) Path {
	p := Path{URN: urn, Attr: attr, Sub: sub}
	if p.URN != "" && d.IsCoreURN(p.URN) {
		p.URN = ""
	}
	p.bind(d)
	return p
}

func (p *Path) bind(d *schema.TypeDescriptor) {
	p.attr = d.FindQualified(p.URN, p.Attr)
	if p.attr == nil {
		return
	}
	p.Attr = p.attr.Name
	if p.Sub == "" {
		return
	}
	p.subAttr = p.attr.Sub(p.Sub)
	if p.subAttr != nil {
		p.Sub = p.subAttr.Name
	}
}

// Attribute returns the bound attribute descriptor, or nil when the path
// names an attribute the type does not declare.
func (p Path) Attribute() *schema.Attribute {
	return p.attr
}

// SubAttribute returns the bound sub-attribute descriptor, or nil.
func (p Path) SubAttribute() *schema.Attribute {
	return p.subAttr
}

// Target returns the descriptor the path ultimately addresses: the
// sub-attribute when one is named, else the attribute.
func (p Path) Target() *schema.Attribute {
	if p.Sub != "" {
		return p.subAttr
	}
	return p.attr
}

// HasCond reports whether the path carries a value-filter condition.
func (p Path) HasCond() bool {
	return p.Cond != nil
}

// String renders the path for diagnostics.
func (p Path) String() string {
	var b strings.Builder
	if p.URN != "" {
		b.WriteString(p.URN)
		if !p.WholeSchema {
			b.WriteByte(':')
		}
	}
	b.WriteString(p.Attr)
	if p.Cond != nil {
		b.WriteString("[...]")
	}
	if p.Sub != "" {
		b.WriteByte('.')
		b.WriteString(p.Sub)
	}
	return b.String()
}

// Container returns the value holding the path's attribute: the resource
// root, or the extension object for URN-qualified paths. Unset when the
// extension container is absent.
func Container(d *schema.TypeDescriptor, res *resource.Resource, p Path) resource.Value {
	if p.URN == "" {
		return res.ToValue()
	}
	_, v, _ := res.GetFold(p.URN)
	return v
}
