// ABOUTME: Filter expression evaluation over resources
// ABOUTME: Compares coerced literals with existential multi-value semantics

package filter

import (
	"strings"

	filterv2 "github.com/scim2/filter-parser/v2"

	"github.com/nainya/scimstore/pkg/attrpath"
	"github.com/nainya/scimstore/pkg/resource"
	"github.com/nainya/scimstore/pkg/schema"
	"github.com/nainya/scimstore/pkg/scimerr"
)

// Parse parses a filter string. Malformed input is an invalidFilter error.
func Parse(raw string) (filterv2.Expression, error) {
	expr, err := filterv2.ParseFilter([]byte(raw))
	if err != nil {
		return nil, scimerr.InvalidFilter("malformed filter %q", raw)
	}
	return expr, nil
}

// Evaluate reports whether the resource satisfies the filter expression.
func Evaluate(d *schema.TypeDescriptor, res *resource.Resource, expr filterv2.Expression) (bool, error) {
	return eval(resourceScope{d: d, res: res}, expr)
}

// MatcherFor builds a matcher that evaluates cond against single elements
// of the given multi-valued attribute.
func MatcherFor(attr *schema.Attribute, cond filterv2.Expression) attrpath.Matcher {
	return func(elem resource.Value) (bool, error) {
		return eval(elementScope{attr: attr, elem: elem}, cond)
	}
}

// scope resolves attribute references either against a whole resource or
// against one element of a multi-valued attribute (inside a selector).
type scope interface {
	resolve(ap filterv2.AttributePath) ([]attrpath.Candidate, *schema.Attribute, error)
	selector(ap filterv2.AttributePath, cond filterv2.Expression) (bool, error)
}

type resourceScope struct {
	d   *schema.TypeDescriptor
	res *resource.Resource
}

func (s resourceScope) resolve(ap filterv2.AttributePath) ([]attrpath.Candidate, *schema.Attribute, error) {
	p := attrpath.Resolve(s.d, derefStr(ap.URIPrefix), ap.AttributeName, derefStr(ap.SubAttribute))
	cands, err := attrpath.Values(s.d, s.res, p)
	if err != nil {
		return nil, nil, err
	}
	return cands, p.Target(), nil
}

func (s resourceScope) selector(ap filterv2.AttributePath, cond filterv2.Expression) (bool, error) {
	if ap.SubAttribute != nil {
		return false, scimerr.InvalidFilter("selector cannot follow a sub-attribute")
	}
	p := attrpath.Resolve(s.d, derefStr(ap.URIPrefix), ap.AttributeName, "")
	attr := p.Attribute()
	if attr == nil {
		return false, nil
	}
	if attr.Sensitive() {
		return false, scimerr.Sensitive(p.Attr)
	}
	if !attr.MultiValued {
		return false, scimerr.InvalidFilter("attribute %q is not multi-valued", p.Attr)
	}

	v := attrpath.Container(s.d, s.res, p).Field(p.Attr)
	if v.IsUnset() {
		return false, nil
	}
	elems := []resource.Value{v}
	if v.Type == resource.TYPE_LIST {
		elems = v.List
	}
	for _, elem := range elems {
		ok, err := eval(elementScope{attr: attr, elem: elem}, cond)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

type elementScope struct {
	attr *schema.Attribute
	elem resource.Value
}

func (s elementScope) resolve(ap filterv2.AttributePath) ([]attrpath.Candidate, *schema.Attribute, error) {
	name := ap.AttributeName
	sub := s.attr.Sub(name)
	if sub == nil {
		return nil, nil, scimerr.InvalidFilter("attribute %q has no sub-attribute %q", s.attr.Name, name)
	}
	if sub.Sensitive() {
		return nil, nil, scimerr.Sensitive(s.attr.Name + "." + name)
	}
	if ap.SubAttribute != nil {
		return nil, nil, scimerr.InvalidFilter("sub-attribute %q has no sub-attributes", name)
	}
	v := s.elem.Field(name)
	if v.IsUnset() {
		return nil, sub, nil
	}
	return []attrpath.Candidate{{Value: v, Attr: sub}}, sub, nil
}

func (s elementScope) selector(filterv2.AttributePath, filterv2.Expression) (bool, error) {
	return false, scimerr.InvalidFilter("nested selectors are not allowed")
}

func eval(s scope, expr filterv2.Expression) (bool, error) {
	switch e := norm(expr).(type) {
	case filterv2.AttributeExpression:
		return evalCompare(s, e)
	case filterv2.LogicalExpression:
		left, err := eval(s, e.Left)
		if err != nil {
			return false, err
		}
		if e.Operator == filterv2.AND {
			if !left {
				return false, nil
			}
			return eval(s, e.Right)
		}
		if left {
			return true, nil
		}
		return eval(s, e.Right)
	case filterv2.NotExpression:
		ok, err := eval(s, e.Expression)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case filterv2.ValuePath:
		return s.selector(e.AttributePath, e.ValueFilter)
	}
	return false, scimerr.InvalidFilter("unsupported filter expression")
}

func evalCompare(s scope, e filterv2.AttributeExpression) (bool, error) {
	cands, target, err := s.resolve(e.AttributePath)
	if err != nil {
		return false, err
	}
	if target != nil && isOrderOp(e.Operator) {
		switch target.Type {
		case schema.TypeBoolean, schema.TypeBinary:
			return false, scimerr.InvalidFilter("operator %q not valid for attribute %q", e.Operator, target.Name)
		}
	}
	if e.Operator == filterv2.PR {
		return len(cands) > 0, nil
	}
	if target == nil {
		return false, nil
	}

	// The literal compares under the attribute's own type and case rules.
	lit, cerr := schema.Coerce(target, resource.FromAny(e.CompareValue))
	if cerr != nil {
		return false, nil
	}
	lit = attrpath.NormalizeKey(target, lit)

	for _, c := range cands {
		if match(attrpath.NormalizeKey(c.Attr, c.Value), e.Operator, lit) {
			return true, nil
		}
	}
	return false, nil
}

func match(v resource.Value, op filterv2.CompareOperator, lit resource.Value) bool {
	if v.IsUnset() {
		return false
	}
	switch op {
	case filterv2.EQ:
		return v.Equal(lit)
	case filterv2.NE:
		return !v.Equal(lit)
	case filterv2.CO, filterv2.SW, filterv2.EW:
		if v.Type != resource.TYPE_STRING || lit.Type != resource.TYPE_STRING {
			return false
		}
		switch op {
		case filterv2.CO:
			return strings.Contains(v.Str, lit.Str)
		case filterv2.SW:
			return strings.HasPrefix(v.Str, lit.Str)
		default:
			return strings.HasSuffix(v.Str, lit.Str)
		}
	case filterv2.GT, filterv2.GE, filterv2.LT, filterv2.LE:
		if v.Type != lit.Type {
			return false
		}
		var cmp int
		switch v.Type {
		case resource.TYPE_STRING:
			cmp = strings.Compare(v.Str, lit.Str)
		case resource.TYPE_NUMBER:
			switch {
			case v.Num < lit.Num:
				cmp = -1
			case v.Num > lit.Num:
				cmp = 1
			}
		default:
			return false
		}
		switch op {
		case filterv2.GT:
			return cmp > 0
		case filterv2.GE:
			return cmp >= 0
		case filterv2.LT:
			return cmp < 0
		default:
			return cmp <= 0
		}
	}
	return false
}

func isOrderOp(op filterv2.CompareOperator) bool {
	switch op {
	case filterv2.GT, filterv2.GE, filterv2.LT, filterv2.LE:
		return true
	}
	return false
}

// norm unwraps pointer AST nodes so the evaluator switches on one shape.
func norm(expr filterv2.Expression) filterv2.Expression {
	switch t := expr.(type) {
	case *filterv2.AttributeExpression:
		if t != nil {
			return *t
		}
	case *filterv2.LogicalExpression:
		if t != nil {
			return *t
		}
	case *filterv2.NotExpression:
		if t != nil {
			return *t
		}
	case *filterv2.ValuePath:
		if t != nil {
			return *t
		}
	}
	return expr
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
