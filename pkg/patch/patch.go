// ABOUTME: PATCH operation engine: add, remove and replace over attribute paths
// ABOUTME: Dispatches on path shape and enforces mutability and value rules

package patch

import (
	"sort"
	"strings"

	filterv2 "github.com/scim2/filter-parser/v2"

	"github.com/nainya/scimstore/pkg/attrpath"
	"github.com/nainya/scimstore/pkg/filter"
	"github.com/nainya/scimstore/pkg/resource"
	"github.com/nainya/scimstore/pkg/schema"
	"github.com/nainya/scimstore/pkg/scimerr"
)

// Operation names
const (
	OpAdd     = "add"
	OpRemove  = "remove"
	OpReplace = "replace"
)

// Operation is one PATCH operation. Op is matched case-insensitively.
// Path may be empty for add and replace, which then work on the resource
// root. Value is unset for remove.
type Operation struct {
	Op    string
	Path  string
	Value resource.Value
}

// Apply runs the operations in order against the resource, mutating it in
// place. The first failing operation aborts; callers work on a clone and
// discard it on error.
func Apply(d *schema.TypeDescriptor, res *resource.Resource, ops []Operation) error {
	for _, op := range ops {
		if err := applyOne(d, res, op); err != nil {
			return err
		}
	}
	normalize(d, res)
	return nil
}

func applyOne(d *schema.TypeDescriptor, res *resource.Resource, op Operation) error {
	verb := strings.ToLower(strings.TrimSpace(op.Op))
	switch verb {
	case OpAdd, OpReplace:
		if strings.TrimSpace(op.Path) == "" {
			return applyRoot(d, res, verb, op.Value)
		}
		p, err := attrpath.Parse(d, op.Path)
		if err != nil {
			return err
		}
		return applyPathed(d, res, verb, p, op.Value)
	case OpRemove:
		if strings.TrimSpace(op.Path) == "" {
			return scimerr.NoTarget("remove needs a path")
		}
		p, err := attrpath.Parse(d, op.Path)
		if err != nil {
			return err
		}
		return applyRemove(d, res, p)
	}
	return scimerr.InvalidValue("unknown patch operation %q", op.Op)
}

// scope is one object being mutated plus the descriptor lookup valid
// inside it: the resource root, an extension container or a single element
// of a multi-valued attribute.
type scope struct {
	obj  resource.Value
	find func(name string) *schema.Attribute
}

func rootScope(d *schema.TypeDescriptor, res *resource.Resource) scope {
	return scope{obj: res.ToValue(), find: d.FindAttribute}
}

func extScope(ext *schema.Schema, container resource.Value) scope {
	return scope{obj: container, find: ext.Attribute}
}

func elemScope(attr *schema.Attribute, elem resource.Value) scope {
	return scope{obj: elem, find: attr.Sub}
}

// setKey writes a value under the attribute's canonical name, dropping a
// differently-cased stored key.
func (s scope) setKey(storedKey, canonical string, v resource.Value) {
	if storedKey != "" && storedKey != canonical {
		delete(s.obj.Obj, storedKey)
	}
	s.obj.Obj[canonical] = v
}

// containerFor returns the scope holding the path's attribute. For
// URN-qualified paths with create set, the extension container is created
// and the URN added to the schemas list. ok is false when the container
// does not exist and create is false.
func containerFor(d *schema.TypeDescriptor, res *resource.Resource, p attrpath.Path, create bool) (scope, bool) {
	if p.URN == "" {
		return rootScope(d, res), true
	}
	ext := d.SchemaFor(p.URN)
	if ext == nil {
		return scope{}, false
	}
	key, v, ok := res.GetFold(ext.ID)
	if ok && v.Type == resource.TYPE_OBJECT {
		if key != ext.ID {
			res.Remove(key)
			res.Set(ext.ID, v)
		}
		return extScope(ext, v), true
	}
	if !create {
		return scope{}, false
	}
	if ok {
		res.Remove(key)
	}
	v = resource.NewObjectValue(nil)
	res.Set(ext.ID, v)
	res.AddSchema(ext.ID)
	return extScope(ext, v), true
}

func applyPathed(d *schema.TypeDescriptor, res *resource.Resource, verb string, p attrpath.Path, v resource.Value) error {
	if p.WholeSchema {
		return scimerr.InvalidPath("path %q names a schema, not an attribute", p.String())
	}
	attr := p.Attribute()
	if attr == nil {
		return scimerr.NoTarget("no attribute %q", p.String())
	}
	sc, _ := containerFor(d, res, p, true)

	switch {
	case !p.HasCond() && p.Sub == "":
		return applyLeaf(verb, sc, p.Attr, v)

	case !p.HasCond():
		return applySub(verb, sc, attr, p.Sub, v)

	case p.Sub == "":
		return applySelector(verb, sc, attr, p.Cond, v)

	default:
		return applySelectorSub(verb, sc, attr, p, v)
	}
}

// applySub handles attr.sub paths: the operation applies to the complex
// value, or to every element of a populated multi-valued attribute.
func applySub(verb string, sc scope, attr *schema.Attribute, sub string, v resource.Value) error {
	if err := containerMutable(attr); err != nil {
		return err
	}
	storedKey, cv, has := sc.obj.FieldKey(attr.Name)
	if !has {
		if attr.MultiValued {
			return scimerr.InvalidPath("attribute %q has no elements", attr.Name)
		}
		cv = resource.NewObjectValue(nil)
		sc.setKey(storedKey, attr.Name, cv)
		return applyLeaf(verb, elemScope(attr, cv), sub, v)
	}
	switch cv.Type {
	case resource.TYPE_LIST:
		if len(cv.List) == 0 {
			return scimerr.InvalidPath("attribute %q has no elements", attr.Name)
		}
		for _, elem := range cv.List {
			if elem.Type != resource.TYPE_OBJECT {
				return scimerr.InvalidPath("attribute %q holds no objects", attr.Name)
			}
			if err := applyLeaf(verb, elemScope(attr, elem), sub, v); err != nil {
				return err
			}
		}
		return nil
	case resource.TYPE_OBJECT:
		return applyLeaf(verb, elemScope(attr, cv), sub, v)
	}
	return scimerr.InvalidPath("attribute %q is not complex", attr.Name)
}

// applySelector handles attr[cond] paths for add and replace: the operand
// object's keys merge into every matching element.
func applySelector(verb string, sc scope, attr *schema.Attribute, cond filterv2.Expression, v resource.Value) error {
	if v.Type != resource.TYPE_OBJECT {
		return scimerr.InvalidValue("value for %q must be an object", attr.Name)
	}
	if err := containerMutable(attr); err != nil {
		return err
	}
	storedKey, cv, has := sc.obj.FieldKey(attr.Name)
	if !has {
		cv = resource.NewListValue()
		sc.setKey(storedKey, attr.Name, cv)
	}
	if cv.Type != resource.TYPE_LIST {
		return scimerr.InvalidPath("attribute %q is not multi-valued", attr.Name)
	}

	match := filter.MatcherFor(attr, cond)
	matched := 0
	for _, elem := range cv.List {
		ok, err := match(elem)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if elem.Type != resource.TYPE_OBJECT {
			return scimerr.InvalidPath("attribute %q holds no objects", attr.Name)
		}
		matched++
		for _, k := range v.SortedKeys() {
			if err := applyLeaf(verb, elemScope(attr, elem), k, v.Obj[k]); err != nil {
				return err
			}
		}
	}
	if matched == 0 && verb == OpReplace {
		return scimerr.NoTarget("no element of %q matches the filter", attr.Name)
	}
	return nil
}

// applySelectorSub handles attr[cond].sub paths: the operation applies to
// the sub-attribute of every matching element.
func applySelectorSub(verb string, sc scope, attr *schema.Attribute, p attrpath.Path, v resource.Value) error {
	if err := containerMutable(attr); err != nil {
		return err
	}
	cv := sc.obj.Field(attr.Name)
	if cv.IsUnset() {
		cv = resource.NewListValue()
	}
	if cv.Type != resource.TYPE_LIST {
		return scimerr.InvalidPath("attribute %q is not multi-valued", attr.Name)
	}

	match := filter.MatcherFor(attr, p.Cond)
	matched := 0
	for _, elem := range cv.List {
		ok, err := match(elem)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if elem.Type != resource.TYPE_OBJECT {
			return scimerr.InvalidPath("attribute %q holds no objects", attr.Name)
		}
		matched++
		if err := applyLeaf(verb, elemScope(attr, elem), p.Sub, v); err != nil {
			return err
		}
	}
	if matched == 0 && verb == OpReplace {
		return scimerr.NoTarget("no element of %q matches the filter", attr.Name)
	}
	return nil
}

// containerMutable rejects traversal into read-only or immutable
// attributes before any element is touched.
func containerMutable(attr *schema.Attribute) error {
	if attr.Mutability == schema.MutabilityReadOnly || attr.Mutability == schema.MutabilityImmutable {
		return scimerr.Mutability(attr.Name)
	}
	return nil
}

func applyLeaf(verb string, sc scope, name string, v resource.Value) error {
	if verb == OpAdd {
		return opAdd(sc, name, v)
	}
	return opReplace(sc, name, v)
}

func opAdd(sc scope, name string, v resource.Value) error {
	attr := sc.find(name)
	if attr == nil {
		return scimerr.NoTarget("no attribute %q", name)
	}
	if attr.MultiValued && v.Type == resource.TYPE_LIST {
		for _, e := range v.List {
			if err := opAdd(sc, name, e); err != nil {
				return err
			}
		}
		return nil
	}

	newV, err := schema.Coerce(attr, v)
	if err != nil {
		return err
	}
	storedKey, existing, has := sc.obj.FieldKey(attr.Name)

	if !attr.MultiValued && has && newV.Equal(existing) {
		return nil
	}
	if attr.Mutability == schema.MutabilityReadOnly {
		return scimerr.Mutability(attr.Name)
	}
	if attr.Mutability == schema.MutabilityImmutable && has {
		return scimerr.Mutability(attr.Name)
	}

	if attr.MultiValued {
		var list []resource.Value
		switch existing.Type {
		case resource.TYPE_LIST:
			list = existing.List
		case resource.TYPE_UNSET:
		default:
			list = []resource.Value{existing}
		}
		if isPrimary(newV) {
			clearPrimary(list)
		}
		list = append(list, newV)
		sc.setKey(storedKey, attr.Name, resource.NewListValue(list...))
		return nil
	}

	if attr.Required && isEmpty(newV) {
		return scimerr.InvalidValue("attribute %q may not be empty", attr.Name)
	}
	sc.setKey(storedKey, attr.Name, newV)
	return nil
}

func opReplace(sc scope, name string, v resource.Value) error {
	attr := sc.find(name)
	if attr == nil {
		return scimerr.NoTarget("no attribute %q", name)
	}
	if attr.MultiValued && v.Type != resource.TYPE_LIST {
		return scimerr.InvalidValue("attribute %q takes a list value", attr.Name)
	}

	newV, err := schema.Coerce(attr, v)
	if err != nil {
		return err
	}
	storedKey, existing, has := sc.obj.FieldKey(attr.Name)

	if has && newV.Equal(existing) {
		return nil
	}
	if attr.Mutability == schema.MutabilityReadOnly {
		return scimerr.Mutability(attr.Name)
	}
	if attr.Mutability == schema.MutabilityImmutable && has {
		return scimerr.Mutability(attr.Name)
	}
	if attr.Required && isEmpty(newV) {
		return scimerr.InvalidValue("attribute %q may not be empty", attr.Name)
	}
	sc.setKey(storedKey, attr.Name, newV)
	return nil
}

// opRemove drops the attribute and reports whether a value was actually
// removed, so callers can count effective removals.
func opRemove(sc scope, name string) (bool, error) {
	attr := sc.find(name)
	if attr == nil {
		return false, scimerr.NoTarget("no attribute %q", name)
	}
	storedKey, _, has := sc.obj.FieldKey(attr.Name)
	if !has {
		return false, nil
	}
	if attr.Mutability == schema.MutabilityReadOnly || attr.Mutability == schema.MutabilityImmutable {
		return false, scimerr.Mutability(attr.Name)
	}
	if attr.Required {
		return false, scimerr.InvalidValue("attribute %q is required", attr.Name)
	}
	delete(sc.obj.Obj, storedKey)
	return true, nil
}

func applyRemove(d *schema.TypeDescriptor, res *resource.Resource, p attrpath.Path) error {
	if p.WholeSchema {
		return scimerr.InvalidPath("path %q names a schema, not an attribute", p.String())
	}
	attr := p.Attribute()
	if attr == nil {
		return scimerr.NoTarget("no attribute %q", p.String())
	}
	sc, ok := containerFor(d, res, p, false)
	if !ok {
		return scimerr.NoTarget("nothing at path %q", p.String())
	}

	switch {
	case !p.HasCond() && p.Sub == "":
		removed, err := opRemove(sc, p.Attr)
		if err != nil {
			return err
		}
		if !removed {
			return scimerr.NoTarget("nothing at path %q", p.String())
		}
		return nil

	case !p.HasCond():
		return removeSub(sc, attr, p)

	case p.Sub == "":
		return removeSelector(sc, attr, p)

	default:
		return removeSelectorSub(sc, attr, p)
	}
}

func removeSub(sc scope, attr *schema.Attribute, p attrpath.Path) error {
	cv := sc.obj.Field(attr.Name)
	switch cv.Type {
	case resource.TYPE_UNSET:
		return scimerr.NoTarget("nothing at path %q", p.String())
	case resource.TYPE_OBJECT:
		removed, err := opRemove(elemScope(attr, cv), p.Sub)
		if err != nil {
			return err
		}
		if !removed {
			return scimerr.NoTarget("nothing at path %q", p.String())
		}
		return nil
	case resource.TYPE_LIST:
		if len(cv.List) == 0 {
			return scimerr.NoTarget("nothing at path %q", p.String())
		}
		removed := 0
		for _, elem := range cv.List {
			if elem.Type != resource.TYPE_OBJECT {
				continue
			}
			ok, err := opRemove(elemScope(attr, elem), p.Sub)
			if err != nil {
				return err
			}
			if ok {
				removed++
			}
		}
		if removed == 0 {
			return scimerr.NoTarget("nothing at path %q", p.String())
		}
		return nil
	}
	return scimerr.InvalidPath("attribute %q is not complex", attr.Name)
}

func removeSelector(sc scope, attr *schema.Attribute, p attrpath.Path) error {
	if err := containerMutable(attr); err != nil {
		return err
	}
	storedKey, cv, has := sc.obj.FieldKey(attr.Name)
	if !has {
		return scimerr.NoTarget("nothing at path %q", p.String())
	}
	if cv.Type != resource.TYPE_LIST {
		return scimerr.InvalidPath("attribute %q is not multi-valued", attr.Name)
	}

	match := filter.MatcherFor(attr, p.Cond)
	kept := make([]resource.Value, 0, len(cv.List))
	matched := 0
	for _, elem := range cv.List {
		ok, err := match(elem)
		if err != nil {
			return err
		}
		if ok {
			matched++
			continue
		}
		kept = append(kept, elem)
	}
	if matched == 0 {
		return scimerr.NoTarget("no element of %q matches the filter", attr.Name)
	}
	if len(kept) == 0 {
		delete(sc.obj.Obj, storedKey)
		return nil
	}
	sc.setKey(storedKey, attr.Name, resource.NewListValue(kept...))
	return nil
}

func removeSelectorSub(sc scope, attr *schema.Attribute, p attrpath.Path) error {
	if err := containerMutable(attr); err != nil {
		return err
	}
	cv := sc.obj.Field(attr.Name)
	if cv.IsUnset() {
		return scimerr.NoTarget("nothing at path %q", p.String())
	}
	if cv.Type != resource.TYPE_LIST {
		return scimerr.InvalidPath("attribute %q is not multi-valued", attr.Name)
	}

	match := filter.MatcherFor(attr, p.Cond)
	matched, removed := 0, 0
	for _, elem := range cv.List {
		ok, err := match(elem)
		if err != nil {
			return err
		}
		if !ok || elem.Type != resource.TYPE_OBJECT {
			continue
		}
		matched++
		did, err := opRemove(elemScope(attr, elem), p.Sub)
		if err != nil {
			return err
		}
		if did {
			removed++
		}
	}
	if matched == 0 || removed == 0 {
		return scimerr.NoTarget("nothing at path %q", p.String())
	}
	return nil
}

// applyRoot handles add and replace without a path: every key of the
// operand object applies at the top level, and extension URN keys merge
// into their containers.
func applyRoot(d *schema.TypeDescriptor, res *resource.Resource, verb string, v resource.Value) error {
	if v.Type != resource.TYPE_OBJECT {
		return scimerr.InvalidValue("a path-less %s takes an object value", verb)
	}
	for _, k := range v.SortedKeys() {
		kv := v.Obj[k]
		urn, rest, ok := d.StripURN(k)
		if !ok {
			if err := applyLeaf(verb, rootScope(d, res), k, kv); err != nil {
				return err
			}
			continue
		}
		if d.IsCoreURN(urn) {
			if rest != "" {
				if err := applyLeaf(verb, rootScope(d, res), rest, kv); err != nil {
					return err
				}
				continue
			}
			if kv.Type != resource.TYPE_OBJECT {
				return scimerr.InvalidValue("value for %q must be an object", k)
			}
			for _, sub := range kv.SortedKeys() {
				if err := applyLeaf(verb, rootScope(d, res), sub, kv.Obj[sub]); err != nil {
					return err
				}
			}
			continue
		}

		sc, _ := containerFor(d, res, attrpath.Resolve(d, urn, "", ""), true)
		if rest != "" {
			if err := applyLeaf(verb, sc, rest, kv); err != nil {
				return err
			}
			continue
		}
		if kv.Type != resource.TYPE_OBJECT {
			return scimerr.InvalidValue("value for %q must be an object", k)
		}
		for _, sub := range kv.SortedKeys() {
			if err := applyLeaf(verb, sc, sub, kv.Obj[sub]); err != nil {
				return err
			}
		}
	}
	return nil
}

// normalize drops empty containers a sequence of operations left behind:
// empty lists, empty single complex values and empty extension containers
// (whose URN also leaves the schemas list).
func normalize(d *schema.TypeDescriptor, res *resource.Resource) {
	var drop []string
	var dropURN []string
	for k, v := range res.Attrs {
		switch v.Type {
		case resource.TYPE_LIST:
			if k != resource.AttrSchemas && len(v.List) == 0 {
				drop = append(drop, k)
			}
		case resource.TYPE_OBJECT:
			if len(v.Obj) != 0 {
				continue
			}
			if ext := d.SchemaFor(k); ext != nil && !d.IsCoreURN(k) {
				drop = append(drop, k)
				dropURN = append(dropURN, ext.ID)
			} else if a := d.FindAttribute(k); a != nil && a.Type == schema.TypeComplex {
				drop = append(drop, k)
			}
		}
	}
	sort.Strings(drop)
	for _, k := range drop {
		res.Remove(k)
	}
	for _, urn := range dropURN {
		res.RemoveSchema(urn)
	}
}

func isPrimary(v resource.Value) bool {
	p := v.Field("primary")
	return p.Type == resource.TYPE_BOOL && p.Bool
}

func clearPrimary(list []resource.Value) {
	for _, elem := range list {
		k, pv, ok := elem.FieldKey("primary")
		if ok && pv.Type == resource.TYPE_BOOL && pv.Bool {
			elem.Obj[k] = resource.NewBoolValue(false)
		}
	}
}

func isEmpty(v resource.Value) bool {
	switch v.Type {
	case resource.TYPE_UNSET:
		return true
	case resource.TYPE_STRING:
		return v.Str == ""
	case resource.TYPE_OBJECT:
		return len(v.Obj) == 0
	case resource.TYPE_LIST:
		return len(v.List) == 0
	}
	return false
}
