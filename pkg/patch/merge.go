// ABOUTME: Merge folds a full-replace payload onto a stored resource
// ABOUTME: Read-only attributes survive, immutable ones may not change

package patch

import (
	"sort"

	"github.com/nainya/scimstore/pkg/resource"
	"github.com/nainya/scimstore/pkg/schema"
	"github.com/nainya/scimstore/pkg/scimerr"
)

// Merge applies a replacement payload onto the stored resource, attribute
// by attribute. Read-only attributes keep their stored value, immutable
// attributes may not change once set, extension containers merge key by
// key and everything else is overwritten wholesale. Attributes absent
// from the payload keep their stored value; callers coerce the payload
// before merging.
func Merge(d *schema.TypeDescriptor, stored, payload *resource.Resource) error {
	keys := make([]string, 0, len(payload.Attrs))
	for k := range payload.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		pv := payload.Attrs[k]
		if ext := d.SchemaFor(k); ext != nil && !d.IsCoreURN(k) {
			if pv.Type != resource.TYPE_OBJECT {
				return scimerr.InvalidValue("value for %q must be an object", k)
			}
			if err := mergeExtension(ext, stored, pv); err != nil {
				return err
			}
			continue
		}

		attr := d.FindAttribute(k)
		if attr == nil {
			setFold(stored, k, pv)
			continue
		}
		switch attr.Mutability {
		case schema.MutabilityReadOnly:
			continue
		case schema.MutabilityImmutable:
			if _, sv, has := stored.GetFold(attr.Name); has {
				if !pv.Equal(sv) {
					return scimerr.Mutability(attr.Name)
				}
				continue
			}
		}
		setFold(stored, attr.Name, pv)
	}
	return nil
}

func mergeExtension(ext *schema.Schema, stored *resource.Resource, pv resource.Value) error {
	key, cv, ok := stored.GetFold(ext.ID)
	if !ok || cv.Type != resource.TYPE_OBJECT {
		if ok {
			stored.Remove(key)
		}
		cv = resource.NewObjectValue(nil)
		stored.Set(ext.ID, cv)
	} else if key != ext.ID {
		stored.Remove(key)
		stored.Set(ext.ID, cv)
	}
	stored.AddSchema(ext.ID)

	for _, sk := range pv.SortedKeys() {
		sv := pv.Obj[sk]
		attr := ext.Attribute(sk)
		if attr == nil {
			setFoldObj(cv, sk, sv)
			continue
		}
		switch attr.Mutability {
		case schema.MutabilityReadOnly:
			continue
		case schema.MutabilityImmutable:
			if _, old, has := cv.FieldKey(attr.Name); has {
				if !sv.Equal(old) {
					return scimerr.Mutability(attr.Name)
				}
				continue
			}
		}
		setFoldObj(cv, attr.Name, sv)
	}
	return nil
}

// setFold writes under the given name, dropping a differently-cased
// stored key first.
func setFold(res *resource.Resource, name string, v resource.Value) {
	if k, _, ok := res.GetFold(name); ok && k != name {
		res.Remove(k)
	}
	res.Set(name, v)
}

func setFoldObj(obj resource.Value, name string, v resource.Value) {
	if k, _, ok := obj.FieldKey(name); ok && k != name {
		delete(obj.Obj, k)
	}
	obj.Obj[name] = v
}
