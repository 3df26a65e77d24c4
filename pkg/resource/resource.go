// ABOUTME: Resource type holding a SCIM resource's attribute tree
// ABOUTME: Provides schema-list and common-attribute helpers over the tree

package resource

import (
	"strings"
)

// Common attribute names
const (
	AttrSchemas    = "schemas"
	AttrID         = "id"
	AttrExternalID = "externalId"
	AttrMeta       = "meta"
)

// Sub-attributes of meta
const (
	MetaResourceType = "resourceType"
	MetaCreated      = "created"
	MetaLastModified = "lastModified"
	MetaLocation     = "location"
	MetaVersion      = "version"
)

// Resource is a single SCIM resource: a map from attribute name to value.
// Keys are canonical attribute names or full extension schema URNs; values
// under a URN key are the extension's own attribute objects.
type Resource struct {
	Attrs map[string]Value
}

// New creates an empty resource.
func New() *Resource {
	return &Resource{Attrs: make(map[string]Value)}
}

// Get returns the value stored under the exact key, or an unset value.
func (r *Resource) Get(name string) Value {
	if r == nil || r.Attrs == nil {
		return Value{}
	}
	return r.Attrs[name]
}

// GetFold looks up an attribute by case-insensitive name and returns the
// stored key alongside the value.
func (r *Resource) GetFold(name string) (string, Value, bool) {
	if r == nil || r.Attrs == nil {
		return "", Value{}, false
	}
	if v, ok := r.Attrs[name]; ok {
		return name, v, true
	}
	for k, v := range r.Attrs {
		if strings.EqualFold(k, name) {
			return k, v, true
		}
	}
	return "", Value{}, false
}

// Set stores a value under the given key. Setting an unset value removes
// the key, so attributes are either present or absent, never null.
func (r *Resource) Set(name string, v Value) {
	if r.Attrs == nil {
		r.Attrs = make(map[string]Value)
	}
	if v.IsUnset() {
		delete(r.Attrs, name)
		return
	}
	r.Attrs[name] = v
}

// Remove deletes the attribute if present.
func (r *Resource) Remove(name string) {
	delete(r.Attrs, name)
}

// ID returns the resource id, or "" when unset.
func (r *Resource) ID() string {
	return r.Get(AttrID).Str
}

// SetID stores the resource id.
func (r *Resource) SetID(id string) {
	r.Set(AttrID, NewStringValue(id))
}

// Schemas returns the declared schema URNs in stored order.
func (r *Resource) Schemas() []string {
	return r.Get(AttrSchemas).StringSlice()
}

// SetSchemas replaces the schemas list.
func (r *Resource) SetSchemas(urns []string) {
	elems := make([]Value, len(urns))
	for i, u := range urns {
		elems[i] = NewStringValue(u)
	}
	r.Set(AttrSchemas, NewListValue(elems...))
}

// HasSchema reports whether the resource declares the URN, ignoring case.
func (r *Resource) HasSchema(urn string) bool {
	for _, u := range r.Schemas() {
		if strings.EqualFold(u, urn) {
			return true
		}
	}
	return false
}

// AddSchema appends the URN to the schemas list unless already declared.
func (r *Resource) AddSchema(urn string) {
	if r.HasSchema(urn) {
		return
	}
	v := r.Get(AttrSchemas)
	if v.Type != TYPE_LIST {
		v = NewListValue()
	}
	v.List = append(v.List, NewStringValue(urn))
	r.Set(AttrSchemas, v)
}

// RemoveSchema drops the URN from the schemas list, ignoring case.
func (r *Resource) RemoveSchema(urn string) {
	v := r.Get(AttrSchemas)
	if v.Type != TYPE_LIST {
		return
	}
	kept := v.List[:0]
	for _, e := range v.List {
		if e.Type == TYPE_STRING && strings.EqualFold(e.Str, urn) {
			continue
		}
		kept = append(kept, e)
	}
	v.List = kept
	r.Set(AttrSchemas, v)
}

// Meta returns the meta object, or an unset value.
func (r *Resource) Meta() Value {
	return r.Get(AttrMeta)
}

// SetMetaField sets one sub-attribute of meta, creating meta as needed.
func (r *Resource) SetMetaField(name string, v Value) {
	meta := r.Get(AttrMeta)
	if meta.Type != TYPE_OBJECT {
		meta = NewObjectValue(nil)
	}
	meta.Obj[name] = v
	r.Set(AttrMeta, meta)
}

// Version returns meta.version, or "" when unset.
func (r *Resource) Version() string {
	meta := r.Get(AttrMeta)
	if meta.Type != TYPE_OBJECT {
		return ""
	}
	return meta.Obj[MetaVersion].Str
}

// Clone returns a deep copy sharing no state with the receiver.
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	out := &Resource{Attrs: make(map[string]Value, len(r.Attrs))}
	for k, v := range r.Attrs {
		out.Attrs[k] = v.Clone()
	}
	return out
}

// ToValue wraps the attribute map as an object value. The returned value
// shares storage with the resource.
func (r *Resource) ToValue() Value {
	if r.Attrs == nil {
		r.Attrs = make(map[string]Value)
	}
	return Value{Type: TYPE_OBJECT, Obj: r.Attrs}
}
