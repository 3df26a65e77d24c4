// ABOUTME: Registry of schemas and resource types
// ABOUTME: Builds per-type descriptors merging core schema, extensions and common attributes

package schema

import (
	"fmt"
	"strings"
)

// UniqueAttribute identifies one attribute whose values must be unique
// within a resource type. Schema is the extension URN, or "" for an
// attribute of the base schema.
type UniqueAttribute struct {
	Schema    string
	Attribute string
	CaseExact bool
}

// TypeDescriptor is the resolved view of one resource type: its base
// schema, extension schemas and collected uniqueness constraints.
type TypeDescriptor struct {
	ResourceType *ResourceType
	Core         *Schema
	Extensions   []*Schema

	unique []UniqueAttribute
}

// Name returns the resource type's display name, used for meta.resourceType.
func (d *TypeDescriptor) Name() string {
	return d.ResourceType.Name
}

// Endpoint returns the type's endpoint with its leading slash.
func (d *TypeDescriptor) Endpoint() string {
	return d.ResourceType.Endpoint
}

// FindAttribute resolves an unqualified attribute name against the common
// attributes and the base schema, case-insensitively. Extension attributes
// resolve only through their URN.
func (d *TypeDescriptor) FindAttribute(name string) *Attribute {
	for i := range commonAttributes {
		if strings.EqualFold(commonAttributes[i].Name, name) {
			return &commonAttributes[i]
		}
	}
	return d.Core.Attribute(name)
}

// FindQualified resolves an attribute name inside the named schema. An
// empty URN or the core schema's URN resolves like FindAttribute.
func (d *TypeDescriptor) FindQualified(urn, name string) *Attribute {
	if urn == "" || strings.EqualFold(urn, d.Core.ID) {
		return d.FindAttribute(name)
	}
	for _, ext := range d.Extensions {
		if strings.EqualFold(ext.ID, urn) {
			return ext.Attribute(name)
		}
	}
	return nil
}

// SchemaFor returns the core or extension schema with the given URN, or nil.
func (d *TypeDescriptor) SchemaFor(urn string) *Schema {
	if strings.EqualFold(urn, d.Core.ID) {
		return d.Core
	}
	for _, ext := range d.Extensions {
		if strings.EqualFold(ext.ID, urn) {
			return ext
		}
	}
	return nil
}

// IsCoreURN reports whether the URN names the type's base schema.
func (d *TypeDescriptor) IsCoreURN(urn string) bool {
	return strings.EqualFold(urn, d.Core.ID)
}

// StripURN splits a URN-qualified path into the canonical schema URN and
// the remainder after the separating colon. ok is false when the path does
// not start with a URN known to this type; rest is "" when the path names
// the schema itself. The longest matching URN wins.
func (d *TypeDescriptor) StripURN(path string) (urn, rest string, ok bool) {
	try := func(candidate string) {
		if len(path) < len(candidate) || !strings.EqualFold(path[:len(candidate)], candidate) {
			return
		}
		if len(path) > len(candidate) && path[len(candidate)] != ':' {
			return
		}
		if ok && len(candidate) <= len(urn) {
			return
		}
		urn = candidate
		if len(path) > len(candidate) {
			rest = path[len(candidate)+1:]
		} else {
			rest = ""
		}
		ok = true
	}
	try(d.Core.ID)
	for _, ext := range d.Extensions {
		try(ext.ID)
	}
	return urn, rest, ok
}

// UniqueAttributes returns the type's uniqueness constraints.
func (d *TypeDescriptor) UniqueAttributes() []UniqueAttribute {
	return d.unique
}

func (d *TypeDescriptor) collectUnique() {
	for i := range d.Core.Attributes {
		a := &d.Core.Attributes[i]
		if a.Uniqueness != UniquenessNone {
			d.unique = append(d.unique, UniqueAttribute{Attribute: a.Name, CaseExact: a.CaseExact})
		}
	}
	for _, ext := range d.Extensions {
		for i := range ext.Attributes {
			a := &ext.Attributes[i]
			if a.Uniqueness != UniquenessNone {
				d.unique = append(d.unique, UniqueAttribute{Schema: ext.ID, Attribute: a.Name, CaseExact: a.CaseExact})
			}
		}
	}
}

// Registry holds every registered schema and resource type. Lookups are
// case-insensitive; listings keep registration order.
type Registry struct {
	schemas     map[string]*Schema
	schemaOrder []string

	types     map[string]*TypeDescriptor
	typeOrder []string
	endpoints map[string]*TypeDescriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas:   make(map[string]*Schema),
		types:     make(map[string]*TypeDescriptor),
		endpoints: make(map[string]*TypeDescriptor),
	}
}

// AddSchema validates and registers a schema definition.
func (r *Registry) AddSchema(s *Schema) error {
	if err := s.normalize(); err != nil {
		return err
	}
	key := strings.ToLower(s.ID)
	if _, exists := r.schemas[key]; exists {
		return fmt.Errorf("schema %s already registered", s.ID)
	}
	r.schemas[key] = s
	r.schemaOrder = append(r.schemaOrder, key)
	return nil
}

// AddResourceType validates and registers a resource type. The base schema
// and every extension schema must already be registered.
func (r *Registry) AddResourceType(rt *ResourceType) error {
	if err := rt.normalize(); err != nil {
		return err
	}
	core, ok := r.schemas[strings.ToLower(rt.Schema)]
	if !ok {
		return fmt.Errorf("resource type %s: unknown schema %s", rt.Name, rt.Schema)
	}
	d := &TypeDescriptor{ResourceType: rt, Core: core}
	for _, ext := range rt.SchemaExtensions {
		s, ok := r.schemas[strings.ToLower(ext.Schema)]
		if !ok {
			return fmt.Errorf("resource type %s: unknown extension schema %s", rt.Name, ext.Schema)
		}
		d.Extensions = append(d.Extensions, s)
	}

	nameKey := strings.ToLower(rt.Name)
	if _, exists := r.types[nameKey]; exists {
		return fmt.Errorf("resource type %s already registered", rt.Name)
	}
	epKey := strings.ToLower(strings.Trim(rt.Endpoint, "/"))
	if _, exists := r.endpoints[epKey]; exists {
		return fmt.Errorf("resource type %s: endpoint %s already registered", rt.Name, rt.Endpoint)
	}

	d.collectUnique()
	r.types[nameKey] = d
	r.typeOrder = append(r.typeOrder, nameKey)
	r.endpoints[epKey] = d
	return nil
}

// Descriptor returns the descriptor for a resource type name, or nil.
func (r *Registry) Descriptor(name string) *TypeDescriptor {
	return r.types[strings.ToLower(name)]
}

// DescriptorByEndpoint returns the descriptor whose endpoint matches the
// path segment (with or without slashes), or nil.
func (r *Registry) DescriptorByEndpoint(segment string) *TypeDescriptor {
	return r.endpoints[strings.ToLower(strings.Trim(segment, "/"))]
}

// Schema returns the registered schema with the given URN, or nil.
func (r *Registry) Schema(urn string) *Schema {
	return r.schemas[strings.ToLower(urn)]
}

// Schemas lists registered schemas in registration order.
func (r *Registry) Schemas() []*Schema {
	out := make([]*Schema, 0, len(r.schemaOrder))
	for _, key := range r.schemaOrder {
		out = append(out, r.schemas[key])
	}
	return out
}

// ResourceTypes lists registered type descriptors in registration order.
func (r *Registry) ResourceTypes() []*TypeDescriptor {
	out := make([]*TypeDescriptor, 0, len(r.typeOrder))
	for _, key := range r.typeOrder {
		out = append(out, r.types[key])
	}
	return out
}

// LoadSchemas parses a JSON document (object or array) and registers each
// schema in it.
func (r *Registry) LoadSchemas(data []byte) error {
	parsed, err := ParseSchemas(data)
	if err != nil {
		return err
	}
	for _, s := range parsed {
		if err := r.AddSchema(s); err != nil {
			return err
		}
	}
	return nil
}

// LoadResourceTypes parses a JSON document (object or array) and registers
// each resource type in it.
func (r *Registry) LoadResourceTypes(data []byte) error {
	parsed, err := ParseResourceTypes(data)
	if err != nil {
		return err
	}
	for _, rt := range parsed {
		if err := r.AddResourceType(rt); err != nil {
			return err
		}
	}
	return nil
}

// commonAttributes are the attributes every resource carries regardless of
// schema (RFC 7643 section 3.1).
var commonAttributes = []Attribute{
	{
		Name:        "id",
		Type:        TypeString,
		Description: "Unique identifier assigned by the service provider.",
		CaseExact:   true,
		Mutability:  MutabilityReadOnly,
		Returned:    ReturnedAlways,
		Uniqueness:  UniquenessServer,
	},
	{
		Name:        "externalId",
		Type:        TypeString,
		Description: "Identifier assigned by the provisioning client.",
		CaseExact:   true,
		Mutability:  MutabilityReadWrite,
		Returned:    ReturnedDefault,
		Uniqueness:  UniquenessNone,
	},
	{
		Name:        "schemas",
		Type:        TypeString,
		MultiValued: true,
		Description: "URNs of the schemas the resource conforms to.",
		Required:    true,
		CaseExact:   true,
		Mutability:  MutabilityReadWrite,
		Returned:    ReturnedAlways,
	},
	{
		Name:        "meta",
		Type:        TypeComplex,
		Description: "Resource metadata maintained by the service provider.",
		Mutability:  MutabilityReadOnly,
		Returned:    ReturnedDefault,
		SubAttributes: []Attribute{
			{Name: "resourceType", Type: TypeString, CaseExact: true, Mutability: MutabilityReadOnly, Returned: ReturnedDefault},
			{Name: "created", Type: TypeDateTime, Mutability: MutabilityReadOnly, Returned: ReturnedDefault},
			{Name: "lastModified", Type: TypeDateTime, Mutability: MutabilityReadOnly, Returned: ReturnedDefault},
			{Name: "location", Type: TypeReference, ReferenceTypes: []string{"uri"}, Mutability: MutabilityReadOnly, Returned: ReturnedDefault},
			{Name: "version", Type: TypeString, CaseExact: true, Mutability: MutabilityReadOnly, Returned: ReturnedDefault},
		},
	},
}

func init() {
	for i := range commonAttributes {
		if err := commonAttributes[i].normalize(false); err != nil {
			panic(err)
		}
	}
}
