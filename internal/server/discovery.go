// Discovery endpoints: ServiceProviderConfig, Schemas and ResourceTypes.

package server

import (
	"net/http"
	"strings"

	"github.com/nainya/scimstore/pkg/resource"
	"github.com/nainya/scimstore/pkg/schema"
)

const (
	serviceProviderConfigURN = "urn:ietf:params:scim:schemas:core:2.0:ServiceProviderConfig"
	schemaURN                = "urn:ietf:params:scim:schemas:core:2.0:Schema"
	resourceTypeURN          = "urn:ietf:params:scim:schemas:core:2.0:ResourceType"
)

// forbidFilter rejects a filter parameter on configuration endpoints,
// which RFC 7644 section 4 requires to fail with 403.
func (s *Server) forbidFilter(w http.ResponseWriter, r *http.Request) bool {
	if r.URL.Query().Has("filter") {
		s.httpError(w, r, http.StatusForbidden, "filtering is not available on configuration endpoints")
		return true
	}
	return false
}

func (s *Server) handleServiceProviderConfig(w http.ResponseWriter, r *http.Request) {
	if s.forbidFilter(w, r) {
		return
	}
	schemes := []any{}
	if len(s.tokens) > 0 {
		schemes = append(schemes, map[string]any{
			"type":             "oauthbearertoken",
			"name":             "OAuth Bearer Token",
			"description":      "Authentication scheme using the OAuth Bearer Token Standard",
			"specUri":          "http://www.rfc-editor.org/info/rfc6750",
			"documentationUri": "https://www.example.com/",
			"primary":          true,
		})
	}
	payload := resource.FromAny(map[string]any{
		"schemas":          []any{serviceProviderConfigURN},
		"documentationUri": "https://www.example.com/",
		"patch":            map[string]any{"supported": true},
		"bulk": map[string]any{
			"supported":      false,
			"maxOperations":  0,
			"maxPayloadSize": 0,
		},
		"filter": map[string]any{
			"supported":  true,
			"maxResults": 1000,
		},
		"changePassword":        map[string]any{"supported": true},
		"sort":                  map[string]any{"supported": true},
		"etag":                  map[string]any{"supported": true},
		"authenticationSchemes": schemes,
		"meta": map[string]any{
			"resourceType": "ServiceProviderConfig",
			"location":     requestURL(r),
		},
	})
	s.writeResource(w, r, http.StatusOK, payload)
}

func (s *Server) handleSchemas(w http.ResponseWriter, r *http.Request) {
	if s.forbidFilter(w, r) {
		return
	}
	schemas := s.reg.Schemas()
	resources := make([]resource.Value, 0, len(schemas))
	for _, sch := range schemas {
		loc := origin(r) + s.basePath + "/Schemas/" + sch.ID
		resources = append(resources, schemaValue(sch, loc))
	}
	s.writeList(w, r, listEnvelope{
		totalResults: len(resources),
		startIndex:   1,
		itemsPerPage: len(resources),
		resources:    resources,
	})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	if s.forbidFilter(w, r) {
		return
	}
	sch := s.reg.Schema(r.PathValue("id"))
	if sch == nil {
		s.httpError(w, r, http.StatusNotFound, "unknown schema")
		return
	}
	s.writeResource(w, r, http.StatusOK, schemaValue(sch, requestURL(r)))
}

func (s *Server) handleResourceTypes(w http.ResponseWriter, r *http.Request) {
	if s.forbidFilter(w, r) {
		return
	}
	types := s.reg.ResourceTypes()
	resources := make([]resource.Value, 0, len(types))
	for _, d := range types {
		loc := origin(r) + s.basePath + "/ResourceTypes/" + d.ResourceType.ID
		resources = append(resources, typeValue(d, loc))
	}
	s.writeList(w, r, listEnvelope{
		totalResults: len(resources),
		startIndex:   1,
		itemsPerPage: len(resources),
		resources:    resources,
	})
}

func (s *Server) handleResourceType(w http.ResponseWriter, r *http.Request) {
	if s.forbidFilter(w, r) {
		return
	}
	d := s.resourceTypeByID(r.PathValue("name"))
	if d == nil {
		s.httpError(w, r, http.StatusNotFound, "unknown resource type")
		return
	}
	s.writeResource(w, r, http.StatusOK, typeValue(d, requestURL(r)))
}

func (s *Server) resourceTypeByID(id string) *schema.TypeDescriptor {
	for _, d := range s.reg.ResourceTypes() {
		if strings.EqualFold(d.ResourceType.ID, id) || strings.EqualFold(d.ResourceType.Name, id) {
			return d
		}
	}
	return nil
}

func schemaValue(sch *schema.Schema, location string) resource.Value {
	attrs := make([]any, len(sch.Attributes))
	for i := range sch.Attributes {
		attrs[i] = attributeMap(&sch.Attributes[i])
	}
	m := map[string]any{
		"schemas":    []any{schemaURN},
		"id":         sch.ID,
		"name":       sch.Name,
		"attributes": attrs,
		"meta": map[string]any{
			"resourceType": "Schema",
			"location":     location,
		},
	}
	if sch.Description != "" {
		m["description"] = sch.Description
	}
	return resource.FromAny(m)
}

// attributeMap renders an attribute descriptor in its RFC 7643 wire form.
func attributeMap(a *schema.Attribute) map[string]any {
	m := map[string]any{
		"name":        a.Name,
		"type":        a.Type,
		"multiValued": a.MultiValued,
		"required":    a.Required,
		"caseExact":   a.CaseExact,
		"mutability":  a.Mutability,
		"returned":    a.Returned,
	}
	if a.Description != "" {
		m["description"] = a.Description
	}
	if a.Uniqueness != "" {
		m["uniqueness"] = a.Uniqueness
	}
	if len(a.CanonicalValues) > 0 {
		m["canonicalValues"] = stringList(a.CanonicalValues)
	}
	if len(a.ReferenceTypes) > 0 {
		m["referenceTypes"] = stringList(a.ReferenceTypes)
	}
	if len(a.SubAttributes) > 0 {
		subs := make([]any, len(a.SubAttributes))
		for i := range a.SubAttributes {
			subs[i] = attributeMap(&a.SubAttributes[i])
		}
		m["subAttributes"] = subs
	}
	return m
}

func typeValue(d *schema.TypeDescriptor, location string) resource.Value {
	rt := d.ResourceType
	m := map[string]any{
		"schemas":  []any{resourceTypeURN},
		"id":       rt.ID,
		"name":     rt.Name,
		"endpoint": d.Endpoint(),
		"schema":   rt.Schema,
		"meta": map[string]any{
			"resourceType": "ResourceType",
			"location":     location,
		},
	}
	if rt.Description != "" {
		m["description"] = rt.Description
	}
	if len(rt.SchemaExtensions) > 0 {
		exts := make([]any, len(rt.SchemaExtensions))
		for i, e := range rt.SchemaExtensions {
			exts[i] = map[string]any{"schema": e.Schema, "required": e.Required}
		}
		m["schemaExtensions"] = exts
	}
	return resource.FromAny(m)
}

func stringList(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
