// ABOUTME: Schema and ResourceType documents from RFC 7643 sections 6 and 7
// ABOUTME: Parses the JSON representation used by the discovery endpoints

package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Schema is one schema definition: a URN id and its attribute descriptors.
type Schema struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Attributes  []Attribute `json:"attributes"`
}

// Attribute returns the top-level attribute with the given name, matched
// case-insensitively, or nil.
func (s *Schema) Attribute(name string) *Attribute {
	if s == nil {
		return nil
	}
	for i := range s.Attributes {
		if strings.EqualFold(s.Attributes[i].Name, name) {
			return &s.Attributes[i]
		}
	}
	return nil
}

func (s *Schema) normalize() error {
	if s.ID == "" {
		return fmt.Errorf("schema with empty id")
	}
	if s.Name == "" {
		s.Name = s.ID
	}
	for i := range s.Attributes {
		if err := s.Attributes[i].normalize(false); err != nil {
			return fmt.Errorf("schema %s: %w", s.ID, err)
		}
	}
	return nil
}

// SchemaExtension names one extension schema of a resource type.
type SchemaExtension struct {
	Schema   string `json:"schema"`
	Required bool   `json:"required"`
}

// ResourceType binds an endpoint to a base schema and its extensions.
type ResourceType struct {
	ID               string            `json:"id,omitempty"`
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	Endpoint         string            `json:"endpoint"`
	Schema           string            `json:"schema"`
	SchemaExtensions []SchemaExtension `json:"schemaExtensions,omitempty"`
}

func (rt *ResourceType) normalize() error {
	if rt.Name == "" {
		return fmt.Errorf("resource type with empty name")
	}
	if rt.ID == "" {
		rt.ID = rt.Name
	}
	if rt.Schema == "" {
		return fmt.Errorf("resource type %s: empty schema", rt.Name)
	}
	if rt.Endpoint == "" {
		rt.Endpoint = "/" + rt.Name
	}
	if !strings.HasPrefix(rt.Endpoint, "/") {
		rt.Endpoint = "/" + rt.Endpoint
	}
	return nil
}

// ParseSchemas decodes one schema document or an array of them.
func ParseSchemas(data []byte) ([]*Schema, error) {
	var out []*Schema
	if err := parseOneOrMany(data, &out); err != nil {
		return nil, fmt.Errorf("parsing schemas: %w", err)
	}
	return out, nil
}

// ParseResourceTypes decodes one resource type document or an array of them.
func ParseResourceTypes(data []byte) ([]*ResourceType, error) {
	var out []*ResourceType
	if err := parseOneOrMany(data, &out); err != nil {
		return nil, fmt.Errorf("parsing resource types: %w", err)
	}
	return out, nil
}

// parseOneOrMany fills the slice pointed to by out from data holding either
// a JSON array or a single object.
func parseOneOrMany[T any](data []byte, out *[]*T) error {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(data, out)
	}
	var one T
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*out = append(*out, &one)
	return nil
}
