// ABOUTME: Embedded default schema and resource type definitions
// ABOUTME: Ships the RFC 7643 User, Group and Enterprise User documents

package schema

import (
	_ "embed"
	"fmt"
)

//go:embed defaults/schemas.json
var defaultSchemasJSON []byte

//go:embed defaults/resource-types.json
var defaultResourceTypesJSON []byte

// URNs of the embedded definitions
const (
	UserURN           = "urn:ietf:params:scim:schemas:core:2.0:User"
	GroupURN          = "urn:ietf:params:scim:schemas:core:2.0:Group"
	EnterpriseUserURN = "urn:ietf:params:scim:schemas:extension:enterprise:2.0:User"
)

// DefaultRegistry builds a registry preloaded with the standard User and
// Group resource types and their schemas.
func DefaultRegistry() (*Registry, error) {
	r := NewRegistry()
	if err := r.LoadSchemas(defaultSchemasJSON); err != nil {
		return nil, fmt.Errorf("loading embedded schemas: %w", err)
	}
	if err := r.LoadResourceTypes(defaultResourceTypesJSON); err != nil {
		return nil, fmt.Errorf("loading embedded resource types: %w", err)
	}
	return r, nil
}
