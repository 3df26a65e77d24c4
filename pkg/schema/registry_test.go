// ABOUTME: Tests for the schema registry and type descriptors
// ABOUTME: Covers lookup, URN stripping, uniqueness collection and validation

package schema

import (
	"strings"
	"testing"
)

func TestDefaultRegistry(t *testing.T) {
	r, err := DefaultRegistry()
	if err != nil {
		t.Fatalf("DefaultRegistry: %v", err)
	}
	if got := len(r.Schemas()); got != 3 {
		t.Errorf("schema count = %d, want 3", got)
	}
	if got := len(r.ResourceTypes()); got != 2 {
		t.Errorf("resource type count = %d, want 2", got)
	}

	d := r.Descriptor("user")
	if d == nil {
		t.Fatal("descriptor for \"user\" missing")
	}
	if d.Name() != "User" {
		t.Errorf("Name = %q", d.Name())
	}
	if d.Endpoint() != "/Users" {
		t.Errorf("Endpoint = %q", d.Endpoint())
	}
	if got := r.DescriptorByEndpoint("Users"); got != d {
		t.Error("endpoint lookup should find the same descriptor")
	}
	if len(d.Extensions) != 1 || d.Extensions[0].ID != EnterpriseUserURN {
		t.Errorf("extensions = %+v", d.Extensions)
	}
}

func TestFindAttribute(t *testing.T) {
	r, err := DefaultRegistry()
	if err != nil {
		t.Fatalf("DefaultRegistry: %v", err)
	}
	d := r.Descriptor("User")

	a := d.FindAttribute("USERNAME")
	if a == nil || a.Name != "userName" {
		t.Fatalf("userName lookup = %+v", a)
	}
	if a.Uniqueness != UniquenessServer {
		t.Errorf("userName uniqueness = %q", a.Uniqueness)
	}

	if d.FindAttribute("id").Mutability != MutabilityReadOnly {
		t.Error("common id attribute should be readOnly")
	}

	// Extension attributes need their URN.
	if d.FindAttribute("employeeNumber") != nil {
		t.Error("unqualified extension attribute should not resolve")
	}
	if d.FindQualified(EnterpriseUserURN, "employeeNumber") == nil {
		t.Error("qualified extension attribute should resolve")
	}

	pw := d.FindAttribute("password")
	if pw == nil || !pw.Sensitive() {
		t.Errorf("password should be sensitive: %+v", pw)
	}
}

func TestStripURN(t *testing.T) {
	r, err := DefaultRegistry()
	if err != nil {
		t.Fatalf("DefaultRegistry: %v", err)
	}
	d := r.Descriptor("User")

	urn, rest, ok := d.StripURN(EnterpriseUserURN + ":manager.displayName")
	if !ok || urn != EnterpriseUserURN || rest != "manager.displayName" {
		t.Errorf("StripURN = %q, %q, %v", urn, rest, ok)
	}

	urn, rest, ok = d.StripURN(strings.ToUpper(UserURN) + ":userName")
	if !ok || urn != UserURN || rest != "userName" {
		t.Errorf("case-insensitive StripURN = %q, %q, %v", urn, rest, ok)
	}

	urn, rest, ok = d.StripURN(EnterpriseUserURN)
	if !ok || rest != "" {
		t.Errorf("bare URN StripURN = %q, %q, %v", urn, rest, ok)
	}

	if _, _, ok = d.StripURN("userName"); ok {
		t.Error("plain attribute should not strip")
	}
	if _, _, ok = d.StripURN("urn:unknown:schema:attr"); ok {
		t.Error("unknown URN should not strip")
	}
}

func TestUniqueAttributes(t *testing.T) {
	r, err := DefaultRegistry()
	if err != nil {
		t.Fatalf("DefaultRegistry: %v", err)
	}
	uniq := r.Descriptor("User").UniqueAttributes()
	if len(uniq) != 1 {
		t.Fatalf("unique attributes = %+v", uniq)
	}
	if uniq[0].Schema != "" || uniq[0].Attribute != "userName" || uniq[0].CaseExact {
		t.Errorf("userName constraint = %+v", uniq[0])
	}
}

func TestAddResourceTypeUnknownSchema(t *testing.T) {
	r := NewRegistry()
	err := r.AddResourceType(&ResourceType{
		Name:     "Device",
		Endpoint: "/Devices",
		Schema:   "urn:example:params:scim:schemas:Device",
	})
	if err == nil {
		t.Fatal("expected error for unknown schema URN")
	}

	if err := r.AddSchema(&Schema{ID: "urn:example:params:scim:schemas:Device", Name: "Device"}); err != nil {
		t.Fatalf("AddSchema: %v", err)
	}
	err = r.AddResourceType(&ResourceType{
		Name:     "Device",
		Endpoint: "/Devices",
		Schema:   "urn:example:params:scim:schemas:Device",
		SchemaExtensions: []SchemaExtension{
			{Schema: "urn:example:params:scim:schemas:Missing"},
		},
	})
	if err == nil {
		t.Fatal("expected error for unknown extension schema URN")
	}
}

func TestAddSchemaValidation(t *testing.T) {
	r := NewRegistry()
	err := r.AddSchema(&Schema{
		ID: "urn:example:bad",
		Attributes: []Attribute{
			{Name: "thing", Type: "tuple"},
		},
	})
	if err == nil {
		t.Fatal("expected error for unknown attribute type")
	}

	err = r.AddSchema(&Schema{
		ID: "urn:example:ok",
		Attributes: []Attribute{
			{Name: "thing"},
		},
	})
	if err != nil {
		t.Fatalf("AddSchema: %v", err)
	}
	a := r.Schema("urn:example:ok").Attribute("thing")
	if a.Type != TypeString || a.Mutability != MutabilityReadWrite || a.Returned != ReturnedDefault {
		t.Errorf("defaults not applied: %+v", a)
	}

	if err := r.AddSchema(&Schema{ID: "URN:EXAMPLE:OK"}); err == nil {
		t.Error("duplicate URN should be rejected case-insensitively")
	}
}

func TestParseOneOrMany(t *testing.T) {
	single, err := ParseSchemas([]byte(`{"id":"urn:example:one","name":"One","attributes":[]}`))
	if err != nil || len(single) != 1 {
		t.Fatalf("single = %+v, %v", single, err)
	}
	many, err := ParseSchemas([]byte(`[{"id":"urn:example:a"},{"id":"urn:example:b"}]`))
	if err != nil || len(many) != 2 {
		t.Fatalf("many = %+v, %v", many, err)
	}
}
