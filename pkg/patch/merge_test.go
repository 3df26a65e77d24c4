// ABOUTME: Tests for full-replace merging
// ABOUTME: Covers mutability handling and extension container merges

package patch

import (
	"testing"

	"github.com/nainya/scimstore/pkg/resource"
	"github.com/nainya/scimstore/pkg/schema"
	"github.com/nainya/scimstore/pkg/scimerr"
)

func deviceDescriptor(t *testing.T) *schema.TypeDescriptor {
	t.Helper()
	reg := schema.NewRegistry()
	err := reg.AddSchema(&schema.Schema{
		ID:   "urn:example:params:scim:schemas:test:1.0:Device",
		Name: "Device",
		Attributes: []schema.Attribute{
			{Name: "serial", Type: schema.TypeString, Mutability: schema.MutabilityImmutable},
			{Name: "displayName", Type: schema.TypeString},
			{Name: "owner", Type: schema.TypeString, Mutability: schema.MutabilityReadOnly},
		},
	})
	if err != nil {
		t.Fatalf("AddSchema: %v", err)
	}
	err = reg.AddResourceType(&schema.ResourceType{
		Name:   "Device",
		Schema: "urn:example:params:scim:schemas:test:1.0:Device",
	})
	if err != nil {
		t.Fatalf("AddResourceType: %v", err)
	}
	return reg.Descriptor("Device")
}

func parseRes(t *testing.T, body string) *resource.Resource {
	t.Helper()
	res, err := resource.Unmarshal([]byte(body))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return res
}

func TestMergeOverwritesWritable(t *testing.T) {
	d := deviceDescriptor(t)
	stored := parseRes(t, `{"serial": "A1", "displayName": "Printer", "owner": "alice"}`)
	payload := parseRes(t, `{"displayName": "Scanner"}`)

	if err := Merge(d, stored, payload); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got := stored.Get("displayName"); got.Str != "Scanner" {
		t.Errorf("displayName = %q, want Scanner", got.Str)
	}
	// Attributes absent from the payload keep their stored value.
	if got := stored.Get("serial"); got.Str != "A1" {
		t.Errorf("serial = %q, want A1", got.Str)
	}
}

func TestMergeKeepsReadOnly(t *testing.T) {
	d := deviceDescriptor(t)
	stored := parseRes(t, `{"serial": "A1", "owner": "alice"}`)
	payload := parseRes(t, `{"owner": "mallory"}`)

	if err := Merge(d, stored, payload); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got := stored.Get("owner"); got.Str != "alice" {
		t.Errorf("owner = %q, want alice", got.Str)
	}
}

func TestMergeImmutable(t *testing.T) {
	d := deviceDescriptor(t)

	stored := parseRes(t, `{"serial": "A1"}`)
	err := Merge(d, stored, parseRes(t, `{"serial": "B2"}`))
	if !scimerr.IsKind(err, scimerr.KindMutability) {
		t.Errorf("changing an immutable attribute: kind = %v, want mutability", scimerr.KindOf(err))
	}

	// Same value and first set both pass.
	if err := Merge(d, stored, parseRes(t, `{"serial": "A1"}`)); err != nil {
		t.Errorf("Merge with unchanged immutable value: %v", err)
	}
	fresh := parseRes(t, `{"displayName": "Printer"}`)
	if err := Merge(d, fresh, parseRes(t, `{"serial": "C3"}`)); err != nil {
		t.Errorf("Merge with first immutable value: %v", err)
	}
	if got := fresh.Get("serial"); got.Str != "C3" {
		t.Errorf("serial = %q, want C3", got.Str)
	}
}

func TestMergeUserMeta(t *testing.T) {
	d, stored := setupUser(t)
	stored.SetMetaField(resource.MetaResourceType, resource.NewStringValue("User"))

	payload := parseRes(t, `{"userName": "alice2", "meta": {"resourceType": "Hacked"}}`)
	if err := Merge(d, stored, payload); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got := stored.Get("userName"); got.Str != "alice2" {
		t.Errorf("userName = %q, want alice2", got.Str)
	}
	if got := stored.Meta().Field("resourceType"); got.Str != "User" {
		t.Errorf("meta.resourceType = %q, want User", got.Str)
	}
}

func TestMergeExtensionContainer(t *testing.T) {
	d, stored := setupMinimalUser(t)
	payload := parseRes(t, `{
		"urn:ietf:params:scim:schemas:extension:enterprise:2.0:User": {
			"employeeNumber": "1",
			"department": "Eng"
		}
	}`)
	if err := Merge(d, stored, payload); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got := stored.Get(enterpriseURN).Field("department"); got.Str != "Eng" {
		t.Errorf("department = %q, want Eng", got.Str)
	}
	if !stored.HasSchema(enterpriseURN) {
		t.Errorf("schemas list missing extension URN")
	}

	// A second merge touches only the keys the payload names.
	update := parseRes(t, `{
		"urn:ietf:params:scim:schemas:extension:enterprise:2.0:User": {
			"department": "Sales"
		}
	}`)
	if err := Merge(d, stored, update); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	ext := stored.Get(enterpriseURN)
	if got := ext.Field("department"); got.Str != "Sales" {
		t.Errorf("department = %q, want Sales", got.Str)
	}
	if got := ext.Field("employeeNumber"); got.Str != "1" {
		t.Errorf("employeeNumber = %q, want 1", got.Str)
	}
}
