// ABOUTME: Tests for the JSON codec
// ABOUTME: Checks null dropping, number precision and deterministic output

package resource

import (
	"bytes"
	"strings"
	"testing"

	"github.com/nainya/scimstore/pkg/scimerr"
)

func TestDecodeDropsNulls(t *testing.T) {
	body := `{"userName":"alice","nickName":null,"name":{"familyName":null,"givenName":"Alice"}}`
	res, err := Unmarshal([]byte(body))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := res.Attrs["nickName"]; ok {
		t.Error("null member should be dropped")
	}
	name := res.Get("name")
	if name.Type != TYPE_OBJECT {
		t.Fatalf("name = %#v", name)
	}
	if _, ok := name.Obj["familyName"]; ok {
		t.Error("nested null member should be dropped")
	}
	if name.Obj["givenName"].Str != "Alice" {
		t.Errorf("givenName = %#v", name.Obj["givenName"])
	}
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Unmarshal([]byte(`{"userName":`))
	if err == nil {
		t.Fatal("expected error for truncated JSON")
	}
	if !scimerr.IsKind(err, scimerr.KindInvalidSyntax) {
		t.Errorf("error kind = %v, want invalid syntax", scimerr.KindOf(err))
	}
}

func TestMarshalDeterministic(t *testing.T) {
	res := New()
	res.Set("userName", NewStringValue("alice"))
	res.SetID("2819c223")
	res.SetSchemas([]string{"urn:ietf:params:scim:schemas:core:2.0:User"})
	res.Set("active", NewBoolValue(true))
	res.SetMetaField(MetaResourceType, NewStringValue("User"))

	first, err := res.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := res.MarshalJSON()
		if err != nil {
			t.Fatalf("MarshalJSON: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("output changed between calls:\n%s\n%s", first, again)
		}
	}

	s := string(first)
	schemasAt := strings.Index(s, `"schemas"`)
	idAt := strings.Index(s, `"id"`)
	metaAt := strings.Index(s, `"meta"`)
	if schemasAt == -1 || idAt == -1 || metaAt == -1 {
		t.Fatalf("missing members in %s", s)
	}
	if !(schemasAt < idAt && idAt < metaAt) {
		t.Errorf("member order wrong: %s", s)
	}
	if metaAt < strings.Index(s, `"userName"`) {
		t.Errorf("meta should render last: %s", s)
	}
}

func TestMarshalNumbers(t *testing.T) {
	v := NewObjectValue(map[string]Value{
		"count": NewNumberValue(5),
		"score": NewNumberValue(2.5),
	})
	b, err := v.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, `"count":5`) {
		t.Errorf("whole number should render without fraction: %s", s)
	}
	if !strings.Contains(s, `"score":2.5`) {
		t.Errorf("fractional number lost: %s", s)
	}
}

func TestDecodeNumberPrecision(t *testing.T) {
	res, err := Unmarshal([]byte(`{"employeeNumber":701984}`))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got := res.Get("employeeNumber"); got.Type != TYPE_NUMBER || got.Num != 701984 {
		t.Errorf("employeeNumber = %#v", got)
	}
}

func TestRoundTrip(t *testing.T) {
	body := `{"schemas":["urn:ietf:params:scim:schemas:core:2.0:User"],"userName":"alice","emails":[{"value":"a@example.com","primary":true}]}`
	res, err := Unmarshal([]byte(body))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	out, err := res.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	back, err := Unmarshal(out)
	if err != nil {
		t.Fatalf("Unmarshal round trip: %v", err)
	}
	if !res.ToValue().Equal(back.ToValue()) {
		t.Errorf("round trip changed the tree:\n%s\n%s", body, out)
	}
}

func TestFromAnyVariants(t *testing.T) {
	if v := FromAny(nil); !v.IsUnset() {
		t.Errorf("nil = %#v", v)
	}
	if v := FromAny([]any{"a", nil, "b"}); len(v.List) != 2 {
		t.Errorf("null list elements should be dropped: %#v", v)
	}
	if v := FromAny(map[string]any{"x": 1}); v.Obj["x"].Num != 1 {
		t.Errorf("int member = %#v", v)
	}
}
