// Integration tests for the SCIM HTTP server
package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/nainya/scimstore/internal/logger"
	"github.com/nainya/scimstore/pkg/schema"
	"github.com/nainya/scimstore/pkg/store"
)

func setupTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	reg, err := schema.DefaultRegistry()
	if err != nil {
		t.Fatalf("Failed to build default registry: %v", err)
	}
	st := store.New(reg)
	quiet := logger.NewLogger(logger.Config{Level: "error", Output: io.Discard})
	srv := NewServer(st, cfg, quiet, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doRequest(t *testing.T, ts *httptest.Server, method, path string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	if rd != nil {
		req.Header.Set("Content-Type", "application/scim+json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("Failed to decode response body: %v", err)
	}
	return m
}

func createUser(t *testing.T, ts *httptest.Server, userName string) map[string]any {
	t.Helper()
	resp := doRequest(t, ts, http.MethodPost, "/v2/Users", map[string]any{
		"schemas":  []string{schema.UserURN},
		"userName": userName,
		"active":   true,
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Create %s: status %d", userName, resp.StatusCode)
	}
	return decodeBody(t, resp)
}

func stringField(t *testing.T, m map[string]any, key string) string {
	t.Helper()
	v, ok := m[key].(string)
	if !ok {
		t.Fatalf("Missing string field %q in %v", key, m)
	}
	return v
}

func metaField(t *testing.T, m map[string]any, key string) string {
	t.Helper()
	meta, ok := m["meta"].(map[string]any)
	if !ok {
		t.Fatalf("Response has no meta object: %v", m)
	}
	return stringField(t, meta, key)
}

func TestCreateAndGetUser(t *testing.T) {
	ts := setupTestServer(t, Config{BasePath: "/v2"})

	resp := doRequest(t, ts, http.MethodPost, "/v2/Users", map[string]any{
		"schemas":  []string{schema.UserURN},
		"userName": "alice",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Create: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/scim+json" {
		t.Errorf("Content-Type = %q", ct)
	}
	etag := resp.Header.Get("ETag")
	if !strings.HasPrefix(etag, `W/"`) {
		t.Errorf("ETag = %q, want weak validator", etag)
	}
	location := resp.Header.Get("Location")
	if !strings.Contains(location, "/v2/Users/") {
		t.Errorf("Location = %q, want a /v2/Users path", location)
	}

	body := decodeBody(t, resp)
	id := stringField(t, body, "id")
	if len(id) != 32 {
		t.Errorf("id = %q, want 32 hex characters", id)
	}
	if got := stringField(t, body, "userName"); got != "alice" {
		t.Errorf("userName = %q", got)
	}
	if got := metaField(t, body, "resourceType"); got != "User" {
		t.Errorf("meta.resourceType = %q", got)
	}
	if loc := metaField(t, body, "location"); !strings.HasPrefix(loc, "http://") {
		t.Errorf("meta.location = %q, want absolute URL", loc)
	}
	if v := metaField(t, body, "version"); v != etag {
		t.Errorf("meta.version = %q, ETag header = %q", v, etag)
	}

	get := doRequest(t, ts, http.MethodGet, "/v2/Users/"+id, nil, nil)
	if get.StatusCode != http.StatusOK {
		t.Fatalf("Get: status %d", get.StatusCode)
	}
	fetched := decodeBody(t, get)
	if got := stringField(t, fetched, "id"); got != id {
		t.Errorf("Get id = %q, want %q", got, id)
	}
}

func TestCreateDuplicateUserName(t *testing.T) {
	ts := setupTestServer(t, Config{BasePath: "/v2"})
	createUser(t, ts, "alice")

	resp := doRequest(t, ts, http.MethodPost, "/v2/Users", map[string]any{
		"schemas":  []string{schema.UserURN},
		"userName": "ALICE",
	}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("Duplicate create: status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if got := stringField(t, body, "scimType"); got != "uniqueness" {
		t.Errorf("scimType = %q", got)
	}
	if got := stringField(t, body, "status"); got != "409" {
		t.Errorf("status = %q", got)
	}
}

func TestGetMissingUser(t *testing.T) {
	ts := setupTestServer(t, Config{BasePath: "/v2"})

	resp := doRequest(t, ts, http.MethodGet, "/v2/Users/doesnotexist", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	schemas, ok := body["schemas"].([]any)
	if !ok || len(schemas) != 1 || schemas[0] != errorURN {
		t.Errorf("error schemas = %v", body["schemas"])
	}
	if got := stringField(t, body, "status"); got != "404" {
		t.Errorf("status = %q", got)
	}
	if stringField(t, body, "detail") == "" {
		t.Errorf("detail is empty")
	}
}

func TestRoutesWithoutBasePath(t *testing.T) {
	ts := setupTestServer(t, Config{BasePath: "/v2"})

	resp := doRequest(t, ts, http.MethodPost, "/Users", map[string]any{
		"schemas":  []string{schema.UserURN},
		"userName": "bob",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Create at bare prefix: status %d", resp.StatusCode)
	}
	id := stringField(t, decodeBody(t, resp), "id")

	get := doRequest(t, ts, http.MethodGet, "/Users/"+id, nil, nil)
	if get.StatusCode != http.StatusOK {
		t.Errorf("Get at bare prefix: status %d", get.StatusCode)
	}
	get.Body.Close()
}

func TestScimPathSuffix(t *testing.T) {
	ts := setupTestServer(t, Config{BasePath: "/v2"})
	user := createUser(t, ts, "alice")
	id := stringField(t, user, "id")

	resp := doRequest(t, ts, http.MethodGet, "/v2/Users/"+id+".scim", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if got := stringField(t, body, "id"); got != id {
		t.Errorf("id = %q, want %q", got, id)
	}
}

func TestListUsers(t *testing.T) {
	ts := setupTestServer(t, Config{BasePath: "/v2"})
	for _, name := range []string{"alice", "bob", "carol"} {
		createUser(t, ts, name)
	}

	resp := doRequest(t, ts, http.MethodGet, "/v2/Users", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	schemas, _ := body["schemas"].([]any)
	if len(schemas) != 1 || schemas[0] != listResponseURN {
		t.Errorf("schemas = %v", body["schemas"])
	}
	if got := body["totalResults"].(float64); got != 3 {
		t.Errorf("totalResults = %v", got)
	}
	if got := body["startIndex"].(float64); got != 1 {
		t.Errorf("startIndex = %v", got)
	}
	if got := body["itemsPerPage"].(float64); got != 50 {
		t.Errorf("itemsPerPage = %v", got)
	}
	resources, ok := body["Resources"].([]any)
	if !ok || len(resources) != 3 {
		t.Fatalf("Resources = %v", body["Resources"])
	}
}

func TestFilterQuery(t *testing.T) {
	ts := setupTestServer(t, Config{BasePath: "/v2"})
	createUser(t, ts, "alice")
	createUser(t, ts, "bob")

	q := url.Values{"filter": {`userName eq "ALICE"`}}
	resp := doRequest(t, ts, http.MethodGet, "/v2/Users?"+q.Encode(), nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if got := body["totalResults"].(float64); got != 1 {
		t.Errorf("totalResults = %v", got)
	}
	resources := body["Resources"].([]any)
	first := resources[0].(map[string]any)
	if got := stringField(t, first, "userName"); got != "alice" {
		t.Errorf("matched userName = %q", got)
	}

	bad := doRequest(t, ts, http.MethodGet, "/v2/Users?"+url.Values{"filter": {`userName eq`}}.Encode(), nil, nil)
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed filter: status %d", bad.StatusCode)
	}
	badBody := decodeBody(t, bad)
	if got := stringField(t, badBody, "scimType"); got != "invalidFilter" {
		t.Errorf("scimType = %q", got)
	}
}

func TestPaginationWindow(t *testing.T) {
	ts := setupTestServer(t, Config{BasePath: "/v2"})
	for _, name := range []string{"u1", "u2", "u3", "u4", "u5"} {
		createUser(t, ts, name)
	}

	resp := doRequest(t, ts, http.MethodGet, "/v2/Users?startIndex=2&count=2&sortBy=userName", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if got := body["totalResults"].(float64); got != 5 {
		t.Errorf("totalResults = %v", got)
	}
	if got := body["startIndex"].(float64); got != 2 {
		t.Errorf("startIndex = %v", got)
	}
	if got := body["itemsPerPage"].(float64); got != 2 {
		t.Errorf("itemsPerPage = %v", got)
	}
	resources := body["Resources"].([]any)
	if len(resources) != 2 {
		t.Fatalf("page length = %d", len(resources))
	}
	for i, want := range []string{"u2", "u3"} {
		got := stringField(t, resources[i].(map[string]any), "userName")
		if got != want {
			t.Errorf("page[%d] = %q, want %q", i, got, want)
		}
	}
}

func TestSortDescending(t *testing.T) {
	ts := setupTestServer(t, Config{BasePath: "/v2"})
	createUser(t, ts, "alice")
	createUser(t, ts, "bob")

	resp := doRequest(t, ts, http.MethodGet, "/v2/Users?sortBy=userName&sortOrder=descending", nil, nil)
	body := decodeBody(t, resp)
	resources := body["Resources"].([]any)
	first := stringField(t, resources[0].(map[string]any), "userName")
	if first != "bob" {
		t.Errorf("first = %q, want bob", first)
	}
}

func TestAttributeProjection(t *testing.T) {
	ts := setupTestServer(t, Config{BasePath: "/v2"})
	user := createUser(t, ts, "alice")
	id := stringField(t, user, "id")

	resp := doRequest(t, ts, http.MethodGet, "/v2/Users/"+id+"?attributes=userName", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if got := stringField(t, body, "userName"); got != "alice" {
		t.Errorf("userName = %q", got)
	}
	if got := stringField(t, body, "id"); got != id {
		t.Errorf("id = %q, always-returned attributes must survive", got)
	}
	if _, ok := body["meta"]; ok {
		t.Errorf("meta survived an attributes selection: %v", body["meta"])
	}
	if _, ok := body["active"]; ok {
		t.Errorf("active survived an attributes selection")
	}

	resp = doRequest(t, ts, http.MethodGet, "/v2/Users/"+id+"?excludedAttributes=userName", nil, nil)
	body = decodeBody(t, resp)
	if _, ok := body["userName"]; ok {
		t.Errorf("userName survived its own exclusion")
	}
	if _, ok := body["meta"]; !ok {
		t.Errorf("meta missing from excludedAttributes response")
	}

	both := doRequest(t, ts, http.MethodGet, "/v2/Users/"+id+"?attributes=userName&excludedAttributes=active", nil, nil)
	if both.StatusCode != http.StatusBadRequest {
		t.Errorf("attributes plus excludedAttributes: status %d", both.StatusCode)
	}
	both.Body.Close()
}

func TestPasswordNeverReturned(t *testing.T) {
	ts := setupTestServer(t, Config{BasePath: "/v2"})

	resp := doRequest(t, ts, http.MethodPost, "/v2/Users", map[string]any{
		"schemas":  []string{schema.UserURN},
		"userName": "alice",
		"password": "hunter2",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Create: status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if _, ok := body["password"]; ok {
		t.Fatalf("password came back in the create response")
	}
	id := stringField(t, body, "id")

	get := doRequest(t, ts, http.MethodGet, "/v2/Users/"+id+"?attributes=password", nil, nil)
	got := decodeBody(t, get)
	if _, ok := got["password"]; ok {
		t.Errorf("password came back when requested by name")
	}
}

func TestSearchEndpoint(t *testing.T) {
	ts := setupTestServer(t, Config{BasePath: "/v2"})
	createUser(t, ts, "alice")
	createUser(t, ts, "bob")
	createUser(t, ts, "carol")

	resp := doRequest(t, ts, http.MethodPost, "/v2/Users/.search", map[string]any{
		"schemas":    []string{"urn:ietf:params:scim:api:messages:2.0:SearchRequest"},
		"filter":     `userName sw "b"`,
		"attributes": []string{"userName"},
		"count":      10,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if got := body["totalResults"].(float64); got != 1 {
		t.Errorf("totalResults = %v", got)
	}
	if got := body["itemsPerPage"].(float64); got != 10 {
		t.Errorf("itemsPerPage = %v", got)
	}
	resources := body["Resources"].([]any)
	first := resources[0].(map[string]any)
	if got := stringField(t, first, "userName"); got != "bob" {
		t.Errorf("matched userName = %q", got)
	}
	if _, ok := first["meta"]; ok {
		t.Errorf("meta survived the search attribute selection")
	}
}

func TestSearchCountClamped(t *testing.T) {
	ts := setupTestServer(t, Config{BasePath: "/v2"})
	createUser(t, ts, "alice")

	resp := doRequest(t, ts, http.MethodPost, "/v2/Users/.search", map[string]any{
		"schemas": []string{"urn:ietf:params:scim:api:messages:2.0:SearchRequest"},
		"count":   100000,
	}, nil)
	body := decodeBody(t, resp)
	if got := body["itemsPerPage"].(float64); got != 50 {
		t.Errorf("itemsPerPage = %v, want the page size cap", got)
	}
}

func TestQueryAcrossAllTypes(t *testing.T) {
	ts := setupTestServer(t, Config{BasePath: "/v2"})
	createUser(t, ts, "alice")
	group := doRequest(t, ts, http.MethodPost, "/v2/Groups", map[string]any{
		"schemas":     []string{schema.GroupURN},
		"displayName": "Engineering",
	}, nil)
	if group.StatusCode != http.StatusCreated {
		t.Fatalf("Create group: status %d", group.StatusCode)
	}
	group.Body.Close()

	resp := doRequest(t, ts, http.MethodGet, "/v2/", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Root query: status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if got := body["totalResults"].(float64); got != 2 {
		t.Errorf("totalResults = %v", got)
	}

	search := doRequest(t, ts, http.MethodPost, "/v2/.search", map[string]any{
		"schemas": []string{"urn:ietf:params:scim:api:messages:2.0:SearchRequest"},
		"filter":  `displayName eq "engineering"`,
	}, nil)
	if search.StatusCode != http.StatusOK {
		t.Fatalf("Root search: status %d", search.StatusCode)
	}
	found := decodeBody(t, search)
	if got := found["totalResults"].(float64); got != 1 {
		t.Errorf("filtered totalResults = %v", got)
	}
	first := found["Resources"].([]any)[0].(map[string]any)
	if got := metaField(t, first, "resourceType"); got != "Group" {
		t.Errorf("matched resourceType = %q", got)
	}
}

func TestReplaceUser(t *testing.T) {
	ts := setupTestServer(t, Config{BasePath: "/v2"})
	user := createUser(t, ts, "alice")
	id := stringField(t, user, "id")
	created := metaField(t, user, "created")
	oldVersion := metaField(t, user, "version")

	resp := doRequest(t, ts, http.MethodPut, "/v2/Users/"+id, map[string]any{
		"schemas":  []string{schema.UserURN},
		"id":       "forged",
		"userName": "alice",
		"title":    "Lead",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if got := stringField(t, body, "id"); got != id {
		t.Errorf("id = %q, read-only attributes must not change", got)
	}
	if got := stringField(t, body, "title"); got != "Lead" {
		t.Errorf("title = %q", got)
	}
	if got := metaField(t, body, "created"); got != created {
		t.Errorf("meta.created = %q, want %q", got, created)
	}
	if got := metaField(t, body, "version"); got == oldVersion {
		t.Errorf("version did not rotate on replace")
	}
}

func TestPatchUser(t *testing.T) {
	ts := setupTestServer(t, Config{BasePath: "/v2"})
	user := createUser(t, ts, "alice")
	id := stringField(t, user, "id")
	oldVersion := metaField(t, user, "version")

	resp := doRequest(t, ts, http.MethodPatch, "/v2/Users/"+id, map[string]any{
		"schemas": []string{"urn:ietf:params:scim:api:messages:2.0:PatchOp"},
		"Operations": []map[string]any{
			{"op": "replace", "path": "userName", "value": "neo"},
		},
	}, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status %d", resp.StatusCode)
	}
	etag := resp.Header.Get("ETag")
	if etag == "" || etag == oldVersion {
		t.Errorf("ETag after patch = %q, want a fresh version", etag)
	}
	resp.Body.Close()

	get := doRequest(t, ts, http.MethodGet, "/v2/Users/"+id, nil, nil)
	body := decodeBody(t, get)
	if got := stringField(t, body, "userName"); got != "neo" {
		t.Errorf("userName = %q after patch", got)
	}
}

func TestPatchWithProjectionReturnsBody(t *testing.T) {
	ts := setupTestServer(t, Config{BasePath: "/v2"})
	user := createUser(t, ts, "alice")
	id := stringField(t, user, "id")

	resp := doRequest(t, ts, http.MethodPatch, "/v2/Users/"+id+"?attributes=userName", map[string]any{
		"schemas": []string{"urn:ietf:params:scim:api:messages:2.0:PatchOp"},
		"Operations": []map[string]any{
			{"op": "replace", "path": "userName", "value": "trinity"},
		},
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if got := stringField(t, body, "userName"); got != "trinity" {
		t.Errorf("userName = %q", got)
	}
	if _, ok := body["meta"]; ok {
		t.Errorf("meta survived the patch attribute selection")
	}
}

func TestPatchToleratesProvisioningQuirks(t *testing.T) {
	ts := setupTestServer(t, Config{BasePath: "/v2"})
	user := createUser(t, ts, "alice")
	id := stringField(t, user, "id")

	payload := `{
		"schemas": ["urn:ietf:params:scim:api:messages:2.0:PatchOp"],
		"id": "stray-identifier",
		"Operations": [
			{"op": "Replace", "name": "stray", "path": "userName", "value": "morpheus"}
		]
	}`
	resp := doRequest(t, ts, http.MethodPatch, "/v2/Users/"+id, payload, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status %d", resp.StatusCode)
	}
	resp.Body.Close()

	get := doRequest(t, ts, http.MethodGet, "/v2/Users/"+id, nil, nil)
	body := decodeBody(t, get)
	if got := stringField(t, body, "userName"); got != "morpheus" {
		t.Errorf("userName = %q", got)
	}
	if got := stringField(t, body, "id"); got != id {
		t.Errorf("id = %q, stray payload id must be ignored", got)
	}
}

func TestPatchWithoutOperations(t *testing.T) {
	ts := setupTestServer(t, Config{BasePath: "/v2"})
	user := createUser(t, ts, "alice")
	id := stringField(t, user, "id")

	resp := doRequest(t, ts, http.MethodPatch, "/v2/Users/"+id, map[string]any{
		"schemas": []string{"urn:ietf:params:scim:api:messages:2.0:PatchOp"},
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if got := stringField(t, body, "scimType"); got != "invalidValue" {
		t.Errorf("scimType = %q", got)
	}
}

func TestConditionalRequests(t *testing.T) {
	ts := setupTestServer(t, Config{BasePath: "/v2"})
	user := createUser(t, ts, "alice")
	id := stringField(t, user, "id")
	version := metaField(t, user, "version")

	notModified := doRequest(t, ts, http.MethodGet, "/v2/Users/"+id, nil, map[string]string{
		"If-None-Match": version,
	})
	if notModified.StatusCode != http.StatusNotModified {
		t.Errorf("If-None-Match with current version: status %d", notModified.StatusCode)
	}
	notModified.Body.Close()

	stale := doRequest(t, ts, http.MethodPut, "/v2/Users/"+id, map[string]any{
		"schemas":  []string{schema.UserURN},
		"userName": "alice",
	}, map[string]string{"If-Match": `W/"stale"`})
	if stale.StatusCode != http.StatusPreconditionFailed {
		t.Fatalf("Stale If-Match on replace: status %d", stale.StatusCode)
	}
	staleBody := decodeBody(t, stale)
	if got := stringField(t, staleBody, "status"); got != "412" {
		t.Errorf("status = %q", got)
	}

	staleDelete := doRequest(t, ts, http.MethodDelete, "/v2/Users/"+id, nil, map[string]string{
		"If-Match": `W/"stale"`,
	})
	if staleDelete.StatusCode != http.StatusPreconditionFailed {
		t.Errorf("Stale If-Match on delete: status %d", staleDelete.StatusCode)
	}
	staleDelete.Body.Close()

	patched := doRequest(t, ts, http.MethodPatch, "/v2/Users/"+id, map[string]any{
		"schemas": []string{"urn:ietf:params:scim:api:messages:2.0:PatchOp"},
		"Operations": []map[string]any{
			{"op": "replace", "path": "userName", "value": "neo"},
		},
	}, map[string]string{"If-Match": "*"})
	if patched.StatusCode != http.StatusNoContent {
		t.Errorf("If-Match * on patch: status %d", patched.StatusCode)
	}
	patched.Body.Close()

	current := doRequest(t, ts, http.MethodGet, "/v2/Users/"+id, nil, nil)
	freshVersion := metaField(t, decodeBody(t, current), "version")
	deleted := doRequest(t, ts, http.MethodDelete, "/v2/Users/"+id, nil, map[string]string{
		"If-Match": freshVersion,
	})
	if deleted.StatusCode != http.StatusNoContent {
		t.Errorf("Delete with current If-Match: status %d", deleted.StatusCode)
	}
	deleted.Body.Close()

	gone := doRequest(t, ts, http.MethodGet, "/v2/Users/"+id, nil, nil)
	if gone.StatusCode != http.StatusNotFound {
		t.Errorf("Get after delete: status %d", gone.StatusCode)
	}
	gone.Body.Close()
}

func TestDeleteUser(t *testing.T) {
	ts := setupTestServer(t, Config{BasePath: "/v2"})
	user := createUser(t, ts, "alice")
	id := stringField(t, user, "id")

	resp := doRequest(t, ts, http.MethodDelete, "/v2/Users/"+id, nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status %d", resp.StatusCode)
	}
	resp.Body.Close()

	again := doRequest(t, ts, http.MethodDelete, "/v2/Users/"+id, nil, nil)
	if again.StatusCode != http.StatusNotFound {
		t.Errorf("Second delete: status %d", again.StatusCode)
	}
	again.Body.Close()
}

func TestMalformedJSONBody(t *testing.T) {
	ts := setupTestServer(t, Config{BasePath: "/v2"})

	resp := doRequest(t, ts, http.MethodPost, "/v2/Users", `{"userName": `, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if got := stringField(t, body, "scimType"); got != "invalidSyntax" {
		t.Errorf("scimType = %q", got)
	}
}

func TestServiceProviderConfig(t *testing.T) {
	ts := setupTestServer(t, Config{BasePath: "/v2"})

	resp := doRequest(t, ts, http.MethodGet, "/v2/ServiceProviderConfig", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	patchCap := body["patch"].(map[string]any)
	if patchCap["supported"] != true {
		t.Errorf("patch.supported = %v", patchCap["supported"])
	}
	bulkCap := body["bulk"].(map[string]any)
	if bulkCap["supported"] != false {
		t.Errorf("bulk.supported = %v", bulkCap["supported"])
	}
	filterCap := body["filter"].(map[string]any)
	if filterCap["maxResults"].(float64) != 1000 {
		t.Errorf("filter.maxResults = %v", filterCap["maxResults"])
	}
	if schemes := body["authenticationSchemes"].([]any); len(schemes) != 0 {
		t.Errorf("authenticationSchemes = %v without configured tokens", schemes)
	}

	forbidden := doRequest(t, ts, http.MethodGet, "/v2/ServiceProviderConfig?filter=id+pr", nil, nil)
	if forbidden.StatusCode != http.StatusForbidden {
		t.Errorf("filter on configuration endpoint: status %d", forbidden.StatusCode)
	}
	forbidden.Body.Close()
}

func TestSchemaEndpoints(t *testing.T) {
	ts := setupTestServer(t, Config{BasePath: "/v2"})

	resp := doRequest(t, ts, http.MethodGet, "/v2/Schemas", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	total := body["totalResults"].(float64)
	if total < 2 {
		t.Errorf("totalResults = %v, want at least User and Group", total)
	}

	single := doRequest(t, ts, http.MethodGet, "/v2/Schemas/"+schema.UserURN, nil, nil)
	if single.StatusCode != http.StatusOK {
		t.Fatalf("Single schema: status %d", single.StatusCode)
	}
	got := decodeBody(t, single)
	if stringField(t, got, "id") != schema.UserURN {
		t.Errorf("schema id = %q", got["id"])
	}
	attrs, ok := got["attributes"].([]any)
	if !ok || len(attrs) == 0 {
		t.Errorf("schema attributes missing")
	}

	missing := doRequest(t, ts, http.MethodGet, "/v2/Schemas/urn:nope", nil, nil)
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("Unknown schema: status %d", missing.StatusCode)
	}
	missing.Body.Close()
}

func TestResourceTypeEndpoints(t *testing.T) {
	ts := setupTestServer(t, Config{BasePath: "/v2"})

	resp := doRequest(t, ts, http.MethodGet, "/v2/ResourceTypes", nil, nil)
	body := decodeBody(t, resp)
	if got := body["totalResults"].(float64); got != 2 {
		t.Errorf("totalResults = %v", got)
	}

	single := doRequest(t, ts, http.MethodGet, "/v2/ResourceTypes/User", nil, nil)
	if single.StatusCode != http.StatusOK {
		t.Fatalf("status %d", single.StatusCode)
	}
	got := decodeBody(t, single)
	if stringField(t, got, "endpoint") != "/Users" {
		t.Errorf("endpoint = %q", got["endpoint"])
	}
	if stringField(t, got, "schema") != schema.UserURN {
		t.Errorf("schema = %q", got["schema"])
	}
}

func TestUnsupportedSurfaces(t *testing.T) {
	ts := setupTestServer(t, Config{BasePath: "/v2"})

	bulk := doRequest(t, ts, http.MethodPost, "/v2/Bulk", map[string]any{}, nil)
	if bulk.StatusCode != http.StatusNotImplemented {
		t.Errorf("Bulk: status %d", bulk.StatusCode)
	}
	bulkBody := decodeBody(t, bulk)
	if got := stringField(t, bulkBody, "status"); got != "501" {
		t.Errorf("Bulk status field = %q", got)
	}

	me := doRequest(t, ts, http.MethodGet, "/v2/Me", nil, nil)
	if me.StatusCode != http.StatusNotImplemented {
		t.Errorf("Me: status %d", me.StatusCode)
	}
	me.Body.Close()
}

func TestUnknownEndpoint(t *testing.T) {
	ts := setupTestServer(t, Config{BasePath: "/v2"})

	resp := doRequest(t, ts, http.MethodGet, "/v2/Gadgets", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	schemas, _ := body["schemas"].([]any)
	if len(schemas) != 1 || schemas[0] != errorURN {
		t.Errorf("unknown endpoint error schemas = %v", body["schemas"])
	}
}

func TestBearerAuthentication(t *testing.T) {
	ts := setupTestServer(t, Config{BasePath: "/v2", BearerTokens: []string{"hunter2"}})

	anon := doRequest(t, ts, http.MethodGet, "/v2/Users", nil, nil)
	if anon.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Anonymous: status %d", anon.StatusCode)
	}
	if got := anon.Header.Get("WWW-Authenticate"); got != `Bearer realm="SCIM Provider"` {
		t.Errorf("WWW-Authenticate = %q", got)
	}
	anon.Body.Close()

	wrong := doRequest(t, ts, http.MethodGet, "/v2/Users", nil, map[string]string{
		"Authorization": "Bearer wrong",
	})
	if wrong.StatusCode != http.StatusUnauthorized {
		t.Errorf("Wrong token: status %d", wrong.StatusCode)
	}
	if got := wrong.Header.Get("WWW-Authenticate"); got != "" {
		t.Errorf("WWW-Authenticate on a credentialed request = %q", got)
	}
	wrong.Body.Close()

	ok := doRequest(t, ts, http.MethodGet, "/v2/Users", nil, map[string]string{
		"Authorization": "Bearer hunter2",
	})
	if ok.StatusCode != http.StatusOK {
		t.Errorf("Valid token: status %d", ok.StatusCode)
	}
	ok.Body.Close()

	spc := doRequest(t, ts, http.MethodGet, "/v2/ServiceProviderConfig", nil, nil)
	if spc.StatusCode != http.StatusOK {
		t.Errorf("ServiceProviderConfig without credentials: status %d", spc.StatusCode)
	}
	spcBody := decodeBody(t, spc)
	schemes := spcBody["authenticationSchemes"].([]any)
	if len(schemes) != 1 {
		t.Fatalf("authenticationSchemes = %v", schemes)
	}
	scheme := schemes[0].(map[string]any)
	if stringField(t, scheme, "type") != "oauthbearertoken" {
		t.Errorf("scheme type = %q", scheme["type"])
	}
}

func TestEnterpriseExtensionRoundTrip(t *testing.T) {
	ts := setupTestServer(t, Config{BasePath: "/v2"})

	resp := doRequest(t, ts, http.MethodPost, "/v2/Users", map[string]any{
		"schemas":  []string{schema.UserURN, schema.EnterpriseUserURN},
		"userName": "alice",
		schema.EnterpriseUserURN: map[string]any{
			"employeeNumber": "E-1001",
			"department":     "Platform",
		},
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Create: status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	id := stringField(t, body, "id")
	ext, ok := body[schema.EnterpriseUserURN].(map[string]any)
	if !ok {
		t.Fatalf("extension namespace missing: %v", body)
	}
	if got := stringField(t, ext, "employeeNumber"); got != "E-1001" {
		t.Errorf("employeeNumber = %q", got)
	}

	q := url.Values{"attributes": {schema.EnterpriseUserURN + ":employeeNumber"}}
	get := doRequest(t, ts, http.MethodGet, "/v2/Users/"+id+"?"+q.Encode(), nil, nil)
	proj := decodeBody(t, get)
	ext, ok = proj[schema.EnterpriseUserURN].(map[string]any)
	if !ok {
		t.Fatalf("extension missing from projection: %v", proj)
	}
	if _, ok := ext["department"]; ok {
		t.Errorf("department survived a narrower selection")
	}
	if _, ok := proj["userName"]; ok {
		t.Errorf("userName survived an extension-only selection")
	}

	f := url.Values{"filter": {schema.EnterpriseUserURN + `:department eq "platform"`}}
	list := doRequest(t, ts, http.MethodGet, "/v2/Users?"+f.Encode(), nil, nil)
	found := decodeBody(t, list)
	if got := found["totalResults"].(float64); got != 1 {
		t.Errorf("filtered totalResults = %v", got)
	}

	patchResp := doRequest(t, ts, http.MethodPatch, "/v2/Users/"+id, map[string]any{
		"schemas": []string{"urn:ietf:params:scim:api:messages:2.0:PatchOp"},
		"Operations": []map[string]any{
			{"op": "replace", "path": schema.EnterpriseUserURN + ":department", "value": "Infra"},
		},
	}, nil)
	if patchResp.StatusCode != http.StatusNoContent {
		t.Fatalf("Patch: status %d", patchResp.StatusCode)
	}
	patchResp.Body.Close()

	after := decodeBody(t, doRequest(t, ts, http.MethodGet, "/v2/Users/"+id, nil, nil))
	ext, ok = after[schema.EnterpriseUserURN].(map[string]any)
	if !ok {
		t.Fatalf("extension missing after patch: %v", after)
	}
	if got := stringField(t, ext, "department"); got != "Infra" {
		t.Errorf("department = %q after patch", got)
	}
}
