// ABOUTME: Uniqueness index over attributes declared unique
// ABOUTME: Check and commit run as one step under the type lock

package store

import (
	"strconv"
	"strings"

	"github.com/nainya/scimstore/pkg/resource"
	"github.com/nainya/scimstore/pkg/scimerr"
)

// uniqueKey is one reserved value: the owning schema URN ("" for the base
// schema), the attribute name and the normalized value.
type uniqueKey struct {
	schema string
	attr   string
	value  string
}

func (k uniqueKey) path() string {
	if k.schema == "" {
		return k.attr
	}
	return k.schema + ":" + k.attr
}

// entriesFor collects the index entries a record would occupy. Unset and
// non-scalar values contribute none.
func (ts *typeStore) entriesFor(res *resource.Resource) []uniqueKey {
	var out []uniqueKey
	for _, ua := range ts.desc.UniqueAttributes() {
		container := res.ToValue()
		if ua.Schema != "" {
			_, v, ok := res.GetFold(ua.Schema)
			if !ok || v.Type != resource.TYPE_OBJECT {
				continue
			}
			container = v
		}
		v := container.Field(ua.Attribute)
		norm, ok := normalizeUnique(v, ua.CaseExact)
		if !ok {
			continue
		}
		out = append(out, uniqueKey{schema: ua.Schema, attr: ua.Attribute, value: norm})
	}
	return out
}

func normalizeUnique(v resource.Value, caseExact bool) (string, bool) {
	switch v.Type {
	case resource.TYPE_STRING:
		if caseExact {
			return v.Str, true
		}
		return strings.ToLower(v.Str), true
	case resource.TYPE_NUMBER:
		return strconv.FormatFloat(v.Num, 'g', -1, 64), true
	case resource.TYPE_BOOL:
		return strconv.FormatBool(v.Bool), true
	}
	return "", false
}

// checkAndReserve verifies no other record owns the candidate's unique
// values and then commits them, releasing the entries the record held
// before. On conflict nothing changes. Callers hold the type lock.
func (ts *typeStore) checkAndReserve(res *resource.Resource, excludeID string) error {
	entries := ts.entriesFor(res)
	for _, k := range entries {
		if owner, ok := ts.unique[k]; ok && owner != excludeID {
			return scimerr.UniquenessConflict(k.path())
		}
	}

	id := res.ID()
	ts.release(id)
	for _, k := range entries {
		ts.unique[k] = id
	}
	ts.owned[id] = entries
	return nil
}

// release drops every entry the record owns. Callers hold the type lock.
func (ts *typeStore) release(id string) {
	for _, k := range ts.owned[id] {
		if ts.unique[k] == id {
			delete(ts.unique, k)
		}
	}
	delete(ts.owned, id)
}
