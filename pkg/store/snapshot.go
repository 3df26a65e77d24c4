// ABOUTME: Snapshot and restore of the full store state as JSON
// ABOUTME: Used by the daemon to persist records across restarts

package store

import (
	"encoding/json"
	"io"
	"sort"

	"github.com/gravitational/trace"

	"github.com/nainya/scimstore/pkg/resource"
)

// Snapshot writes every live record as one JSON document, grouped by
// resource type, each type's records in insertion order.
func (s *Store) Snapshot(w io.Writer) error {
	doc := make(map[string][]*resource.Resource, len(s.types))
	for name, ts := range s.types {
		ts.mu.RLock()
		recs := make([]*resource.Resource, 0, len(ts.order))
		for _, id := range ts.order {
			recs = append(recs, ts.records[id])
		}
		doc[name] = recs
		ts.mu.RUnlock()
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return trace.Wrap(enc.Encode(doc))
}

// Restore loads a document written by Snapshot into an empty store. The
// records keep their identifiers, versions and timestamps.
func (s *Store) Restore(r io.Reader) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var doc map[string][]map[string]any
	if err := dec.Decode(&doc); err != nil {
		return trace.Wrap(err)
	}

	names := make([]string, 0, len(doc))
	for name := range doc {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ts, ok := s.types[name]
		if !ok {
			return trace.BadParameter("snapshot names unknown resource type %q", name)
		}

		ts.mu.Lock()
		for _, raw := range doc[name] {
			rec := resource.FromMap(raw)
			id := rec.ID()
			if id == "" {
				ts.mu.Unlock()
				return trace.BadParameter("snapshot record of type %q has no id", name)
			}
			if _, exists := ts.records[id]; exists {
				ts.mu.Unlock()
				return trace.BadParameter("snapshot repeats id %q", id)
			}
			if err := ts.checkAndReserve(rec, id); err != nil {
				ts.mu.Unlock()
				return trace.Wrap(err)
			}
			ts.records[id] = rec
			ts.order = append(ts.order, id)
		}
		ts.mu.Unlock()
	}
	return nil
}
