// ABOUTME: Listing with filter evaluation, sorting and 1-based pagination
// ABOUTME: Total counts cover the filtered set before the page is cut

package store

import (
	"sort"

	filterv2 "github.com/scim2/filter-parser/v2"

	"github.com/nainya/scimstore/pkg/attrpath"
	"github.com/nainya/scimstore/pkg/filter"
	"github.com/nainya/scimstore/pkg/resource"
	"github.com/nainya/scimstore/pkg/schema"
)

// ListOptions selects and orders a listing. A nil Filter matches every
// record; a nil Count returns the whole tail. StartIndex is 1-based,
// values below 1 read from the start.
type ListOptions struct {
	Filter     filterv2.Expression
	SortBy     string
	SortDesc   bool
	StartIndex int
	Count      *int
}

// ListResult carries one page of records and the size of the filtered set
// the page was cut from.
type ListResult struct {
	TotalResults int
	Resources    []*resource.Resource
}

// entry pairs a record with the descriptor of its type, so filtering and
// sorting resolve attributes correctly in mixed-type listings.
type entry struct {
	d   *schema.TypeDescriptor
	rec *resource.Resource
}

// snapshot collects the live records in insertion order. Committed records
// are only ever swapped, never mutated in place, so the pointers stay
// valid for reading after the lock is released.
func (ts *typeStore) snapshot() []entry {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	out := make([]entry, 0, len(ts.order))
	for _, id := range ts.order {
		out = append(out, entry{d: ts.desc, rec: ts.records[id]})
	}
	return out
}

// List applies the filter to every live record of the type in insertion
// order, sorts when a sort path is given and returns the requested page as
// copies.
func (s *Store) List(typeName string, opts ListOptions) (ListResult, error) {
	ts, err := s.byType(typeName)
	if err != nil {
		return ListResult{}, err
	}
	return finishList(ts.snapshot(), opts)
}

// ListAll lists records of every resource type, in type registration order
// then insertion order. Filter attributes unknown to a type simply never
// match its records.
func (s *Store) ListAll(opts ListOptions) (ListResult, error) {
	var entries []entry
	for _, name := range s.order {
		entries = append(entries, s.types[name].snapshot()...)
	}
	return finishList(entries, opts)
}

func finishList(entries []entry, opts ListOptions) (ListResult, error) {
	matched := entries
	if opts.Filter != nil {
		matched = make([]entry, 0, len(entries))
		for _, e := range entries {
			ok, err := filter.Evaluate(e.d, e.rec, opts.Filter)
			if err != nil {
				return ListResult{}, err
			}
			if ok {
				matched = append(matched, e)
			}
		}
	}

	if opts.SortBy != "" {
		sortEntries(matched, opts.SortBy, opts.SortDesc)
	}

	total := len(matched)
	start := opts.StartIndex - 1
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	page := matched[start:]
	if opts.Count != nil {
		n := *opts.Count
		if n < 0 {
			n = 0
		}
		if n < len(page) {
			page = page[:n]
		}
	}

	out := make([]*resource.Resource, len(page))
	for i, e := range page {
		out[i] = e.rec.Clone()
	}
	return ListResult{TotalResults: total, Resources: out}, nil
}

// sortEntries orders entries by the sort path in place. Entries without a
// sort key go last ascending and first descending; ties break on the
// identifier. A path that parses for no entry leaves the order untouched.
func sortEntries(entries []entry, sortBy string, desc bool) {
	type parsed struct {
		p     attrpath.Path
		match attrpath.Matcher
		ok    bool
	}
	paths := make(map[*schema.TypeDescriptor]parsed)
	pathFor := func(d *schema.TypeDescriptor) parsed {
		if pr, seen := paths[d]; seen {
			return pr
		}
		p, err := attrpath.Parse(d, sortBy)
		pr := parsed{p: p, ok: err == nil}
		if pr.ok && p.HasCond() && p.Attribute() != nil {
			pr.match = filter.MatcherFor(p.Attribute(), p.Cond)
		}
		paths[d] = pr
		return pr
	}

	type keyed struct {
		e   entry
		key resource.Value
	}
	set := make([]keyed, 0, len(entries))
	var unset []entry
	for _, e := range entries {
		pr := pathFor(e.d)
		if !pr.ok {
			unset = append(unset, e)
			continue
		}
		k := attrpath.SortKey(e.d, e.rec, pr.p, pr.match)
		if k.IsUnset() {
			unset = append(unset, e)
			continue
		}
		set = append(set, keyed{e: e, key: k})
	}

	sort.SliceStable(set, func(i, j int) bool {
		c := compareKeys(set[i].key, set[j].key)
		if c == 0 {
			return set[i].e.rec.ID() < set[j].e.rec.ID()
		}
		if desc {
			return c > 0
		}
		return c < 0
	})

	idx := 0
	if desc {
		for _, e := range unset {
			entries[idx] = e
			idx++
		}
	}
	for _, kv := range set {
		entries[idx] = kv.e
		idx++
	}
	if !desc {
		for _, e := range unset {
			entries[idx] = e
			idx++
		}
	}
}

// compareKeys orders two normalized sort keys. Keys of different shapes
// order by shape tag so the result is still total.
func compareKeys(a, b resource.Value) int {
	if a.Type != b.Type {
		return int(a.Type) - int(b.Type)
	}
	switch a.Type {
	case resource.TYPE_BOOL:
		switch {
		case a.Bool == b.Bool:
			return 0
		case b.Bool:
			return -1
		}
		return 1
	case resource.TYPE_NUMBER:
		switch {
		case a.Num < b.Num:
			return -1
		case a.Num > b.Num:
			return 1
		}
		return 0
	case resource.TYPE_STRING:
		switch {
		case a.Str < b.Str:
			return -1
		case a.Str > b.Str:
			return 1
		}
		return 0
	}
	return 0
}
