// HTTP handlers for the SCIM resource operations: create, retrieve,
// replace, patch, delete, and the query and search surfaces.

package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/nainya/scimstore/pkg/filter"
	"github.com/nainya/scimstore/pkg/patch"
	"github.com/nainya/scimstore/pkg/resource"
	"github.com/nainya/scimstore/pkg/schema"
	"github.com/nainya/scimstore/pkg/scimerr"
	"github.com/nainya/scimstore/pkg/store"
)

// descriptor resolves the {endpoint} path segment to a resource type,
// answering 404 itself when no type is served there.
func (s *Server) descriptor(w http.ResponseWriter, r *http.Request) *schema.TypeDescriptor {
	endpoint := r.PathValue("endpoint")
	d := s.reg.DescriptorByEndpoint(endpoint)
	if d == nil {
		s.httpError(w, r, http.StatusNotFound, fmt.Sprintf("no resource type is served at %q", "/"+endpoint))
	}
	return d
}

// recordStore feeds one store call into the metrics and the log.
func (s *Server) recordStore(op, typeName string, start time.Time, err error) {
	elapsed := time.Since(start)
	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.RecordStoreOperation(op, status, elapsed)
	}
	if s.log != nil {
		s.log.LogStoreOperation(op, typeName, elapsed, err)
	}
}

// afterMutation refreshes the per-type resource gauges.
func (s *Server) afterMutation() {
	if s.metrics != nil {
		s.metrics.UpdateResourceCounts(s.store.Counts())
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	d := s.descriptor(w, r)
	if d == nil {
		return
	}
	res, err := s.decodeResource(d, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	start := time.Now()
	created, err := s.store.Create(d.Name(), res)
	s.recordStore("create", d.Name(), start, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.afterMutation()

	adjustLocation(r, created)
	if loc := created.Meta().Field(resource.MetaLocation); loc.Type == resource.TYPE_STRING {
		w.Header().Set("Location", loc.Str)
	}
	s.writeResource(w, r, http.StatusCreated, project(d, created, nil, nil))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	d := s.descriptor(w, r)
	if d == nil {
		return
	}
	id := r.PathValue("id")

	rec, err := s.store.Get(d.Name(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !etagAllows(r, rec.Version()) {
		s.writeNoContent(w, r, http.StatusNotModified, rec.Version())
		return
	}
	attrs, excluded, _, err := attrSelection(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	adjustLocation(r, rec)
	s.writeResource(w, r, http.StatusOK, project(d, rec, attrs, excluded))
}

func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	d := s.descriptor(w, r)
	if d == nil {
		return
	}
	id := r.PathValue("id")

	attrs, excluded, _, err := attrSelection(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	payload, err := s.decodeResource(d, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cur, err := s.store.Get(d.Name(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !etagAllows(r, cur.Version()) {
		s.writeError(w, r, scimerr.VersionConflict(id))
		return
	}

	merged := cur.Clone()
	if err := patch.Merge(d, merged, payload); err != nil {
		s.writeError(w, r, err)
		return
	}

	start := time.Now()
	updated, err := s.store.Replace(d.Name(), id, cur.Version(), merged)
	s.recordStore("replace", d.Name(), start, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.afterMutation()

	adjustLocation(r, updated)
	s.writeResource(w, r, http.StatusOK, project(d, updated, attrs, excluded))
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	d := s.descriptor(w, r)
	if d == nil {
		return
	}
	id := r.PathValue("id")

	ops, err := s.decodePatch(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	attrs, excluded, present, err := attrSelection(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cur, err := s.store.Get(d.Name(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !etagAllows(r, cur.Version()) {
		s.writeError(w, r, scimerr.VersionConflict(id))
		return
	}

	start := time.Now()
	updated, err := s.store.Patch(d.Name(), id, cur.Version(), ops)
	s.recordStore("patch", d.Name(), start, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.PatchOperationsTotal.Add(float64(len(ops)))
	}
	s.afterMutation()

	// Without an attribute selection the reply is 204 with the new ETag;
	// with one the client asked to see the result.
	if !present {
		s.writeNoContent(w, r, http.StatusNoContent, updated.Version())
		return
	}
	adjustLocation(r, updated)
	s.writeResource(w, r, http.StatusOK, project(d, updated, attrs, excluded))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	d := s.descriptor(w, r)
	if d == nil {
		return
	}
	id := r.PathValue("id")

	cur, err := s.store.Get(d.Name(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !etagAllows(r, cur.Version()) {
		s.writeError(w, r, scimerr.VersionConflict(id))
		return
	}
	expected := ""
	if r.Header.Get("If-Match") != "" {
		expected = cur.Version()
	}

	start := time.Now()
	err = s.store.Delete(d.Name(), id, expected)
	s.recordStore("delete", d.Name(), start, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.afterMutation()
	s.writeNoContent(w, r, http.StatusNoContent, "")
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	d := s.descriptor(w, r)
	if d == nil {
		return
	}
	p, err := s.searchFromQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.runQuery(w, r, d, p)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	d := s.descriptor(w, r)
	if d == nil {
		return
	}
	p, err := s.searchFromBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.runQuery(w, r, d, p)
}

// handleQueryAll serves the server root: a query across every resource
// type at once.
func (s *Server) handleQueryAll(w http.ResponseWriter, r *http.Request) {
	p, err := s.searchFromQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.runQuery(w, r, nil, p)
}

func (s *Server) handleSearchAll(w http.ResponseWriter, r *http.Request) {
	p, err := s.searchFromBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.runQuery(w, r, nil, p)
}

// runQuery executes a normalized query against one resource type, or
// against all of them when d is nil, and writes the list response.
func (s *Server) runQuery(w http.ResponseWriter, r *http.Request, d *schema.TypeDescriptor, p searchParams) {
	if len(p.attrs) > 0 && len(p.excluded) > 0 {
		s.httpError(w, r, http.StatusBadRequest, "attributes and excludedAttributes are mutually exclusive")
		return
	}

	opts := store.ListOptions{
		SortBy:     p.sortBy,
		SortDesc:   p.sortDesc,
		StartIndex: p.startIndex,
		Count:      &p.count,
	}
	if p.filter != "" {
		expr, err := filter.Parse(p.filter)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		opts.Filter = expr
		if s.metrics != nil {
			s.metrics.FilterQueriesTotal.Inc()
		}
	}

	start := time.Now()
	var out store.ListResult
	var err error
	if d != nil {
		out, err = s.store.List(d.Name(), opts)
		s.recordStore("list", d.Name(), start, err)
	} else {
		out, err = s.store.ListAll(opts)
		s.recordStore("list", "all", start, err)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resources := make([]resource.Value, 0, len(out.Resources))
	for _, rec := range out.Resources {
		rd := d
		if rd == nil {
			rd = s.reg.Descriptor(rec.Meta().Field(resource.MetaResourceType).Str)
		}
		adjustLocation(r, rec)
		if rd == nil {
			resources = append(resources, rec.ToValue())
			continue
		}
		resources = append(resources, project(rd, rec, p.attrs, p.excluded))
	}
	s.writeList(w, r, listEnvelope{
		totalResults: out.TotalResults,
		startIndex:   p.startIndex,
		itemsPerPage: p.count,
		resources:    resources,
	})
}
