// Request decoding: resource bodies, PatchOp messages and the query
// parameters shared by list and search operations.

package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/nainya/scimstore/pkg/patch"
	"github.com/nainya/scimstore/pkg/resource"
	"github.com/nainya/scimstore/pkg/schema"
	"github.com/nainya/scimstore/pkg/scimerr"
)

// decodeResource reads a request body as a SCIM resource and coerces its
// attribute tree against the descriptor's schemas.
func (s *Server) decodeResource(d *schema.TypeDescriptor, r *http.Request) (*resource.Resource, error) {
	res, err := resource.DecodeJSON(r.Body)
	if err != nil {
		return nil, err
	}
	if err := schema.CoerceResource(d, res); err != nil {
		return nil, err
	}
	return res, nil
}

func decodeRaw(r *http.Request) (map[string]any, error) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, scimerr.Newf(scimerr.KindInvalidSyntax, "malformed JSON body: %v", err)
	}
	return raw, nil
}

type patchOperationBody struct {
	Op    string `mapstructure:"op"`
	Path  string `mapstructure:"path"`
	Value any    `mapstructure:"value"`
}

type patchRequestBody struct {
	Schemas    []string             `mapstructure:"schemas"`
	Operations []patchOperationBody `mapstructure:"Operations"`
}

// decodePatch reads a PatchOp message. Two quirks observed from Microsoft
// Entra are tolerated before validation: a stray top-level "id" member and
// a stray "name" member inside individual operations.
func (s *Server) decodePatch(r *http.Request) ([]patch.Operation, error) {
	raw, err := decodeRaw(r)
	if err != nil {
		return nil, err
	}
	delete(raw, "id")
	for key, v := range raw {
		if !strings.EqualFold(key, "operations") {
			continue
		}
		list, ok := v.([]any)
		if !ok {
			continue
		}
		for _, elem := range list {
			if m, ok := elem.(map[string]any); ok {
				delete(m, "name")
			}
		}
	}

	var req patchRequestBody
	if err := weakDecode(raw, &req); err != nil {
		return nil, scimerr.Newf(scimerr.KindInvalidSyntax, "malformed patch request: %v", err)
	}
	if len(req.Operations) == 0 {
		return nil, scimerr.InvalidValue("patch request carries no operations")
	}
	ops := make([]patch.Operation, len(req.Operations))
	for i, op := range req.Operations {
		ops[i] = patch.Operation{Op: op.Op, Path: op.Path, Value: resource.FromAny(op.Value)}
	}
	return ops, nil
}

// weakDecode maps a decoded JSON object onto a request struct, matching
// keys case-insensitively and converting compatible scalar types.
func weakDecode(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// searchParams is the normalized form of a query request, whether it came
// from URL parameters or a SearchRequest body.
type searchParams struct {
	filter     string
	sortBy     string
	sortDesc   bool
	startIndex int
	count      int
	attrs      []string
	excluded   []string
}

// clamp bounds the page window: startIndex is 1-based and count never
// exceeds the configured page size.
func (p *searchParams) clamp(pageSize int) {
	if p.startIndex < 1 {
		p.startIndex = 1
	}
	if p.count < 0 {
		p.count = 0
	}
	if p.count > pageSize {
		p.count = pageSize
	}
}

func (s *Server) searchFromQuery(r *http.Request) (searchParams, error) {
	q := r.URL.Query()
	p := searchParams{startIndex: 1, count: s.pageSize}
	if v := q.Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, scimerr.InvalidValue("count must be an integer")
		}
		p.count = n
	}
	if v := q.Get("startIndex"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, scimerr.InvalidValue("startIndex must be an integer")
		}
		p.startIndex = n
	}
	p.filter = q.Get("filter")
	p.sortBy = q.Get("sortBy")
	p.sortDesc = strings.EqualFold(q.Get("sortOrder"), "descending")
	var err error
	p.attrs, p.excluded, _, err = attrSelection(r)
	if err != nil {
		return p, err
	}
	p.clamp(s.pageSize)
	return p, nil
}

type searchRequestBody struct {
	Schemas            []string `mapstructure:"schemas"`
	Attributes         []string `mapstructure:"attributes"`
	ExcludedAttributes []string `mapstructure:"excludedAttributes"`
	Filter             string   `mapstructure:"filter"`
	SortBy             string   `mapstructure:"sortBy"`
	SortOrder          string   `mapstructure:"sortOrder"`
	StartIndex         *int     `mapstructure:"startIndex"`
	Count              *int     `mapstructure:"count"`
}

func (s *Server) searchFromBody(r *http.Request) (searchParams, error) {
	raw, err := decodeRaw(r)
	if err != nil {
		return searchParams{}, err
	}
	var sr searchRequestBody
	if err := weakDecode(raw, &sr); err != nil {
		return searchParams{}, scimerr.Newf(scimerr.KindInvalidSyntax, "malformed search request: %v", err)
	}
	p := searchParams{
		startIndex: 1,
		count:      s.pageSize,
		filter:     sr.Filter,
		sortBy:     sr.SortBy,
		sortDesc:   strings.EqualFold(sr.SortOrder, "descending"),
		attrs:      sr.Attributes,
		excluded:   sr.ExcludedAttributes,
	}
	if sr.StartIndex != nil {
		p.startIndex = *sr.StartIndex
	}
	if sr.Count != nil {
		p.count = *sr.Count
	}
	p.clamp(s.pageSize)
	return p, nil
}

// attrSelection reads the attributes and excludedAttributes parameters.
// present reports whether either key appeared at all, which PATCH uses to
// pick between a projected body and 204 No Content.
func attrSelection(r *http.Request) (attrs, excluded []string, present bool, err error) {
	q := r.URL.Query()
	hasAttrs := q.Has("attributes")
	hasExcluded := q.Has("excludedAttributes")
	if hasAttrs {
		attrs = splitCommaList(q.Get("attributes"))
	}
	if hasExcluded {
		excluded = splitCommaList(q.Get("excludedAttributes"))
	}
	present = hasAttrs || hasExcluded
	if hasAttrs && hasExcluded {
		err = scimerr.InvalidValue("attributes and excludedAttributes are mutually exclusive")
	}
	return attrs, excluded, present, err
}

func splitCommaList(raw string) []string {
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
