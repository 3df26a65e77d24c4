// Package server implements the SCIM 2.0 HTTP service: resource CRUD,
// query and search, discovery endpoints, bearer authentication and the
// RFC 7644 wire conventions (ETags, error bodies, list envelopes).
package server

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/nainya/scimstore/internal/logger"
	"github.com/nainya/scimstore/internal/metrics"
	"github.com/nainya/scimstore/pkg/resource"
	"github.com/nainya/scimstore/pkg/schema"
	"github.com/nainya/scimstore/pkg/scimerr"
	"github.com/nainya/scimstore/pkg/store"
)

const (
	contentTypeSCIM = "application/scim+json"

	// URN of the RFC 7644 error message schema
	errorURN = "urn:ietf:params:scim:api:messages:2.0:Error"

	// URN of the RFC 7644 list response envelope
	listResponseURN = "urn:ietf:params:scim:api:messages:2.0:ListResponse"
)

// defaultPageSize caps both the default and the maximum page length for
// query responses. Requests may ask for less, never for more.
const defaultPageSize = 50

// Config carries the transport settings for a Server.
type Config struct {
	// BasePath is the URL prefix resources are additionally served under
	// (for example "/v2"). All routes are always registered at the root
	// as well, so clients may use either form.
	BasePath string

	// BearerTokens lists the accepted bearer tokens. Empty disables
	// authentication entirely.
	BearerTokens []string

	// PageSize overrides the default page size cap when positive.
	PageSize int
}

// Server answers SCIM protocol requests against a resource store.
type Server struct {
	store    *store.Store
	reg      *schema.Registry
	log      *logger.Logger
	metrics  *metrics.Metrics
	basePath string
	pageSize int
	tokens   []string
}

// NewServer creates a SCIM server over the given store. The registry is
// taken from the store so routing and validation always agree with it.
func NewServer(st *store.Store, cfg Config, log *logger.Logger, m *metrics.Metrics) *Server {
	base := strings.TrimRight(cfg.BasePath, "/")
	if base != "" && !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Server{
		store:    st,
		reg:      st.Registry(),
		log:      log,
		metrics:  m,
		basePath: base,
		pageSize: pageSize,
		tokens:   cfg.BearerTokens,
	}
}

// prefixes returns the URL prefixes routes are registered under. The empty
// prefix is always present; the configured base path is added when set.
func (s *Server) prefixes() []string {
	if s.basePath == "" {
		return []string{""}
	}
	return []string{"", s.basePath}
}

// Handler builds the full HTTP handler: the SCIM route set wrapped in the
// observability, path-suffix and authentication middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	for _, prefix := range s.prefixes() {
		s.route(mux, prefix)
	}
	mux.HandleFunc("/", s.handleUnknown)

	var h http.Handler = mux
	h = s.withAuth(h)
	h = withSCIMSuffix(h)
	h = HTTPMiddleware(s.metrics, s.log)(h)
	return h
}

func (s *Server) route(mux *http.ServeMux, p string) {
	mux.HandleFunc("GET "+p+"/ServiceProviderConfig", s.handleServiceProviderConfig)
	mux.HandleFunc("GET "+p+"/Schemas", s.handleSchemas)
	mux.HandleFunc("GET "+p+"/Schemas/{id}", s.handleSchema)
	mux.HandleFunc("GET "+p+"/ResourceTypes", s.handleResourceTypes)
	mux.HandleFunc("GET "+p+"/ResourceTypes/{name}", s.handleResourceType)

	// Advertised but unsupported protocol surfaces answer 501.
	for _, m := range []string{"GET", "POST", "PUT", "PATCH", "DELETE"} {
		mux.HandleFunc(m+" "+p+"/Me", s.handleNotImplemented)
	}
	mux.HandleFunc("POST "+p+"/Bulk", s.handleNotImplemented)

	mux.HandleFunc("GET "+p+"/{$}", s.handleQueryAll)
	mux.HandleFunc("POST "+p+"/.search", s.handleSearchAll)

	mux.HandleFunc("POST "+p+"/{endpoint}", s.handleCreate)
	mux.HandleFunc("GET "+p+"/{endpoint}", s.handleList)
	mux.HandleFunc("POST "+p+"/{endpoint}/.search", s.handleSearch)
	mux.HandleFunc("GET "+p+"/{endpoint}/{id}", s.handleGet)
	mux.HandleFunc("PUT "+p+"/{endpoint}/{id}", s.handleReplace)
	mux.HandleFunc("PATCH "+p+"/{endpoint}/{id}", s.handlePatch)
	mux.HandleFunc("DELETE "+p+"/{endpoint}/{id}", s.handleDelete)
}

// withSCIMSuffix strips the ".scim" path suffix clients may append to any
// endpoint (RFC 7644 section 3.8) before routing.
func withSCIMSuffix(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".scim") {
			r2 := r.Clone(r.Context())
			r2.URL.Path = strings.TrimSuffix(r2.URL.Path, ".scim")
			if r2.URL.RawPath != "" {
				r2.URL.RawPath = strings.TrimSuffix(r2.URL.RawPath, ".scim")
			}
			r = r2
		}
		next.ServeHTTP(w, r)
	})
}

// withAuth enforces bearer-token authentication when tokens are configured.
// ServiceProviderConfig stays reachable without credentials so clients can
// discover the authentication scheme in the first place.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.tokens) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("Authorization") == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="SCIM Provider"`)
		}
		if s.authExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := bearerToken(r)
		if !ok || !s.tokenValid(token) {
			if s.metrics != nil {
				s.metrics.AuthFailuresTotal.Inc()
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="SCIM Provider"`)
			s.httpError(w, r, http.StatusUnauthorized, "valid bearer credentials are required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authExempt(path string) bool {
	for _, p := range s.prefixes() {
		if path == p+"/ServiceProviderConfig" {
			return true
		}
	}
	return false
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(auth, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// tokenValid compares the presented token against every configured token
// in constant time, without early exit on a match.
func (s *Server) tokenValid(token string) bool {
	valid := false
	for _, t := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(t)) == 1 {
			valid = true
		}
	}
	return valid
}

// origin reconstructs the scheme and host the client used.
func origin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// requestURL is the absolute form of the request URL after any path
// rewriting done by the middleware.
func requestURL(r *http.Request) string {
	return origin(r) + r.URL.RequestURI()
}

// adjustLocation rewrites a resource's relative meta.location into the
// absolute form rooted at the request's origin. Records are stored with
// server-relative locations so the store stays host-agnostic.
func adjustLocation(r *http.Request, res *resource.Resource) {
	meta := res.Meta()
	loc := meta.Field(resource.MetaLocation)
	if loc.Type != resource.TYPE_STRING || strings.Contains(loc.Str, "://") {
		return
	}
	res.SetMetaField(resource.MetaLocation, resource.NewStringValue(origin(r)+loc.Str))
}

// etagAllows checks the conditional headers against the resource's current
// version: If-Match must name it, If-None-Match must not.
func etagAllows(r *http.Request, version string) bool {
	if im := r.Header.Get("If-Match"); im != "" && !etagMatches(im, version) {
		return false
	}
	if inm := r.Header.Get("If-None-Match"); inm != "" && etagMatches(inm, version) {
		return false
	}
	return true
}

func etagMatches(header, version string) bool {
	want := unquoteETag(version)
	for _, cand := range strings.Split(header, ",") {
		cand = unquoteETag(strings.TrimSpace(cand))
		if cand == "*" || cand == want {
			return true
		}
	}
	return false
}

func unquoteETag(tag string) string {
	tag = strings.TrimPrefix(tag, "W/")
	return strings.Trim(tag, `"`)
}

// ensureHeaders applies the response conventions shared by every reply:
// a Location defaulting to the request URL and no-cache semantics.
func ensureHeaders(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	if h.Get("Location") == "" {
		h.Set("Location", requestURL(r))
	}
	h.Set("Cache-Control", "no-cache")
}

func (s *Server) writeBody(w http.ResponseWriter, r *http.Request, status int, body *bytes.Buffer, etag string) {
	h := w.Header()
	if etag != "" && h.Get("ETag") == "" {
		h.Set("ETag", etag)
	}
	ensureHeaders(w, r)
	h.Set("Content-Type", contentTypeSCIM)
	w.WriteHeader(status)
	w.Write(body.Bytes())
}

// writeResource sends a single SCIM object. The ETag is lifted from the
// body's meta.version when the handler did not already set one.
func (s *Server) writeResource(w http.ResponseWriter, r *http.Request, status int, v resource.Value) {
	etag := v.Field(resource.AttrMeta).Field(resource.MetaVersion).Str
	var buf bytes.Buffer
	res := &resource.Resource{Attrs: v.Obj}
	res.AppendJSON(&buf)
	s.writeBody(w, r, status, &buf, etag)
}

type listEnvelope struct {
	totalResults int
	startIndex   int
	itemsPerPage int
	resources    []resource.Value
}

// writeList sends an RFC 7644 list response. The envelope keys keep their
// conventional order; itemsPerPage reports the requested page length.
func (s *Server) writeList(w http.ResponseWriter, r *http.Request, env listEnvelope) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `{"schemas":[%q],"totalResults":%d,"itemsPerPage":%d,"startIndex":%d,"Resources":[`,
		listResponseURN, env.totalResults, env.itemsPerPage, env.startIndex)
	for i, rv := range env.resources {
		if i > 0 {
			buf.WriteByte(',')
		}
		res := &resource.Resource{Attrs: rv.Obj}
		res.AppendJSON(&buf)
	}
	buf.WriteString("]}")
	s.writeBody(w, r, http.StatusOK, &buf, "")
}

func (s *Server) writeNoContent(w http.ResponseWriter, r *http.Request, status int, etag string) {
	h := w.Header()
	if etag != "" {
		h.Set("ETag", etag)
	}
	ensureHeaders(w, r)
	w.WriteHeader(status)
}

// writeError maps a store or protocol error onto the RFC 7644 error body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := scimerr.KindOf(err)
	status := http.StatusInternalServerError
	detail := "internal error"
	scimType := ""
	var se *scimerr.Error
	if kind != 0 {
		status = kind.HTTPStatus()
		scimType = kind.ScimType()
		detail = err.Error()
		if errors.As(err, &se) {
			detail = se.Detail
		}
	}
	if s.metrics != nil {
		switch kind {
		case scimerr.KindUniqueness:
			s.metrics.UniquenessConflictsTotal.Inc()
		case scimerr.KindVersionConflict:
			s.metrics.VersionConflictsTotal.Inc()
		}
	}
	s.writeErrorBody(w, r, status, scimType, detail)
}

func (s *Server) httpError(w http.ResponseWriter, r *http.Request, status int, detail string) {
	s.writeErrorBody(w, r, status, "", detail)
}

func (s *Server) writeErrorBody(w http.ResponseWriter, r *http.Request, status int, scimType, detail string) {
	attrs := map[string]resource.Value{
		resource.AttrSchemas: resource.NewListValue(resource.NewStringValue(errorURN)),
		"status":             resource.NewStringValue(fmt.Sprintf("%d", status)),
	}
	if scimType != "" {
		attrs["scimType"] = resource.NewStringValue(scimType)
	}
	if detail != "" {
		attrs["detail"] = resource.NewStringValue(detail)
	}
	var buf bytes.Buffer
	res := &resource.Resource{Attrs: attrs}
	res.AppendJSON(&buf)
	s.writeBody(w, r, status, &buf, "")
}

// handleUnknown answers anything outside the routed surface with a SCIM
// error body instead of the plain-text default.
func (s *Server) handleUnknown(w http.ResponseWriter, r *http.Request) {
	s.httpError(w, r, http.StatusNotFound, "the requested path is not served")
}

func (s *Server) handleNotImplemented(w http.ResponseWriter, r *http.Request) {
	s.httpError(w, r, http.StatusNotImplemented, "the endpoint is advertised but not supported")
}
