// ABOUTME: In-memory resource store with versioning and uniqueness checks
// ABOUTME: Owns resource lifecycle per type under per-type mutual exclusion

package store

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/nainya/scimstore/pkg/patch"
	"github.com/nainya/scimstore/pkg/resource"
	"github.com/nainya/scimstore/pkg/schema"
	"github.com/nainya/scimstore/pkg/scimerr"
)

const defaultLocationBase = "/v2"

// Store holds every resource type's records in memory. Mutations on one
// type serialize behind that type's lock; reads run concurrently.
type Store struct {
	reg   *schema.Registry
	base  string
	now   func() time.Time
	types map[string]*typeStore
	order []string
}

type typeStore struct {
	mu   sync.RWMutex
	desc *schema.TypeDescriptor

	records map[string]*resource.Resource
	order   []string

	unique map[uniqueKey]string
	owned  map[string][]uniqueKey
}

// Option configures a Store.
type Option func(*Store)

// WithLocationBase sets the path prefix used for meta.location values.
func WithLocationBase(base string) Option {
	return func(s *Store) { s.base = base }
}

// WithNow overrides the clock used for meta timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New builds a store over every resource type the registry declares.
func New(reg *schema.Registry, opts ...Option) *Store {
	s := &Store{
		reg:   reg,
		base:  defaultLocationBase,
		now:   time.Now,
		types: make(map[string]*typeStore),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, d := range reg.ResourceTypes() {
		s.types[d.Name()] = &typeStore{
			desc:    d,
			records: make(map[string]*resource.Resource),
			unique:  make(map[uniqueKey]string),
			owned:   make(map[string][]uniqueKey),
		}
		s.order = append(s.order, d.Name())
	}
	return s
}

// Registry returns the schema registry the store was built from.
func (s *Store) Registry() *schema.Registry {
	return s.reg
}

func (s *Store) byType(typeName string) (*typeStore, error) {
	ts, ok := s.types[typeName]
	if !ok {
		return nil, scimerr.Newf(scimerr.KindNotFound, "unknown resource type %q", typeName)
	}
	return ts, nil
}

// newID returns a fresh resource identifier. Identifiers are never reused.
func newID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// newVersion returns a fresh version token in weak-ETag form. Tokens are
// unique per process and strictly increase between mutations.
func newVersion() string {
	return `W/"` + ulid.Make().String() + `"`
}

const metaTimeLayout = "2006-01-02T15:04:05.000Z"

// touch refreshes the server-managed metadata of a record about to be
// committed.
func (s *Store) touch(ts *typeStore, res *resource.Resource, id string, created time.Time) {
	now := s.now().UTC()
	if created.IsZero() {
		created = now
	}
	res.SetID(id)
	res.SetMetaField(resource.MetaResourceType, resource.NewStringValue(ts.desc.Name()))
	res.SetMetaField(resource.MetaCreated, resource.NewStringValue(created.UTC().Format(metaTimeLayout)))
	res.SetMetaField(resource.MetaLastModified, resource.NewStringValue(now.Format(metaTimeLayout)))
	res.SetMetaField(resource.MetaLocation, resource.NewStringValue(s.base+ts.desc.Endpoint()+"/"+id))
	res.SetMetaField(resource.MetaVersion, resource.NewStringValue(newVersion()))
}

// createdAt reads a stored record's creation instant.
func createdAt(res *resource.Resource) time.Time {
	v := res.Meta().Field(resource.MetaCreated)
	if t, ok := schema.ParseTime(v.Str); ok {
		return t
	}
	return time.Time{}
}

// Create stores a new resource, assigning its identifier and metadata.
// Nothing is stored when a uniqueness constraint fails.
func (s *Store) Create(typeName string, res *resource.Resource) (*resource.Resource, error) {
	ts, err := s.byType(typeName)
	if err != nil {
		return nil, err
	}

	rec := res.Clone()
	if len(rec.Schemas()) == 0 {
		rec.SetSchemas([]string{ts.desc.ResourceType.Schema})
	}
	id := newID()

	ts.mu.Lock()
	defer ts.mu.Unlock()

	s.touch(ts, rec, id, time.Time{})
	if err := ts.checkAndReserve(rec, ""); err != nil {
		return nil, err
	}
	ts.records[id] = rec
	ts.order = append(ts.order, id)
	return rec.Clone(), nil
}

// Get returns a copy of the record, or NotFound.
func (s *Store) Get(typeName, id string) (*resource.Resource, error) {
	ts, err := s.byType(typeName)
	if err != nil {
		return nil, err
	}
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	rec, ok := ts.records[id]
	if !ok {
		return nil, scimerr.NotFound(typeName, id)
	}
	return rec.Clone(), nil
}

// Replace swaps a record's attributes wholesale. Server-managed metadata
// is re-asserted: the identifier and creation time survive, the version
// and modification time are regenerated. With a non-empty expectedVersion
// the mutation only proceeds when it matches the stored version.
func (s *Store) Replace(typeName, id, expectedVersion string, res *resource.Resource) (*resource.Resource, error) {
	ts, err := s.byType(typeName)
	if err != nil {
		return nil, err
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()

	cur, ok := ts.records[id]
	if !ok {
		return nil, scimerr.NotFound(typeName, id)
	}
	if expectedVersion != "" && cur.Version() != expectedVersion {
		return nil, scimerr.VersionConflict(id)
	}

	rec := res.Clone()
	if len(rec.Schemas()) == 0 {
		rec.SetSchemas([]string{ts.desc.ResourceType.Schema})
	}
	s.touch(ts, rec, id, createdAt(cur))
	if err := ts.checkAndReserve(rec, id); err != nil {
		return nil, err
	}
	ts.records[id] = rec
	return rec.Clone(), nil
}

// Patch applies the operations to a copy of the record and commits the
// result. A failing operation leaves the stored record untouched; a
// succeeding patch always regenerates the version, even when the
// operations did not change the tree.
func (s *Store) Patch(typeName, id, expectedVersion string, ops []patch.Operation) (*resource.Resource, error) {
	ts, err := s.byType(typeName)
	if err != nil {
		return nil, err
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()

	cur, ok := ts.records[id]
	if !ok {
		return nil, scimerr.NotFound(typeName, id)
	}
	if expectedVersion != "" && cur.Version() != expectedVersion {
		return nil, scimerr.VersionConflict(id)
	}

	rec := cur.Clone()
	if err := patch.Apply(ts.desc, rec, ops); err != nil {
		return nil, err
	}
	s.touch(ts, rec, id, createdAt(cur))
	if err := ts.checkAndReserve(rec, id); err != nil {
		return nil, err
	}
	ts.records[id] = rec
	return rec.Clone(), nil
}

// Delete removes the record and its uniqueness entries.
func (s *Store) Delete(typeName, id, expectedVersion string) error {
	ts, err := s.byType(typeName)
	if err != nil {
		return err
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()

	cur, ok := ts.records[id]
	if !ok {
		return scimerr.NotFound(typeName, id)
	}
	if expectedVersion != "" && cur.Version() != expectedVersion {
		return scimerr.VersionConflict(id)
	}

	ts.release(id)
	delete(ts.records, id)
	for i, oid := range ts.order {
		if oid == id {
			ts.order = append(ts.order[:i], ts.order[i+1:]...)
			break
		}
	}
	return nil
}

// Counts returns the number of live records per resource type.
func (s *Store) Counts() map[string]int {
	out := make(map[string]int, len(s.types))
	for name, ts := range s.types {
		ts.mu.RLock()
		out[name] = len(ts.records)
		ts.mu.RUnlock()
	}
	return out
}
