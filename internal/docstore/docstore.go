// Package docstore implements the document database half of the local
// backend emulation: named collections of id-keyed documents with a single
// equality/inequality predicate as the only query shape.
//
// # Storage model
//
// Each collection is one substrate key holding a JSON array of documents,
// materialized lazily on first access and created implicitly on first
// write. Every operation round-trips the whole array through a
// deserialize-mutate-serialize cycle, so each call is O(collection size).
// That ceiling is deliberate: the target workload is a personal video
// catalogue of at most a few hundred documents. Upgrading to per-document
// keys would change the scan complexity and the persisted layout, and must
// not be done casually.
//
// # Concurrency
//
// A mutex serializes read-modify-write cycles within the process. Across
// processes sharing a file-backed substrate there is no coordination:
// concurrent writers to one collection race at whole-array granularity and
// the last full-array write wins.
package docstore

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/maruel/ksid"
	"github.com/signbase/signbase/internal/errcode"
	"github.com/signbase/signbase/internal/kvstore"
)

// Document is a single record: an immutable store-assigned id plus named
// fields. The persisted shape is a flat JSON object with the id inlined
// next to the fields, matching the hosted service's wire format.
type Document struct {
	ID     string
	Fields Fields
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	return Document{ID: d.ID, Fields: d.Fields.Clone()}
}

// MarshalJSON flattens the document into {"id": ..., <field>: ...}.
func (d Document) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(d.Fields)+1)
	m["id"] = d.ID
	for k, v := range d.Fields {
		m[k] = v
	}
	return json.Marshal(m)
}

// UnmarshalJSON rebuilds the envelope from the flattened form.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Fields = make(Fields, len(raw))
	for k, rv := range raw {
		if k == idField {
			if err := json.Unmarshal(rv, &d.ID); err != nil {
				return fmt.Errorf("invalid document id: %w", err)
			}
			continue
		}
		var v Value
		if err := json.Unmarshal(rv, &v); err != nil {
			return fmt.Errorf("invalid value for field %q: %w", k, err)
		}
		d.Fields[k] = v
	}
	return nil
}

// Op is a predicate operator.
type Op string

const (
	// OpEqual matches documents whose field equals the predicate value.
	OpEqual Op = "=="
	// OpNotEqual matches documents whose field is absent or differs from
	// the predicate value.
	OpNotEqual Op = "!="
)

// Predicate is a single field/operator/value filter, the only supported
// query shape. No compound filters, no range operators.
type Predicate struct {
	Field string
	Op    Op
	Value Value
}

// matches applies the predicate to a document. An absent field never
// satisfies ==, and always satisfies !=.
func (p Predicate) matches(d Document) bool {
	v, ok := d.Fields[p.Field]
	equal := ok && v.Equal(p.Value)
	if p.Op == OpNotEqual {
		return !equal
	}
	return equal
}

const idField = "id"

// Store is the document database.
type Store struct {
	kv kvstore.Store

	// StrictUpdates switches Update's behavior on a missing id from the
	// hosted service's silent no-op to a NotFound failure. Off by default
	// for drop-in compatibility.
	StrictUpdates bool

	mu sync.Mutex // serializes read-modify-write cycles in this process

	tsMu   sync.Mutex
	lastTS time.Time
}

// New creates a document store over the given substrate.
func New(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

// Add appends a document with a fresh store-assigned id and returns it.
func (s *Store) Add(collection string, fields Fields) (Document, error) {
	if err := validate(collection, fields); err != nil {
		return Document{}, err
	}
	doc := Document{ID: ksid.NewID().String(), Fields: fields.Clone()}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, err := s.load(collection)
	if err != nil {
		return Document{}, err
	}
	if err := s.save(collection, append(docs, doc)); err != nil {
		return Document{}, err
	}
	return doc.Clone(), nil
}

// Get returns the document with the given id and whether it exists.
func (s *Store) Get(collection, id string) (Document, bool, error) {
	if err := validate(collection, nil); err != nil {
		return Document{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, err := s.load(collection)
	if err != nil {
		return Document{}, false, err
	}
	for _, d := range docs {
		if d.ID == id {
			return d.Clone(), true, nil
		}
	}
	return Document{}, false, nil
}

// Set upserts: it replaces the document if id exists, else inserts a new
// document carrying that explicit id.
func (s *Store) Set(collection, id string, fields Fields) error {
	if id == "" {
		return errcode.InvalidArgument("document id is required")
	}
	if err := validate(collection, fields); err != nil {
		return err
	}
	doc := Document{ID: id, Fields: fields.Clone()}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, err := s.load(collection)
	if err != nil {
		return err
	}
	replaced := false
	for i, d := range docs {
		if d.ID == id {
			docs[i] = doc
			replaced = true
			break
		}
	}
	if !replaced {
		docs = append(docs, doc)
	}
	return s.save(collection, docs)
}

// Update shallow-merges patch into an existing document's fields.
//
// When the id does not exist the default behavior is a silent no-op,
// matching the hosted service. With StrictUpdates set it fails with
// NotFound instead.
func (s *Store) Update(collection, id string, patch Fields) error {
	if err := validate(collection, patch); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, err := s.load(collection)
	if err != nil {
		return err
	}
	for i, d := range docs {
		if d.ID != id {
			continue
		}
		merged := d.Fields.Clone()
		if merged == nil {
			merged = make(Fields, len(patch))
		}
		for k, v := range patch {
			merged[k] = v
		}
		docs[i] = Document{ID: id, Fields: merged}
		return s.save(collection, docs)
	}
	if s.StrictUpdates {
		return errcode.NotFound("document")
	}
	return nil
}

// Delete removes the document if present. Idempotent.
func (s *Store) Delete(collection, id string) error {
	if err := validate(collection, nil); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, err := s.load(collection)
	if err != nil {
		return err
	}
	kept := docs[:0]
	for _, d := range docs {
		if d.ID != id {
			kept = append(kept, d)
		}
	}
	if len(kept) == len(docs) {
		return nil
	}
	return s.save(collection, kept)
}

// Query returns the documents matching the predicate, in the collection's
// insertion order. No sorting is applied.
func (s *Store) Query(collection string, p Predicate) ([]Document, error) {
	if err := validate(collection, nil); err != nil {
		return nil, err
	}
	if p.Op != OpEqual && p.Op != OpNotEqual {
		return nil, errcode.Newf(errcode.CodeInvalidArgument, "unsupported operator %q", p.Op)
	}
	if p.Field == "" {
		return nil, errcode.InvalidArgument("predicate field is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, err := s.load(collection)
	if err != nil {
		return nil, err
	}
	var out []Document
	for _, d := range docs {
		if p.matches(d) {
			out = append(out, d.Clone())
		}
	}
	return out, nil
}

// QueryOrdered returns the first limit documents in current storage order.
//
// The orderBy field is accepted for interface compatibility but not
// applied; the hosted service's emulation never implemented it and callers
// sort client-side. This is a documented gap, not an oversight.
func (s *Store) QueryOrdered(collection, orderBy string, limit int) ([]Document, error) {
	_ = orderBy
	if err := validate(collection, nil); err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, errcode.InvalidArgument("limit must not be negative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, err := s.load(collection)
	if err != nil {
		return nil, err
	}
	if limit > len(docs) {
		limit = len(docs)
	}
	out := make([]Document, 0, limit)
	for _, d := range docs[:limit] {
		out = append(out, d.Clone())
	}
	return out, nil
}

// ServerTimestamp returns a wall-clock timestamp guaranteed to increase
// across calls within this process. Two processes calling concurrently may
// still collide.
func (s *Store) ServerTimestamp() time.Time {
	s.tsMu.Lock()
	defer s.tsMu.Unlock()
	now := time.Now().UTC().Truncate(time.Millisecond)
	if !now.After(s.lastTS) {
		now = s.lastTS.Add(time.Millisecond)
	}
	s.lastTS = now
	return now
}

func (s *Store) load(collection string) ([]Document, error) {
	raw, ok, err := s.kv.Get(collection)
	if err != nil {
		return nil, errcode.StorageFailure("failed to read collection "+collection, err)
	}
	if !ok {
		return nil, nil
	}
	var docs []Document
	if err := json.Unmarshal([]byte(raw), &docs); err != nil {
		return nil, errcode.StorageFailure("failed to decode collection "+collection, err)
	}
	return docs, nil
}

func (s *Store) save(collection string, docs []Document) error {
	if docs == nil {
		docs = []Document{}
	}
	data, err := json.Marshal(docs)
	if err != nil {
		return errcode.StorageFailure("failed to encode collection "+collection, err)
	}
	if err := s.kv.Set(collection, string(data)); err != nil {
		return errcode.StorageFailure("failed to write collection "+collection, err)
	}
	return nil
}

// reservedKeys are substrate keys owned by the session and blob stores; a
// collection may not shadow them.
var reservedKeys = map[string]struct{}{
	kvstore.KeyIdentities:      {},
	kvstore.KeyCurrentIdentity: {},
	kvstore.KeyBlobIndex:       {},
}

func validate(collection string, fields Fields) error {
	if collection == "" {
		return errcode.InvalidArgument("collection name is required")
	}
	if _, ok := reservedKeys[collection]; ok {
		return errcode.Newf(errcode.CodeInvalidArgument, "collection name %q is reserved", collection)
	}
	if _, ok := fields[idField]; ok {
		return errcode.InvalidArgument("field name \"id\" is reserved")
	}
	return nil
}
