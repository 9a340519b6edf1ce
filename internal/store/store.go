// Package store is the document-collection layer underneath the standings
// engine. A Backend persists raw JSON documents addressed by per-contest
// keys; Collection adds the typed view the engine works with.
//
// Three backends share one semantics contract (filtering, ordering,
// uniqueness, projection): memory for fixtures and tests, a JSON file per
// (collection, contest) for small deployments, and Postgres for the rest.
// Any observable divergence between them is a bug, not a feature.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Keys is the indexed view of a stored document. Every record the engine
// persists carries its contest id plus at most one string key (handle or
// problem index), one time key (timestampSeconds or relativeTimeSeconds)
// and one numeric id key (submission/hack id). Unused keys stay zero.
type Keys struct {
	ContestID int64
	SKey      string
	TKey      int64
	IKey      int64
}

// Doc is implemented by every record type the engine stores.
type Doc interface {
	DocKeys() Keys
}

// KeySpec names the unique-key shape of a collection.
type KeySpec int

const (
	// KeyContest: one record per contest (contest metadata).
	KeyContest KeySpec = iota
	// KeySKey: unique on (contestId, skey) — standingsState, problems.
	KeySKey
	// KeyTKey: unique on (contestId, tkey) — base and delta snapshots.
	KeyTKey
	// KeyIKey: unique on (contestId, ikey) — submissions, hacks.
	KeyIKey
)

// Spec describes one named collection: its unique key shape and the JSON
// field names the file backend re-extracts keys from after load. Documents
// are stored as plain JSON, so the key view must be recoverable from the
// document body alone. CIDField defaults to "contestId".
type Spec struct {
	Name      string
	Key       KeySpec
	CIDField  string
	SKeyField string
	TKeyField string
	IKeyField string
}

// Filter is the minimal query language the engine needs: contest equality
// (required), optional string-key equality, optional time-key equality or
// range with per-bound exclusivity.
type Filter struct {
	ContestID int64
	SKey      string // equality when non-empty
	TKeyEq    *int64
	TKeyMin   *int64
	TKeyMinEx bool // Min bound is exclusive
	TKeyMax   *int64
	TKeyMaxEx bool // Max bound is exclusive
}

// Sort orders results by the time key. Ties break by IKey then SKey so that
// listings are deterministic across backends. The zero value is ascending.
type Sort int

const (
	SortTKeyAsc Sort = iota
	SortTKeyDesc
)

// FindOptions carries sort order, limit (0 = no limit) and an optional
// top-level JSON field projection. Projection is applied by the typed layer
// after the raw fetch, so all backends project identically by construction.
type FindOptions struct {
	Sort   Sort
	Limit  int
	Fields []string
}

// RawDoc is a stored document plus its key view.
type RawDoc struct {
	Keys Keys
	Data json.RawMessage
}

// OpKind enumerates bulk-write operations. Writes are ordered: the first
// failing operation aborts the remainder, and the summary reports the work
// already applied.
type OpKind int

const (
	OpInsert OpKind = iota
	OpUpsert
	OpDelete
)

// RawOp is one entry of a bulk write.
type RawOp struct {
	Kind   OpKind
	Doc    RawDoc // Insert / Upsert
	Filter Filter // Delete
}

// BulkSummary reports what a bulk write applied.
type BulkSummary struct {
	Inserted int `json:"inserted"`
	Upserted int `json:"upserted"`
	Deleted  int `json:"deleted"`
}

var (
	// ErrDuplicateKey reports a unique-key violation on insert.
	ErrDuplicateKey = errors.New("duplicate key")
)

// Backend is the raw document store implemented by memory, file and
// Postgres. All methods honor context cancellation; every call is a
// suspension point from the engine's perspective.
type Backend interface {
	Find(ctx context.Context, spec Spec, f Filter, opts FindOptions) ([]RawDoc, error)
	Insert(ctx context.Context, spec Spec, doc RawDoc) error
	Upsert(ctx context.Context, spec Spec, doc RawDoc) (RawDoc, error)
	BulkWrite(ctx context.Context, spec Spec, ops []RawOp) (BulkSummary, error)
	Count(ctx context.Context, spec Spec, f Filter) (int64, error)
	Delete(ctx context.Context, spec Spec, f Filter) (int64, error)
	Close() error
}

// Collection is the typed view over one backend collection.
type Collection[T Doc] struct {
	backend Backend
	spec    Spec
}

// NewCollection binds a record type to a named collection on a backend.
func NewCollection[T Doc](b Backend, spec Spec) Collection[T] {
	return Collection[T]{backend: b, spec: spec}
}

// Name returns the collection name.
func (c Collection[T]) Name() string { return c.spec.Name }

// Find returns all matching records in the requested order.
func (c Collection[T]) Find(ctx context.Context, f Filter, opts FindOptions) ([]T, error) {
	if err := validateFilter(f); err != nil {
		return nil, err
	}
	raws, err := c.backend.Find(ctx, c.spec, f, opts)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		data := raw.Data
		if len(opts.Fields) > 0 {
			data, err = projectFields(data, opts.Fields)
			if err != nil {
				return nil, fmt.Errorf("%s: project: %w", c.spec.Name, err)
			}
		}
		var rec T
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("%s: decode: %w", c.spec.Name, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// FindOne returns the first matching record in the requested order, or nil
// when nothing matches.
func (c Collection[T]) FindOne(ctx context.Context, f Filter, opts FindOptions) (*T, error) {
	opts.Limit = 1
	recs, err := c.Find(ctx, f, opts)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// Insert stores a new record; ErrDuplicateKey when the unique key exists.
func (c Collection[T]) Insert(ctx context.Context, rec T) error {
	raw, err := encodeDoc(rec)
	if err != nil {
		return fmt.Errorf("%s: encode: %w", c.spec.Name, err)
	}
	return c.backend.Insert(ctx, c.spec, raw)
}

// Upsert replaces the record matching rec's unique key, inserting when
// absent, and returns the stored record. This is the full-document
// findOneAndUpdate-with-upsert of the store contract.
func (c Collection[T]) Upsert(ctx context.Context, rec T) (T, error) {
	var zero T
	raw, err := encodeDoc(rec)
	if err != nil {
		return zero, fmt.Errorf("%s: encode: %w", c.spec.Name, err)
	}
	stored, err := c.backend.Upsert(ctx, c.spec, raw)
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(stored.Data, &out); err != nil {
		return zero, fmt.Errorf("%s: decode: %w", c.spec.Name, err)
	}
	return out, nil
}

// BulkWrite applies ordered operations; kinds may mix.
func (c Collection[T]) BulkWrite(ctx context.Context, ops []Op[T]) (BulkSummary, error) {
	raws := make([]RawOp, 0, len(ops))
	for i, op := range ops {
		rawOp := RawOp{Kind: op.Kind, Filter: op.Filter}
		if op.Kind != OpDelete {
			raw, err := encodeDoc(op.Doc)
			if err != nil {
				return BulkSummary{}, fmt.Errorf("%s: encode op %d: %w", c.spec.Name, i, err)
			}
			rawOp.Doc = raw
		}
		raws = append(raws, rawOp)
	}
	return c.backend.BulkWrite(ctx, c.spec, raws)
}

// Count returns the number of matching records.
func (c Collection[T]) Count(ctx context.Context, f Filter) (int64, error) {
	if err := validateFilter(f); err != nil {
		return 0, err
	}
	return c.backend.Count(ctx, c.spec, f)
}

// Delete removes all matching records and returns how many went away.
func (c Collection[T]) Delete(ctx context.Context, f Filter) (int64, error) {
	if err := validateFilter(f); err != nil {
		return 0, err
	}
	return c.backend.Delete(ctx, c.spec, f)
}

// Op is a typed bulk-write entry.
type Op[T Doc] struct {
	Kind   OpKind
	Doc    T
	Filter Filter
}

func encodeDoc[T Doc](rec T) (RawDoc, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return RawDoc{}, err
	}
	return RawDoc{Keys: rec.DocKeys(), Data: data}, nil
}

func validateFilter(f Filter) error {
	if f.ContestID <= 0 {
		return fmt.Errorf("store: filter requires a positive contestId, got %d", f.ContestID)
	}
	return nil
}

// uniqueKey returns the string that identifies a document within its
// (collection, contest) bucket under the collection's KeySpec.
func uniqueKey(spec Spec, k Keys) string {
	switch spec.Key {
	case KeySKey:
		return "s:" + k.SKey
	case KeyTKey:
		return fmt.Sprintf("t:%d", k.TKey)
	case KeyIKey:
		return fmt.Sprintf("i:%d", k.IKey)
	default:
		return "c"
	}
}

// matches reports whether keys satisfy the filter. Shared by the memory and
// file backends; the Postgres backend expresses the same predicate in SQL.
func matches(f Filter, k Keys) bool {
	if k.ContestID != f.ContestID {
		return false
	}
	if f.SKey != "" && k.SKey != f.SKey {
		return false
	}
	if f.TKeyEq != nil && k.TKey != *f.TKeyEq {
		return false
	}
	if f.TKeyMin != nil {
		if f.TKeyMinEx {
			if k.TKey <= *f.TKeyMin {
				return false
			}
		} else if k.TKey < *f.TKeyMin {
			return false
		}
	}
	if f.TKeyMax != nil {
		if f.TKeyMaxEx {
			if k.TKey >= *f.TKeyMax {
				return false
			}
		} else if k.TKey > *f.TKeyMax {
			return false
		}
	}
	return true
}

// sortDocs orders docs by (TKey, IKey, SKey), direction per opts, and
// applies the limit. Shared by the memory and file backends.
func sortDocs(docs []RawDoc, opts FindOptions) []RawDoc {
	less := func(a, b Keys) bool {
		if a.TKey != b.TKey {
			return a.TKey < b.TKey
		}
		if a.IKey != b.IKey {
			return a.IKey < b.IKey
		}
		return a.SKey < b.SKey
	}
	sort.SliceStable(docs, func(i, j int) bool {
		if opts.Sort == SortTKeyDesc {
			return less(docs[j].Keys, docs[i].Keys)
		}
		return less(docs[i].Keys, docs[j].Keys)
	})
	if opts.Limit > 0 && len(docs) > opts.Limit {
		docs = docs[:opts.Limit]
	}
	return docs
}

// projectFields keeps only the listed top-level JSON fields of a document.
func projectFields(data []byte, fields []string) ([]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	kept := make(map[string]json.RawMessage, len(fields))
	for _, name := range fields {
		if v, ok := obj[name]; ok {
			kept[name] = v
		}
	}
	return json.Marshal(kept)
}

// extractKeys recovers a document's key view from its JSON body using the
// collection's configured field names.
func extractKeys(spec Spec, data []byte) (Keys, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return Keys{}, err
	}
	var k Keys
	cidField := spec.CIDField
	if cidField == "" {
		cidField = "contestId"
	}
	if raw, ok := obj[cidField]; ok {
		if err := json.Unmarshal(raw, &k.ContestID); err != nil {
			return Keys{}, fmt.Errorf("%s: %w", cidField, err)
		}
	}
	if spec.SKeyField != "" {
		if raw, ok := obj[spec.SKeyField]; ok {
			if err := json.Unmarshal(raw, &k.SKey); err != nil {
				return Keys{}, fmt.Errorf("%s: %w", spec.SKeyField, err)
			}
		}
	}
	if spec.TKeyField != "" {
		if raw, ok := obj[spec.TKeyField]; ok {
			if err := json.Unmarshal(raw, &k.TKey); err != nil {
				return Keys{}, fmt.Errorf("%s: %w", spec.TKeyField, err)
			}
		}
	}
	if spec.IKeyField != "" {
		if raw, ok := obj[spec.IKeyField]; ok {
			if err := json.Unmarshal(raw, &k.IKey); err != nil {
				return Keys{}, fmt.Errorf("%s: %w", spec.IKeyField, err)
			}
		}
	}
	return k, nil
}
