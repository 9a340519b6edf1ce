package store

import (
	"context"
	"fmt"
	"sync"
)

// Memory is the in-process backend used by fixtures and tests. Documents
// live in per-(collection, contest) buckets guarded by one RWMutex, which
// trivially satisfies the serializability contract.
type Memory struct {
	mu      sync.RWMutex
	buckets map[bucketID]map[string]RawDoc
}

type bucketID struct {
	collection string
	contestID  int64
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{buckets: make(map[bucketID]map[string]RawDoc)}
}

func (m *Memory) bucket(spec Spec, contestID int64, create bool) map[string]RawDoc {
	id := bucketID{collection: spec.Name, contestID: contestID}
	b, ok := m.buckets[id]
	if !ok && create {
		b = make(map[string]RawDoc)
		m.buckets[id] = b
	}
	return b
}

func (m *Memory) Find(ctx context.Context, spec Spec, f Filter, opts FindOptions) ([]RawDoc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []RawDoc
	for _, doc := range m.bucket(spec, f.ContestID, false) {
		if matches(f, doc.Keys) {
			out = append(out, cloneDoc(doc))
		}
	}
	return sortDocs(out, opts), nil
}

func (m *Memory) Insert(ctx context.Context, spec Spec, doc RawDoc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(spec, doc)
}

func (m *Memory) insertLocked(spec Spec, doc RawDoc) error {
	b := m.bucket(spec, doc.Keys.ContestID, true)
	key := uniqueKey(spec, doc.Keys)
	if _, exists := b[key]; exists {
		return fmt.Errorf("%s %s: %w", spec.Name, key, ErrDuplicateKey)
	}
	b[key] = cloneDoc(doc)
	return nil
}

func (m *Memory) Upsert(ctx context.Context, spec Spec, doc RawDoc) (RawDoc, error) {
	if err := ctx.Err(); err != nil {
		return RawDoc{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertLocked(spec, doc)
	return doc, nil
}

func (m *Memory) upsertLocked(spec Spec, doc RawDoc) {
	b := m.bucket(spec, doc.Keys.ContestID, true)
	b[uniqueKey(spec, doc.Keys)] = cloneDoc(doc)
}

func (m *Memory) BulkWrite(ctx context.Context, spec Spec, ops []RawOp) (BulkSummary, error) {
	var sum BulkSummary
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, op := range ops {
		switch op.Kind {
		case OpInsert:
			if err := m.insertLocked(spec, op.Doc); err != nil {
				return sum, fmt.Errorf("op %d: %w", i, err)
			}
			sum.Inserted++
		case OpUpsert:
			m.upsertLocked(spec, op.Doc)
			sum.Upserted++
		case OpDelete:
			if err := validateFilter(op.Filter); err != nil {
				return sum, fmt.Errorf("op %d: %w", i, err)
			}
			sum.Deleted += int(m.deleteLocked(spec, op.Filter))
		default:
			return sum, fmt.Errorf("op %d: unknown kind %d", i, op.Kind)
		}
	}
	return sum, nil
}

func (m *Memory) Count(ctx context.Context, spec Spec, f Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, doc := range m.bucket(spec, f.ContestID, false) {
		if matches(f, doc.Keys) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Delete(ctx context.Context, spec Spec, f Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(spec, f), nil
}

func (m *Memory) deleteLocked(spec Spec, f Filter) int64 {
	b := m.bucket(spec, f.ContestID, false)
	var n int64
	for key, doc := range b {
		if matches(f, doc.Keys) {
			delete(b, key)
			n++
		}
	}
	return n
}

func (m *Memory) Close() error { return nil }

func cloneDoc(doc RawDoc) RawDoc {
	cp := doc
	cp.Data = append([]byte(nil), doc.Data...)
	return cp
}
