package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"
)

var (
	// ErrLockBusy reports that another process holds the collection lock.
	ErrLockBusy = errors.New("lock busy")
	// ErrLockTimeout reports that the lock did not free up in time.
	ErrLockTimeout = errors.New("lock timeout")
)

// DefaultLockTimeout bounds how long file operations wait on a lock.
const DefaultLockTimeout = 30 * time.Second

// FileStore keeps each (collection, contest) pair as one human-readable
// JSON array at <dir>/<contestId>/<collection>.json. Every operation runs
// under a flock on the sibling <collection>.lock file: shared for reads,
// exclusive for the whole read-modify-write cycle, so concurrent processes
// never interleave within one collection file. Rewrites go through a temp
// file and rename.
//
// Meant for small-to-medium contests and tests; Postgres carries the rest.
type FileStore struct {
	dir         string
	lockTimeout time.Duration
}

// NewFileStore opens a file backend rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("store: file backend requires a data directory")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}
	return &FileStore{dir: dir, lockTimeout: DefaultLockTimeout}, nil
}

// SetLockTimeout overrides the lock wait bound. Zero restores the default.
func (s *FileStore) SetLockTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultLockTimeout
	}
	s.lockTimeout = d
}

func (s *FileStore) contestDir(contestID int64) string {
	return filepath.Join(s.dir, strconv.FormatInt(contestID, 10))
}

func (s *FileStore) docsPath(spec Spec, contestID int64) string {
	return filepath.Join(s.contestDir(contestID), spec.Name+".json")
}

func (s *FileStore) lockPath(spec Spec, contestID int64) string {
	return filepath.Join(s.contestDir(contestID), spec.Name+".lock")
}

func (s *FileStore) Find(ctx context.Context, spec Spec, f Filter, opts FindOptions) ([]RawDoc, error) {
	var out []RawDoc
	err := s.withLock(ctx, spec, f.ContestID, syscall.LOCK_SH, func() error {
		docs, err := s.readDocs(spec, f.ContestID)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if matches(f, doc.Keys) {
				out = append(out, doc)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sortDocs(out, opts), nil
}

func (s *FileStore) Insert(ctx context.Context, spec Spec, doc RawDoc) error {
	return s.withLock(ctx, spec, doc.Keys.ContestID, syscall.LOCK_EX, func() error {
		docs, err := s.readDocs(spec, doc.Keys.ContestID)
		if err != nil {
			return err
		}
		docs, err = insertDoc(spec, docs, doc)
		if err != nil {
			return err
		}
		return s.writeDocs(spec, doc.Keys.ContestID, docs)
	})
}

func (s *FileStore) Upsert(ctx context.Context, spec Spec, doc RawDoc) (RawDoc, error) {
	err := s.withLock(ctx, spec, doc.Keys.ContestID, syscall.LOCK_EX, func() error {
		docs, err := s.readDocs(spec, doc.Keys.ContestID)
		if err != nil {
			return err
		}
		return s.writeDocs(spec, doc.Keys.ContestID, upsertDoc(spec, docs, doc))
	})
	if err != nil {
		return RawDoc{}, err
	}
	return doc, nil
}

func (s *FileStore) BulkWrite(ctx context.Context, spec Spec, ops []RawOp) (BulkSummary, error) {
	var sum BulkSummary
	if len(ops) == 0 {
		return sum, nil
	}
	contestID, err := bulkContestID(ops)
	if err != nil {
		return sum, err
	}
	err = s.withLock(ctx, spec, contestID, syscall.LOCK_EX, func() error {
		docs, err := s.readDocs(spec, contestID)
		if err != nil {
			return err
		}
		for i, op := range ops {
			switch op.Kind {
			case OpInsert:
				docs, err = insertDoc(spec, docs, op.Doc)
				if err != nil {
					// Persist the prefix that already applied; ordered
					// writes stop at the first failure.
					if werr := s.writeDocs(spec, contestID, docs); werr != nil {
						return werr
					}
					return fmt.Errorf("op %d: %w", i, err)
				}
				sum.Inserted++
			case OpUpsert:
				docs = upsertDoc(spec, docs, op.Doc)
				sum.Upserted++
			case OpDelete:
				if err := validateFilter(op.Filter); err != nil {
					return fmt.Errorf("op %d: %w", i, err)
				}
				var removed int
				docs, removed = deleteDocs(docs, op.Filter)
				sum.Deleted += removed
			default:
				return fmt.Errorf("op %d: unknown kind %d", i, op.Kind)
			}
		}
		return s.writeDocs(spec, contestID, docs)
	})
	return sum, err
}

func (s *FileStore) Count(ctx context.Context, spec Spec, f Filter) (int64, error) {
	var n int64
	err := s.withLock(ctx, spec, f.ContestID, syscall.LOCK_SH, func() error {
		docs, err := s.readDocs(spec, f.ContestID)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if matches(f, doc.Keys) {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (s *FileStore) Delete(ctx context.Context, spec Spec, f Filter) (int64, error) {
	var removed int
	err := s.withLock(ctx, spec, f.ContestID, syscall.LOCK_EX, func() error {
		docs, err := s.readDocs(spec, f.ContestID)
		if err != nil {
			return err
		}
		docs, removed = deleteDocs(docs, f)
		return s.writeDocs(spec, f.ContestID, docs)
	})
	return int64(removed), err
}

func (s *FileStore) Close() error { return nil }

// withLock runs fn while holding a flock of the given type on the
// collection's lock file. Acquisition retries until the lock frees up, the
// timeout elapses or ctx is canceled.
func (s *FileStore) withLock(ctx context.Context, spec Spec, contestID int64, lockType int, fn func() error) error {
	if contestID <= 0 {
		return fmt.Errorf("store: file backend requires a positive contestId, got %d", contestID)
	}
	if err := os.MkdirAll(s.contestDir(contestID), 0755); err != nil {
		return err
	}
	path := s.lockPath(spec, contestID)
	if err := ensureFileExists(path, 0644); err != nil {
		return err
	}
	fd, err := syscall.Open(path, syscall.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer syscall.Close(fd)

	deadline := time.Now().Add(s.lockTimeout)
	for {
		err := syscall.Flock(fd, lockType|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) && !errors.Is(err, syscall.EAGAIN) {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s: %w", path, ErrLockTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	defer func() {
		_ = syscall.Flock(fd, syscall.LOCK_UN)
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn()
}

// readDocs loads the collection file, tolerating a missing or empty file.
func (s *FileStore) readDocs(spec Spec, contestID int64) ([]RawDoc, error) {
	path := s.docsPath(spec, contestID)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var bodies []json.RawMessage
	if err := json.Unmarshal(data, &bodies); err != nil {
		return nil, fmt.Errorf("%s: corrupt collection file: %w", path, err)
	}
	docs := make([]RawDoc, 0, len(bodies))
	for i, body := range bodies {
		keys, err := extractKeys(spec, body)
		if err != nil {
			return nil, fmt.Errorf("%s: doc %d: %w", path, i, err)
		}
		docs = append(docs, RawDoc{Keys: keys, Data: body})
	}
	return docs, nil
}

// writeDocs rewrites the collection file through a temp file and rename.
// Docs are stored in unique-key order so files diff cleanly.
func (s *FileStore) writeDocs(spec Spec, contestID int64, docs []RawDoc) error {
	path := s.docsPath(spec, contestID)
	docs = sortDocs(docs, FindOptions{})
	bodies := make([]json.RawMessage, 0, len(docs))
	for _, doc := range docs {
		bodies = append(bodies, doc.Data)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(bodies); err != nil {
		return err
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func insertDoc(spec Spec, docs []RawDoc, doc RawDoc) ([]RawDoc, error) {
	key := uniqueKey(spec, doc.Keys)
	for _, existing := range docs {
		if uniqueKey(spec, existing.Keys) == key {
			return docs, fmt.Errorf("%s %s: %w", spec.Name, key, ErrDuplicateKey)
		}
	}
	return append(docs, doc), nil
}

func upsertDoc(spec Spec, docs []RawDoc, doc RawDoc) []RawDoc {
	key := uniqueKey(spec, doc.Keys)
	for i, existing := range docs {
		if uniqueKey(spec, existing.Keys) == key {
			docs[i] = doc
			return docs
		}
	}
	return append(docs, doc)
}

func deleteDocs(docs []RawDoc, f Filter) ([]RawDoc, int) {
	kept := docs[:0]
	removed := 0
	for _, doc := range docs {
		if matches(f, doc.Keys) {
			removed++
			continue
		}
		kept = append(kept, doc)
	}
	return kept, removed
}

func bulkContestID(ops []RawOp) (int64, error) {
	var contestID int64
	for i, op := range ops {
		id := op.Doc.Keys.ContestID
		if op.Kind == OpDelete {
			id = op.Filter.ContestID
		}
		if id <= 0 {
			return 0, fmt.Errorf("op %d: missing contestId", i)
		}
		if contestID == 0 {
			contestID = id
		} else if contestID != id {
			return 0, fmt.Errorf("op %d: bulk write spans contests %d and %d", i, contestID, id)
		}
	}
	return contestID, nil
}

func ensureFileExists(path string, mode os.FileMode) error {
	info, err := os.Stat(path)
	if err == nil {
		if info.IsDir() {
			return fmt.Errorf("%s is a directory", path)
		}
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.WriteFile(path, []byte{}, mode); err != nil {
		return fmt.Errorf("cannot create %s: %w", path, err)
	}
	return nil
}
