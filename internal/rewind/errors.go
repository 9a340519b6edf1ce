// Purpose: Error families surfaced by the engine.
// Exports: InputError, DataError, StorageError.
// Role: Lets callers route failures (bad arguments vs. missing data vs.
// broken store) without parsing messages.
package rewind

import (
	"errors"
	"fmt"

	"github.com/contestops/rewind/internal/store"
)

// InputError reports caller-supplied arguments that violate the engine's
// contracts. No partial work has been done when one is returned.
type InputError struct {
	Tag     string
	Message string
}

func (e *InputError) Error() string { return e.Tag + ": " + e.Message }

func inputErrf(tag, format string, args ...any) error {
	return &InputError{Tag: tag, Message: fmt.Sprintf(format, args...)}
}

// DataError reports expected data that is missing: an unknown contest, an
// empty submission stream, a snapshot chain with no base.
type DataError struct {
	Tag     string
	Message string
}

func (e *DataError) Error() string { return e.Tag + ": " + e.Message }

func dataErrf(tag, format string, args ...any) error {
	return &DataError{Tag: tag, Message: fmt.Sprintf(format, args...)}
}

// StorageError wraps a failure of the underlying store. The engine never
// retries; the wrapped error stays reachable through errors.Is/As.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// IsSnapshotExists reports whether err is the unique-key conflict from
// re-creating a snapshot at a timestamp that already has one. The loser of
// a concurrent construction race sees exactly this.
func IsSnapshotExists(err error) bool {
	return errors.Is(err, store.ErrDuplicateKey)
}
