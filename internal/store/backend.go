package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sana-health/procsync/internal/procedure"
)

// Common errors returned by the store.
//
//	if errors.Is(err, store.ErrNotFound) {
//	    // no such procedure
//	}
var (
	// ErrNotFound is returned when a referenced procedure does not exist.
	ErrNotFound = errors.New("procedure not found")

	// ErrStorage matches every *StorageError.
	ErrStorage = errors.New("storage error")

	// ErrInvalid is returned when a document fails validation before a write.
	ErrInvalid = errors.New("invalid procedure document")
)

// StorageError wraps a failure of the underlying persistence layer.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is reports whether target is ErrStorage.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Filter selects documents by field. Title is matched exactly and
// case-sensitively; Author is only matched when non-nil.
type Filter struct {
	Title  string
	Author *string
}

// ListFilter configures List.
type ListFilter struct {
	// ModifiedSince restricts results to documents modified at or after this time (zero = all)
	ModifiedSince time.Time
	// Limit restricts the number of results (0 = no limit)
	Limit int
	// Offset skips the first N results (for pagination)
	Offset int
}

// Backend is the persistence layer behind a Store. Implementations store
// documents as given; timestamps, defaults and notifications are the
// Store's job.
type Backend interface {
	// InitSchema creates tables and indexes if they do not exist.
	InitSchema(ctx context.Context) error

	// Insert writes a new row and returns its reference.
	Insert(ctx context.Context, doc *procedure.Document) (int64, error)

	// Update overwrites the body, author and GUID (when non-empty) and the
	// modification time of an existing row. It reports whether the row existed.
	Update(ctx context.Context, id int64, doc *procedure.Document) (bool, error)

	// Get returns the row with the given reference or ErrNotFound.
	Get(ctx context.Context, id int64) (*procedure.Document, error)

	// GetByGUID returns the first row carrying guid or ErrNotFound.
	GetByGUID(ctx context.Context, guid string) (*procedure.Document, error)

	// FindFirst returns the lowest-referenced row matching f or ErrNotFound.
	FindFirst(ctx context.Context, f Filter) (*procedure.Document, error)

	// List returns rows ordered by modification time, newest first.
	List(ctx context.Context, f ListFilter) ([]*procedure.Document, error)

	// Delete removes a row and reports whether it existed.
	Delete(ctx context.Context, id int64) (bool, error)

	// Clear removes every row and returns how many were removed.
	Clear(ctx context.Context) (int64, error)

	// Count returns the number of stored rows.
	Count(ctx context.Context) (int, error)

	Close() error
}

// KeyLocker is implemented by backends shared between processes. LockKey
// blocks until no other holder has key and returns the release function.
type KeyLocker interface {
	LockKey(ctx context.Context, key string) (unlock func(), err error)
}
