// Package catalog lists and fetches procedure definitions from a source:
// a remote catalog service over HTTP or a local directory.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/sana-health/procsync/internal/procedure"
)

// Catalog errors. Match with errors.Is.
var (
	// ErrRemoteUnavailable is returned when the source cannot be reached,
	// answers with an unexpected status, or returns a malformed listing.
	ErrRemoteUnavailable = errors.New("remote catalog unavailable")

	// ErrNotFound is returned when the source has no procedure with the
	// requested id.
	ErrNotFound = errors.New("procedure not in catalog")
)

// Catalog is a source of procedure definitions.
type Catalog interface {
	// List returns every procedure the source offers. A failure means the
	// listing as a whole is unusable.
	List(ctx context.Context) ([]procedure.Descriptor, error)

	// Fetch returns the raw XML body of the procedure with the given id.
	Fetch(ctx context.Context, id string) (string, error)
}

// Listing is the JSON envelope of a catalog listing.
type Listing struct {
	Procedures []procedure.Descriptor `json:"procedures"`
}

// Validate reports a listing entry without an id.
func (l *Listing) Validate() error {
	for i, d := range l.Procedures {
		if d.ID == "" {
			return &EntryError{Index: i}
		}
	}
	return nil
}

// EntryError identifies a malformed listing entry.
type EntryError struct {
	Index int
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("listing entry %d has no id", e.Index)
}
