package procedure

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxTitleLength bounds the stored procedure title.
const MaxTitleLength = 500

// Descriptor identifies a procedure a catalog offers for import.
// Only ID is required; Title and Author are informational and are
// replaced by the parsed values once the document is fetched.
type Descriptor struct {
	ID     string `json:"id"`
	Title  string `json:"title,omitempty"`
	Author string `json:"author,omitempty"`
}

// Key is the natural dedup key of a procedure.
type Key struct {
	Title  string
	Author string
}

// String returns a readable form of the key for logs.
func (k Key) String() string {
	return fmt.Sprintf("%q by %q", k.Title, k.Author)
}

// Document is the persisted unit: one procedure definition in the local store.
type Document struct {
	// ===== Identification =====
	ID   int64  `json:"id"`   // local store reference, assigned on insert
	GUID string `json:"guid"` // globally unique identifier carried by the document

	// ===== Content =====
	Title  string `json:"title"`
	Author string `json:"author"`
	Body   string `json:"body"` // full XML, preamble included

	// ===== Timestamps =====
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Key returns the document's dedup key.
func (d *Document) Key() Key {
	return Key{Title: d.Title, Author: d.Author}
}

// Validate checks that the document can be written to the store.
func (d *Document) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if len(d.Title) > MaxTitleLength {
		return fmt.Errorf("title must be %d characters or less (got %d)", MaxTitleLength, len(d.Title))
	}
	if d.Body == "" {
		return fmt.Errorf("body is required")
	}
	return nil
}

// SetDefaults fills optional fields that were left empty.
func (d *Document) SetDefaults() {
	if d.GUID == "" {
		d.GUID = uuid.NewString()
	}
}

// NewDocument builds a storable document from a parsed procedure and the
// transformed body it was parsed from.
func NewDocument(p *Procedure, body string) *Document {
	return &Document{
		GUID:   p.GUID,
		Title:  p.Title,
		Author: p.Author,
		Body:   body,
	}
}
