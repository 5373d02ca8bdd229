// Package bundle exports the procedure store to a JSONL file and restores
// it, one procedure per line.
//
// Restores go through the normal import path, so the preamble is applied
// and (title, author) dedup decides whether a line inserts or updates.
package bundle

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sana-health/procsync/internal/dedup"
	"github.com/sana-health/procsync/internal/ingest"
	"github.com/sana-health/procsync/internal/procedure"
	"github.com/sana-health/procsync/internal/store"
)

// Record is one line of a bundle.
type Record struct {
	GUID       string    `json:"guid"`
	Title      string    `json:"title"`
	Author     string    `json:"author,omitempty"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Lister reads procedures out of a store.
type Lister interface {
	List(ctx context.Context, f store.ListFilter) ([]*procedure.Document, error)
}

// Importer writes one procedure body through the import pipeline.
type Importer interface {
	ImportBody(ctx context.Context, id, body string) (*ingest.Item, error)
}

// RestoreOptions configures Restore.
type RestoreOptions struct {
	DryRun bool // Validate lines without writing
}

// RestoreResult contains statistics about a restore.
type RestoreResult struct {
	Read     int
	Inserted int
	Updated  int
	Errors   []string
}

func recordOf(d *procedure.Document) *Record {
	return &Record{
		GUID:       d.GUID,
		Title:      d.Title,
		Author:     d.Author,
		Body:       d.Body,
		CreatedAt:  d.CreatedAt,
		ModifiedAt: d.ModifiedAt,
	}
}

// Export writes every procedure matching f to w and returns how many were
// written.
func Export(ctx context.Context, w io.Writer, l Lister, f store.ListFilter) (int, error) {
	docs, err := l.List(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("failed to list procedures: %w", err)
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for _, d := range docs {
		if err := enc.Encode(recordOf(d)); err != nil {
			return 0, fmt.Errorf("failed to encode procedure %d: %w", d.ID, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("failed to write bundle: %w", err)
	}
	return len(docs), nil
}

// ExportFile writes a bundle to path, replacing it atomically.
func ExportFile(ctx context.Context, path string, l Lister, f store.ListFilter) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create bundle directory: %w", err)
	}

	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	n, err := Export(ctx, file, l, f)
	if cerr := file.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close temp file: %w", cerr)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return n, nil
}

// Read decodes a bundle stream.
func Read(r io.Reader) ([]*Record, error) {
	var records []*Record
	decoder := json.NewDecoder(r)
	lineNum := 0

	for {
		var rec Record
		if err := decoder.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at record %d: %w", lineNum+1, err)
		}
		lineNum++
		records = append(records, &rec)
	}
	return records, nil
}

// ReadFile decodes the bundle at path.
func ReadFile(path string) ([]*Record, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bundle: %w", err)
	}
	defer file.Close()
	return Read(file)
}

// Restore imports records through imp. A record that fails is reported in
// the result and does not stop the restore; only a canceled ctx does.
func Restore(ctx context.Context, imp Importer, records []*Record, opts RestoreOptions) (*RestoreResult, error) {
	result := &RestoreResult{}

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Read++

		id := rec.GUID
		if id == "" {
			id = fmt.Sprintf("record-%d", i+1)
		}

		if opts.DryRun {
			if _, err := procedure.Parse(rec.Body); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", id, err))
			}
			continue
		}

		item, err := imp.ImportBody(ctx, id, rec.Body)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		switch item.Action {
		case dedup.UpdateExisting:
			result.Updated++
		default:
			result.Inserted++
		}
	}
	return result, nil
}
