package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sana-health/procsync/internal/procedure"
)

// Dir is a Catalog over a local directory of *.xml files, such as a
// removable card carrying procedures. The id of a procedure is its file
// name without the extension.
type Dir struct {
	root string
}

// NewDir returns a catalog over root.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

// Root returns the directory the catalog reads.
func (d *Dir) Root() string { return d.root }

// List implements Catalog.List. Files are listed in name order.
func (d *Dir) List(ctx context.Context) ([]procedure.Descriptor, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrRemoteUnavailable, d.root, err)
	}

	var out []procedure.Descriptor
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
		}
		if entry.IsDir() || !IsProcedureFile(entry.Name()) {
			continue
		}
		out = append(out, procedure.Descriptor{ID: strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Fetch implements Catalog.Fetch.
func (d *Dir) Fetch(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if id == "" || id != filepath.Base(id) || id == "." || id == ".." {
		return "", fmt.Errorf("%q: %w", id, ErrNotFound)
	}

	data, err := os.ReadFile(filepath.Join(d.root, id+".xml"))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%q: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	return string(data), nil
}

// IsProcedureFile reports whether name looks like a procedure definition
// file. Hidden and editor temp files are ignored.
func IsProcedureFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	return filepath.Ext(base) == ".xml"
}
