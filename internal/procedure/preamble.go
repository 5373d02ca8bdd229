package procedure

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/beevik/etree"
)

// Marker is the literal every injectable procedure document starts with.
const Marker = "<Procedure title="

const rootTag = "Procedure"

//go:embed assets/findpatient.xml
var findPatientXML []byte

//go:embed assets/defaults/*.xml
var defaultsFS embed.FS

// Preamble holds the fixed pages injected at the start of every imported
// procedure. It is immutable once loaded and safe for concurrent use.
type Preamble struct {
	pages []*etree.Element
}

// DefaultPreamble returns the embedded "Find Patient" preamble.
func DefaultPreamble() (*Preamble, error) {
	return ParsePreamble(findPatientXML)
}

// LoadPreamble reads a preamble from path, or returns the embedded default
// when path is empty.
func LoadPreamble(path string) (*Preamble, error) {
	if path == "" {
		return DefaultPreamble()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read preamble %s: %w", path, err)
	}
	p, err := ParsePreamble(data)
	if err != nil {
		return nil, fmt.Errorf("invalid preamble %s: %w", path, err)
	}
	return p, nil
}

// ParsePreamble builds a Preamble from a complete procedure document; its
// pages (the root's child elements) become the injected fragment.
func ParsePreamble(data []byte) (*Preamble, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, &ParseError{Category: CategoryMalformed, Path: rootTag, Err: err}
	}
	root := doc.Root()
	if root == nil || root.Tag != rootTag {
		return nil, &ParseError{Category: CategoryMalformed, Path: rootTag, Err: errors.New("root element must be <Procedure>")}
	}

	children := root.ChildElements()
	if len(children) == 0 {
		return nil, fmt.Errorf("preamble has no pages")
	}

	pages := make([]*etree.Element, 0, len(children))
	for _, child := range children {
		pages = append(pages, child.Copy())
	}
	return &Preamble{pages: pages}, nil
}

// Len returns the number of pages in the preamble.
func (p *Preamble) Len() int {
	return len(p.pages)
}

// Fragment serializes the preamble pages.
func (p *Preamble) Fragment() (string, error) {
	doc := etree.NewDocument()
	for _, page := range p.pages {
		doc.AddChild(page.Copy())
	}
	s, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("serialize preamble: %w", err)
	}
	return s, nil
}

// Inject inserts the preamble pages as the first children of the document's
// root <Procedure> element.
//
// Bodies that do not start with Marker are returned unchanged. A body whose
// root already begins with the preamble pages is also returned unchanged,
// so the fragment is never present twice. A body that starts with Marker
// but is not well-formed yields a *ParseError.
func (p *Preamble) Inject(body string) (string, error) {
	if !strings.HasPrefix(body, Marker) {
		return body, nil
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromString(body); err != nil {
		return "", &ParseError{Category: CategoryMalformed, Path: rootTag, Err: err}
	}
	root := doc.Root()
	if root == nil || root.Tag != rootTag {
		return "", &ParseError{Category: CategoryMalformed, Path: rootTag, Err: errors.New("root element must be <Procedure>")}
	}

	if p.presentIn(root) {
		return body, nil
	}

	for i, page := range p.pages {
		root.InsertChildAt(i, page.Copy())
	}

	out, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("failed to serialize procedure: %w", err)
	}
	return out, nil
}

// presentIn reports whether root's leading child elements are the preamble pages.
func (p *Preamble) presentIn(root *etree.Element) bool {
	children := root.ChildElements()
	if len(children) < len(p.pages) {
		return false
	}
	for i, page := range p.pages {
		if !sameElement(children[i], page) {
			return false
		}
	}
	return true
}

func sameElement(a, b *etree.Element) bool {
	if a.Space != b.Space || a.Tag != b.Tag || len(a.Attr) != len(b.Attr) {
		return false
	}
	for i := range a.Attr {
		x, y := a.Attr[i], b.Attr[i]
		if x.Space != y.Space || x.Key != y.Key || x.Value != y.Value {
			return false
		}
	}
	if strings.TrimSpace(a.Text()) != strings.TrimSpace(b.Text()) {
		return false
	}
	ac, bc := a.ChildElements(), b.ChildElements()
	if len(ac) != len(bc) {
		return false
	}
	for i := range ac {
		if !sameElement(ac[i], bc[i]) {
			return false
		}
	}
	return true
}

// Source is a named procedure body shipped with the binary.
type Source struct {
	Name string
	Body string
}

// DefaultProcedures returns the bundled procedures in name order.
func DefaultProcedures() ([]Source, error) {
	entries, err := defaultsFS.ReadDir("assets/defaults")
	if err != nil {
		return nil, fmt.Errorf("failed to read bundled procedures: %w", err)
	}

	sources := make([]Source, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".xml") {
			continue
		}
		data, err := defaultsFS.ReadFile("assets/defaults/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read bundled procedure %s: %w", entry.Name(), err)
		}
		sources = append(sources, Source{
			Name: strings.TrimSuffix(entry.Name(), ".xml"),
			Body: string(data),
		})
	}
	return sources, nil
}
