package procedure

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrParse matches every *ParseError with errors.Is.
var ErrParse = errors.New("procedure parse error")

// ParseCategory classifies a parse failure.
type ParseCategory string

const (
	// CategoryMalformed covers empty input, invalid XML and a wrong root element.
	CategoryMalformed ParseCategory = "malformed"
	// CategoryMissingAttribute covers required attributes that are absent or empty.
	CategoryMissingAttribute ParseCategory = "missing_attribute"
)

// ParseError describes why a procedure document could not be parsed.
type ParseError struct {
	Category ParseCategory
	// Path locates the offending node, e.g. "Procedure" or "Page[2]/Element[1]".
	Path string
	// Attr names the missing attribute for CategoryMissingAttribute.
	Attr string
	Err  error
}

func (e *ParseError) Error() string {
	switch {
	case e.Category == CategoryMissingAttribute:
		return fmt.Sprintf("procedure: %s: missing required attribute %q", e.Path, e.Attr)
	case e.Err != nil:
		return fmt.Sprintf("procedure: malformed document: %v", e.Err)
	default:
		return "procedure: malformed document"
	}
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is reports whether target is ErrParse.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

// Procedure is the structured form of a procedure document.
type Procedure struct {
	Title   string
	Author  string
	GUID    string
	Version string
	Pages   []Page
}

// Page is one screen of questions.
type Page struct {
	Elements []Element
}

// Element is a single question on a page.
type Element struct {
	Type     string
	ID       string
	Concept  string
	Question string
	Answer   string
	Choices  string
}

// Key returns the procedure's dedup key.
func (p *Procedure) Key() Key {
	return Key{Title: p.Title, Author: p.Author}
}

// ElementCount returns the total number of elements across all pages.
func (p *Procedure) ElementCount() int {
	n := 0
	for _, page := range p.Pages {
		n += len(page.Elements)
	}
	return n
}

type procedureXML struct {
	XMLName xml.Name  `xml:"Procedure"`
	Title   string    `xml:"title,attr"`
	Author  string    `xml:"author,attr"`
	UUID    string    `xml:"uuid,attr"`
	Version string    `xml:"version,attr"`
	Pages   []pageXML `xml:"Page"`
}

type pageXML struct {
	Elements []elementXML `xml:"Element"`
}

type elementXML struct {
	Type     string `xml:"type,attr"`
	ID       string `xml:"id,attr"`
	Concept  string `xml:"concept,attr"`
	Question string `xml:"question,attr"`
	Answer   string `xml:"answer,attr"`
	Choices  string `xml:"choices,attr"`
}

// Parse reads a procedure document and extracts its structured fields.
// The result is only returned when the whole document is valid; on failure
// the error is a *ParseError.
func Parse(body string) (*Procedure, error) {
	if strings.TrimSpace(body) == "" {
		return nil, &ParseError{Category: CategoryMalformed, Path: "Procedure", Err: errors.New("document is empty")}
	}

	dec := xml.NewDecoder(strings.NewReader(body))
	var doc procedureXML
	if err := dec.Decode(&doc); err != nil {
		return nil, &ParseError{Category: CategoryMalformed, Path: "Procedure", Err: err}
	}
	if err := drainTrailing(dec); err != nil {
		return nil, &ParseError{Category: CategoryMalformed, Path: "Procedure", Err: err}
	}

	if strings.TrimSpace(doc.Title) == "" {
		return nil, &ParseError{Category: CategoryMissingAttribute, Path: "Procedure", Attr: "title"}
	}

	p := &Procedure{
		Title:   doc.Title,
		Author:  doc.Author,
		GUID:    doc.UUID,
		Version: doc.Version,
		Pages:   make([]Page, 0, len(doc.Pages)),
	}

	for i, pg := range doc.Pages {
		page := Page{Elements: make([]Element, 0, len(pg.Elements))}
		for j, el := range pg.Elements {
			path := fmt.Sprintf("Page[%d]/Element[%d]", i+1, j+1)
			if el.Type == "" {
				return nil, &ParseError{Category: CategoryMissingAttribute, Path: path, Attr: "type"}
			}
			if el.ID == "" {
				return nil, &ParseError{Category: CategoryMissingAttribute, Path: path, Attr: "id"}
			}
			page.Elements = append(page.Elements, Element{
				Type:     el.Type,
				ID:       el.ID,
				Concept:  el.Concept,
				Question: el.Question,
				Answer:   el.Answer,
				Choices:  el.Choices,
			})
		}
		p.Pages = append(p.Pages, page)
	}

	return p, nil
}

// drainTrailing reads the rest of the document after the root element.
// Only whitespace, comments and processing instructions may follow it.
func drainTrailing(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.CharData:
			if len(strings.TrimSpace(string(t))) > 0 {
				return errors.New("unexpected text after root element")
			}
		case xml.Comment, xml.ProcInst:
		case xml.StartElement:
			return fmt.Errorf("unexpected element <%s> after root element", t.Name.Local)
		default:
			return errors.New("unexpected content after root element")
		}
	}
}
