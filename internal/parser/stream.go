// Package parser turns raw JATS payloads into ParsedDocuments one article at a time.
package parser

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"golang.org/x/net/html/charset"

	"PMCMirror/internal/domain"
)

// Stream is a single forward pass over one XML payload. Like bufio.Scanner,
// call Next until it returns false, then check Err. The document returned by
// Document is only valid until the following call to Next.
type Stream struct {
	dec        *xml.Decoder
	source     string
	doc        *domain.ParsedDocument
	violations []domain.SchemaViolation
	err        error
	index      int
	done       bool

	// tree is the element tree behind doc; live counts materialized trees.
	tree *node
	live int
	peak int
}

// NewStream reads articles from r. source names the payload in violations and errors.
func NewStream(r io.Reader, source string) *Stream {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	dec.Entity = xml.HTMLEntity
	return &Stream{dec: dec, source: source}
}

// Next advances to the next article carrying a document id. Articles without
// one are recorded as violations and skipped.
func (s *Stream) Next() bool {
	s.release()
	if s.done {
		return false
	}

	for {
		tok, err := s.dec.Token()
		if err != nil {
			s.done = true
			if !errors.Is(err, io.EOF) {
				s.err = fmt.Errorf("parse %s: %w", s.source, err)
			}
			return false
		}

		start, ok := tok.(xml.StartElement)
		if !ok || localName(start.Name) != "article" {
			continue
		}

		tree, err := buildTree(s.dec, start)
		if err != nil {
			s.done = true
			s.err = fmt.Errorf("parse %s document #%d: %w", s.source, s.index, err)
			return false
		}
		s.live++
		if s.live > s.peak {
			s.peak = s.live
		}

		doc := extract(tree)
		doc.Index = s.index
		s.index++

		if doc.DocumentID == "" {
			s.violations = append(s.violations, domain.SchemaViolation{
				SourceFile: s.source,
				Index:      doc.Index,
				Reason:     "missing document id (article-id pub-id-type=pmc)",
			})
			s.live--
			continue
		}

		s.doc = &doc
		s.tree = tree
		return true
	}
}

// Document is the current article.
func (s *Stream) Document() *domain.ParsedDocument {
	return s.doc
}

// Violations returns the schema violations seen since the previous call.
func (s *Stream) Violations() []domain.SchemaViolation {
	out := s.violations
	s.violations = nil
	return out
}

// Err is the first non-EOF error that ended the stream.
func (s *Stream) Err() error {
	return s.err
}

// Live reports how many article trees the stream currently holds.
func (s *Stream) Live() int {
	return s.live
}

// Peak is the largest Live value observed over the stream's lifetime.
func (s *Stream) Peak() int {
	return s.peak
}

// Seen is the number of articles read so far, including dropped ones.
func (s *Stream) Seen() int {
	return s.index
}

func (s *Stream) release() {
	if s.tree != nil {
		s.tree = nil
		s.live--
	}
	s.doc = nil
}
