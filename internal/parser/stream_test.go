package parser

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"PMCMirror/internal/domain"
)

func articleXML(id int) string {
	return fmt.Sprintf(`<article article-type="research-article">
  <front><article-meta>
    <article-id pub-id-type="pmc">PMC%d</article-id>
    <title-group><article-title>Title %d</article-title></title-group>
  </article-meta></front>
  <body><sec><title>Intro</title><p>Body of %d.</p></sec></body>
</article>`, id, id, id)
}

// articleStream serves an article set lazily so large streams are never held in memory.
type articleStream struct {
	k, next int
	buf     strings.Reader
	state   int
}

func newArticleStream(k int) *articleStream {
	s := &articleStream{k: k}
	s.buf.Reset(`<?xml version="1.0" encoding="UTF-8"?><pmc-articleset>`)
	return s
}

func (a *articleStream) Read(p []byte) (int, error) {
	for {
		n, err := a.buf.Read(p)
		if n > 0 {
			return n, nil
		}
		if err != io.EOF {
			return 0, err
		}
		switch {
		case a.next < a.k:
			a.next++
			a.buf.Reset(articleXML(a.next))
		case a.state == 0:
			a.state = 1
			a.buf.Reset(`</pmc-articleset>`)
		default:
			return 0, io.EOF
		}
	}
}

func TestStreamLiveDocumentsBounded(t *testing.T) {
	t.Parallel()

	for _, k := range []int{1, 100, 10000} {
		k := k
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			t.Parallel()

			s := NewStream(newArticleStream(k), "set.xml")
			count := 0
			for s.Next() {
				if s.Live() > 1 {
					t.Fatalf("live documents %d > 1", s.Live())
				}
				count++
				want := fmt.Sprintf("PMC%d", count)
				if got := s.Document().DocumentID; got != want {
					t.Fatalf("expected %s in stream order, got %s", want, got)
				}
			}
			if err := s.Err(); err != nil {
				t.Fatalf("Err: %v", err)
			}
			if count != k {
				t.Fatalf("expected %d documents, got %d", k, count)
			}
			if s.Live() != 0 || s.Document() != nil {
				t.Fatal("finished stream must release its document")
			}
			if s.Peak() != 1 {
				t.Fatalf("expected at most one materialized tree at a time, peak %d", s.Peak())
			}
		})
	}
}

func TestStreamReleasesDroppedTrees(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString(`<pmc-articleset>`)
	for i := 1; i <= 50; i++ {
		b.WriteString(articleXML(i))
		b.WriteString(`<article><front><article-meta></article-meta></front></article>`)
	}
	b.WriteString(`</pmc-articleset>`)

	s := NewStream(strings.NewReader(b.String()), "mixed.xml")
	yielded := 0
	for s.Next() {
		yielded++
		if s.Live() != 1 {
			t.Fatalf("expected the current tree only, live %d", s.Live())
		}
	}
	if err := s.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}
	if yielded != 50 || s.Seen() != 100 {
		t.Fatalf("unexpected counts yielded=%d seen=%d", yielded, s.Seen())
	}
	if s.Live() != 0 || s.Peak() != 1 {
		t.Fatalf("dropped trees must not accumulate: live=%d peak=%d", s.Live(), s.Peak())
	}
}

func TestStreamDropsDocumentsWithoutID(t *testing.T) {
	t.Parallel()

	raw := `<articles>` + articleXML(1) +
		`<article><front><article-meta><title-group><article-title>No id</article-title></title-group></article-meta></front></article>` +
		articleXML(3) + `</articles>`

	s := NewStream(strings.NewReader(raw), "drift.xml")
	var ids []string
	var violations []domain.SchemaViolation
	for s.Next() {
		ids = append(ids, s.Document().DocumentID)
		violations = append(violations, s.Violations()...)
	}
	violations = append(violations, s.Violations()...)

	if s.Err() != nil {
		t.Fatalf("Err: %v", s.Err())
	}
	if len(ids) != 2 || ids[0] != "PMC1" || ids[1] != "PMC3" {
		t.Fatalf("unexpected ids %v", ids)
	}
	if len(violations) != 1 || violations[0].Index != 1 || violations[0].SourceFile != "drift.xml" {
		t.Fatalf("unexpected violations %+v", violations)
	}
	if s.Seen() != 3 {
		t.Fatalf("expected 3 articles seen, got %d", s.Seen())
	}
}

func TestStreamMalformedXMLStopsAfterYieldedDocuments(t *testing.T) {
	t.Parallel()

	raw := `<pmc-articleset>` + articleXML(1) + `<article><front><article-meta></front></article>`
	s := NewStream(strings.NewReader(raw), "broken.xml")

	if !s.Next() || s.Document().DocumentID != "PMC1" {
		t.Fatal("expected first document before the error")
	}
	if s.Next() {
		t.Fatal("expected stream to end at malformed document")
	}
	if s.Err() == nil {
		t.Fatal("expected parse error")
	}
	if s.Next() {
		t.Fatal("stream is not restartable")
	}
}

func TestStreamNamespacedDialect(t *testing.T) {
	t.Parallel()

	raw := `<?xml version="1.0"?>
<!DOCTYPE article PUBLIC "-//NLM//DTD JATS (Z39.96) Journal Archiving and Interchange DTD v1.3 20210610//EN" "JATS-archivearticle1-3.dtd">
<j:article xmlns:j="http://jats.nlm.nih.gov" xmlns:xlink="http://www.w3.org/1999/xlink" article-type="review-article">
  <j:front>
    <j:journal-meta><j:journal-title-group><j:journal-title>Cell&nbsp;Reports</j:journal-title></j:journal-title-group></j:journal-meta>
    <j:article-meta>
      <j:article-id pub-id-type="pmcid">pmc42</j:article-id>
      <j:article-id pub-id-type="pmid">1234</j:article-id>
      <j:permissions><j:license xlink:href="https://creativecommons.org/licenses/by/4.0/"/></j:permissions>
    </j:article-meta>
  </j:front>
</j:article>`

	s := NewStream(strings.NewReader(raw), "ns.xml")
	if !s.Next() {
		t.Fatalf("expected a document, err=%v", s.Err())
	}
	doc := s.Document()
	if doc.DocumentID != "PMC42" || doc.PMID != "1234" || doc.ArticleType != "review-article" {
		t.Fatalf("unexpected identity %+v", doc)
	}
	if doc.JournalName != "Cell Reports" && doc.JournalName != "Cell Reports" {
		t.Fatalf("unexpected journal %q", doc.JournalName)
	}
	if doc.License != "https://creativecommons.org/licenses/by/4.0/" {
		t.Fatalf("unexpected license %q", doc.License)
	}
}

func TestStreamEmptyInput(t *testing.T) {
	t.Parallel()

	s := NewStream(strings.NewReader(""), "empty.xml")
	if s.Next() || s.Err() != nil {
		t.Fatalf("expected clean end, err=%v", s.Err())
	}
}

func TestStreamUnknownEntityIsAnError(t *testing.T) {
	t.Parallel()

	s := NewStream(strings.NewReader(`<article><front>&bogus;</front></article>`), "bad.xml")
	for s.Next() {
	}
	if s.Err() == nil {
		t.Fatal("expected error for undefined entity")
	}
}
