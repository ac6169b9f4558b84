// Package silver normalizes parsed documents into SilverRecords.
package silver

import (
	"strings"

	"PMCMirror/internal/domain"
)

// Stats reports what a transform could not resolve.
type Stats struct {
	Unresolved int
}

var articleTypes = map[string]string{
	"research-article": "RESEARCH",
	"review-article":   "REVIEW",
	"case-report":      "CASE_REPORT",
}

// publishedPriority orders publication date candidates; the first resolved match wins.
var publishedPriority = []struct {
	typ    string
	format string
}{
	{typ: "epub"},
	{typ: "ppub"},
	{typ: "pub", format: "electronic"},
	{typ: "pub", format: "print"},
	{typ: "pub"},
	{typ: "epub-ppub"},
	{typ: "pmc-release"},
	{typ: "collection"},
}

// Transformer turns one ParsedDocument plus the capture it came from into a
// SilverRecord. It is a pure function and never fails.
type Transformer struct{}

// New returns a Transformer.
func New() Transformer {
	return Transformer{}
}

// Transform normalizes doc. Anything it cannot resolve carries an explicit
// unresolved marker and is counted in Stats.
func (Transformer) Transform(doc *domain.ParsedDocument, capture domain.RawCapture) (domain.SilverRecord, Stats) {
	var stats Stats

	rec := domain.SilverRecord{
		DocumentID:   doc.DocumentID,
		PMID:         doc.PMID,
		DOI:          doc.DOI,
		ArticleType:  articleType(doc.ArticleType),
		JournalName:  doc.JournalName,
		Title:        doc.Title,
		Abstract:     doc.Abstract,
		BodySections: nonNilSections(doc.BodySections),
		Keywords:     nonNilStrings(doc.Keywords),
		Lineage: domain.Lineage{
			SourceFilePath:     capture.SourceFilePath,
			IngestionTimestamp: capture.IngestionTimestamp.UTC(),
			IngestionSource:    capture.IngestionSource,
			RunID:              capture.RunID,
		},
	}
	if rec.PMID == "" {
		rec.PMID = capture.Manifest.PMID
	}

	rec.Dates, rec.Published, rec.Received, rec.Accepted, stats.Unresolved = resolveDates(doc.PublicationDates)

	var unresolvedRefs int
	rec.Authors, rec.Affiliations, unresolvedRefs = ResolveAffiliations(doc)
	stats.Unresolved += unresolvedRefs

	var unknownFunding int
	rec.Funding, unknownFunding = UnifyFunding(doc.Funding)
	stats.Unresolved += unknownFunding

	rawLicense := capture.Manifest.License
	if rawLicense == "" {
		rawLicense = doc.License
	}
	rec.LicenseID = ResolveLicense(rawLicense)
	if rec.LicenseID == domain.Unresolved {
		stats.Unresolved++
	}

	rec.RetractionStatus = doc.RetractionStatus
	if rec.RetractionStatus == "" {
		rec.RetractionStatus = domain.RetractionNone
	}
	if capture.Manifest.Retracted {
		rec.RetractionStatus = domain.RetractionRetracted
	}

	rec.UnresolvedCount = stats.Unresolved
	return rec, stats
}

func articleType(raw string) string {
	if t, ok := articleTypes[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return t
	}
	return "OTHER"
}

// resolveDates normalizes every date and picks published, received and
// accepted. Present-but-unparseable dates and a missing publication date are counted.
func resolveDates(dates []domain.PublicationDate) (all []domain.ResolvedDate, published, received, accepted domain.CanonicalDate, unresolvedCount int) {
	all = make([]domain.ResolvedDate, 0, len(dates))
	for _, d := range dates {
		canonical := NormalizeDate(d.Raw)
		if !canonical.Resolved() {
			unresolvedCount++
		}
		all = append(all, domain.ResolvedDate{Type: d.Type, Format: d.Format, Raw: d.Raw, Date: canonical})
	}

	published = pickPublished(all)
	if !published.Resolved() {
		unresolvedCount++
	}
	received = pickType(all, "received")
	accepted = pickType(all, "accepted")
	return all, published, received, accepted, unresolvedCount
}

func pickPublished(all []domain.ResolvedDate) domain.CanonicalDate {
	for _, want := range publishedPriority {
		for _, d := range all {
			if d.Type == want.typ && (want.format == "" || d.Format == want.format) && d.Date.Resolved() {
				return d.Date
			}
		}
	}
	return unresolved()
}

func pickType(all []domain.ResolvedDate, typ string) domain.CanonicalDate {
	for _, d := range all {
		if d.Type == typ && d.Date.Resolved() {
			return d.Date
		}
	}
	return unresolved()
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return append([]string(nil), in...)
}

func nonNilSections(in []domain.Section) []domain.Section {
	if in == nil {
		return []domain.Section{}
	}
	return append([]domain.Section(nil), in...)
}
