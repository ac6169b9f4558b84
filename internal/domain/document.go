package domain

import "strings"

// RetractionStatus is the retraction state carried from parse through Gold.
type RetractionStatus string

const (
	RetractionNone RetractionStatus = "none"
	// RetractionRetracted marks a document that has itself been retracted.
	RetractionRetracted RetractionStatus = "retracted"
	// RetractionNotice marks a document that is a retraction notice for another article.
	RetractionNotice RetractionStatus = "retraction_notice"
)

// SourceScheme identifies the funding encoding a funding entry was read from.
type SourceScheme string

const (
	SchemeModern SourceScheme = "modern"
	SchemeLegacy SourceScheme = "legacy"
)

// DateParts are the raw components of one date element, as found in the XML.
type DateParts struct {
	Year   string `json:"year,omitempty"`
	Month  string `json:"month,omitempty"`
	Day    string `json:"day,omitempty"`
	Season string `json:"season,omitempty"`
	// ISO holds the iso-8601-date attribute when the dialect provides one.
	ISO string `json:"iso,omitempty"`
	// Text holds a free-form string-date.
	Text string `json:"text,omitempty"`
}

// IsZero reports whether no component was present.
func (p DateParts) IsZero() bool {
	return p == DateParts{}
}

// PublicationDate is one dated event of a document (epub, ppub, received, ...).
type PublicationDate struct {
	Type string
	// Format is the JATS 1.1+ publication-format attribute (electronic, print), if any.
	Format string
	Raw    DateParts
	// Resolved is filled by normalization; nil while the document is only parsed.
	Resolved *CanonicalDate
}

// Section is one top-level body section.
type Section struct {
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`
}

// Author is a contributor with raw references into the affiliation table.
type Author struct {
	Name            string
	Surname         string
	GivenNames      string
	AffiliationRefs []string
	// InlineAffiliations are aff elements nested directly in the contrib.
	InlineAffiliations []string
}

// Affiliation is one aff element keyed by its XML id.
type Affiliation struct {
	ID          string
	Institution string
}

// Funding is one funder/grant pair; either side may be empty.
type Funding struct {
	Agency       string       `json:"agency,omitempty"`
	GrantID      string       `json:"grant_id,omitempty"`
	SourceScheme SourceScheme `json:"source_scheme"`
}

// ParsedDocument is the transient in-memory form of one article.
type ParsedDocument struct {
	DocumentID       string
	PMID             string
	DOI              string
	ArticleType      string
	JournalName      string
	Title            string
	Abstract         string
	BodySections     []Section
	PublicationDates []PublicationDate
	Authors          []Author
	Affiliations     []Affiliation
	Funding          []Funding
	Keywords         []string
	License          string
	RetractionStatus RetractionStatus
	// Index is the zero-based position of the document in its source stream.
	Index int
}

// Affiliation returns the institution text for an XML id.
func (d *ParsedDocument) Affiliation(id string) (string, bool) {
	for _, aff := range d.Affiliations {
		if aff.ID == id {
			return aff.Institution, true
		}
	}
	return "", false
}

// CanonicalDocumentID normalizes PMC accession forms ("PMC123", "pmc123", "123") to "PMC123".
func CanonicalDocumentID(raw string) string {
	id := strings.TrimSpace(raw)
	if id == "" {
		return ""
	}
	if len(id) >= 3 && strings.EqualFold(id[:3], "PMC") {
		id = strings.TrimSpace(id[3:])
	}
	if id == "" {
		return ""
	}
	return "PMC" + id
}
