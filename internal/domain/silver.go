package domain

import (
	"fmt"
	"time"
)

// Unresolved is the explicit marker for values normalization could not resolve.
const Unresolved = "unresolved"

// DatePrecision is the finest component a canonical date carries.
type DatePrecision string

const (
	PrecisionDay        DatePrecision = "day"
	PrecisionMonth      DatePrecision = "month"
	PrecisionSeason     DatePrecision = "season"
	PrecisionYear       DatePrecision = "year"
	PrecisionUnresolved DatePrecision = "unresolved"
)

// CanonicalDate is a calendar date with an explicit precision tag.
type CanonicalDate struct {
	Year      int           `json:"year,omitempty"`
	Month     int           `json:"month,omitempty"`
	Day       int           `json:"day,omitempty"`
	Season    string        `json:"season,omitempty"`
	Precision DatePrecision `json:"precision"`
}

// Resolved reports whether the date carries at least a year.
func (d CanonicalDate) Resolved() bool {
	return d.Precision != "" && d.Precision != PrecisionUnresolved
}

// String renders the canonical form for the date's precision.
func (d CanonicalDate) String() string {
	switch d.Precision {
	case PrecisionDay:
		return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
	case PrecisionMonth:
		return fmt.Sprintf("%04d-%02d", d.Year, d.Month)
	case PrecisionSeason:
		return fmt.Sprintf("%04d-%s", d.Year, d.Season)
	case PrecisionYear:
		return fmt.Sprintf("%04d", d.Year)
	default:
		return Unresolved
	}
}

// ResolvedDate is a typed date after normalization, keeping its raw source.
type ResolvedDate struct {
	Type   string        `json:"type"`
	Format string        `json:"format,omitempty"`
	Raw    DateParts     `json:"raw"`
	Date   CanonicalDate `json:"date"`
}

// AffiliationRecord is a deduplicated institution within one document.
type AffiliationRecord struct {
	ID          string `json:"id"`
	Institution string `json:"institution"`
}

// SilverAuthor references affiliations by AffiliationRecord.ID.
type SilverAuthor struct {
	Name           string   `json:"name"`
	Surname        string   `json:"surname,omitempty"`
	GivenNames     string   `json:"given_names,omitempty"`
	AffiliationIDs []string `json:"affiliation_ids"`
	UnresolvedRefs []string `json:"unresolved_refs,omitempty"`
}

// Lineage ties a derived row to exactly one Bronze capture.
type Lineage struct {
	SourceFilePath     string          `json:"source_file_path"`
	IngestionTimestamp time.Time       `json:"ingestion_ts"`
	IngestionSource    IngestionSource `json:"ingestion_source"`
	RunID              string          `json:"run_id,omitempty"`
}

// SilverRecord is the normalized, persisted form of a document, upserted by DocumentID.
type SilverRecord struct {
	DocumentID       string              `json:"document_id"`
	PMID             string              `json:"pmid,omitempty"`
	DOI              string              `json:"doi,omitempty"`
	ArticleType      string              `json:"article_type"`
	JournalName      string              `json:"journal_name,omitempty"`
	Title            string              `json:"title,omitempty"`
	Abstract         string              `json:"abstract,omitempty"`
	BodySections     []Section           `json:"body_sections"`
	Dates            []ResolvedDate      `json:"dates"`
	Published        CanonicalDate       `json:"published"`
	Received         CanonicalDate       `json:"received"`
	Accepted         CanonicalDate       `json:"accepted"`
	Authors          []SilverAuthor      `json:"authors"`
	Affiliations     []AffiliationRecord `json:"affiliations"`
	Funding          []Funding           `json:"funding"`
	Keywords         []string            `json:"keywords"`
	LicenseID        string              `json:"license_id"`
	RetractionStatus RetractionStatus    `json:"retraction_status"`
	UnresolvedCount  int                 `json:"unresolved_count"`
	Lineage          Lineage             `json:"lineage"`
}
