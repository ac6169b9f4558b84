// Package gold projects SilverRecords onto the wide analytics row.
package gold

import (
	"strings"

	"PMCMirror/internal/domain"
)

// Flattener is a pure SilverRecord to GoldRow projection.
type Flattener struct {
	commercialSafe map[string]bool
}

// NewFlattener builds the commercial-use allow-list. Identifiers are
// normalized the same way record licenses are, so "CC BY 4.0" matches "CC-BY".
func NewFlattener(commercialLicenses []string) *Flattener {
	allow := make(map[string]bool, len(commercialLicenses))
	for _, l := range commercialLicenses {
		if id := domain.NormalizeLicense(l); id != "" {
			allow[id] = true
		}
	}
	return &Flattener{commercialSafe: allow}
}

// Flatten projects rec. Arrays keep source order and duplicates.
func (f *Flattener) Flatten(rec domain.SilverRecord) domain.GoldRow {
	row := domain.GoldRow{
		DocumentID:         rec.DocumentID,
		PMID:               rec.PMID,
		DOI:                rec.DOI,
		Title:              rec.Title,
		Abstract:           rec.Abstract,
		JournalName:        rec.JournalName,
		ArticleType:        rec.ArticleType,
		PubDate:            rec.Published.String(),
		PubDatePrecision:   string(precisionOf(rec.Published)),
		AffiliationsText:   make([]string, 0, len(rec.Affiliations)),
		GrantIDs:           []string{},
		AgencyNames:        []string{},
		Keywords:           append([]string{}, rec.Keywords...),
		LicenseID:          rec.LicenseID,
		IsCommercialSafe:   f.IsCommercialSafe(rec.LicenseID),
		IsRetracted:        rec.RetractionStatus == domain.RetractionRetracted,
		SourceFilePath:     rec.Lineage.SourceFilePath,
		IngestionTimestamp: rec.Lineage.IngestionTimestamp,
	}
	if rec.Published.Resolved() {
		row.PubYear = rec.Published.Year
	}

	names := make([]string, 0, len(rec.Authors))
	for _, a := range rec.Authors {
		if a.Name != "" {
			names = append(names, a.Name)
		}
	}
	row.AuthorsDisplay = strings.Join(names, "; ")

	for _, aff := range rec.Affiliations {
		row.AffiliationsText = append(row.AffiliationsText, aff.Institution)
	}
	for _, fund := range rec.Funding {
		if fund.GrantID != "" {
			row.GrantIDs = append(row.GrantIDs, fund.GrantID)
		}
		if fund.Agency != "" {
			row.AgencyNames = append(row.AgencyNames, fund.Agency)
		}
	}
	return row
}

// IsCommercialSafe fails closed: unknown and unresolved licenses are not safe.
func (f *Flattener) IsCommercialSafe(licenseID string) bool {
	if licenseID == "" || licenseID == domain.Unresolved {
		return false
	}
	return f.commercialSafe[domain.NormalizeLicense(licenseID)]
}

func precisionOf(d domain.CanonicalDate) domain.DatePrecision {
	if d.Precision == "" {
		return domain.PrecisionUnresolved
	}
	return d.Precision
}
