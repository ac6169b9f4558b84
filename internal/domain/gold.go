package domain

import (
	"encoding/json"
	"time"
)

// GoldRow is the wide analytics row, a pure projection of one SilverRecord.
type GoldRow struct {
	DocumentID         string    `json:"document_id"`
	PMID               string    `json:"pmid,omitempty"`
	DOI                string    `json:"doi,omitempty"`
	Title              string    `json:"title,omitempty"`
	Abstract           string    `json:"abstract,omitempty"`
	JournalName        string    `json:"journal_name,omitempty"`
	ArticleType        string    `json:"article_type"`
	PubYear            int       `json:"pub_year,omitempty"`
	PubDate            string    `json:"pub_date"`
	PubDatePrecision   string    `json:"pub_date_precision"`
	AuthorsDisplay     string    `json:"authors_display"`
	AffiliationsText   []string  `json:"affiliations_text"`
	GrantIDs           []string  `json:"grant_ids"`
	AgencyNames        []string  `json:"agency_names"`
	Keywords           []string  `json:"keywords"`
	LicenseID          string    `json:"license_id"`
	IsCommercialSafe   bool      `json:"is_commercial_safe"`
	IsRetracted        bool      `json:"is_retracted"`
	SourceFilePath     string    `json:"source_file_path"`
	IngestionTimestamp time.Time `json:"ingestion_ts"`
}

// Encode renders the row deterministically.
func (g GoldRow) Encode() ([]byte, error) {
	return json.Marshal(g)
}
