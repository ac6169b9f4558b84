package domain

import "time"

// IngestionSource records which transport produced a capture.
type IngestionSource string

const (
	SourcePrimary  IngestionSource = "primary"
	SourceFailover IngestionSource = "failover"
)

// Payload is the fully read body of a fetched source file.
type Payload struct {
	Path   string
	Data   []byte
	Source IngestionSource
	// Transport is the concrete backend name ("s3", "ftp").
	Transport string
}

// ManifestMetadata is the manifest row carried alongside a Bronze capture.
type ManifestMetadata struct {
	AccessionID  string    `json:"accession_id,omitempty"`
	PMID         string    `json:"pmid,omitempty"`
	License      string    `json:"license,omitempty"`
	Retracted    bool      `json:"retracted"`
	LastUpdated  time.Time `json:"last_updated"`
	ByteSize     int64     `json:"byte_size,omitempty"`
	SourceSystem string    `json:"source_system"`
}

// RawCapture is an immutable Bronze row, keyed by (SourceFilePath, IngestionTimestamp).
type RawCapture struct {
	SourceFilePath     string
	IngestionTimestamp time.Time
	IngestionSource    IngestionSource
	RawPayload         []byte
	Manifest           ManifestMetadata
	RunID              string
}

// IngestionDate is the partition key of every layer.
func (c RawCapture) IngestionDate() time.Time {
	ts := c.IngestionTimestamp.UTC()
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
}

// MetadataFromEntry copies the manifest row into the form stored with a capture.
func MetadataFromEntry(e ManifestEntry) ManifestMetadata {
	return ManifestMetadata{
		AccessionID:  e.AccessionID,
		PMID:         e.PMID,
		License:      e.License,
		Retracted:    e.Retracted,
		LastUpdated:  e.LastUpdatedAt.UTC(),
		ByteSize:     e.ByteSize,
		SourceSystem: e.SourceSystem,
	}
}
