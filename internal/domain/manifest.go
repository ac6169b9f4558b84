package domain

import "time"

// ManifestEntry is one row of a source listing. Immutable once read.
type ManifestEntry struct {
	FilePath      string
	SourceSystem  string
	LastUpdatedAt time.Time
	ByteSize      int64
	AccessionID   string
	PMID          string
	License       string
	Retracted     bool
}

// PlannedEntry is a manifest entry selected for this run together with the reason it was selected.
type PlannedEntry struct {
	Entry ManifestEntry
	// Stale is set when a newer Bronze capture of the same path already exists.
	Stale bool
	// Sweep marks entries at or below the mark that were re-queued to pick up a retraction.
	Sweep bool
}
