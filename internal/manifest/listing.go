package manifest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"PMCMirror/internal/domain"
)

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

type columns struct {
	path, updated, accession, pmid, license, retracted, size int
}

// ParseListing reads a delimited manifest listing with a header row.
// Any malformed data row, including one whose field count differs from the
// header's, fails the whole listing.
func ParseListing(r io.Reader, name, sourceSystem string) ([]domain.ManifestEntry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, csvError(name, err)
	}

	cols, err := locateColumns(header)
	if err != nil {
		return nil, &domain.ManifestParseError{Source: name, Line: 1, Reason: err.Error()}
	}

	var entries []domain.ManifestEntry
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, csvError(name, err)
		}
		line, _ := reader.FieldPos(0)
		if blank(row) {
			continue
		}

		if len(row) != len(header) {
			return nil, &domain.ManifestParseError{
				Source: name,
				Line:   line,
				Reason: fmt.Sprintf("row has %d fields, header has %d", len(row), len(header)),
			}
		}

		entry, err := parseRow(row, cols, sourceSystem)
		if err != nil {
			return nil, &domain.ManifestParseError{Source: name, Line: line, Reason: err.Error()}
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func locateColumns(header []string) (columns, error) {
	cols := columns{path: -1, updated: -1, accession: -1, pmid: -1, license: -1, retracted: -1, size: -1}
	for i, raw := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff")))
		switch {
		case name == "file path" || name == "file_path" || name == "file":
			cols.path = i
		case strings.HasPrefix(name, "last updated") || name == "last_updated":
			cols.updated = i
		case name == "accession id" || name == "accession_id" || name == "accession":
			cols.accession = i
		case name == "pmid":
			cols.pmid = i
		case name == "license" || name == "license type":
			cols.license = i
		case name == "retracted":
			cols.retracted = i
		case name == "size" || name == "byte size" || name == "byte_size":
			cols.size = i
		}
	}
	if cols.path < 0 {
		return cols, fmt.Errorf("header has no file path column")
	}
	if cols.updated < 0 {
		return cols, fmt.Errorf("header has no last updated column")
	}
	return cols, nil
}

func parseRow(row []string, cols columns, sourceSystem string) (domain.ManifestEntry, error) {
	field := func(i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	path := field(cols.path)
	if path == "" {
		return domain.ManifestEntry{}, fmt.Errorf("empty file path")
	}
	updated, err := parseTimestamp(field(cols.updated))
	if err != nil {
		return domain.ManifestEntry{}, err
	}

	retracted, err := parseFlag(field(cols.retracted))
	if err != nil {
		return domain.ManifestEntry{}, err
	}

	var size int64
	if v := field(cols.size); v != "" {
		size, err = strconv.ParseInt(v, 10, 64)
		if err != nil || size < 0 {
			return domain.ManifestEntry{}, fmt.Errorf("invalid size %q", v)
		}
	}

	system := sourceSystem
	if system == "" {
		system = SourceSystemOf(path)
	}

	return domain.ManifestEntry{
		FilePath:      path,
		SourceSystem:  system,
		LastUpdatedAt: updated,
		ByteSize:      size,
		AccessionID:   field(cols.accession),
		PMID:          field(cols.pmid),
		License:       field(cols.license),
		Retracted:     retracted,
	}, nil
}

// SourceSystemOf derives the collection name from the first path segment.
func SourceSystemOf(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i > 0 {
		return path[:i]
	}
	return "default"
}

func parseTimestamp(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, fmt.Errorf("empty last updated timestamp")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", v)
}

func parseFlag(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "yes", "y", "true", "1":
		return true, nil
	case "", "no", "n", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid retracted flag %q", v)
	}
}

func blank(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func csvError(name string, err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &domain.ManifestParseError{Source: name, Line: pe.Line, Reason: pe.Err.Error()}
	}
	return &domain.ManifestParseError{Source: name, Reason: err.Error()}
}
