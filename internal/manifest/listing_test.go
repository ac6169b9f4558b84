package manifest

import (
	"errors"
	"strings"
	"testing"
	"time"

	"PMCMirror/internal/domain"
)

const validListing = "\ufeffFile Path,Accession ID,Last Updated (UTC),PMID,License,Retracted\n" +
	"oa_comm/xml/PMC1.xml,PMC1,2024-01-01 10:00:00,1001,CC BY,no\n" +
	"oa_comm/xml/PMC2.xml,PMC2,2024-01-02 10:00:00,1002,CC0,yes\n" +
	"\n" +
	"oa_comm/xml/PMC3.xml,PMC3,2024-01-03T10:00:00Z,,CC BY-NC,no\n"

func TestParseListing(t *testing.T) {
	t.Parallel()

	entries, err := ParseListing(strings.NewReader(validListing), "oa_comm.filelist.csv", "")
	if err != nil {
		t.Fatalf("ParseListing: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	first := entries[0]
	if first.FilePath != "oa_comm/xml/PMC1.xml" || first.AccessionID != "PMC1" || first.PMID != "1001" {
		t.Fatalf("unexpected first entry: %+v", first)
	}
	if first.SourceSystem != "oa_comm" {
		t.Fatalf("expected derived source system oa_comm, got %s", first.SourceSystem)
	}
	if !first.LastUpdatedAt.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp: %v", first.LastUpdatedAt)
	}
	if !entries[1].Retracted || entries[0].Retracted {
		t.Fatalf("retracted flags not parsed: %+v", entries)
	}
	if entries[2].PMID != "" {
		t.Fatalf("expected empty pmid, got %q", entries[2].PMID)
	}
}

func TestParseListingExplicitSourceSystemAndMinimalColumns(t *testing.T) {
	t.Parallel()

	raw := "file_path,last_updated,size\nbulk/a.tar.gz,2024-02-01,1024\n"
	entries, err := ParseListing(strings.NewReader(raw), "bulk", "oa_bulk")
	if err != nil {
		t.Fatalf("ParseListing: %v", err)
	}
	if len(entries) != 1 || entries[0].SourceSystem != "oa_bulk" || entries[0].ByteSize != 1024 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestParseListingMalformedRows(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		raw  string
		line int
	}{
		"bad timestamp":   {raw: "File Path,Last Updated (UTC)\na.xml,yesterday\n", line: 2},
		"empty path":      {raw: "File Path,Last Updated (UTC)\n,2024-01-01 00:00:00\n", line: 2},
		"short row":       {raw: "File Path,Accession ID,Last Updated (UTC)\na.xml,PMC1\n", line: 2},
		"bad flag":        {raw: "File Path,Last Updated (UTC),Retracted\na.xml,2024-01-01,maybe\n", line: 2},
		"missing columns": {raw: "Name,When\na.xml,2024-01-01\n", line: 1},
		"negative size":   {raw: "File Path,Last Updated (UTC),Size\na.xml,2024-01-01,-4\n", line: 2},
		"truncated trailing columns": {
			raw:  "File Path,Accession ID,Last Updated (UTC),PMID,License,Retracted\n" +
				"oa/a.xml,PMC1,2024-01-01 00:00:00,1,CC BY,yes\n" +
				"oa/b.xml,PMC2,2024-01-02 00:00:00\n",
			line: 3,
		},
		"extra trailing column": {raw: "File Path,Last Updated (UTC)\na.xml,2024-01-01,yes\n", line: 2},
	}

	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseListing(strings.NewReader(tc.raw), "listing", "")
			var mpe *domain.ManifestParseError
			if !errors.As(err, &mpe) {
				t.Fatalf("expected ManifestParseError, got %v", err)
			}
			if mpe.Line != tc.line {
				t.Fatalf("expected line %d, got %d (%v)", tc.line, mpe.Line, err)
			}
		})
	}
}

func TestParseListingEmpty(t *testing.T) {
	t.Parallel()

	entries, err := ParseListing(strings.NewReader(""), "empty", "")
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected no entries and no error, got %v %v", entries, err)
	}
}

func TestSourceSystemOf(t *testing.T) {
	t.Parallel()

	if got := SourceSystemOf("/oa_noncomm/xml/PMC9.xml"); got != "oa_noncomm" {
		t.Fatalf("unexpected source system %s", got)
	}
	if got := SourceSystemOf("PMC9.xml"); got != "default" {
		t.Fatalf("unexpected source system %s", got)
	}
}
