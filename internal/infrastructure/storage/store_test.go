package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"PMCMirror/internal/domain"
	"PMCMirror/internal/ports"
)

type inspectableStore interface {
	ports.LayerStore
	SilverRecord(ctx context.Context, documentID string) (domain.SilverRecord, error)
	GoldRow(ctx context.Context, documentID string) (domain.GoldRow, error)
}

func stores(t *testing.T) map[string]func(t *testing.T) inspectableStore {
	t.Helper()
	return map[string]func(t *testing.T) inspectableStore{
		"memory": func(t *testing.T) inspectableStore { return NewMemoryStore() },
		"duckdb": func(t *testing.T) inspectableStore {
			store, err := Open(context.Background(), "duckdb", "")
			if err != nil {
				t.Fatalf("open duckdb: %v", err)
			}
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}
}

func day(d int) time.Time {
	return time.Date(2024, 3, d, 12, 0, 0, 0, time.UTC)
}

func capture(path string, ingested, listed time.Time) domain.RawCapture {
	return domain.RawCapture{
		SourceFilePath:     path,
		IngestionTimestamp: ingested,
		IngestionSource:    domain.SourcePrimary,
		RawPayload:         []byte("<article/>"),
		RunID:              "run-1",
		Manifest: domain.ManifestMetadata{
			AccessionID:  "PMC1",
			License:      "CC BY",
			LastUpdated:  listed,
			SourceSystem: "oa_comm",
		},
	}
}

func TestBronzeAppendIsIdempotent(t *testing.T) {
	t.Parallel()

	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := open(t)

			c := capture("oa_comm/xml/PMC1.xml", day(10), day(1))
			for i := 0; i < 3; i++ {
				if err := store.Append(ctx, c); err != nil {
					t.Fatalf("Append: %v", err)
				}
			}
			if err := store.Append(ctx, capture("oa_comm/xml/PMC1.xml", day(11), day(5))); err != nil {
				t.Fatalf("Append: %v", err)
			}

			var got []domain.RawCapture
			if err := store.Captures(ctx, time.Time{}, func(c domain.RawCapture) error {
				got = append(got, c)
				return nil
			}); err != nil {
				t.Fatalf("Captures: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("expected 2 captures, got %d", len(got))
			}
			first := got[0]
			if !first.IngestionTimestamp.Equal(day(10)) || first.IngestionSource != domain.SourcePrimary {
				t.Fatalf("unexpected first capture %+v", first)
			}
			if string(first.RawPayload) != "<article/>" || first.RunID != "run-1" {
				t.Fatalf("payload or run id lost: %+v", first)
			}
			if first.Manifest.License != "CC BY" || !first.Manifest.LastUpdated.Equal(day(1)) {
				t.Fatalf("manifest metadata lost: %+v", first.Manifest)
			}

			latest, ok, err := store.LatestSourceTimestamp(ctx, "oa_comm/xml/PMC1.xml")
			if err != nil || !ok || !latest.Equal(day(5)) {
				t.Fatalf("LatestSourceTimestamp = %v %v %v", latest, ok, err)
			}
			if _, ok, err := store.LatestSourceTimestamp(ctx, "missing.xml"); err != nil || ok {
				t.Fatalf("expected no capture for missing path, got %v %v", ok, err)
			}
		})
	}
}

func TestCapturesSinceAndOrder(t *testing.T) {
	t.Parallel()

	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := open(t)

			for _, c := range []domain.RawCapture{
				capture("c.xml", day(3), day(1)),
				capture("a.xml", day(2), day(1)),
				capture("b.xml", day(3), day(1)),
				capture("old.xml", day(1), day(1)),
			} {
				if err := store.Append(ctx, c); err != nil {
					t.Fatalf("Append: %v", err)
				}
			}

			var paths []string
			err := store.Captures(ctx, day(2), func(c domain.RawCapture) error {
				paths = append(paths, c.SourceFilePath)
				return nil
			})
			if err != nil {
				t.Fatalf("Captures: %v", err)
			}
			if want := []string{"a.xml", "b.xml", "c.xml"}; !reflect.DeepEqual(paths, want) {
				t.Fatalf("expected %v, got %v", want, paths)
			}

			stop := errors.New("stop")
			calls := 0
			err = store.Captures(ctx, time.Time{}, func(domain.RawCapture) error {
				calls++
				return stop
			})
			if !errors.Is(err, stop) || calls != 1 {
				t.Fatalf("callback error must stop the scan: %v after %d calls", err, calls)
			}
		})
	}
}

func silverRecord(id string, ingested time.Time, status domain.RetractionStatus) domain.SilverRecord {
	return domain.SilverRecord{
		DocumentID:       id,
		Title:            "title at " + ingested.Format(time.RFC3339),
		ArticleType:      "RESEARCH",
		Published:        domain.CanonicalDate{Year: 2020, Precision: domain.PrecisionYear},
		BodySections:     []domain.Section{},
		Dates:            []domain.ResolvedDate{},
		Authors:          []domain.SilverAuthor{},
		Affiliations:     []domain.AffiliationRecord{},
		Funding:          []domain.Funding{},
		Keywords:         []string{"k"},
		LicenseID:        "CC-BY",
		RetractionStatus: status,
		Lineage: domain.Lineage{
			SourceFilePath:     "oa_comm/xml/" + id + ".xml",
			IngestionTimestamp: ingested,
			IngestionSource:    domain.SourcePrimary,
		},
	}
}

func TestSilverLastWriteWins(t *testing.T) {
	t.Parallel()

	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := open(t)
			silver := store.Silver()

			if _, found, err := silver.IsRetracted(ctx, "PMC1"); err != nil || found {
				t.Fatalf("expected no record yet, got %v %v", found, err)
			}

			if applied, err := silver.Upsert(ctx, silverRecord("PMC1", day(5), domain.RetractionRetracted)); err != nil || !applied {
				t.Fatalf("Upsert = %v %v", applied, err)
			}
			if applied, err := silver.Upsert(ctx, silverRecord("PMC1", day(3), domain.RetractionNone)); err != nil || applied {
				t.Fatalf("older write must be skipped: %v %v", applied, err)
			}

			rec, err := store.SilverRecord(ctx, "PMC1")
			if err != nil {
				t.Fatalf("SilverRecord: %v", err)
			}
			if !rec.Lineage.IngestionTimestamp.Equal(day(5)) || rec.RetractionStatus != domain.RetractionRetracted {
				t.Fatalf("older write replaced newer record: %+v", rec)
			}
			retracted, found, err := silver.IsRetracted(ctx, "PMC1")
			if err != nil || !found || !retracted {
				t.Fatalf("IsRetracted = %v %v %v", retracted, found, err)
			}

			if applied, err := silver.Upsert(ctx, silverRecord("PMC1", day(7), domain.RetractionNone)); err != nil || !applied {
				t.Fatalf("Upsert = %v %v", applied, err)
			}
			if applied, err := silver.Upsert(ctx, silverRecord("PMC1", day(7), domain.RetractionNone)); err != nil || !applied {
				t.Fatalf("equal timestamp must overwrite: %v %v", applied, err)
			}
			rec, err = store.SilverRecord(ctx, "PMC1")
			if err != nil || !rec.Lineage.IngestionTimestamp.Equal(day(7)) {
				t.Fatalf("newer write not applied: %+v %v", rec, err)
			}

			if _, err := store.SilverRecord(ctx, "PMC404"); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestGoldUpsertRoundTrip(t *testing.T) {
	t.Parallel()

	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := open(t)

			row := domain.GoldRow{
				DocumentID:         "PMC9",
				PMID:               "99",
				Title:              "Wide",
				ArticleType:        "REVIEW",
				PubYear:            2021,
				PubDate:            "2021-05",
				PubDatePrecision:   "month",
				AuthorsDisplay:     "A; B",
				AffiliationsText:   []string{"X"},
				GrantIDs:           []string{"G1", "G1"},
				AgencyNames:        []string{},
				Keywords:           []string{"z", "a"},
				LicenseID:          "CC-BY",
				IsCommercialSafe:   true,
				SourceFilePath:     "oa_comm/xml/PMC9.xml",
				IngestionTimestamp: day(4),
			}
			if err := store.Gold().Upsert(ctx, row); err != nil {
				t.Fatalf("Upsert: %v", err)
			}
			older := row
			older.Title = "stale"
			older.IngestionTimestamp = day(2)
			if err := store.Gold().Upsert(ctx, older); err != nil {
				t.Fatalf("Upsert: %v", err)
			}

			got, err := store.GoldRow(ctx, "PMC9")
			if err != nil {
				t.Fatalf("GoldRow: %v", err)
			}
			if !got.IngestionTimestamp.Equal(row.IngestionTimestamp) {
				t.Fatalf("unexpected ingestion ts %v", got.IngestionTimestamp)
			}
			got.IngestionTimestamp, row.IngestionTimestamp = time.Time{}, time.Time{}
			if !reflect.DeepEqual(got, row) {
				t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, row)
			}
		})
	}
}

func TestMarkCompareAndSet(t *testing.T) {
	t.Parallel()

	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			marks := open(t).Marks()

			if _, ok, err := marks.Get(ctx, "oa_comm"); err != nil || ok {
				t.Fatalf("expected no mark, got %v %v", ok, err)
			}
			if err := marks.CompareAndSet(ctx, "oa_comm", nil, day(1)); err != nil {
				t.Fatalf("initial CAS: %v", err)
			}
			if err := marks.CompareAndSet(ctx, "oa_comm", nil, day(2)); !errors.Is(err, domain.ErrMarkConflict) {
				t.Fatalf("expected conflict on second initial CAS, got %v", err)
			}
			stale := day(9)
			if err := marks.CompareAndSet(ctx, "oa_comm", &stale, day(2)); !errors.Is(err, domain.ErrMarkConflict) {
				t.Fatalf("expected conflict on stale expectation, got %v", err)
			}
			current := day(1)
			if err := marks.CompareAndSet(ctx, "oa_comm", &current, day(2)); err != nil {
				t.Fatalf("CAS: %v", err)
			}
			mark, ok, err := marks.Get(ctx, "oa_comm")
			if err != nil || !ok || !mark.Equal(day(2)) {
				t.Fatalf("Get = %v %v %v", mark, ok, err)
			}
			if _, ok, _ := marks.Get(ctx, "oa_noncomm"); ok {
				t.Fatal("marks must be tracked per source system")
			}
		})
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), "sqlite", "x.db"); err == nil {
		t.Fatal("expected an error for an unsupported driver")
	}
}
