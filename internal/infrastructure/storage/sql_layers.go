package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"PMCMirror/internal/domain"
)

var goldColumns = []string{
	"document_id", "pmid", "doi", "title", "abstract", "journal_name",
	"article_type", "pub_year", "pub_date", "pub_date_precision", "authors_display",
	"affiliations_text", "grant_ids", "agency_names", "keywords",
	"license_id", "is_commercial_safe", "is_retracted",
	"source_file_path", "ingestion_ts",
}

type sqlSilver struct{ s *SQLStore }

// Upsert replaces the stored record unless it was ingested later than rec.
// The conditional update keeps last-write-wins even if a concurrent writer
// lands between the lookup and the upsert; applied is then best effort.
func (v sqlSilver) Upsert(ctx context.Context, rec domain.SilverRecord) (bool, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode silver %s: %w", rec.DocumentID, err)
	}
	ts := dbTime(rec.Lineage.IngestionTimestamp)

	stored, found, err := v.storedAt(ctx, rec.DocumentID)
	if err != nil {
		return false, err
	}
	if found && stored.After(ts) {
		return false, nil
	}

	query, args, err := v.s.sb.Insert("silver_articles").
		Columns("document_id", "ingestion_ts", "ingestion_date", "source_file_path", "retracted", "record").
		Values(
			rec.DocumentID,
			ts,
			sq.Expr("CAST(? AS DATE)", ts.Format(time.DateOnly)),
			rec.Lineage.SourceFilePath,
			rec.RetractionStatus == domain.RetractionRetracted,
			string(raw),
		).
		Suffix(`ON CONFLICT (document_id) DO UPDATE SET
			ingestion_ts = EXCLUDED.ingestion_ts,
			ingestion_date = EXCLUDED.ingestion_date,
			source_file_path = EXCLUDED.source_file_path,
			retracted = EXCLUDED.retracted,
			record = EXCLUDED.record
			WHERE silver_articles.ingestion_ts <= EXCLUDED.ingestion_ts`).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build silver upsert: %w", err)
	}
	if _, err := v.s.db.ExecContext(ctx, query, args...); err != nil {
		return false, fmt.Errorf("upsert silver %s: %w", rec.DocumentID, err)
	}
	return true, nil
}

func (v sqlSilver) storedAt(ctx context.Context, documentID string) (time.Time, bool, error) {
	query, args, err := v.s.sb.Select("ingestion_ts").From("silver_articles").
		Where(sq.Eq{"document_id": documentID}).ToSql()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("build silver lookup: %w", err)
	}
	var ts time.Time
	err = v.s.db.QueryRowContext(ctx, query, args...).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query silver %s: %w", documentID, err)
	}
	return ts.UTC(), true, nil
}

// IsRetracted returns (retracted, found, err).
func (v sqlSilver) IsRetracted(ctx context.Context, documentID string) (bool, bool, error) {
	query, args, err := v.s.sb.Select("retracted").From("silver_articles").
		Where(sq.Eq{"document_id": documentID}).ToSql()
	if err != nil {
		return false, false, fmt.Errorf("build retraction lookup: %w", err)
	}

	var retracted bool
	err = v.s.db.QueryRowContext(ctx, query, args...).Scan(&retracted)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("query retraction %s: %w", documentID, err)
	}
	return retracted, true, nil
}

type sqlGold struct{ s *SQLStore }

func (v sqlGold) Upsert(ctx context.Context, row domain.GoldRow) error {
	d := v.s.dialect
	ts := dbTime(row.IngestionTimestamp)

	var pubYear any
	if row.PubYear > 0 {
		pubYear = row.PubYear
	}

	query, args, err := v.s.sb.Insert("gold_articles").
		Columns(append(append([]string{}, goldColumns...), "ingestion_date")...).
		Values(
			row.DocumentID, row.PMID, row.DOI, row.Title, row.Abstract, row.JournalName,
			row.ArticleType, pubYear, row.PubDate, row.PubDatePrecision, row.AuthorsDisplay,
			d.array(row.AffiliationsText), d.array(row.GrantIDs), d.array(row.AgencyNames), d.array(row.Keywords),
			row.LicenseID, row.IsCommercialSafe, row.IsRetracted,
			row.SourceFilePath, ts,
			sq.Expr("CAST(? AS DATE)", ts.Format(time.DateOnly)),
		).
		Suffix(`ON CONFLICT (document_id) DO UPDATE SET
			pmid = EXCLUDED.pmid,
			doi = EXCLUDED.doi,
			title = EXCLUDED.title,
			abstract = EXCLUDED.abstract,
			journal_name = EXCLUDED.journal_name,
			article_type = EXCLUDED.article_type,
			pub_year = EXCLUDED.pub_year,
			pub_date = EXCLUDED.pub_date,
			pub_date_precision = EXCLUDED.pub_date_precision,
			authors_display = EXCLUDED.authors_display,
			affiliations_text = EXCLUDED.affiliations_text,
			grant_ids = EXCLUDED.grant_ids,
			agency_names = EXCLUDED.agency_names,
			keywords = EXCLUDED.keywords,
			license_id = EXCLUDED.license_id,
			is_commercial_safe = EXCLUDED.is_commercial_safe,
			is_retracted = EXCLUDED.is_retracted,
			source_file_path = EXCLUDED.source_file_path,
			ingestion_ts = EXCLUDED.ingestion_ts,
			ingestion_date = EXCLUDED.ingestion_date
			WHERE gold_articles.ingestion_ts <= EXCLUDED.ingestion_ts`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build gold upsert: %w", err)
	}
	if _, err := v.s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert gold %s: %w", row.DocumentID, err)
	}
	return nil
}

type sqlMarks struct{ s *SQLStore }

func (v sqlMarks) Get(ctx context.Context, sourceSystem string) (time.Time, bool, error) {
	query, args, err := v.s.sb.Select("mark").From("high_water_marks").
		Where(sq.Eq{"source_system": sourceSystem}).ToSql()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("build mark lookup: %w", err)
	}

	var mark time.Time
	err = v.s.db.QueryRowContext(ctx, query, args...).Scan(&mark)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query mark %s: %w", sourceSystem, err)
	}
	return mark.UTC(), true, nil
}

func (v sqlMarks) CompareAndSet(ctx context.Context, sourceSystem string, expected *time.Time, next time.Time) error {
	var (
		query string
		args  []any
		err   error
	)
	if expected == nil {
		query, args, err = v.s.sb.Insert("high_water_marks").
			Columns("source_system", "mark").
			Values(sourceSystem, dbTime(next)).
			Suffix("ON CONFLICT (source_system) DO NOTHING").
			ToSql()
	} else {
		query, args, err = v.s.sb.Update("high_water_marks").
			Set("mark", dbTime(next)).
			Where(sq.Eq{"source_system": sourceSystem, "mark": dbTime(*expected)}).
			ToSql()
	}
	if err != nil {
		return fmt.Errorf("build mark update: %w", err)
	}

	res, err := v.s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update mark %s: %w", sourceSystem, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update mark %s: %w", sourceSystem, err)
	}
	if n == 0 {
		return fmt.Errorf("mark %s: %w", sourceSystem, domain.ErrMarkConflict)
	}
	return nil
}
