// Package storage persists the medallion layers and the high-water marks.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/duckdb/duckdb-go/v2"

	"PMCMirror/internal/domain"
	"PMCMirror/internal/ports"
)

var bronzeColumns = []string{
	"source_file_path", "ingestion_ts", "ingestion_date", "ingestion_source",
	"source_system", "manifest_last_updated", "manifest_metadata", "run_id", "raw_payload",
}

// SQLStore keeps every layer in one database/sql handle (DuckDB or Postgres).
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	sb      sq.StatementBuilderType
}

var _ ports.LayerStore = (*SQLStore)(nil)

// Open connects to driverName ("duckdb" or "postgres") and creates missing tables.
// An empty DuckDB DSN opens an in-memory database.
func Open(ctx context.Context, driverName, dsn string) (*SQLStore, error) {
	d, err := dialectFor(driverName)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}
	store := NewSQLStore(db, d)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an existing handle.
func NewSQLStore(db *sql.DB, d dialect) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: d,
		sb:      sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Migrate creates the layer tables if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect.name, err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Append inserts a Bronze capture; an existing (path, ingestion_ts) row is left untouched.
func (s *SQLStore) Append(ctx context.Context, c domain.RawCapture) error {
	meta, err := json.Marshal(c.Manifest)
	if err != nil {
		return fmt.Errorf("encode manifest metadata: %w", err)
	}
	payload := c.RawPayload
	if payload == nil {
		payload = []byte{}
	}

	query, args, err := s.sb.Insert("bronze_captures").
		Columns(bronzeColumns...).
		Values(
			c.SourceFilePath,
			dbTime(c.IngestionTimestamp),
			sq.Expr("CAST(? AS DATE)", c.IngestionDate().Format(time.DateOnly)),
			string(c.IngestionSource),
			c.Manifest.SourceSystem,
			dbTime(c.Manifest.LastUpdated),
			string(meta),
			c.RunID,
			payload,
		).
		Suffix("ON CONFLICT (source_file_path, ingestion_ts) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build bronze insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("append bronze %s: %w", c.SourceFilePath, err)
	}
	return nil
}

// LatestSourceTimestamp returns the newest manifest timestamp captured for path.
func (s *SQLStore) LatestSourceTimestamp(ctx context.Context, path string) (time.Time, bool, error) {
	query, args, err := s.sb.Select("MAX(manifest_last_updated)").
		From("bronze_captures").
		Where(sq.Eq{"source_file_path": path}).
		ToSql()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("build bronze lookup: %w", err)
	}

	var latest sql.NullTime
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("query bronze %s: %w", path, err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return latest.Time.UTC(), true, nil
}

// Captures streams Bronze rows ingested at or after since, oldest first.
func (s *SQLStore) Captures(ctx context.Context, since time.Time, fn func(domain.RawCapture) error) error {
	query, args, err := s.sb.Select(
		"source_file_path", "ingestion_ts", "ingestion_source", "manifest_metadata", "run_id", "raw_payload",
	).
		From("bronze_captures").
		Where(sq.GtOrEq{"ingestion_ts": dbTime(since)}).
		OrderBy("ingestion_ts", "source_file_path").
		ToSql()
	if err != nil {
		return fmt.Errorf("build bronze scan: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query bronze captures: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c      domain.RawCapture
			source string
			meta   string
			runID  sql.NullString
		)
		if err := rows.Scan(&c.SourceFilePath, &c.IngestionTimestamp, &source, &meta, &runID, &c.RawPayload); err != nil {
			return fmt.Errorf("scan bronze capture: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &c.Manifest); err != nil {
			return fmt.Errorf("decode manifest metadata for %s: %w", c.SourceFilePath, err)
		}
		c.IngestionTimestamp = c.IngestionTimestamp.UTC()
		c.IngestionSource = domain.IngestionSource(source)
		c.RunID = runID.String
		if err := fn(c); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate bronze captures: %w", err)
	}
	return nil
}

// Silver returns the Silver layer view.
func (s *SQLStore) Silver() ports.SilverStore { return sqlSilver{s} }

// Gold returns the Gold layer view.
func (s *SQLStore) Gold() ports.GoldWriter { return sqlGold{s} }

// Marks returns the high-water mark table.
func (s *SQLStore) Marks() ports.MarkStore { return sqlMarks{s} }

// SilverRecord loads one Silver record by document id.
func (s *SQLStore) SilverRecord(ctx context.Context, documentID string) (domain.SilverRecord, error) {
	query, args, err := s.sb.Select("record").From("silver_articles").
		Where(sq.Eq{"document_id": documentID}).ToSql()
	if err != nil {
		return domain.SilverRecord{}, fmt.Errorf("build silver lookup: %w", err)
	}

	var raw string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SilverRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SilverRecord{}, fmt.Errorf("query silver %s: %w", documentID, err)
	}

	var rec domain.SilverRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return domain.SilverRecord{}, fmt.Errorf("decode silver %s: %w", documentID, err)
	}
	return rec, nil
}

// GoldRow loads one Gold row by document id.
func (s *SQLStore) GoldRow(ctx context.Context, documentID string) (domain.GoldRow, error) {
	query, args, err := s.sb.Select(goldColumns...).From("gold_articles").
		Where(sq.Eq{"document_id": documentID}).ToSql()
	if err != nil {
		return domain.GoldRow{}, fmt.Errorf("build gold lookup: %w", err)
	}

	var (
		row                                  domain.GoldRow
		pmid, doi, title, abstract, journal sql.NullString
		pubYear                              sql.NullInt64
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&row.DocumentID, &pmid, &doi, &title, &abstract, &journal,
		&row.ArticleType, &pubYear, &row.PubDate, &row.PubDatePrecision, &row.AuthorsDisplay,
		s.dialect.scanArray(&row.AffiliationsText),
		s.dialect.scanArray(&row.GrantIDs),
		s.dialect.scanArray(&row.AgencyNames),
		s.dialect.scanArray(&row.Keywords),
		&row.LicenseID, &row.IsCommercialSafe, &row.IsRetracted,
		&row.SourceFilePath, &row.IngestionTimestamp,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.GoldRow{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.GoldRow{}, fmt.Errorf("query gold %s: %w", documentID, err)
	}
	row.PMID, row.DOI, row.Title = pmid.String, doi.String, title.String
	row.Abstract, row.JournalName = abstract.String, journal.String
	row.PubYear = int(pubYear.Int64)
	row.IngestionTimestamp = row.IngestionTimestamp.UTC()
	return row, nil
}

// dbTime normalizes to UTC microseconds, the finest precision both engines keep.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
