package storage

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// dialect isolates the few places where DuckDB and Postgres disagree.
type dialect struct {
	name      string
	driver    string
	blob      string
	timestamp string
	list      string
	// array adapts a string slice to the engine's list column.
	array func([]string) any
	// scanArray adapts a destination slice for Scan.
	scanArray func(*[]string) any
}

var duckDB = dialect{
	name:      "duckdb",
	driver:    "duckdb",
	blob:      "BLOB",
	timestamp: "TIMESTAMP",
	list:      "VARCHAR",
	array:     func(v []string) any { return jsonList(v) },
	scanArray: func(dst *[]string) any { return (*jsonListScanner)(dst) },
}

var postgres = dialect{
	name:      "postgres",
	driver:    "postgres",
	blob:      "BYTEA",
	timestamp: "TIMESTAMPTZ",
	list:      "TEXT[]",
	array:     func(v []string) any { return pq.Array(v) },
	scanArray: func(dst *[]string) any { return pq.Array(dst) },
}

func (d dialect) schema() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS bronze_captures (
			source_file_path VARCHAR NOT NULL,
			ingestion_ts %[1]s NOT NULL,
			ingestion_date DATE NOT NULL,
			ingestion_source VARCHAR NOT NULL,
			source_system VARCHAR NOT NULL,
			manifest_last_updated %[1]s NOT NULL,
			manifest_metadata VARCHAR NOT NULL,
			run_id VARCHAR,
			raw_payload %[2]s NOT NULL,
			PRIMARY KEY (source_file_path, ingestion_ts)
		)`, d.timestamp, d.blob),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS silver_articles (
			document_id VARCHAR PRIMARY KEY,
			ingestion_ts %[1]s NOT NULL,
			ingestion_date DATE NOT NULL,
			source_file_path VARCHAR NOT NULL,
			retracted BOOLEAN NOT NULL,
			record VARCHAR NOT NULL
		)`, d.timestamp),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS gold_articles (
			document_id VARCHAR PRIMARY KEY,
			pmid VARCHAR,
			doi VARCHAR,
			title VARCHAR,
			abstract VARCHAR,
			journal_name VARCHAR,
			article_type VARCHAR NOT NULL,
			pub_year INTEGER,
			pub_date VARCHAR NOT NULL,
			pub_date_precision VARCHAR NOT NULL,
			authors_display VARCHAR NOT NULL,
			affiliations_text %[2]s NOT NULL,
			grant_ids %[2]s NOT NULL,
			agency_names %[2]s NOT NULL,
			keywords %[2]s NOT NULL,
			license_id VARCHAR NOT NULL,
			is_commercial_safe BOOLEAN NOT NULL,
			is_retracted BOOLEAN NOT NULL,
			source_file_path VARCHAR NOT NULL,
			ingestion_ts %[1]s NOT NULL,
			ingestion_date DATE NOT NULL
		)`, d.timestamp, d.list),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS high_water_marks (
			source_system VARCHAR PRIMARY KEY,
			mark %s NOT NULL
		)`, d.timestamp),
	}
}

func dialectFor(driverName string) (dialect, error) {
	switch driverName {
	case duckDB.name:
		return duckDB, nil
	case postgres.name:
		return postgres, nil
	default:
		return dialect{}, fmt.Errorf("unsupported storage driver %q", driverName)
	}
}

type jsonList []string

func (l jsonList) Value() (driver.Value, error) {
	if l == nil {
		l = jsonList{}
	}
	raw, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

type jsonListScanner []string

func (s *jsonListScanner) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = []string{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("scan list: unexpected %T", src)
	}
	out := []string{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("scan list: %w", err)
	}
	*s = out
	return nil
}

var (
	_ driver.Valuer = jsonList(nil)
	_ sql.Scanner   = (*jsonListScanner)(nil)
)
