package ports

import (
	"context"
	"io"
	"time"

	"PMCMirror/internal/domain"
)

// Transport opens a source file on one backend (bulk object store, legacy FTP).
type Transport interface {
	Name() string
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// SourceFetcher returns the full payload of a file from whichever transport is active.
type SourceFetcher interface {
	Fetch(ctx context.Context, path string) (domain.Payload, error)
}

// BronzeWriter appends raw captures. Re-appending the same key must not duplicate rows.
type BronzeWriter interface {
	Append(ctx context.Context, capture domain.RawCapture) error
}

// BronzeReader exposes what the tracker and replay need from Bronze.
type BronzeReader interface {
	// LatestSourceTimestamp returns the newest manifest timestamp captured for path.
	LatestSourceTimestamp(ctx context.Context, path string) (time.Time, bool, error)
	// Captures calls fn for every capture ingested at or after since, oldest first.
	Captures(ctx context.Context, since time.Time, fn func(domain.RawCapture) error) error
}

// SilverWriter upserts normalized records keyed by document_id, last write wins.
// applied is false when a record ingested later is already stored.
type SilverWriter interface {
	Upsert(ctx context.Context, record domain.SilverRecord) (applied bool, err error)
}

// SilverReader answers lookups the tracker's retraction sweep needs.
type SilverReader interface {
	IsRetracted(ctx context.Context, documentID string) (bool, bool, error)
}

// GoldWriter upserts wide rows keyed by document_id.
type GoldWriter interface {
	Upsert(ctx context.Context, row domain.GoldRow) error
}

// MarkStore persists the per-source high-water mark.
type MarkStore interface {
	Get(ctx context.Context, sourceSystem string) (time.Time, bool, error)
	// CompareAndSet stores next only if the stored mark still equals expected
	// (nil expected means "no mark yet"); otherwise it returns domain.ErrMarkConflict.
	CompareAndSet(ctx context.Context, sourceSystem string, expected *time.Time, next time.Time) error
}

// LayerStore bundles every medallion sink behind one handle.
type LayerStore interface {
	BronzeWriter
	BronzeReader
	Silver() SilverStore
	Gold() GoldWriter
	Marks() MarkStore
	Close() error
}

// SilverStore is the read/write view of the Silver layer.
type SilverStore interface {
	SilverWriter
	SilverReader
}

// EventSink receives discrete observability events.
type EventSink interface {
	Emit(ctx context.Context, event domain.Event)
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
