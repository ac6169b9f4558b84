package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"PMCMirror/internal/domain"
	"PMCMirror/internal/ports"
)

type captureKey struct {
	path string
	ts   time.Time
}

// MemoryStore keeps every layer in process with the same semantics as SQLStore.
type MemoryStore struct {
	mu     sync.RWMutex
	bronze map[captureKey]domain.RawCapture
	silver map[string]domain.SilverRecord
	gold   map[string]domain.GoldRow
	marks  map[string]time.Time
}

var _ ports.LayerStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bronze: make(map[captureKey]domain.RawCapture),
		silver: make(map[string]domain.SilverRecord),
		gold:   make(map[string]domain.GoldRow),
		marks:  make(map[string]time.Time),
	}
}

// Close is a no-op; the store lives as long as the process.
func (m *MemoryStore) Close() error { return nil }

// Append stores c once per (path, ingestion timestamp); repeats are ignored.
func (m *MemoryStore) Append(_ context.Context, c domain.RawCapture) error {
	c.IngestionTimestamp = dbTime(c.IngestionTimestamp)
	c.Manifest.LastUpdated = dbTime(c.Manifest.LastUpdated)
	c.RawPayload = slices.Clone(c.RawPayload)

	m.mu.Lock()
	defer m.mu.Unlock()
	key := captureKey{path: c.SourceFilePath, ts: c.IngestionTimestamp}
	if _, ok := m.bronze[key]; !ok {
		m.bronze[key] = c
	}
	return nil
}

// LatestSourceTimestamp returns the newest manifest timestamp captured for path.
func (m *MemoryStore) LatestSourceTimestamp(_ context.Context, path string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		latest time.Time
		found  bool
	)
	for key, c := range m.bronze {
		if key.path != path {
			continue
		}
		if !found || c.Manifest.LastUpdated.After(latest) {
			latest, found = c.Manifest.LastUpdated, true
		}
	}
	return latest, found, nil
}

// Captures calls fn for captures ingested at or after since, oldest first.
func (m *MemoryStore) Captures(ctx context.Context, since time.Time, fn func(domain.RawCapture) error) error {
	since = dbTime(since)
	m.mu.RLock()
	selected := make([]domain.RawCapture, 0, len(m.bronze))
	for key, c := range m.bronze {
		if !key.ts.Before(since) {
			selected = append(selected, c)
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(selected, func(a, b domain.RawCapture) int {
		if c := a.IngestionTimestamp.Compare(b.IngestionTimestamp); c != 0 {
			return c
		}
		return strings.Compare(a.SourceFilePath, b.SourceFilePath)
	})
	for _, c := range selected {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

// BronzeCount reports the number of stored captures.
func (m *MemoryStore) BronzeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bronze)
}

// Silver, Gold and Marks return views sharing the store's lock.
func (m *MemoryStore) Silver() ports.SilverStore { return memSilver{m} }
func (m *MemoryStore) Gold() ports.GoldWriter    { return memGold{m} }
func (m *MemoryStore) Marks() ports.MarkStore    { return memMarks{m} }

// SilverRecord returns the stored record or domain.ErrNotFound.
func (m *MemoryStore) SilverRecord(_ context.Context, documentID string) (domain.SilverRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.silver[documentID]
	if !ok {
		return domain.SilverRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

// GoldRow returns the stored row or domain.ErrNotFound.
func (m *MemoryStore) GoldRow(_ context.Context, documentID string) (domain.GoldRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.gold[documentID]
	if !ok {
		return domain.GoldRow{}, domain.ErrNotFound
	}
	return row, nil
}

type memSilver struct{ m *MemoryStore }

func (v memSilver) Upsert(_ context.Context, rec domain.SilverRecord) (bool, error) {
	rec.Lineage.IngestionTimestamp = dbTime(rec.Lineage.IngestionTimestamp)
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	if cur, ok := v.m.silver[rec.DocumentID]; ok && cur.Lineage.IngestionTimestamp.After(rec.Lineage.IngestionTimestamp) {
		return false, nil
	}
	v.m.silver[rec.DocumentID] = rec
	return true, nil
}

func (v memSilver) IsRetracted(_ context.Context, documentID string) (bool, bool, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	rec, ok := v.m.silver[documentID]
	if !ok {
		return false, false, nil
	}
	return rec.RetractionStatus == domain.RetractionRetracted, true, nil
}

type memGold struct{ m *MemoryStore }

func (v memGold) Upsert(_ context.Context, row domain.GoldRow) error {
	row.IngestionTimestamp = dbTime(row.IngestionTimestamp)
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	if cur, ok := v.m.gold[row.DocumentID]; ok && cur.IngestionTimestamp.After(row.IngestionTimestamp) {
		return nil
	}
	v.m.gold[row.DocumentID] = row
	return nil
}

type memMarks struct{ m *MemoryStore }

func (v memMarks) Get(_ context.Context, sourceSystem string) (time.Time, bool, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	mark, ok := v.m.marks[sourceSystem]
	return mark, ok, nil
}

func (v memMarks) CompareAndSet(_ context.Context, sourceSystem string, expected *time.Time, next time.Time) error {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	cur, ok := v.m.marks[sourceSystem]
	switch {
	case expected == nil && ok,
		expected != nil && (!ok || !cur.Equal(dbTime(*expected))):
		return fmt.Errorf("mark %s: %w", sourceSystem, domain.ErrMarkConflict)
	}
	v.m.marks[sourceSystem] = dbTime(next)
	return nil
}
