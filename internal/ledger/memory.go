package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/fyrsmithlabs/quoted/internal/fingerprint"
)

// MemoryStore is a process-local Store. Uniqueness is enforced under one
// mutex, so concurrent inserts resolve exactly like the SQL store.
type MemoryStore struct {
	mu      sync.RWMutex
	byMsgID map[string]string
	byHash  map[string]string
	records map[string]StoredRecord
	now     func() time.Time
}

// NewMemoryStore returns an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byMsgID: make(map[string]string),
		byHash:  make(map[string]string),
		records: make(map[string]StoredRecord),
		now:     time.Now,
	}
}

func (m *MemoryStore) lookup(fp fingerprint.Fingerprint) (string, bool) {
	if fp.HasMessageID() {
		if ref, ok := m.byMsgID[fp.MessageID]; ok {
			return ref, true
		}
	}
	ref, ok := m.byHash[fp.ContentSHA256]
	return ref, ok
}

func (m *MemoryStore) Exists(ctx context.Context, fp fingerprint.Fingerprint) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ref, ok := m.lookup(fp)
	return ref, ok, nil
}

func (m *MemoryStore) Insert(ctx context.Context, fp fingerprint.Fingerprint, ref string) error {
	if err := validateInsert(fp, ref); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.lookup(fp); ok {
		return &ConflictError{ExistingRef: existing}
	}
	if fp.HasMessageID() {
		m.byMsgID[fp.MessageID] = ref
	}
	m.byHash[fp.ContentSHA256] = ref
	return nil
}

func (m *MemoryStore) SaveRecord(ctx context.Context, rec StoredRecord) error {
	if rec.Ref == "" {
		return ErrInvalidRef
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now().UTC()
	}
	m.mu.Lock()
	m.records[rec.Ref] = rec
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetRecord(ctx context.Context, ref string) (*StoredRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (m *MemoryStore) Close() error { return nil }
