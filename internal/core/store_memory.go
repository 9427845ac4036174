package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Transactions are serialized and work
// on a copy of the state, so a failed transaction leaves nothing behind. It
// enforces the same at-most-once revocation rule as the database index.
type MemoryStore struct {
	mu    sync.RWMutex
	state memState

	failMu     sync.Mutex
	failAppend error
}

type memState struct {
	batches     map[string]Batch
	revenues    map[int64]Revenue
	audit       []AuditEntry
	exports     []LedgerExport
	nextRevenue int64
}

func (s memState) clone() memState {
	out := memState{
		batches:     make(map[string]Batch, len(s.batches)),
		revenues:    make(map[int64]Revenue, len(s.revenues)),
		audit:       append([]AuditEntry(nil), s.audit...),
		exports:     append([]LedgerExport(nil), s.exports...),
		nextRevenue: s.nextRevenue,
	}
	for k, v := range s.batches {
		out.batches[k] = v
	}
	for k, v := range s.revenues {
		out.revenues[k] = v
	}
	return out
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: memState{
		batches:  make(map[string]Batch),
		revenues: make(map[int64]Revenue),
	}}
}

// FailAuditAppends makes every following audit insert fail with err until it
// is called with nil.
func (m *MemoryStore) FailAuditAppends(err error) {
	m.failMu.Lock()
	m.failAppend = err
	m.failMu.Unlock()
}

func (m *MemoryStore) appendFailure() error {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	return m.failAppend
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{store: m, state: m.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	m.state = tx.state
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) RevenueByID(_ context.Context, id int64) (*Revenue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.revenueByID(id)
}

func (m *MemoryStore) RevenuesByBatch(_ context.Context, batchKey string) ([]Revenue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.revenuesByBatch(batchKey), nil
}

func (m *MemoryStore) Batch(_ context.Context, key string) (*Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.state.batches[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, key)
	}
	return &b, nil
}

func (m *MemoryStore) QueryAudit(_ context.Context, f AuditFilter, limit, offset int) ([]AuditEntry, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []AuditEntry
	operator := strings.ToLower(f.Operator)
	for _, e := range m.state.audit {
		switch {
		case f.EntityType != "" && e.EntityType != f.EntityType,
			f.Action != "" && e.Action != f.Action,
			f.EntityID != "" && e.EntityID != f.EntityID,
			operator != "" && !strings.Contains(strings.ToLower(e.Actor), operator),
			!f.From.IsZero() && e.Timestamp.Before(f.From),
			!f.To.IsZero() && e.Timestamp.After(f.To):
			continue
		}
		matched = append(matched, e)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].ID > matched[j].ID
	})

	total := int64(len(matched))
	if offset >= len(matched) {
		return []AuditEntry{}, total, nil
	}
	end := min(offset+limit, len(matched))
	return append([]AuditEntry{}, matched[offset:end]...), total, nil
}

func (m *MemoryStore) AuditEntryByID(_ context.Context, id int64) (*AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.state.audit {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrAuditNotFound, id)
}

func (m *MemoryStore) AuditStream(_ context.Context, entityType, entityID string) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []AuditEntry{}
	for _, e := range m.state.audit {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) AuditAfter(_ context.Context, afterID int64, limit int) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []AuditEntry{}
	for _, e := range m.state.audit {
		if e.ID > afterID {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) RevokedBatchKeys(_ context.Context, entityType string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := []string{}
	for _, e := range m.state.audit {
		if e.EntityType == entityType && e.Action == ActionRevokeBatch {
			keys = append(keys, e.EntityID)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) LastExportedID(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last int64
	for _, e := range m.state.exports {
		last = max(last, e.ToID)
	}
	return last, nil
}

func (m *MemoryStore) RecordExport(_ context.Context, e LedgerExport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.exports = append(m.state.exports, e)
	return nil
}

func (s memState) revenueByID(id int64) (*Revenue, error) {
	r, ok := s.revenues[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrRecordNotFound, id)
	}
	return &r, nil
}

func (s memState) revenuesByBatch(batchKey string) []Revenue {
	out := []Revenue{}
	for _, r := range s.revenues {
		if r.BatchKey == batchKey {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// memTx works on a private copy of the state. Locks are implied by the
// store-wide transaction mutex.
type memTx struct {
	store *MemoryStore
	state memState
}

func (t *memTx) LockBatch(context.Context, string, string) error  { return nil }
func (t *memTx) LockStream(context.Context, string, string) error { return nil }

func (t *memTx) LastHash(_ context.Context, entityType, entityID string) (string, error) {
	for i := len(t.state.audit) - 1; i >= 0; i-- {
		e := t.state.audit[i]
		if e.EntityType == entityType && e.EntityID == entityID {
			return e.Hash, nil
		}
	}
	return "", nil
}

func (t *memTx) InsertAuditEntry(ctx context.Context, e *AuditEntry) (int64, error) {
	if err := t.store.appendFailure(); err != nil {
		return 0, err
	}
	if e.Action == ActionRevokeBatch {
		if done, _ := t.HasRevocation(ctx, e.EntityType, e.EntityID); done {
			return 0, fmt.Errorf("%w: %s", ErrAlreadyRevoked, e.EntityID)
		}
	}

	stored := *e
	stored.ID = int64(len(t.state.audit)) + 1
	t.state.audit = append(t.state.audit, stored)
	return stored.ID, nil
}

func (t *memTx) HasRevocation(_ context.Context, entityType, batchKey string) (bool, error) {
	for _, e := range t.state.audit {
		if e.Action == ActionRevokeBatch && e.EntityType == entityType && e.EntityID == batchKey {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) CreateBatch(_ context.Context, b Batch) error {
	if _, exists := t.state.batches[b.Key]; exists {
		return fmt.Errorf("create batch: duplicate key %s", b.Key)
	}
	t.state.batches[b.Key] = b
	return nil
}

func (t *memTx) MarkBatchRevoked(_ context.Context, batchKey string, at time.Time) error {
	b, ok := t.state.batches[batchKey]
	if !ok {
		return nil
	}
	b.RevokedAt = &at
	t.state.batches[batchKey] = b
	return nil
}

func (t *memTx) InsertRevenues(_ context.Context, rows []Revenue) (int64, error) {
	for _, r := range rows {
		if _, ok := t.state.batches[r.BatchKey]; !ok {
			return 0, fmt.Errorf("copy revenues: unknown batch %s", r.BatchKey)
		}
		t.state.nextRevenue++
		r.ID = t.state.nextRevenue
		t.state.revenues[r.ID] = r
	}
	return int64(len(rows)), nil
}

func (t *memTx) UpdateRevenue(_ context.Context, r Revenue) error {
	old, ok := t.state.revenues[r.ID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrRecordNotFound, r.ID)
	}
	if r.BatchKey != old.BatchKey {
		return fmt.Errorf("update revenue: batch key is immutable")
	}
	t.state.revenues[r.ID] = r
	return nil
}

func (t *memTx) DeleteRevenue(_ context.Context, id int64) error {
	if _, ok := t.state.revenues[id]; !ok {
		return fmt.Errorf("%w: %d", ErrRecordNotFound, id)
	}
	delete(t.state.revenues, id)
	return nil
}

func (t *memTx) DeleteRevenueBatch(_ context.Context, batchKey string) (int64, error) {
	var n int64
	for id, r := range t.state.revenues {
		if r.BatchKey == batchKey {
			delete(t.state.revenues, id)
			n++
		}
	}
	return n, nil
}

func (t *memTx) RevenueByID(_ context.Context, id int64) (*Revenue, error) {
	return t.state.revenueByID(id)
}

func (t *memTx) RevenuesByBatch(_ context.Context, batchKey string) ([]Revenue, error) {
	return t.state.revenuesByBatch(batchKey), nil
}
