package core

import (
	"context"
	"time"
)

// AuditFilter narrows an audit query. Zero fields do not filter.
type AuditFilter struct {
	EntityType string
	Action     AuditAction
	Operator   string // case-insensitive substring of the actor
	EntityID   string
	From       time.Time
	To         time.Time
}

// LedgerExport records one range of entries copied to the blob store.
type LedgerExport struct {
	FromID     int64     `json:"fromId"`
	ToID       int64     `json:"toId"`
	ObjectKey  string    `json:"objectKey"`
	EntryCount int       `json:"entryCount"`
	ExportedAt time.Time `json:"exportedAt"`
}

// RevenueReader reads revenue rows. Inside a Tx the rows are locked.
type RevenueReader interface {
	RevenueByID(ctx context.Context, id int64) (*Revenue, error)
	RevenuesByBatch(ctx context.Context, batchKey string) ([]Revenue, error)
}

// AuditReader is the read side of the ledger.
type AuditReader interface {
	// QueryAudit returns one page ordered newest first (timestamp, then id)
	// and the total number of matches.
	QueryAudit(ctx context.Context, f AuditFilter, limit, offset int) ([]AuditEntry, int64, error)
	AuditEntryByID(ctx context.Context, id int64) (*AuditEntry, error)

	// AuditStream returns one stream in append order.
	AuditStream(ctx context.Context, entityType, entityID string) ([]AuditEntry, error)

	// AuditAfter returns up to limit entries with id > afterID, ascending.
	AuditAfter(ctx context.Context, afterID int64, limit int) ([]AuditEntry, error)

	RevokedBatchKeys(ctx context.Context, entityType string) ([]string, error)
}

// Store is the persistence boundary of the service.
type Store interface {
	RevenueReader
	AuditReader

	// InTx runs fn in one transaction, committing only when fn returns nil.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	Batch(ctx context.Context, key string) (*Batch, error)
	LastExportedID(ctx context.Context) (int64, error)
	RecordExport(ctx context.Context, e LedgerExport) error
	Ping(ctx context.Context) error
}

// Tx is the write side, only reachable through Store.InTx.
type Tx interface {
	RevenueReader

	// LockBatch serializes revocations of one batch until the transaction ends.
	LockBatch(ctx context.Context, entityType, batchKey string) error

	// LockStream serializes appends to one audit stream.
	LockStream(ctx context.Context, entityType, entityID string) error
	LastHash(ctx context.Context, entityType, entityID string) (string, error)
	InsertAuditEntry(ctx context.Context, e *AuditEntry) (int64, error)
	HasRevocation(ctx context.Context, entityType, batchKey string) (bool, error)

	CreateBatch(ctx context.Context, b Batch) error
	MarkBatchRevoked(ctx context.Context, batchKey string, at time.Time) error

	InsertRevenues(ctx context.Context, rows []Revenue) (int64, error)
	UpdateRevenue(ctx context.Context, r Revenue) error
	DeleteRevenue(ctx context.Context, id int64) error
	DeleteRevenueBatch(ctx context.Context, batchKey string) (int64, error)
}
