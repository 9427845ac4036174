package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/horizon/portal-ledger/internal/storage"
)

// DefaultImportTimeout bounds parse-to-commit of one import.
const DefaultImportTimeout = 5 * time.Minute

// Options configures a Service. Zero values are usable.
type Options struct {
	// MaxFileSize rejects larger imports with ErrFileTooLarge; 0 disables.
	MaxFileSize int64

	ImportTimeout time.Duration

	// Archive keeps source files after commit; nil disables archiving.
	Archive storage.Storage

	Limiter *ImportLimiter
	Cluster *RedisImportLimiter

	Now    func() time.Time
	Logger *slog.Logger
}

// Service provides the import, revocation and audit operations.
type Service struct {
	store   Store
	ledger  *Ledger
	archive storage.Storage
	limiter *ImportLimiter
	cluster *RedisImportLimiter

	maxFileSize   int64
	importTimeout time.Duration
	now           func() time.Time
	log           *slog.Logger
}

// NewService creates a new Service instance.
func NewService(store Store, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ImportTimeout <= 0 {
		opts.ImportTimeout = DefaultImportTimeout
	}
	if opts.Limiter == nil {
		opts.Limiter = NewImportLimiter(DefaultMaxConcurrentImports, DefaultMaxWaitTime)
	}

	return &Service{
		store:         store,
		ledger:        NewLedger(opts.Now),
		archive:       opts.Archive,
		limiter:       opts.Limiter,
		cluster:       opts.Cluster,
		maxFileSize:   opts.MaxFileSize,
		importTimeout: opts.ImportTimeout,
		now:           opts.Now,
		log:           opts.Logger,
	}
}

// Store exposes the underlying store to background jobs.
func (s *Service) Store() Store {
	return s.store
}

// Limiter returns the local import limiter, for shutdown draining.
func (s *Service) Limiter() *ImportLimiter {
	return s.limiter
}

// Ping checks that the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ListEntities returns the registered entity types.
func (s *Service) ListEntities() []EntityInfo {
	defs := All()
	infos := make([]EntityInfo, len(defs))
	for i, def := range defs {
		infos[i] = def.Info
	}
	return infos
}

// ingestible looks up an entity type that accepts batch imports.
func ingestible(entityType string) (EntityDefinition, error) {
	def, err := Lookup(entityType)
	if err != nil {
		return EntityDefinition{}, err
	}
	if !def.Ingestible() {
		return EntityDefinition{}, fmt.Errorf("%w: %s", ErrNotIngestible, entityType)
	}
	return def, nil
}
