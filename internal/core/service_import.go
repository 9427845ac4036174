package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/horizon/portal-ledger/internal/telemetry"
)

// Import validates a whole file and commits its rows under a new batch key,
// together with one IMPORT_BATCH entry, in a single transaction. Nothing is
// written when any row fails validation.
func (s *Service) Import(ctx context.Context, entityType, fileName string, data []byte) (ImportResult, error) {
	def, err := ingestible(entityType)
	if err != nil {
		return ImportResult{}, err
	}
	if s.maxFileSize > 0 && int64(len(data)) > s.maxFileSize {
		telemetry.ImportsTotal.WithLabelValues(entityType, telemetry.OutcomeRejected).Inc()
		return ImportResult{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, len(data), s.maxFileSize)
	}

	release, err := s.acquireSlot(ctx)
	if err != nil {
		telemetry.ImportsTotal.WithLabelValues(entityType, telemetry.OutcomeThrottled).Inc()
		return ImportResult{}, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, s.importTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.importFile(ctx, def, fileName, data)
	telemetry.ImportDuration.WithLabelValues(entityType).Observe(time.Since(start).Seconds())

	log := s.log.With("entity_type", entityType, "file_name", fileName)
	switch {
	case err == nil:
		telemetry.ImportsTotal.WithLabelValues(entityType, telemetry.OutcomeOK).Inc()
		telemetry.ImportedRowsTotal.WithLabelValues(entityType).Add(float64(result.RowCount))
		telemetry.LedgerAppendsTotal.WithLabelValues(entityType, string(ActionImportBatch)).Inc()
		log.Info("import committed", "batch_key", result.BatchKey, "rows", result.RowCount,
			"duration_ms", time.Since(start).Milliseconds())
	case errors.Is(err, ErrValidationFailed):
		telemetry.ImportsTotal.WithLabelValues(entityType, telemetry.OutcomeRejected).Inc()
		log.Info("import rejected", "error", err)
	default:
		telemetry.ImportsTotal.WithLabelValues(entityType, telemetry.OutcomeError).Inc()
		log.Error("import failed", "error", err)
	}
	if err != nil {
		return ImportResult{}, err
	}

	s.archiveSource(ctx, entityType, result.BatchKey, data)
	return result, nil
}

func (s *Service) importFile(ctx context.Context, def EntityDefinition, fileName string, data []byte) (ImportResult, error) {
	parsed, err := ParseFile(def, data)
	if err != nil {
		return ImportResult{}, err
	}

	records, err := buildRecords(def, parsed.Rows)
	if err != nil {
		return ImportResult{}, err
	}

	batchKey := uuid.NewString()
	now := s.now().UTC().Truncate(time.Microsecond)
	for i := range records {
		records[i].BatchKey = batchKey
		records[i].ImportedAt = now
	}

	after, err := NewObjectSnapshot(summarize(def, fileName, parsed.Rows))
	if err != nil {
		return ImportResult{}, err
	}

	entityType := def.Info.Key
	err = s.store.InTx(ctx, func(tx Tx) error {
		batch := Batch{
			Key:        batchKey,
			EntityType: entityType,
			FileName:   fileName,
			RowCount:   len(records),
			CreatedBy:  OriginFrom(ctx).Actor,
			CreatedAt:  now,
		}
		if err := tx.CreateBatch(ctx, batch); err != nil {
			return err
		}

		n, err := tx.InsertRevenues(ctx, records)
		if err != nil {
			return err
		}
		if n != int64(len(records)) {
			return fmt.Errorf("copy revenues: wrote %d of %d rows", n, len(records))
		}

		return s.ledger.Append(ctx, tx, stamp(ctx, &AuditEntry{
			Action:        ActionImportBatch,
			EntityType:    entityType,
			EntityID:      batchKey,
			SnapshotAfter: after,
		}))
	})
	if err != nil {
		return ImportResult{}, storageError("import", err)
	}

	return ImportResult{BatchKey: batchKey, RowCount: len(records)}, nil
}

// buildRecords converts every row, collecting every failure.
func buildRecords(def EntityDefinition, rows []ParsedRow) ([]Revenue, error) {
	records := make([]Revenue, 0, len(rows))
	var failures []RowError
	for _, row := range rows {
		rec, err := def.BuildRecord(row)
		if err != nil {
			failures = append(failures, RowError{Row: row.Line, Reason: err.Error()})
			continue
		}
		rec.SourceLine = row.Line
		records = append(records, rec)
	}
	if len(failures) > 0 {
		return nil, &ValidationFailedError{Errors: failures}
	}
	return records, nil
}

// summarize builds the IMPORT_BATCH after-snapshot: row count, line range and
// a total per decimal column.
func summarize(def EntityDefinition, fileName string, rows []ParsedRow) ImportSummary {
	sum := ImportSummary{
		RowCount: len(rows),
		Totals:   make(map[string]string),
		FileName: fileName,
	}
	if len(rows) > 0 {
		sum.FirstLine = rows[0].Line
		sum.LastLine = rows[len(rows)-1].Line
	}

	for _, spec := range def.Columns {
		if spec.Type != FieldDecimal {
			continue
		}
		total := decimal.Zero
		for _, row := range rows {
			total = total.Add(row.Decimal(spec.Key))
		}
		sum.Totals[spec.Key] = total.StringFixed(2)
	}
	return sum
}

// acquireSlot takes a local slot and, when configured, a cluster slot.
func (s *Service) acquireSlot(ctx context.Context) (func(), error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	if s.cluster == nil {
		return s.limiter.Release, nil
	}

	if err := s.cluster.Acquire(ctx); err != nil {
		s.limiter.Release()
		return nil, err
	}
	return func() {
		if err := s.cluster.Release(ctx); err != nil {
			s.log.Warn("cluster import slot not released", "error", err)
		}
		s.limiter.Release()
	}, nil
}

// ArchivePath is where the source file of a batch is kept.
func ArchivePath(entityType, batchKey string) string {
	return path.Join("imports", entityType, batchKey+".csv")
}

// archiveSource keeps the committed file in the blob store. The batch is
// already committed, so a failure is only logged.
func (s *Service) archiveSource(ctx context.Context, entityType, batchKey string, data []byte) {
	if s.archive == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	p := ArchivePath(entityType, batchKey)
	if _, err := s.archive.Upload(ctx, p, bytes.NewReader(data), int64(len(data))); err != nil {
		s.log.Warn("source file not archived", "batch_key", batchKey, "path", p, "error", err)
	}
}
