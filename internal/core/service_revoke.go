package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/horizon/portal-ledger/internal/telemetry"
)

// Revoke deletes every row of a batch and appends one REVOKE_BATCH entry
// whose before-snapshot is the full list of deleted rows. The check, read,
// delete and append run in one transaction under a lock on the batch key, so
// concurrent calls for the same key yield exactly one success.
func (s *Service) Revoke(ctx context.Context, entityType, batchKey string) (RevokeResult, error) {
	if _, err := ingestible(entityType); err != nil {
		return RevokeResult{}, err
	}
	if batchKey == "" {
		return RevokeResult{}, fmt.Errorf("%w: empty batch key", ErrBatchNotFound)
	}

	var result RevokeResult
	err := s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.LockBatch(ctx, entityType, batchKey); err != nil {
			return fmt.Errorf("lock batch: %w", err)
		}

		revoked, err := tx.HasRevocation(ctx, entityType, batchKey)
		if err != nil {
			return fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return fmt.Errorf("%w: %s", ErrAlreadyRevoked, batchKey)
		}

		rows, err := tx.RevenuesByBatch(ctx, batchKey)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return fmt.Errorf("%w: %s", ErrBatchNotFound, batchKey)
		}

		before, err := NewListSnapshot(RevenueColumns, rows)
		if err != nil {
			return err
		}

		deleted, err := tx.DeleteRevenueBatch(ctx, batchKey)
		if err != nil {
			return err
		}
		if deleted != int64(len(rows)) {
			return fmt.Errorf("delete batch rows: removed %d of %d", deleted, len(rows))
		}

		if err := tx.MarkBatchRevoked(ctx, batchKey, s.now().UTC().Truncate(time.Microsecond)); err != nil {
			return err
		}

		entry := stamp(ctx, &AuditEntry{
			Action:         ActionRevokeBatch,
			EntityType:     entityType,
			EntityID:       batchKey,
			SnapshotBefore: before,
		})
		if err := s.ledger.Append(ctx, tx, entry); err != nil {
			return err
		}

		result = RevokeResult{BatchKey: batchKey, RowsDeleted: len(rows), AuditID: entry.ID}
		return nil
	})

	log := s.log.With("entity_type", entityType, "batch_key", batchKey)
	switch {
	case err == nil:
		telemetry.RevocationsTotal.WithLabelValues(entityType, telemetry.OutcomeOK).Inc()
		telemetry.LedgerAppendsTotal.WithLabelValues(entityType, string(ActionRevokeBatch)).Inc()
		log.Info("batch revoked", "rows", result.RowsDeleted, "audit_id", result.AuditID)
		return result, nil
	case errors.Is(err, ErrAlreadyRevoked):
		telemetry.RevocationsTotal.WithLabelValues(entityType, telemetry.OutcomeConflict).Inc()
	case errors.Is(err, ErrBatchNotFound):
		telemetry.RevocationsTotal.WithLabelValues(entityType, telemetry.OutcomeNotFound).Inc()
	default:
		telemetry.RevocationsTotal.WithLabelValues(entityType, telemetry.OutcomeError).Inc()
		log.Error("revocation failed", "error", err)
	}
	return RevokeResult{}, storageError("revoke", err)
}
