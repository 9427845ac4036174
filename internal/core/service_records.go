package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/horizon/portal-ledger/internal/telemetry"
)

// GetRecord returns one live record.
func (s *Service) GetRecord(ctx context.Context, entityType string, id int64) (*Revenue, error) {
	if _, err := ingestible(entityType); err != nil {
		return nil, err
	}
	return s.store.RevenueByID(ctx, id)
}

// BatchRecords returns the live rows of a batch. IMPORT_BATCH entries only
// carry a summary; this is where the rows themselves are read back.
func (s *Service) BatchRecords(ctx context.Context, entityType, batchKey string) ([]Revenue, error) {
	if _, err := ingestible(entityType); err != nil {
		return nil, err
	}
	rows, err := s.store.RevenuesByBatch(ctx, batchKey)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, batchKey)
	}
	return rows, nil
}

// GetBatch returns the sentinel row of a batch, revoked or not.
func (s *Service) GetBatch(ctx context.Context, entityType, batchKey string) (*Batch, error) {
	if _, err := ingestible(entityType); err != nil {
		return nil, err
	}
	b, err := s.store.Batch(ctx, batchKey)
	if err != nil {
		return nil, err
	}
	if b.EntityType != entityType {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, batchKey)
	}
	return b, nil
}

// UpdateRecord edits the business fields of one record and appends an UPDATE
// entry with before and after snapshots. The batch key is kept.
func (s *Service) UpdateRecord(ctx context.Context, entityType string, id int64, in RevenueInput) (*Revenue, error) {
	def, err := ingestible(entityType)
	if err != nil {
		return nil, err
	}
	if !def.Allows(ActionUpdate) {
		return nil, fmt.Errorf("%w: %s %s", ErrActionNotAllowed, ActionUpdate, entityType)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var updated Revenue
	err = s.store.InTx(ctx, func(tx Tx) error {
		current, err := tx.RevenueByID(ctx, id)
		if err != nil {
			return err
		}
		before, err := NewObjectSnapshot(current)
		if err != nil {
			return err
		}

		updated = in.applyTo(*current)
		if err := tx.UpdateRevenue(ctx, updated); err != nil {
			return err
		}
		after, err := NewObjectSnapshot(updated)
		if err != nil {
			return err
		}

		return s.ledger.Append(ctx, tx, stamp(ctx, &AuditEntry{
			Action:         ActionUpdate,
			EntityType:     entityType,
			EntityID:       strconv.FormatInt(id, 10),
			SnapshotBefore: before,
			SnapshotAfter:  after,
		}))
	})
	if err != nil {
		return nil, storageError("update record", err)
	}

	telemetry.LedgerAppendsTotal.WithLabelValues(entityType, string(ActionUpdate)).Inc()
	return &updated, nil
}

// DeleteRecord removes one record and appends a DELETE entry carrying the
// record as it was.
func (s *Service) DeleteRecord(ctx context.Context, entityType string, id int64) error {
	def, err := ingestible(entityType)
	if err != nil {
		return err
	}
	if !def.Allows(ActionDelete) {
		return fmt.Errorf("%w: %s %s", ErrActionNotAllowed, ActionDelete, entityType)
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		current, err := tx.RevenueByID(ctx, id)
		if err != nil {
			return err
		}
		before, err := NewObjectSnapshot(current)
		if err != nil {
			return err
		}
		if err := tx.DeleteRevenue(ctx, id); err != nil {
			return err
		}
		return s.ledger.Append(ctx, tx, stamp(ctx, &AuditEntry{
			Action:         ActionDelete,
			EntityType:     entityType,
			EntityID:       strconv.FormatInt(id, 10),
			SnapshotBefore: before,
		}))
	})
	if err != nil {
		return storageError("delete record", err)
	}

	telemetry.LedgerAppendsTotal.WithLabelValues(entityType, string(ActionDelete)).Inc()
	return nil
}

// Validate checks the input the same way an import row is checked and
// reports every problem.
func (in RevenueInput) Validate() error {
	var errs []RowError
	fail := func(column, reason string) {
		errs = append(errs, RowError{Column: column, Reason: reason})
	}

	if in.FiscalYear <= 0 {
		fail("fiscalYear", "required value missing")
	}
	if in.Month < 1 || in.Month > 12 {
		fail("month", fmt.Sprintf("invalid month %d: expected 1-12", in.Month))
	}
	if _, err := ParseDateISO(in.PostingDate); err != nil {
		fail("postingDate", err.Error())
	}
	for _, req := range []struct{ column, value string }{
		{"economicCategory", in.EconomicCategory},
		{"origin", in.Origin},
		{"fundingSource", in.FundingSource},
	} {
		if strings.TrimSpace(req.value) == "" {
			fail(req.column, "required value missing")
		}
	}
	for _, amt := range []struct {
		column string
		value  decimal.Decimal
	}{
		{"forecastInitial", in.ForecastInitial},
		{"forecastUpdated", in.ForecastUpdated},
		{"collected", in.Collected},
	} {
		if err := CheckAmount(amt.value); err != nil {
			fail(amt.column, fmt.Sprintf("invalid amount %s: %v", amt.value, err))
		}
	}

	if len(errs) > 0 {
		return &ValidationFailedError{Errors: errs}
	}
	return nil
}

// applyTo returns r with the input's business fields. Validate must have
// passed.
func (in RevenueInput) applyTo(r Revenue) Revenue {
	date, _ := ParseDateISO(in.PostingDate)
	r.FiscalYear = in.FiscalYear
	r.Month = in.Month
	r.PostingDate = date
	r.EconomicCategory = strings.TrimSpace(in.EconomicCategory)
	r.Origin = strings.TrimSpace(in.Origin)
	r.Species = strings.TrimSpace(in.Species)
	r.Heading = strings.TrimSpace(in.Heading)
	r.Subheading = strings.TrimSpace(in.Subheading)
	r.FundingSource = strings.TrimSpace(in.FundingSource)
	r.ForecastInitial = in.ForecastInitial
	r.ForecastUpdated = in.ForecastUpdated
	r.Collected = in.Collected
	r.Note = in.Note
	return r
}
