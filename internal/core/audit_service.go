package core

import (
	"context"
	"fmt"

	"github.com/horizon/portal-ledger/internal/telemetry"
)

// Page size limits for audit queries.
const (
	DefaultAuditPageSize = 20
	MaxAuditPageSize     = 200
)

// AuditQuery selects one page of the ledger. Page is 0-based.
type AuditQuery struct {
	Page int
	Size int
	AuditFilter
}

// AuditPage is one page of audit entries, newest first.
type AuditPage struct {
	Content       []AuditEntry `json:"content"`
	TotalPages    int          `json:"totalPages"`
	TotalElements int64        `json:"totalElements"`
	PageNumber    int          `json:"pageNumber"`
	Size          int          `json:"size"`
	IsFirst       bool         `json:"isFirst"`
	IsLast        bool         `json:"isLast"`
}

// AuditLog returns one page of entries matching q. An action filter must
// belong to the selected entity type's vocabulary, or to the global one when
// no type is selected.
func (s *Service) AuditLog(ctx context.Context, q AuditQuery) (*AuditPage, error) {
	if err := checkAuditQuery(&q); err != nil {
		return nil, err
	}

	entries, total, err := s.store.QueryAudit(ctx, q.AuditFilter, q.Size, q.Page*q.Size)
	if err != nil {
		return nil, storageError("query audit", err)
	}

	totalPages := int((total + int64(q.Size) - 1) / int64(q.Size))
	return &AuditPage{
		Content:       entries,
		TotalPages:    totalPages,
		TotalElements: total,
		PageNumber:    q.Page,
		Size:          q.Size,
		IsFirst:       q.Page == 0,
		IsLast:        q.Page >= totalPages-1,
	}, nil
}

func checkAuditQuery(q *AuditQuery) error {
	if q.Page < 0 {
		return validationError("page", "page must not be negative")
	}
	switch {
	case q.Size <= 0:
		q.Size = DefaultAuditPageSize
	case q.Size > MaxAuditPageSize:
		q.Size = MaxAuditPageSize
	}

	if q.EntityType != "" {
		def, err := Lookup(q.EntityType)
		if err != nil {
			return validationError("entityType", "unknown entity type %q", q.EntityType)
		}
		if q.Action != "" && !def.Allows(q.Action) {
			return validationError("action", "action %s is not valid for %s", q.Action, q.EntityType)
		}
	} else if q.Action != "" {
		if _, ok := ParseAction(string(q.Action)); !ok {
			return validationError("action", "unknown action %q", q.Action)
		}
	}

	if !q.From.IsZero() && !q.To.IsZero() && q.From.After(q.To) {
		return validationError("dateFrom", "dateFrom is after dateTo")
	}
	return nil
}

// GetAuditEntry returns one entry by id.
func (s *Service) GetAuditEntry(ctx context.Context, id int64) (*AuditEntry, error) {
	return s.store.AuditEntryByID(ctx, id)
}

// RevokedBatchKeys lists every batch of entityType that has been revoked.
// It is answered from the ledger index, independent of any page window.
func (s *Service) RevokedBatchKeys(ctx context.Context, entityType string) ([]string, error) {
	if _, err := ingestible(entityType); err != nil {
		return nil, err
	}
	keys, err := s.store.RevokedBatchKeys(ctx, entityType)
	if err != nil {
		return nil, storageError("revoked batch keys", err)
	}
	return keys, nil
}

// VerifyStream re-hashes the stream of one entity and reports the first
// broken link, if any.
func (s *Service) VerifyStream(ctx context.Context, entityType, entityID string) (ChainVerification, error) {
	if _, err := Lookup(entityType); err != nil {
		return ChainVerification{}, err
	}
	if entityID == "" {
		return ChainVerification{}, validationError("entityId", "required value missing")
	}

	entries, err := s.store.AuditStream(ctx, entityType, entityID)
	if err != nil {
		return ChainVerification{}, storageError("read audit stream", err)
	}
	v := VerifyChain(entries)
	v.EntityType, v.EntityID = entityType, entityID
	if !v.Valid {
		s.log.Error("audit chain broken", "entity_type", entityType, "entity_id", entityID,
			"entry_id", v.BrokenAt, "reason", v.Reason)
	}
	return v, nil
}

// ChangeRequest is a change made by a collaborating service (users,
// configuration, FAQ) that must be recorded in the ledger.
type ChangeRequest struct {
	EntityType     string      `json:"entityType"`
	EntityID       string      `json:"entityId"`
	Action         AuditAction `json:"action"`
	SnapshotBefore *Snapshot   `json:"snapshotBefore,omitempty"`
	SnapshotAfter  *Snapshot   `json:"snapshotAfter,omitempty"`
}

// RecordChange appends a collaborator's change. Batch actions and batch
// ingestible types are refused here: those entries are written only by the
// import and revocation paths. Snapshots carrying a sensitive field in clear
// are rejected with ErrRedactionPolicy before anything is stored.
func (s *Service) RecordChange(ctx context.Context, req ChangeRequest) (*AuditEntry, error) {
	def, err := Lookup(req.EntityType)
	if err != nil {
		return nil, err
	}
	if batchAction(req.Action) || def.Ingestible() || !def.Allows(req.Action) {
		return nil, fmt.Errorf("%w: %s %s", ErrActionNotAllowed, req.Action, req.EntityType)
	}
	if req.EntityID == "" {
		return nil, validationError("entityId", "required value missing")
	}

	for _, snap := range []*Snapshot{req.SnapshotBefore, req.SnapshotAfter} {
		if err := snap.Validate(); err != nil {
			return nil, validationError("snapshot", "%v", err)
		}
		if err := CheckRedaction(snap, def.SensitiveFields); err != nil {
			return nil, err
		}
	}

	entry := stamp(ctx, &AuditEntry{
		Action:         req.Action,
		EntityType:     req.EntityType,
		EntityID:       req.EntityID,
		SnapshotBefore: req.SnapshotBefore,
		SnapshotAfter:  req.SnapshotAfter,
	})
	err = s.store.InTx(ctx, func(tx Tx) error {
		return s.ledger.Append(ctx, tx, entry)
	})
	if err != nil {
		return nil, storageError("record change", err)
	}

	telemetry.LedgerAppendsTotal.WithLabelValues(req.EntityType, string(req.Action)).Inc()
	return entry, nil
}
