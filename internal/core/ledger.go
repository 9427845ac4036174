package core

import (
	"context"
	"fmt"
	"time"
)

// Ledger is the only write path for audit entries. It has no update or delete
// operation; the audit_entries table rejects both as well.
type Ledger struct {
	now func() time.Time
}

// NewLedger returns a ledger stamping entries with now.
func NewLedger(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{now: now}
}

// Append links entry into its stream's hash chain and inserts it within tx.
// ID, PrevHash, Hash and Timestamp are set on success.
func (l *Ledger) Append(ctx context.Context, tx Tx, entry *AuditEntry) error {
	if err := checkEntry(entry); err != nil {
		return err
	}

	var err error
	if entry.SnapshotBefore, err = entry.SnapshotBefore.Canonical(); err != nil {
		return err
	}
	if entry.SnapshotAfter, err = entry.SnapshotAfter.Canonical(); err != nil {
		return err
	}

	if err := tx.LockStream(ctx, entry.EntityType, entry.EntityID); err != nil {
		return fmt.Errorf("lock audit stream: %w", err)
	}

	prev, err := tx.LastHash(ctx, entry.EntityType, entry.EntityID)
	if err != nil {
		return fmt.Errorf("read chain head: %w", err)
	}
	if prev == "" {
		prev = GenesisHash
	}

	entry.PrevHash = prev
	entry.Timestamp = l.now().UTC().Truncate(time.Microsecond)
	if entry.Hash, err = ComputeHash(entry); err != nil {
		return err
	}

	id, err := tx.InsertAuditEntry(ctx, entry)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	entry.ID = id
	return nil
}

func checkEntry(e *AuditEntry) error {
	if e == nil {
		return fmt.Errorf("nil audit entry")
	}
	if _, ok := ParseAction(string(e.Action)); !ok {
		return validationError("action", "unknown action %q", e.Action)
	}
	if e.EntityType == "" {
		return validationError("entityType", "required value missing")
	}
	if e.EntityID == "" {
		return validationError("entityId", "required value missing")
	}
	if e.Actor == "" {
		e.Actor = SystemActor
	}
	if err := e.SnapshotBefore.Validate(); err != nil {
		return validationError("snapshotBefore", "%v", err)
	}
	if err := e.SnapshotAfter.Validate(); err != nil {
		return validationError("snapshotAfter", "%v", err)
	}
	return nil
}
