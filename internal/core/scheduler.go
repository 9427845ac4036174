package core

// scheduler.go copies the ledger to the blob store in the background.
//
// Each run reads the entries appended since the last recorded export, in id
// order and in chunks of BatchSize, writes every chunk as one JSON Lines
// object and records the exported id range. Ids are assigned at insert but
// transactions commit in any order, so a run only exports the leading run of
// entries older than Lag and stops at the first younger one; a lower id
// still in flight is committed by the time its higher neighbours qualify.
// A failed chunk stops the run and the next run starts again from the last
// recorded range. The job never fails the application.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/horizon/portal-ledger/internal/storage"
	"github.com/horizon/portal-ledger/internal/telemetry"
)

// ExportConfig controls the ledger export job.
type ExportConfig struct {
	Interval  time.Duration    // How often to run (default: 1h)
	BatchSize int              // Entries per object (default: 5000)
	Lag       time.Duration    // Minimum entry age before export (default: 10m)
	Now       func() time.Time // Clock (default: time.Now)
}

// LedgerExporter writes audit entries to a blob store as JSON Lines.
type LedgerExporter struct {
	store Store
	blobs storage.Storage
	cfg   ExportConfig
	now   func() time.Time
	log   *slog.Logger
}

// NewLedgerExporter creates an exporter; zero config fields take defaults.
func NewLedgerExporter(store Store, blobs storage.Storage, cfg ExportConfig, log *slog.Logger) *LedgerExporter {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5000
	}
	if cfg.Lag <= 0 {
		cfg.Lag = 10 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &LedgerExporter{store: store, blobs: blobs, cfg: cfg, now: cfg.Now, log: log}
}

// ExportPath is the object key of one exported range.
func ExportPath(fromID, toID int64, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("ledger/%04d/%02d/%02d/%d-%d.jsonl", at.Year(), at.Month(), at.Day(), fromID, toID)
}

// Run exports immediately, then every Interval until ctx is cancelled.
func (e *LedgerExporter) Run(ctx context.Context) error {
	e.log.Info("ledger export scheduler started",
		"interval", e.cfg.Interval.String(),
		"batch_size", e.cfg.BatchSize,
		"lag", e.cfg.Lag.String(),
	)

	e.runJob(ctx)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("ledger export scheduler stopped")
			return nil
		case <-ticker.C:
			e.runJob(ctx)
		}
	}
}

func (e *LedgerExporter) runJob(ctx context.Context) {
	start := time.Now()
	n, err := e.ExportOnce(ctx)
	if err != nil {
		telemetry.LedgerExportErrorsTotal.Inc()
		e.log.Error("ledger export failed", "entries_exported", n, "error", err)
		return
	}
	e.log.Info("ledger export completed",
		"entries_exported", n,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// ExportOnce exports the entries not yet exported that are older than Lag
// and returns how many were written.
func (e *LedgerExporter) ExportOnce(ctx context.Context) (int, error) {
	after, err := e.store.LastExportedID(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := e.now().Add(-e.cfg.Lag)

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		entries, err := e.store.AuditAfter(ctx, after, e.cfg.BatchSize)
		if err != nil {
			return total, err
		}
		settled := settledPrefix(entries, cutoff)
		if len(settled) == 0 {
			return total, nil
		}

		rec, err := e.exportChunk(ctx, settled)
		if err != nil {
			return total, err
		}
		total += rec.EntryCount
		after = rec.ToID
		telemetry.LedgerExportedEntriesTotal.Add(float64(rec.EntryCount))

		if len(settled) < len(entries) {
			return total, nil
		}
	}
}

// settledPrefix returns the entries before the first one stamped at or after
// cutoff.
func settledPrefix(entries []AuditEntry, cutoff time.Time) []AuditEntry {
	for i := range entries {
		if !entries[i].Timestamp.Before(cutoff) {
			return entries[:i]
		}
	}
	return entries
}

func (e *LedgerExporter) exportChunk(ctx context.Context, entries []AuditEntry) (LedgerExport, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return LedgerExport{}, fmt.Errorf("encode entry %d: %w", entries[i].ID, err)
		}
	}

	now := e.now().UTC()
	rec := LedgerExport{
		FromID:     entries[0].ID,
		ToID:       entries[len(entries)-1].ID,
		EntryCount: len(entries),
		ExportedAt: now,
	}
	rec.ObjectKey = ExportPath(rec.FromID, rec.ToID, now)

	if _, err := e.blobs.Upload(ctx, rec.ObjectKey, bytes.NewReader(buf.Bytes()), int64(buf.Len())); err != nil {
		return LedgerExport{}, fmt.Errorf("upload %s: %w", rec.ObjectKey, err)
	}
	if err := e.store.RecordExport(ctx, rec); err != nil {
		return LedgerExport{}, err
	}
	return rec, nil
}
