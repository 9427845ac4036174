package core_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/horizon/portal-ledger/internal/config"
	"github.com/horizon/portal-ledger/internal/core"
	"github.com/horizon/portal-ledger/internal/database"
)

// newPgService connects to DATABASE_URL and applies the migrations. Tests
// isolate themselves with fresh batch keys, entity ids and actors, since the
// ledger cannot be truncated.
func newPgService(t *testing.T) (*core.Service, *core.PgStore, *pgxpool.Pool) {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := database.Open(ctx, config.DatabaseConfig{URL: url, MaxConns: 8, MinConns: 1})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, database.Migrate(pool))

	store := core.NewPgStore(pool)
	svc := core.NewService(store, core.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return svc, store, pool
}

func TestPgStore_ConcurrentRevokesYieldOneSuccess(t *testing.T) {
	svc, store, _ := newPgService(t)
	ctx := operator("pg-" + uuid.NewString())

	b1, err := svc.Import(ctx, "revenue", "b1.csv", revenueFile(revenueRows...))
	require.NoError(t, err)

	const callers = 6
	var (
		mu        sync.Mutex
		successes int
		conflicts int
	)
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			_, err := svc.Revoke(ctx, "revenue", b1.BatchKey)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, core.ErrAlreadyRevoked):
				conflicts++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, conflicts)

	rows, err := store.RevenuesByBatch(ctx, b1.BatchKey)
	require.NoError(t, err)
	assert.Empty(t, rows)

	keys, err := svc.RevokedBatchKeys(ctx, "revenue")
	require.NoError(t, err)
	assert.Contains(t, keys, b1.BatchKey)

	stream, err := store.AuditStream(ctx, "revenue", b1.BatchKey)
	require.NoError(t, err)
	require.Len(t, stream, 2)

	// Without the batch lock the partial unique index still refuses a
	// second reversal.
	err = store.InTx(ctx, func(tx core.Tx) error {
		_, err := tx.InsertAuditEntry(ctx, &core.AuditEntry{
			Actor:      "intruder",
			Action:     core.ActionRevokeBatch,
			EntityType: "revenue",
			EntityID:   b1.BatchKey,
			PrevHash:   stream[1].Hash,
			Hash:       strings.Repeat("a", 64),
			Timestamp:  time.Now().UTC(),
		})
		return err
	})
	assert.ErrorIs(t, err, core.ErrAlreadyRevoked)
}

func TestPgStore_TriggersRejectRewrites(t *testing.T) {
	svc, store, pool := newPgService(t)
	ctx := operator("pg-" + uuid.NewString())

	b1, err := svc.Import(ctx, "revenue", "b1.csv", revenueFile(revenueRows[0]))
	require.NoError(t, err)
	stream, err := store.AuditStream(ctx, "revenue", b1.BatchKey)
	require.NoError(t, err)
	require.Len(t, stream, 1)
	id := stream[0].ID

	_, err = pool.Exec(ctx, "UPDATE audit_entries SET actor = 'someone else' WHERE id = $1", id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = pool.Exec(ctx, "DELETE FROM audit_entries WHERE id = $1", id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = pool.Exec(ctx, "UPDATE revenues SET batch_key = $2 WHERE batch_key = $1", b1.BatchKey, uuid.NewString())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "immutable")

	got, err := svc.GetAuditEntry(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, stream[0].Actor, got.Actor)

	verify, err := svc.VerifyStream(ctx, "revenue", b1.BatchKey)
	require.NoError(t, err)
	assert.True(t, verify.Valid)
}

func TestPgStore_QueryAuditFiltersAndPages(t *testing.T) {
	svc, _, _ := newPgService(t)
	run := uuid.NewString()[:8]
	actor := "PgAuditor-" + run

	for i := 1; i <= 5; i++ {
		_, err := svc.RecordChange(operator(actor), core.ChangeRequest{
			EntityType:    "faq",
			EntityID:      fmt.Sprintf("%s-%d", run, i),
			Action:        core.ActionCreate,
			SnapshotAfter: objectSnapshot(t, map[string]any{"question": fmt.Sprintf("Q%d", i)}),
		})
		require.NoError(t, err)
	}
	_, err := svc.RecordChange(operator("bystander-"+run), core.ChangeRequest{
		EntityType:    "faq",
		EntityID:      run + "-x",
		Action:        core.ActionCreate,
		SnapshotAfter: objectSnapshot(t, map[string]any{"question": "other"}),
	})
	require.NoError(t, err)

	ctx := context.Background()
	filter := core.AuditFilter{EntityType: "faq", Action: core.ActionCreate, Operator: strings.ToLower(actor)}

	first, err := svc.AuditLog(ctx, core.AuditQuery{Page: 0, Size: 2, AuditFilter: filter})
	require.NoError(t, err)
	assert.EqualValues(t, 5, first.TotalElements)
	assert.Equal(t, 3, first.TotalPages)
	assert.True(t, first.IsFirst)
	require.Len(t, first.Content, 2)
	assert.Equal(t, run+"-5", first.Content[0].EntityID)
	assert.Equal(t, run+"-4", first.Content[1].EntityID)

	last, err := svc.AuditLog(ctx, core.AuditQuery{Page: 2, Size: 2, AuditFilter: filter})
	require.NoError(t, err)
	assert.True(t, last.IsLast)
	require.Len(t, last.Content, 1)
	assert.Equal(t, run+"-1", last.Content[0].EntityID)
	assert.Equal(t, actor, last.Content[0].Actor)
	require.NotNil(t, last.Content[0].SnapshotAfter)
	assert.Contains(t, string(last.Content[0].SnapshotAfter.Payload), `"question":"Q1"`)

	none, err := svc.AuditLog(ctx, core.AuditQuery{AuditFilter: core.AuditFilter{
		EntityType: "faq",
		Operator:   actor,
		From:       time.Now().Add(time.Hour),
	}})
	require.NoError(t, err)
	assert.Zero(t, none.TotalElements)
	assert.Empty(t, none.Content)
}
