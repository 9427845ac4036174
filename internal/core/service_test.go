package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/horizon/portal-ledger/internal/core"
	_ "github.com/horizon/portal-ledger/internal/entities"
)

const revenueHeader = "exercicio;mes;data_lancamento;categoria_economica;origem;especie;rubrica;alinea;fonte_recursos;valor_previsto_inicial;valor_previsto_atualizado;valor_arrecadado;historico"

var revenueRows = []string{
	"2024;1;15/01/2024;Receitas Correntes;Impostos;IPTU;;;Recursos Ordinários;1.000,00;1.200,50;950,25;Primeira parcela",
	"2024;2;14/02/2024;Receitas Correntes;Taxas;Coleta;;;Recursos Ordinários;;;R$ 320,10;",
	"2024;3;20/03/2024;Receitas de Capital;Alienação;;;;Convênios;10.000,00;10.000,00;9.999,99;Leilão",
}

func revenueFile(rows ...string) []byte {
	return []byte(revenueHeader + "\n" + strings.Join(rows, "\n") + "\n")
}

// stepClock advances one second on every call so entries sort
// deterministically.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestService(t *testing.T) (*core.Service, *core.MemoryStore) {
	t.Helper()
	store := core.NewMemoryStore()
	svc := core.NewService(store, core.Options{
		Now:    newStepClock().Now,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return svc, store
}

func operator(name string) context.Context {
	return core.WithOrigin(context.Background(), core.Origin{
		Actor:     name,
		Address:   "10.0.0.7",
		UserAgent: "test-agent",
	})
}

func allEntries(t *testing.T, svc *core.Service) []core.AuditEntry {
	t.Helper()
	page, err := svc.AuditLog(context.Background(), core.AuditQuery{Size: core.MaxAuditPageSize})
	require.NoError(t, err)
	return page.Content
}

func TestImport_CommitsRowsAndOneEntry(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := operator("maria")

	res, err := svc.Import(ctx, "revenue", "receitas.csv", revenueFile(revenueRows...))
	require.NoError(t, err)
	assert.Equal(t, 3, res.RowCount)
	assert.NotEmpty(t, res.BatchKey)

	rows, err := svc.BatchRecords(ctx, "revenue", res.BatchKey)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, r := range rows {
		assert.Equal(t, res.BatchKey, r.BatchKey)
	}
	assert.Equal(t, "950.25", rows[0].Collected.StringFixed(2))
	assert.Equal(t, "0.00", rows[1].ForecastInitial.StringFixed(2))
	assert.Equal(t, "Recursos Ordinários", rows[0].FundingSource)
	assert.Equal(t, 2, rows[0].SourceLine)

	entries := allEntries(t, svc)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, core.ActionImportBatch, e.Action)
	assert.Equal(t, res.BatchKey, e.EntityID)
	assert.Equal(t, "maria", e.Actor)
	assert.Equal(t, "10.0.0.7", e.OriginAddress)
	assert.Nil(t, e.SnapshotBefore)
	require.NotNil(t, e.SnapshotAfter)
	assert.Equal(t, core.SnapshotObject, e.SnapshotAfter.Kind)

	var summary core.ImportSummary
	require.NoError(t, json.Unmarshal(e.SnapshotAfter.Payload, &summary))
	assert.Equal(t, 3, summary.RowCount)
	assert.Equal(t, 2, summary.FirstLine)
	assert.Equal(t, 4, summary.LastLine)
	assert.Equal(t, "receitas.csv", summary.FileName)
	assert.Equal(t, "11270.34", summary.Totals["collected"])

	batch, err := svc.GetBatch(ctx, "revenue", res.BatchKey)
	require.NoError(t, err)
	assert.Equal(t, "maria", batch.CreatedBy)
	assert.Nil(t, batch.RevokedAt)
}

func TestImport_MissingRequiredValueRejectsWholeFile(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rows := append([]string(nil), revenueRows...)
	rows[1] = "2024;2;14/02/2024;Receitas Correntes;;Coleta;;;Recursos Ordinários;;;320,10;"

	_, err := svc.Import(ctx, "revenue", "receitas.csv", revenueFile(rows...))
	require.ErrorIs(t, err, core.ErrValidationFailed)

	var vf *core.ValidationFailedError
	require.True(t, errors.As(err, &vf))
	require.Len(t, vf.Errors, 1)
	assert.Equal(t, 3, vf.Errors[0].Row)
	assert.Equal(t, "origem", vf.Errors[0].Column)

	_, err = svc.GetRecord(ctx, "revenue", 1)
	assert.ErrorIs(t, err, core.ErrRecordNotFound)
	assert.Empty(t, allEntries(t, svc))
}

func TestImport_CollectsEveryRowError(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Import(context.Background(), "revenue", "x.csv", revenueFile(
		"2024;13;15/01/2024;Receitas Correntes;Impostos;;;;Fonte;1,00;1,00;1,00;",
		"2024;1;31/02/2024;Receitas Correntes;Impostos;;;;Fonte;1,00;1,00;abc;",
		"2024;1;15/01/2024;Receitas Correntes;Impostos;;;;Fonte;1,00;1,00;1,00;",
	))

	var vf *core.ValidationFailedError
	require.True(t, errors.As(err, &vf))
	require.Len(t, vf.Errors, 3)
	assert.Equal(t, core.RowError{Row: 2, Column: "mes", Reason: vf.Errors[0].Reason}, vf.Errors[0])
	assert.Equal(t, 3, vf.Errors[1].Row)
	assert.Equal(t, "data_lancamento", vf.Errors[1].Column)
	assert.Equal(t, "valor_arrecadado", vf.Errors[2].Column)
}

func TestImport_StorageFailureRollsBack(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	store.FailAuditAppends(errors.New("disk full"))
	_, err := svc.Import(ctx, "revenue", "receitas.csv", revenueFile(revenueRows...))
	require.ErrorIs(t, err, core.ErrStorageFailure)

	for id := int64(1); id <= 3; id++ {
		_, err := svc.GetRecord(ctx, "revenue", id)
		assert.ErrorIs(t, err, core.ErrRecordNotFound)
	}

	store.FailAuditAppends(nil)
	assert.Empty(t, allEntries(t, svc))

	res, err := svc.Import(ctx, "revenue", "receitas.csv", revenueFile(revenueRows...))
	require.NoError(t, err)
	assert.Equal(t, 3, res.RowCount)
}

func TestImport_CancelledContextCommitsNothing(t *testing.T) {
	svc, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Import(ctx, "revenue", "receitas.csv", revenueFile(revenueRows...))
	require.Error(t, err)
	assert.Empty(t, allEntries(t, svc))
}

func TestImport_Refusals(t *testing.T) {
	store := core.NewMemoryStore()
	svc := core.NewService(store, core.Options{
		MaxFileSize: 64,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ctx := context.Background()

	tests := []struct {
		name       string
		entityType string
		data       []byte
		want       error
	}{
		{"unknown entity", "invoice", []byte("a"), core.ErrUnknownEntity},
		{"not ingestible", "user", []byte("a"), core.ErrNotIngestible},
		{"too large", "revenue", revenueFile(revenueRows...), core.ErrFileTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Import(ctx, tt.entityType, "f.csv", tt.data)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRevoke_ImportThenRevoke(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := operator("joao")

	b1, err := svc.Import(ctx, "revenue", "b1.csv", revenueFile(revenueRows[:2]...))
	require.NoError(t, err)

	res, err := svc.Revoke(ctx, "revenue", b1.BatchKey)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowsDeleted)

	entries := allEntries(t, svc)
	require.Len(t, entries, 2)
	assert.Equal(t, core.ActionRevokeBatch, entries[0].Action)
	assert.Equal(t, core.ActionImportBatch, entries[1].Action)
	assert.Equal(t, entries[1].Hash, entries[0].PrevHash)

	keys, err := svc.RevokedBatchKeys(ctx, "revenue")
	require.NoError(t, err)
	assert.Contains(t, keys, b1.BatchKey)

	_, err = svc.BatchRecords(ctx, "revenue", b1.BatchKey)
	assert.ErrorIs(t, err, core.ErrBatchNotFound)

	batch, err := svc.GetBatch(ctx, "revenue", b1.BatchKey)
	require.NoError(t, err)
	assert.NotNil(t, batch.RevokedAt)
}

func TestRevoke_SecondCallIsRefused(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	b1, err := svc.Import(ctx, "revenue", "b1.csv", revenueFile(revenueRows...))
	require.NoError(t, err)
	_, err = svc.Revoke(ctx, "revenue", b1.BatchKey)
	require.NoError(t, err)

	_, err = svc.Revoke(ctx, "revenue", b1.BatchKey)
	require.ErrorIs(t, err, core.ErrAlreadyRevoked)
	assert.Len(t, allEntries(t, svc), 2)
}

func TestRevoke_ConcurrentCallsYieldOneSuccess(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	b1, err := svc.Import(ctx, "revenue", "b1.csv", revenueFile(revenueRows...))
	require.NoError(t, err)

	const callers = 8
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

	page, err := svc.AuditLog(ctx, core.AuditQuery{
		AuditFilter: core.AuditFilter{EntityType: "revenue", Action: core.ActionRevokeBatch},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, page.TotalElements)
}

func TestRevoke_SnapshotReproducesDeletedRows(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	b1, err := svc.Import(ctx, "revenue", "b1.csv", revenueFile(revenueRows...))
	require.NoError(t, err)
	live, err := svc.BatchRecords(ctx, "revenue", b1.BatchKey)
	require.NoError(t, err)

	res, err := svc.Revoke(ctx, "revenue", b1.BatchKey)
	require.NoError(t, err)

	entry, err := svc.GetAuditEntry(ctx, res.AuditID)
	require.NoError(t, err)
	require.NotNil(t, entry.SnapshotBefore)
	assert.Equal(t, core.SnapshotList, entry.SnapshotBefore.Kind)
	assert.Equal(t, core.RevenueColumns, entry.SnapshotBefore.Columns)
	assert.Nil(t, entry.SnapshotAfter)

	want, err := json.Marshal(live)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(entry.SnapshotBefore.Payload))

	var restored []core.Revenue
	require.NoError(t, json.Unmarshal(entry.SnapshotBefore.Payload, &restored))
	require.Len(t, restored, len(live))
	for i := range live {
		assert.True(t, live[i].Collected.Equal(restored[i].Collected))
		assert.Equal(t, live[i].BatchKey, restored[i].BatchKey)
		assert.True(t, live[i].PostingDate.Equal(restored[i].PostingDate))
	}
}

func TestRevoke_Refusals(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.Revoke(ctx, "revenue", "no-such-batch")
	assert.ErrorIs(t, err, core.ErrBatchNotFound)

	_, err = svc.Revoke(ctx, "faq", "whatever")
	assert.ErrorIs(t, err, core.ErrNotIngestible)

	b1, err := svc.Import(ctx, "revenue", "b1.csv", revenueFile(revenueRows...))
	require.NoError(t, err)

	store.FailAuditAppends(errors.New("connection reset"))
	_, err = svc.Revoke(ctx, "revenue", b1.BatchKey)
	require.ErrorIs(t, err, core.ErrStorageFailure)
	store.FailAuditAppends(nil)

	rows, err := svc.BatchRecords(ctx, "revenue", b1.BatchKey)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	keys, err := svc.RevokedBatchKeys(ctx, "revenue")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestUpdateRecord_AppendsBeforeAndAfter(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := operator("ana")

	b1, err := svc.Import(ctx, "revenue", "b1.csv", revenueFile(revenueRows[0]))
	require.NoError(t, err)
	rows, err := svc.BatchRecords(ctx, "revenue", b1.BatchKey)
	require.NoError(t, err)
	orig := rows[0]

	in := core.RevenueInput{
		FiscalYear:       2024,
		Month:            1,
		PostingDate:      "2024-01-16",
		EconomicCategory: orig.EconomicCategory,
		Origin:           orig.Origin,
		FundingSource:    orig.FundingSource,
		ForecastInitial:  orig.ForecastInitial,
		ForecastUpdated:  orig.ForecastUpdated,
		Collected:        orig.Collected.Add(orig.Collected),
		Note:             "corrigido",
	}
	updated, err := svc.UpdateRecord(ctx, "revenue", orig.ID, in)
	require.NoError(t, err)
	assert.Equal(t, b1.BatchKey, updated.BatchKey)
	assert.Equal(t, "1900.50", updated.Collected.StringFixed(2))

	page, err := svc.AuditLog(ctx, core.AuditQuery{AuditFilter: core.AuditFilter{Action: core.ActionUpdate}})
	require.NoError(t, err)
	require.Len(t, page.Content, 1)
	e := page.Content[0]
	require.NotNil(t, e.SnapshotBefore)
	require.NotNil(t, e.SnapshotAfter)
	assert.Contains(t, string(e.SnapshotBefore.Payload), `"note":"Primeira parcela"`)
	assert.Contains(t, string(e.SnapshotAfter.Payload), `"note":"corrigido"`)

	_, err = svc.UpdateRecord(ctx, "revenue", orig.ID, core.RevenueInput{})
	var vf *core.ValidationFailedError
	require.True(t, errors.As(err, &vf))
	assert.GreaterOrEqual(t, len(vf.Errors), 5)
}

func TestAmountsOutsideColumnRangeAreRowErrors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := operator("ana")

	_, err := svc.Import(ctx, "revenue", "cents.csv", revenueFile(
		revenueRows[0],
		"2024;2;14/02/2024;Receitas Correntes;Taxas;Coleta;;;Recursos Ordinários;;;950,257;",
	))
	var vf *core.ValidationFailedError
	require.True(t, errors.As(err, &vf), "got %v", err)
	require.Len(t, vf.Errors, 1)
	assert.Equal(t, 3, vf.Errors[0].Row)
	assert.Equal(t, "valor_arrecadado", vf.Errors[0].Column)
	assert.Empty(t, allEntries(t, svc))

	b1, err := svc.Import(ctx, "revenue", "b1.csv", revenueFile(revenueRows[0]))
	require.NoError(t, err)
	rows, err := svc.BatchRecords(ctx, "revenue", b1.BatchKey)
	require.NoError(t, err)
	orig := rows[0]

	in := core.RevenueInput{
		FiscalYear:       2024,
		Month:            1,
		PostingDate:      "2024-01-15",
		EconomicCategory: orig.EconomicCategory,
		Origin:           orig.Origin,
		FundingSource:    orig.FundingSource,
		ForecastInitial:  decimal.RequireFromString("12345678901234567890"),
		Collected:        decimal.RequireFromString("950.257"),
	}
	_, err = svc.UpdateRecord(ctx, "revenue", orig.ID, in)
	require.True(t, errors.As(err, &vf), "got %v", err)
	var columns []string
	for _, e := range vf.Errors {
		columns = append(columns, e.Column)
	}
	assert.Equal(t, []string{"forecastInitial", "collected"}, columns)

	current, err := svc.GetRecord(ctx, "revenue", orig.ID)
	require.NoError(t, err)
	assert.Equal(t, "950.25", current.Collected.StringFixed(2))
}

func TestDeleteRecord(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	b1, err := svc.Import(ctx, "revenue", "b1.csv", revenueFile(revenueRows[:2]...))
	require.NoError(t, err)
	rows, err := svc.BatchRecords(ctx, "revenue", b1.BatchKey)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteRecord(ctx, "revenue", rows[0].ID))
	_, err = svc.GetRecord(ctx, "revenue", rows[0].ID)
	assert.ErrorIs(t, err, core.ErrRecordNotFound)

	err = svc.DeleteRecord(ctx, "revenue", rows[0].ID)
	assert.ErrorIs(t, err, core.ErrRecordNotFound)

	res, err := svc.Revoke(ctx, "revenue", b1.BatchKey)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowsDeleted)
}
