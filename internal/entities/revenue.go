package entities

import (
	"fmt"
	"time"

	"github.com/horizon/portal-ledger/internal/core"
)

// Revenue is the key of the batch-ingestible revenue entity type.
const Revenue = "revenue"

// revenueColumns is the fixed layout of a revenue import file.
var revenueColumns = []core.FieldSpec{
	{Name: "exercicio", Key: "fiscalYear", Type: core.FieldInteger, Required: true},
	{Name: "mes", Key: "month", Type: core.FieldMonth, Required: true},
	{Name: "data_lancamento", Key: "postingDate", Type: core.FieldDate, Required: true},
	{Name: "categoria_economica", Key: "economicCategory", Type: core.FieldText, Required: true},
	{Name: "origem", Key: "origin", Type: core.FieldText, Required: true},
	{Name: "especie", Key: "species", Type: core.FieldText},
	{Name: "rubrica", Key: "heading", Type: core.FieldText},
	{Name: "alinea", Key: "subheading", Type: core.FieldText},
	{Name: "fonte_recursos", Key: "fundingSource", Type: core.FieldText, Required: true},
	{Name: "valor_previsto_inicial", Key: "forecastInitial", Type: core.FieldDecimal},
	{Name: "valor_previsto_atualizado", Key: "forecastUpdated", Type: core.FieldDecimal},
	{Name: "valor_arrecadado", Key: "collected", Type: core.FieldDecimal, Required: true},
	{Name: "historico", Key: "note", Type: core.FieldText},
}

func init() {
	registerRevenue()
}

func registerRevenue() {
	core.Register(core.EntityDefinition{
		Info: core.EntityInfo{
			Key:   Revenue,
			Label: "Revenue entries",
		},
		Actions: []core.AuditAction{
			core.ActionCreate,
			core.ActionUpdate,
			core.ActionDelete,
			core.ActionImportBatch,
			core.ActionRevokeBatch,
		},
		Columns:     revenueColumns,
		BuildRecord: buildRevenue,
	})
}

// buildRevenue maps a converted row onto a record. Cell-level checks have
// already passed.
func buildRevenue(row core.ParsedRow) (core.Revenue, error) {
	date, ok := row.Values["postingDate"].(time.Time)
	if !ok {
		return core.Revenue{}, fmt.Errorf("column data_lancamento: required value missing")
	}

	return core.Revenue{
		FiscalYear:       row.Int("fiscalYear"),
		Month:            row.Int("month"),
		PostingDate:      date,
		EconomicCategory: row.String("economicCategory"),
		Origin:           row.String("origin"),
		Species:          row.String("species"),
		Heading:          row.String("heading"),
		Subheading:       row.String("subheading"),
		FundingSource:    row.String("fundingSource"),
		ForecastInitial:  row.Decimal("forecastInitial"),
		ForecastUpdated:  row.Decimal("forecastUpdated"),
		Collected:        row.Decimal("collected"),
		Note:             row.String("note"),
	}, nil
}
