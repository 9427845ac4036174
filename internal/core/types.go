package core

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// FieldType is the semantic type of an import column.
type FieldType int

const (
	FieldText FieldType = iota
	FieldInteger
	FieldMonth   // integer 1-12
	FieldDate    // DD/MM/YYYY
	FieldDecimal // pt-BR: "." thousands, "," fraction
)

// FieldSpec describes one column of an import file.
type FieldSpec struct {
	Name     string    // Header name as it appears in the file
	Key      string    // Record field the value lands in
	Type     FieldType // Conversion applied to the cell
	Required bool      // Empty cells are rejected
}

// EntityInfo identifies an entity type in URLs and the audit trail.
type EntityInfo struct {
	Key   string // "revenue"
	Label string // "Revenue entries"
}

// BuildRecordFunc turns a parsed row into a revenue record.
type BuildRecordFunc func(row ParsedRow) (Revenue, error)

// EntityDefinition is everything the service needs to know about an entity type.
type EntityDefinition struct {
	Info EntityInfo

	// Actions is the closed audit vocabulary of the entity type.
	Actions []AuditAction

	// Columns is the import layout; empty for entity types that cannot be
	// bulk loaded.
	Columns []FieldSpec

	// BuildRecord is required when Columns is set.
	BuildRecord BuildRecordFunc

	// SensitiveFields must hold the Redacted marker in every snapshot written
	// for this entity type.
	SensitiveFields []string
}

// Ingestible reports whether the entity type accepts batch imports.
func (d EntityDefinition) Ingestible() bool {
	return len(d.Columns) > 0 && d.BuildRecord != nil
}

// Allows reports whether action belongs to the entity type's vocabulary.
func (d EntityDefinition) Allows(action AuditAction) bool {
	for _, a := range d.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// Revenue is one public revenue entry. BatchKey is set once by the import
// that created the row and never changes.
type Revenue struct {
	ID               int64           `json:"id"`
	BatchKey         string          `json:"batchKey"`
	FiscalYear       int             `json:"fiscalYear"`
	Month            int             `json:"month"`
	PostingDate      time.Time       `json:"postingDate"`
	EconomicCategory string          `json:"economicCategory"`
	Origin           string          `json:"origin"`
	Species          string          `json:"species"`
	Heading          string          `json:"heading"`
	Subheading       string          `json:"subheading"`
	FundingSource    string          `json:"fundingSource"`
	ForecastInitial  decimal.Decimal `json:"forecastInitial"`
	ForecastUpdated  decimal.Decimal `json:"forecastUpdated"`
	Collected        decimal.Decimal `json:"collected"`
	Note             string          `json:"note"`
	SourceLine       int             `json:"sourceLine"`
	ImportedAt       time.Time       `json:"importedAt"`
}

// RevenueColumns is the field order used when a list of revenues is
// snapshotted, matching the JSON names above.
var RevenueColumns = []string{
	"id", "batchKey", "fiscalYear", "month", "postingDate",
	"economicCategory", "origin", "species", "heading", "subheading",
	"fundingSource", "forecastInitial", "forecastUpdated", "collected",
	"note", "sourceLine", "importedAt",
}

// Batch is the sentinel row of one import.
type Batch struct {
	Key        string     `json:"batchKey"`
	EntityType string     `json:"entityType"`
	FileName   string     `json:"fileName"`
	RowCount   int        `json:"rowCount"`
	CreatedBy  string     `json:"createdBy"`
	CreatedAt  time.Time  `json:"createdAt"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
}

// ImportResult is returned by a successful import.
type ImportResult struct {
	BatchKey string `json:"batchKey"`
	RowCount int    `json:"rowCount"`
}

// ImportSummary is the IMPORT_BATCH "after" snapshot. The rows themselves stay
// retrievable by batch key until the batch is revoked.
type ImportSummary struct {
	RowCount  int               `json:"rowCount"`
	Totals    map[string]string `json:"totals"`
	FirstLine int               `json:"firstLine"`
	LastLine  int               `json:"lastLine"`
	FileName  string            `json:"fileName"`
}

// RevokeResult is returned by a successful revocation.
type RevokeResult struct {
	BatchKey    string `json:"batchKey"`
	RowsDeleted int    `json:"rowsDeleted"`
	AuditID     int64  `json:"auditId"`
}

// RevenueInput is the editable part of a revenue record.
type RevenueInput struct {
	FiscalYear       int             `json:"fiscalYear"`
	Month            int             `json:"month"`
	PostingDate      string          `json:"postingDate"` // YYYY-MM-DD
	EconomicCategory string          `json:"economicCategory"`
	Origin           string          `json:"origin"`
	Species          string          `json:"species"`
	Heading          string          `json:"heading"`
	Subheading       string          `json:"subheading"`
	FundingSource    string          `json:"fundingSource"`
	ForecastInitial  decimal.Decimal `json:"forecastInitial"`
	ForecastUpdated  decimal.Decimal `json:"forecastUpdated"`
	Collected        decimal.Decimal `json:"collected"`
	Note             string          `json:"note"`
}
