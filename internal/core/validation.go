package core

// validation.go parses and validates a whole import file before anything is
// written.
//
// Validation happens at two levels:
//  1. Header validation: the first non-empty line must name the layout's
//     columns in order (case and accents ignored)
//  2. Row validation: every cell is checked against its FieldSpec
//
// Every failure in the file is collected; a single bad row rejects the file.

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
)

// Delimiter separates cells in import files.
const Delimiter = ';'

// ParsedRow is one converted data row. Values are keyed by FieldSpec.Key and
// hold int, time.Time, decimal.Decimal or string depending on the field type.
type ParsedRow struct {
	Line   int
	Values map[string]any
}

// String returns a text value, "" when absent.
func (r ParsedRow) String(key string) string {
	s, _ := r.Values[key].(string)
	return s
}

// Int returns an integer or month value, 0 when absent.
func (r ParsedRow) Int(key string) int {
	n, _ := r.Values[key].(int)
	return n
}

// Decimal returns a decimal value, zero when absent.
func (r ParsedRow) Decimal(key string) decimal.Decimal {
	d, ok := r.Values[key].(decimal.Decimal)
	if !ok {
		return decimal.Zero
	}
	return d
}

// ParsedFile is the outcome of a successful parse.
type ParsedFile struct {
	Rows     []ParsedRow
	Encoding SourceEncoding
}

// ParseFile converts data against the entity's column layout. It returns
// either every row converted or a *ValidationFailedError listing every
// problem found. Line numbers are physical lines, the header being line 1
// when the file starts with it.
func ParseFile(def EntityDefinition, data []byte) (ParsedFile, error) {
	if !def.Ingestible() {
		return ParsedFile{}, fmt.Errorf("%w: %s", ErrNotIngestible, def.Info.Key)
	}

	text, enc := DecodeText(data)

	reader := csv.NewReader(bytes.NewReader(text))
	reader.Comma = Delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	var (
		rows      []ParsedRow
		failures  []RowError
		sawHeader bool
	)

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				failures = append(failures, RowError{Row: perr.Line, Reason: "invalid csv: " + perr.Err.Error()})
				continue
			}
			return ParsedFile{}, fmt.Errorf("invalid csv: %w", err)
		}

		line, _ := reader.FieldPos(0)
		if isEmptyRow(record) {
			continue
		}

		if !sawHeader {
			sawHeader = true
			failures = append(failures, ValidateHeader(def.Columns, record, line)...)
			continue
		}

		row, rowErrs := parseRow(def.Columns, record, line)
		if len(rowErrs) > 0 {
			failures = append(failures, rowErrs...)
			continue
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 && len(failures) == 0 {
		failures = append(failures, RowError{Reason: "empty file: no data rows"})
	}
	if len(failures) > 0 {
		return ParsedFile{}, &ValidationFailedError{Errors: failures}
	}

	return ParsedFile{Rows: rows, Encoding: enc}, nil
}

// ValidateHeader checks that header names the columns in layout order.
func ValidateHeader(specs []FieldSpec, header []string, line int) []RowError {
	var errs []RowError
	for i, spec := range specs {
		if i >= len(header) {
			errs = append(errs, RowError{Row: line, Column: spec.Name, Reason: "missing required column"})
			continue
		}
		if got := NormalizeHeader(header[i]); got != NormalizeHeader(spec.Name) {
			errs = append(errs, RowError{
				Row:    line,
				Column: spec.Name,
				Reason: fmt.Sprintf("unexpected header %q in position %d", CleanCell(header[i]), i+1),
			})
		}
	}
	return errs
}

// parseRow converts one record; extra trailing cells are ignored.
func parseRow(specs []FieldSpec, record []string, line int) (ParsedRow, []RowError) {
	if len(record) < len(specs) {
		return ParsedRow{}, []RowError{{
			Row:    line,
			Reason: fmt.Sprintf("expected %d columns, got %d", len(specs), len(record)),
		}}
	}

	row := ParsedRow{Line: line, Values: make(map[string]any, len(specs))}
	var errs []RowError

	for i, spec := range specs {
		raw := CleanCell(record[i])
		if raw == "" {
			if spec.Required {
				errs = append(errs, RowError{Row: line, Column: spec.Name, Reason: "required value missing"})
				continue
			}
			row.Values[spec.Key] = zeroValue(spec.Type)
			continue
		}

		v, err := convertCell(raw, spec.Type)
		if err != nil {
			errs = append(errs, RowError{Row: line, Column: spec.Name, Reason: err.Error()})
			continue
		}
		row.Values[spec.Key] = v
	}

	return row, errs
}

// convertCell converts a non-empty cell to its field type.
func convertCell(raw string, ft FieldType) (any, error) {
	switch ft {
	case FieldInteger:
		return ParseInteger(raw)
	case FieldMonth:
		return ParseMonth(raw)
	case FieldDate:
		return ParseDateBR(raw)
	case FieldDecimal:
		return ParseDecimalBR(raw)
	default:
		return raw, nil
	}
}

// zeroValue is stored for optional empty cells; empty amounts count as zero.
func zeroValue(ft FieldType) any {
	switch ft {
	case FieldInteger, FieldMonth:
		return 0
	case FieldDecimal:
		return decimal.Zero
	case FieldDate:
		return nil
	default:
		return ""
	}
}

// isEmptyRow reports whether every cell is blank.
func isEmptyRow(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// fieldTypeName returns a human-readable name for a FieldType.
func fieldTypeName(ft FieldType) string {
	switch ft {
	case FieldInteger:
		return "integer"
	case FieldMonth:
		return "month"
	case FieldDate:
		return "date"
	case FieldDecimal:
		return "decimal"
	default:
		return "text"
	}
}

// ColumnInfo describes one column of an import layout for clients.
type ColumnInfo struct {
	Position int    `json:"position"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// Layout lists the import columns of def in file order.
func Layout(def EntityDefinition) []ColumnInfo {
	cols := make([]ColumnInfo, len(def.Columns))
	for i, spec := range def.Columns {
		cols[i] = ColumnInfo{
			Position: i + 1,
			Name:     spec.Name,
			Type:     fieldTypeName(spec.Type),
			Required: spec.Required,
		}
	}
	return cols
}

// TemplateHeader returns the header line an import file must start with.
func TemplateHeader(def EntityDefinition) string {
	names := make([]string, len(def.Columns))
	for i, spec := range def.Columns {
		names[i] = spec.Name
	}
	return strings.Join(names, string(Delimiter)) + "\n"
}
