package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ImportPreview is the read-only analysis of a file: what an import would
// commit, or every reason it would be rejected.
type ImportPreview struct {
	FileName         string             `json:"fileName"`
	Encoding         SourceEncoding     `json:"encoding,omitempty"`
	Accepted         bool               `json:"accepted"`
	Summary          *ImportSummary     `json:"summary,omitempty"`
	RowSamples       []RowPreview       `json:"rowSamples"`
	ErrorCount       int                `json:"errorCount"`
	ErrorSamples     []RowError         `json:"errorSamples"`
	DuplicateSamples []DuplicatePreview `json:"duplicateSamples"`
	ProcessingTimeMs int64              `json:"processingTimeMs"`
}

// RowPreview is one converted row, keyed by file column name.
type RowPreview struct {
	LineNumber int               `json:"lineNumber"`
	Values     map[string]string `json:"values"`
}

// DuplicatePreview lists lines carrying identical values. Duplicates do not
// block an import; revenue files legitimately repeat entries.
type DuplicatePreview struct {
	LineNumbers []int `json:"lineNumbers"`
}

// Sample limits
const (
	maxRowSamples       = 10
	maxErrorSamples     = 20
	maxDuplicateSamples = 10
)

// Preview validates a file exactly like Import but writes nothing and
// appends no audit entry.
func (s *Service) Preview(ctx context.Context, entityType, fileName string, data []byte) (*ImportPreview, error) {
	startTime := time.Now()

	def, err := ingestible(entityType)
	if err != nil {
		return nil, err
	}
	if s.maxFileSize > 0 && int64(len(data)) > s.maxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, len(data), s.maxFileSize)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	preview := &ImportPreview{
		FileName:         fileName,
		RowSamples:       []RowPreview{},
		ErrorSamples:     []RowError{},
		DuplicateSamples: []DuplicatePreview{},
	}

	parsed, err := ParseFile(def, data)
	if err == nil {
		_, err = buildRecords(def, parsed.Rows)
	}
	var vf *ValidationFailedError
	switch {
	case err == nil:
		preview.Accepted = true
	case errors.As(err, &vf):
		preview.ErrorCount = len(vf.Errors)
		preview.ErrorSamples = vf.Errors[:min(len(vf.Errors), maxErrorSamples)]
	default:
		return nil, err
	}

	if preview.Accepted {
		preview.Encoding = parsed.Encoding
		summary := summarize(def, fileName, parsed.Rows)
		preview.Summary = &summary

		for _, row := range parsed.Rows[:min(len(parsed.Rows), maxRowSamples)] {
			preview.RowSamples = append(preview.RowSamples, RowPreview{
				LineNumber: row.Line,
				Values:     previewValues(def.Columns, row),
			})
		}
		preview.DuplicateSamples = findDuplicates(def.Columns, parsed.Rows)
	}

	preview.ProcessingTimeMs = time.Since(startTime).Milliseconds()
	return preview, nil
}

// previewValues formats a row the way it would be displayed after import.
func previewValues(specs []FieldSpec, row ParsedRow) map[string]string {
	out := make(map[string]string, len(specs))
	for _, spec := range specs {
		out[spec.Name] = formatValue(row.Values[spec.Key])
	}
	return out
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int:
		return fmt.Sprint(val)
	case decimal.Decimal:
		return val.StringFixed(2)
	case time.Time:
		return val.Format("2006-01-02")
	default:
		return fmt.Sprint(val)
	}
}

// findDuplicates groups rows with identical values, in first-seen order.
func findDuplicates(specs []FieldSpec, rows []ParsedRow) []DuplicatePreview {
	lines := make(map[string][]int)
	var order []string
	for _, row := range rows {
		parts := make([]string, len(specs))
		for i, spec := range specs {
			parts[i] = formatValue(row.Values[spec.Key])
		}
		key := strings.Join(parts, "\x1f")
		if _, seen := lines[key]; !seen {
			order = append(order, key)
		}
		lines[key] = append(lines[key], row.Line)
	}

	dups := []DuplicatePreview{}
	for _, key := range order {
		if len(lines[key]) > 1 {
			dups = append(dups, DuplicatePreview{LineNumbers: lines[key]})
			if len(dups) >= maxDuplicateSamples {
				break
			}
		}
	}
	return dups
}
