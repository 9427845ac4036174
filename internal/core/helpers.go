package core

import (
	"fmt"
	"strings"
	"time"
)

// WhereBuilder assembles a parameterized WHERE clause. Column names are
// trusted identifiers; values always travel as arguments.
type WhereBuilder struct {
	conditions []string
	args       []any
	argIndex   int
}

// NewWhereBuilder returns an empty builder whose first placeholder is $1.
func NewWhereBuilder() *WhereBuilder {
	return &WhereBuilder{argIndex: 1}
}

// Add appends "column = $n". Empty values are skipped.
func (wb *WhereBuilder) Add(column, value string) {
	if value == "" {
		return
	}
	wb.push(fmt.Sprintf("%s = $%d", column, wb.argIndex), value)
}

// AddILike appends a case-insensitive substring match. LIKE wildcards in
// substr match literally.
func (wb *WhereBuilder) AddILike(column, substr string) {
	if substr == "" {
		return
	}
	wb.push(fmt.Sprintf("%s ILIKE $%d", column, wb.argIndex), "%"+escapeLike(substr)+"%")
}

// AddTimestampRange bounds column inclusively. Zero times are open ends.
func (wb *WhereBuilder) AddTimestampRange(column string, from, to time.Time) {
	if !from.IsZero() {
		wb.push(fmt.Sprintf("%s >= $%d", column, wb.argIndex), from)
	}
	if !to.IsZero() {
		wb.push(fmt.Sprintf("%s <= $%d", column, wb.argIndex), to)
	}
}

// NextArgIndex is the placeholder number the next argument will take, for
// appending LIMIT/OFFSET after the clause.
func (wb *WhereBuilder) NextArgIndex() int {
	return wb.argIndex
}

// Build returns " WHERE ..." and its arguments, or "" and nil.
func (wb *WhereBuilder) Build() (string, []any) {
	if len(wb.conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(wb.conditions, " AND "), wb.args
}

func (wb *WhereBuilder) push(cond string, arg any) {
	wb.conditions = append(wb.conditions, cond)
	wb.args = append(wb.args, arg)
	wb.argIndex++
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// quoteIdentifier quotes a SQL identifier to prevent injection.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
