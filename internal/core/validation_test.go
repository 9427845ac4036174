package core

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var testLayout = EntityDefinition{
	Info:    EntityInfo{Key: "sample", Label: "Sample"},
	Actions: []AuditAction{ActionImportBatch, ActionRevokeBatch},
	Columns: []FieldSpec{
		{Name: "exercicio", Key: "year", Type: FieldInteger, Required: true},
		{Name: "mes", Key: "month", Type: FieldMonth, Required: true},
		{Name: "data_lancamento", Key: "date", Type: FieldDate, Required: true},
		{Name: "origem", Key: "origin", Type: FieldText, Required: true},
		{Name: "valor_arrecadado", Key: "amount", Type: FieldDecimal},
	},
	BuildRecord: func(ParsedRow) (Revenue, error) { return Revenue{}, nil },
}

func parseLines(lines ...string) (ParsedFile, error) {
	return ParseFile(testLayout, []byte(strings.Join(lines, "\n")))
}

func rowErrors(t *testing.T, err error) []RowError {
	t.Helper()
	var vf *ValidationFailedError
	if !errors.As(err, &vf) {
		t.Fatalf("expected *ValidationFailedError, got %v", err)
	}
	return vf.Errors
}

func TestParseFile_ConvertsEveryRow(t *testing.T) {
	got, err := parseLines(
		"exercicio;mes;data_lancamento;origem;valor_arrecadado",
		"2024;1;15/01/2024;Impostos;1.234,56",
		"",
		"2024;12;31/12/2024;Taxas;",
	)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if len(got.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(got.Rows))
	}

	first := got.Rows[0]
	if first.Line != 2 {
		t.Errorf("first.Line = %d, want 2", first.Line)
	}
	if first.Int("year") != 2024 || first.Int("month") != 1 {
		t.Errorf("year/month = %d/%d", first.Int("year"), first.Int("month"))
	}
	if d, _ := first.Values["date"].(time.Time); !d.Equal(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("date = %v", first.Values["date"])
	}
	if !first.Decimal("amount").Equal(decimal.RequireFromString("1234.56")) {
		t.Errorf("amount = %s", first.Decimal("amount"))
	}

	second := got.Rows[1]
	if second.Line != 4 {
		t.Errorf("second.Line = %d, want 4 (blank line counted)", second.Line)
	}
	if !second.Decimal("amount").IsZero() {
		t.Errorf("empty optional amount = %s, want 0", second.Decimal("amount"))
	}
}

func TestParseFile_HeaderIsAccentAndCaseInsensitive(t *testing.T) {
	_, err := parseLines(
		"Exercício;Mês;Data Lançamento;ORIGEM;Valor-Arrecadado",
		"2024;1;15/01/2024;Impostos;1,00",
	)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
}

func TestParseFile_Rejections(t *testing.T) {
	header := "exercicio;mes;data_lancamento;origem;valor_arrecadado"

	tests := []struct {
		name   string
		lines  []string
		row    int
		column string
		reason string
	}{
		{"missing required", []string{header, "2024;1;15/01/2024;;1,00"}, 2, "origem", "required value missing"},
		{"bad month", []string{header, "2024;0;15/01/2024;X;1,00"}, 2, "mes", "invalid month"},
		{"bad date", []string{header, "2024;1;2024-01-15;X;1,00"}, 2, "data_lancamento", "invalid date"},
		{"bad decimal", []string{header, "2024;1;15/01/2024;X;1,234.56"}, 2, "valor_arrecadado", "invalid number"},
		{"fraction of a cent", []string{header, "2024;1;15/01/2024;X;950,257"}, 2, "valor_arrecadado", "decimal places"},
		{"amount too large", []string{header, "2024;1;15/01/2024;X;12.345.678.901.234.567.890,00"}, 2, "valor_arrecadado", "integer digits"},
		{"bad integer", []string{header, "dois mil;1;15/01/2024;X;1,00"}, 2, "exercicio", "invalid number"},
		{"short row", []string{header, "2024;1"}, 2, "", "expected 5 columns"},
		{"wrong header", []string{"ano;mes;data_lancamento;origem;valor_arrecadado", "2024;1;15/01/2024;X;1,00"}, 1, "exercicio", "unexpected header"},
		{"header only", []string{header}, 0, "", "empty file"},
		{"nothing at all", []string{""}, 0, "", "empty file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseLines(tt.lines...)
			if !errors.Is(err, ErrValidationFailed) {
				t.Fatalf("error = %v, want ErrValidationFailed", err)
			}
			errs := rowErrors(t, err)
			if len(errs) != 1 {
				t.Fatalf("errors = %v, want exactly one", errs)
			}
			e := errs[0]
			if e.Row != tt.row || e.Column != tt.column || !strings.Contains(e.Reason, tt.reason) {
				t.Errorf("got %+v, want row %d column %q reason containing %q", e, tt.row, tt.column, tt.reason)
			}
		})
	}
}

func TestParseFile_ReportsEveryFailure(t *testing.T) {
	_, err := parseLines(
		"exercicio;mes;data_lancamento;origem;valor_arrecadado",
		"2024;13;15/01/2024;;1,00",
		"2024;1;15/01/2024;Impostos;1,00",
		"2024;1;32/01/2024;Impostos;xx",
	)
	errs := rowErrors(t, err)
	if len(errs) != 4 {
		t.Fatalf("errors = %d (%v), want 4", len(errs), errs)
	}
	wantRows := []int{2, 2, 4, 4}
	for i, e := range errs {
		if e.Row != wantRows[i] {
			t.Errorf("errs[%d].Row = %d, want %d", i, e.Row, wantRows[i])
		}
	}
}

func TestParseFile_Windows1252(t *testing.T) {
	// "Alienação" in Windows-1252
	data := []byte("exercicio;mes;data_lancamento;origem;valor_arrecadado\n2024;1;15/01/2024;Aliena\xe7\xe3o;1,00\n")

	got, err := ParseFile(testLayout, data)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if got.Encoding != EncodingWindows1252 {
		t.Errorf("Encoding = %q, want %q", got.Encoding, EncodingWindows1252)
	}
	if origin := got.Rows[0].String("origin"); origin != "Alienação" {
		t.Errorf("origin = %q, want Alienação", origin)
	}
}

func TestParseFile_NotIngestible(t *testing.T) {
	_, err := ParseFile(EntityDefinition{Info: EntityInfo{Key: "faq"}}, []byte("a;b\n"))
	if !errors.Is(err, ErrNotIngestible) {
		t.Errorf("error = %v, want ErrNotIngestible", err)
	}
}

func TestLayoutAndTemplateHeader(t *testing.T) {
	cols := Layout(testLayout)
	if len(cols) != 5 || cols[2].Type != "date" || !cols[0].Required || cols[4].Required {
		t.Errorf("Layout() = %+v", cols)
	}
	want := "exercicio;mes;data_lancamento;origem;valor_arrecadado\n"
	if got := TemplateHeader(testLayout); got != want {
		t.Errorf("TemplateHeader() = %q, want %q", got, want)
	}
}
