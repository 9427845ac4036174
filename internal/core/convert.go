package core

// convert.go turns cells of Brazilian spreadsheet exports into typed values
// and moves decimals in and out of pgtype.Numeric.

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DateLayoutBR is the only accepted date layout in import files.
const DateLayoutBR = "02/01/2006"

// Amounts are stored as NUMERIC(18,2).
const (
	AmountScale     = 2
	amountIntDigits = 16
)

// maxAmount is the smallest magnitude that no longer fits the integer digits.
var maxAmount = decimal.New(1, amountIntDigits)

// decimalBRRegex matches a pt-BR amount after the currency symbol is removed:
// optional sign, digits optionally grouped by dots, optional comma fraction.
var decimalBRRegex = regexp.MustCompile(`^[+-]?(\d{1,3}(\.\d{3})+|\d+)(,\d+)?$`)

// ParseDecimalBR parses "1.234,56", "R$ 1.234,56", "-10,5" or "(10,50)".
// Dots are thousands separators and the comma is the fraction separator.
func ParseDecimalBR(s string) (decimal.Decimal, error) {
	raw := s
	s = strings.TrimSpace(s)

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	s = strings.TrimSpace(strings.TrimPrefix(s, "R$"))
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")

	if !decimalBRRegex.MatchString(s) {
		return decimal.Decimal{}, fmt.Errorf("invalid number %q", raw)
	}

	s = strings.ReplaceAll(s, ".", "")
	s = strings.Replace(s, ",", ".", 1)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid number %q", raw)
	}
	if negative {
		d = d.Neg()
	}
	if err := CheckAmount(d); err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return d, nil
}

// CheckAmount rejects values the amount columns would round or overflow.
func CheckAmount(d decimal.Decimal) error {
	if !d.Equal(d.Round(AmountScale)) {
		return fmt.Errorf("more than %d decimal places", AmountScale)
	}
	if d.Abs().GreaterThanOrEqual(maxAmount) {
		return fmt.Errorf("more than %d integer digits", amountIntDigits)
	}
	return nil
}

// ParseDateBR parses DD/MM/YYYY into a UTC midnight time.
func ParseDateBR(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayoutBR, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected DD/MM/YYYY", s)
	}
	return t, nil
}

// ParseInteger parses a whole number, tolerating thousands dots ("2.024").
func ParseInteger(s string) (int, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(s), ".", "")
	n, err := strconv.Atoi(clean)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q, expected an integer", s)
	}
	return n, nil
}

// ParseMonth parses a month number 1-12.
func ParseMonth(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > 12 {
		return 0, fmt.Errorf("invalid month %q, expected 1-12", s)
	}
	return n, nil
}

// ParseDateISO parses the YYYY-MM-DD form used by the JSON API.
func ParseDateISO(s string) (time.Time, error) {
	t, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// surrounding whitespace, an Excel formula prefix (="...") and stray quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.TrimSpace(strings.Trim(s, `"'`))
}

// NormalizeHeader folds a header cell for comparison: accents removed,
// lowercase, spaces and dashes turned into underscores.
// "Data Lançamento" and "data_lancamento" compare equal.
func NormalizeHeader(s string) string {
	folded, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		CleanCell(s),
	)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return '_'
		}
		return r
	}, folded)
}

// ToPgNumeric converts a decimal for the pgx driver.
func ToPgNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	if err := n.Scan(d.String()); err != nil {
		return pgtype.Numeric{Valid: false}
	}
	return n
}

// FromPgNumeric converts a scanned numeric back to a decimal. NULL is zero.
func FromPgNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}
