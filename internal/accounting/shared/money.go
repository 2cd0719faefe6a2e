package shared

import (
	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits persisted for money columns.
const Scale int32 = 4

// NormalBalance is the side on which an account naturally increases.
type NormalBalance string

const (
	NormalDebit  NormalBalance = "DEBIT"
	NormalCredit NormalBalance = "CREDIT"
)

// Valid reports whether n is a known normal balance.
func (n NormalBalance) Valid() bool {
	return n == NormalDebit || n == NormalCredit
}

// Signed returns the net movement of debit and credit totals in the direction of n.
func (n NormalBalance) Signed(debit, credit decimal.Decimal) decimal.Decimal {
	if n == NormalCredit {
		return credit.Sub(debit)
	}
	return debit.Sub(credit)
}

// HasValidScale reports whether d fits in Scale fractional digits.
func HasValidScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(Scale))
}

// Amount parses a decimal literal, panicking on malformed input. Intended for fixtures and constants.
func Amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// FormatAmount renders d with Scale fractional digits.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}
