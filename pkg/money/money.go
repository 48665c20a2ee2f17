// Package money formats prices for the storefront's pt-BR listing.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is the symbol prefixed to every formatted amount.
const Currency = "R$"

// Format renders d as Brazilian reais, e.g. 1234.5 -> "R$ 1.234,50".
// Amounts are rounded half away from zero to two places.
func Format(d decimal.Decimal) string {
	neg := d.IsNegative()
	fixed := d.Abs().StringFixed(2)

	intPart, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	if neg && !d.Round(2).IsZero() {
		b.WriteByte('-')
	}
	b.WriteString(Currency)
	b.WriteByte(' ')
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	b.WriteByte(',')
	b.WriteString(frac)
	return b.String()
}
