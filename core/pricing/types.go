// Package pricing resolves the individual cost lines of a print job.
// Resolvers read a sealed catalog.Snapshot and never mutate it, so one
// snapshot can serve any number of concurrent calculations.
package pricing

import (
	"math"

	"github.com/shopspring/decimal"

	"printshop/core/catalog"
)

// DefaultPrecision is the number of currency decimals money is rounded to
const DefaultPrecision int32 = 2

// LineKind distinguishes material and service lines
type LineKind string

const (
	KindMaterial LineKind = "material"
	KindService  LineKind = "service"
)

// BreakdownLine is one itemized cost row
type BreakdownLine struct {
	Kind     LineKind        `json:"kind"`
	Name     string          `json:"name"`
	Unit     string          `json:"unit"`
	Quantity decimal.Decimal `json:"quantity"`
	Rate     decimal.Decimal `json:"rate"`
	Total    decimal.Decimal `json:"total"`

	// Ref is the operation name for service lines and the paper ID for
	// material lines.
	Ref    string `json:"ref"`
	TierID string `json:"tier_id,omitempty"`

	// Outcome records whether the rate came from a tier or the base rate.
	Outcome catalog.Outcome `json:"-"`
}

// Money holds the working currency and its precision
type Money struct {
	Currency  string
	Precision int32
}

// Round rounds an amount to the currency precision
func (m Money) Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(m.Precision)
}

// Accepts reports whether a record priced in currency can be used. Records
// without a currency are assumed to be in the working currency.
func (m Money) Accepts(currency string) bool {
	return currency == "" || currency == m.Currency
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// quantityDecimal converts a computed quantity, dropping float noise such as
// 0.30000000000000004 below the 9th decimal.
func quantityDecimal(q float64) decimal.Decimal {
	return decimal.NewFromFloat(q).Round(9)
}
