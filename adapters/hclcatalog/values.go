package hclcatalog

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/zclconf/go-cty/cty"
)

// Money attributes are decoded as raw cty values so that 0.1 stays exactly
// 0.1 instead of passing through float64. Unknown values are never accepted.

func knownValue(val cty.Value, attr string) error {
	if !val.IsWhollyKnown() {
		return fmt.Errorf("%s: value is not known", attr)
	}
	if val.IsNull() {
		return fmt.Errorf("%s: value is required", attr)
	}
	return nil
}

// decimalValue converts a number or numeric string into a decimal
func decimalValue(val cty.Value, attr string) (decimal.Decimal, error) {
	if err := knownValue(val, attr); err != nil {
		return decimal.Zero, err
	}
	switch val.Type() {
	case cty.Number:
		return decimal.NewFromString(val.AsBigFloat().Text('f', -1))
	case cty.String:
		d, err := decimal.NewFromString(val.AsString())
		if err != nil {
			return decimal.Zero, fmt.Errorf("%s: %q is not a decimal number", attr, val.AsString())
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("%s: want number, got %s", attr, val.Type().FriendlyName())
	}
}
