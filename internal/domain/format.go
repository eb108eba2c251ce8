package domain

import "github.com/shopspring/decimal"

// PriceDecimals decimals used for limit prices.
const PriceDecimals int32 = 2

// FormatSize rounds an order size to the asset precision and strips trailing zeros.
func FormatSize(size decimal.Decimal, sizeDecimals int32) string {
	return size.Round(sizeDecimals).String()
}

// FormatPrice rounds a limit price to PriceDecimals and strips trailing zeros.
func FormatPrice(price decimal.Decimal) string {
	return price.Round(PriceDecimals).String()
}

// FloorWholeUnits floors q for assets that trade in whole units only.
func FloorWholeUnits(q decimal.Decimal, sizeDecimals int32) decimal.Decimal {
	if sizeDecimals == 0 {
		return q.Floor()
	}
	return q
}
