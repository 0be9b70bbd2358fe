package models

import "github.com/shopspring/decimal"

// Round2 rounds a monetary amount half away from zero to 2 decimals.
func Round2(v float64) float64 {
	return round2(v)
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
