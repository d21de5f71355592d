package prices

import (
	"github.com/shopspring/decimal"
)

// Level is the display band of a price.
type Level string

const (
	LevelCheap  Level = "cheap"
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

var (
	cheapBelow  = decimal.RequireFromString("0.10")
	lowBelow    = decimal.RequireFromString("0.15")
	mediumBelow = decimal.RequireFromString("0.20")
)

// LevelFor classifies a EUR/kWh price.
func LevelFor(price decimal.Decimal) Level {
	switch {
	case price.LessThan(cheapBelow):
		return LevelCheap
	case price.LessThan(lowBelow):
		return LevelLow
	case price.LessThan(mediumBelow):
		return LevelMedium
	default:
		return LevelHigh
	}
}

// FormatPrice renders a price with three decimals.
func FormatPrice(price decimal.Decimal) string {
	return price.StringFixed(3)
}
