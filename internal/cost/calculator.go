// Package cost prices work items and estimates session cost.
package cost

import (
	"math"

	"github.com/HoangAnhDev1805/checkpool/internal/config"
)

// Rates holds per-item pricing configuration.
type Rates struct {
	DefaultPerItem float64         `yaml:"default_per_item" mapstructure:"default_per_item"`
	PerCheckType   map[int]float64 `yaml:"per_check_type" mapstructure:"per_check_type"`
}

// RatesFrom converts the pricing config section.
func RatesFrom(cfg config.PricingConfig) Rates {
	return Rates{DefaultPerItem: cfg.DefaultPerItem, PerCheckType: cfg.PerCheckType}
}

// Calculator computes item prices and session estimates.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// PerItem returns the price of one item of the given check type, falling
// back to the default rate when the check type has no entry.
func (c *Calculator) PerItem(checkType int) float64 {
	if p, ok := c.rates.PerCheckType[checkType]; ok {
		return p
	}
	return c.rates.DefaultPerItem
}

// Estimate returns count × per-item price, rounded to 4 decimal places.
func (c *Calculator) Estimate(checkType, count int) float64 {
	if count <= 0 {
		return 0
	}
	return round4(float64(count) * c.PerItem(checkType))
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
