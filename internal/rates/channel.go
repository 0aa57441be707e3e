package rates

import (
	"github.com/maltedev/product-research/internal/models"
)

const (
	UnitKg = "kg"
	UnitG  = "g"
)

// Channel is one shipping tier of one provider. Zero limits mean the
// provider states no limit.
type Channel struct {
	Provider      string  `json:"provider"`
	Name          string  `json:"name"`
	ServiceLevel  string  `json:"service_level"`
	BaseFee       float64 `json:"base_fee"`
	WeightFee     float64 `json:"weight_fee"`
	WeightUnit    string  `json:"weight_unit"`
	MaxWeightKg   float64 `json:"max_weight_kg"`
	MaxValueRub   float64 `json:"max_value_rub"`
	MaxDimensions float64 `json:"max_dimensions"`
	MaxSingleSide float64 `json:"max_single_side"`
	DeliveryDays  string  `json:"delivery_days"`
}

// Cost returns the shipping cost of p, or false when p exceeds any limit.
func (c Channel) Cost(p models.Product) (float64, bool) {
	if !within(p.WeightKg, c.MaxWeightKg) ||
		!within(p.PriceRub, c.MaxValueRub) ||
		!within(p.Dimensions.Sum(), c.MaxDimensions) ||
		!within(p.Dimensions.LongestSide(), c.MaxSingleSide) {
		return 0, false
	}

	weight := p.WeightKg
	if c.WeightUnit == UnitG {
		weight *= 1000
	}
	return c.BaseFee + weight*c.WeightFee, true
}

func within(v, limit float64) bool {
	return limit <= 0 || v <= limit
}
