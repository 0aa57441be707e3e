package profit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/product-research/internal/models"
	"github.com/maltedev/product-research/internal/rates"
)

func flatChannel(name string, base, maxKg float64) rates.Channel {
	return rates.Channel{
		Provider:    "OZON",
		Name:        name,
		BaseFee:     base,
		WeightUnit:  rates.UnitKg,
		MaxWeightKg: maxKg,
	}
}

func TestMarginAtThresholdHasNoWarning(t *testing.T) {
	calc := NewCalculator([]rates.Channel{flatChannel("OZON Express", 100, 25)}, 1, 0, 0)

	res, err := calc.Calculate(models.Product{SKU: "A-1", WeightKg: 1, PriceRub: 1000, PurchaseCost: 800})
	require.NoError(t, err)

	assert.Equal(t, 1000.0, res.Revenue)
	assert.Equal(t, 900.0, res.TotalCost)
	assert.Equal(t, 100.0, res.Profit)
	assert.Equal(t, 10.0, res.Margin)
	assert.Empty(t, res.Warnings)
}

func TestLowMarginWarning(t *testing.T) {
	calc := NewCalculator([]rates.Channel{flatChannel("OZON Express", 100, 25)}, 1, 0, 0)

	res, err := calc.Calculate(models.Product{SKU: "A-1", WeightKg: 1, PriceRub: 1000, PurchaseCost: 801})
	require.NoError(t, err)

	assert.InDelta(t, 9.9, res.Margin, 1e-9)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "low margin")
}

func TestCalculatePicksCheapestAndKeepsOrderOnTies(t *testing.T) {
	channels := []rates.Channel{
		flatChannel("Standard A", 40, 0),
		flatChannel("Express", 60, 0),
		flatChannel("Standard B", 40, 0),
	}
	calc := NewCalculator(channels, 0.08, 0.15, 5)

	res, err := calc.Calculate(models.Product{SKU: "B-2", WeightKg: 2, PriceRub: 5000, PurchaseCost: 100})
	require.NoError(t, err)

	assert.Equal(t, "Standard A", res.Chosen.Channel.Name)
	assert.Len(t, res.Candidates, 3)
	assert.Equal(t, 40.0, res.ShippingCost)

	// revenue 400, commission 60, total 100+40+60+5
	assert.InDelta(t, 400.0, res.Revenue, 1e-9)
	assert.InDelta(t, 205.0, res.TotalCost, 1e-9)
	assert.InDelta(t, 195.0, res.Profit, 1e-9)
	assert.InDelta(t, 48.75, res.Margin, 1e-9)
	assert.Equal(t, CategorySmall, res.Category)
}

func TestCalculateWeightWarning(t *testing.T) {
	calc := NewCalculator([]rates.Channel{flatChannel("OZON Express", 10, 10)}, 1, 0, 0)

	res, err := calc.Calculate(models.Product{WeightKg: 9, PriceRub: 1000})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "close to the OZON Express limit")
}

func TestCalculateNoEligibleChannel(t *testing.T) {
	calc := NewCalculator([]rates.Channel{flatChannel("OZON Express", 10, 1)}, 1, 0, 0)

	_, err := calc.Calculate(models.Product{SKU: "HEAVY", WeightKg: 3, PriceRub: 1000})
	assert.ErrorIs(t, err, ErrNoEligibleChannel)
}

func TestMarginZeroRevenue(t *testing.T) {
	assert.Equal(t, 0.0, Margin(-50, 0))
	assert.Equal(t, 25.0, Margin(25, 100))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		weightKg float64
		priceRub float64
		want     Category
	}{
		{"extra small", 0.3, 900, CategoryExtraSmall},
		{"extra small at limits", 0.5, 1500, CategoryExtraSmall},
		// Over 0.5kg, so the next rule in table order matches.
		{"0.6kg at 1200 rub", 0.6, 1200, CategoryBudget},
		{"budget heavy", 25, 1000, CategoryBudget},
		{"small", 1.5, 3000, CategorySmall},
		{"big", 10, 3000, CategoryBig},
		{"premium small", 4, 9000, CategoryPremiumSmall},
		{"premium big", 12, 9000, CategoryPremiumBig},
		{"too heavy for budget", 31, 1000, CategoryPremiumBig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.weightKg, tt.priceRub))
		})
	}
}
