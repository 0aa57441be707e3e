package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/product-research/internal/models"
	"github.com/maltedev/product-research/internal/profit"
	"github.com/maltedev/product-research/internal/rates"
)

func TestProductFromRecord(t *testing.T) {
	t.Run("full row", func(t *testing.T) {
		rec := models.Record{
			"sku":           models.String("A-1"),
			"weight_kg":     models.Number(1.2),
			"price_rub":     models.Number(2500),
			"purchase_cost": models.Number(40),
			"length_cm":     models.Number(30),
			"width_cm":      models.Number(20),
			"height_cm":     models.Number(10),
		}

		p, ok := ProductFromRecord(rec)
		require.True(t, ok)
		assert.Equal(t, models.Product{
			SKU:          "A-1",
			WeightKg:     1.2,
			PriceRub:     2500,
			PurchaseCost: 40,
			Dimensions:   models.Dimensions{LengthCM: 30, WidthCM: 20, HeightCM: 10},
		}, p)
	})

	t.Run("missing weight", func(t *testing.T) {
		_, ok := ProductFromRecord(models.Record{"price_rub": models.Number(100)})
		assert.False(t, ok)
	})

	t.Run("null price", func(t *testing.T) {
		_, ok := ProductFromRecord(models.Record{
			"weight_kg": models.Number(1),
			"price_rub": models.Null(),
		})
		assert.False(t, ok)
	})
}

func TestEnrich_NoEligibleChannel(t *testing.T) {
	calc := profit.NewCalculator([]rates.Channel{
		{Name: "Small Parcel", BaseFee: 1, WeightFee: 10, WeightUnit: rates.UnitKg, MaxWeightKg: 2},
	}, 0.08, 0.15, 0)

	rec := models.Record{"title": models.String("Sofa")}
	out := Enrich(calc, rec, models.Product{WeightKg: 25, PriceRub: 30000})

	assert.Equal(t, "Sofa", out.String("title"))
	assert.Equal(t, "PREMIUM_BIG", out.String("size_category"))
	assert.True(t, out["channel"].IsNull())
	assert.True(t, out["profit"].IsNull())
	assert.Equal(t, "no eligible channel", out.String("profit_warnings"))
	// the input record is left alone
	_, touched := rec["channel"]
	assert.False(t, touched)
}

func TestEnrich_LowMarginWarning(t *testing.T) {
	calc := profit.NewCalculator([]rates.Channel{
		{Name: "Express", BaseFee: 50, WeightFee: 100, WeightUnit: rates.UnitKg},
	}, 0.08, 0.15, 0)

	out := Enrich(calc, models.Record{}, models.Product{WeightKg: 1, PriceRub: 1000})

	assert.Equal(t, "Express", out.String("channel"))
	assert.Contains(t, out.String("profit_warnings"), "low margin")
	margin, ok := out.Number("margin")
	require.True(t, ok)
	assert.Less(t, margin, 0.0)
}
