package research

import (
	"errors"
	"strings"

	"github.com/maltedev/product-research/internal/models"
	"github.com/maltedev/product-research/internal/profit"
)

// ProductFromRecord reads the estimate inputs from a scraped row. Rows
// without a numeric weight_kg and price_rub are not estimable.
func ProductFromRecord(rec models.Record) (models.Product, bool) {
	weight, ok := rec.Number("weight_kg")
	if !ok {
		return models.Product{}, false
	}
	price, ok := rec.Number("price_rub")
	if !ok {
		return models.Product{}, false
	}

	p := models.Product{
		SKU:      rec.String("sku"),
		WeightKg: weight,
		PriceRub: price,
	}
	p.PurchaseCost, _ = rec.Number("purchase_cost")
	p.Dimensions.LengthCM, _ = rec.Number("length_cm")
	p.Dimensions.WidthCM, _ = rec.Number("width_cm")
	p.Dimensions.HeightCM, _ = rec.Number("height_cm")
	return p, true
}

// Enrich returns rec with the size tier and the cheapest-channel estimate.
// A product no channel accepts gets null estimate fields.
func Enrich(calc *profit.Calculator, rec models.Record, p models.Product) models.Record {
	c, err := calc.Calculate(p)
	if err != nil {
		extra := map[string]models.Value{
			"size_category": models.String(string(profit.Classify(p.WeightKg, p.PriceRub))),
			"channel":       models.Null(),
			"shipping_cost": models.Null(),
			"profit":        models.Null(),
			"margin":        models.Null(),
		}
		if errors.Is(err, profit.ErrNoEligibleChannel) {
			extra["profit_warnings"] = models.String("no eligible channel")
		}
		return rec.With(extra)
	}

	extra := map[string]models.Value{
		"size_category": models.String(string(c.Category)),
		"channel":       models.String(c.Chosen.Channel.Name),
		"shipping_cost": models.Number(c.ShippingCost),
		"profit":        models.Number(c.Profit),
		"margin":        models.Number(c.Margin),
	}
	if len(c.Warnings) > 0 {
		extra["profit_warnings"] = models.String(strings.Join(c.Warnings, "; "))
	}
	return rec.With(extra)
}

func (r *Runner) enrich(records []models.Record) []models.Record {
	if r.calc == nil {
		return records
	}

	out := make([]models.Record, len(records))
	for i, rec := range records {
		p, ok := ProductFromRecord(rec)
		if !ok {
			out[i] = rec
			continue
		}
		out[i] = Enrich(r.calc, rec, p)
	}
	return out
}
