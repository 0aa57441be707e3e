package profit

// Category is the marketplace size/price tier of a product.
type Category string

const (
	CategoryExtraSmall   Category = "EXTRA_SMALL"
	CategoryBudget       Category = "BUDGET"
	CategorySmall        Category = "SMALL"
	CategoryBig          Category = "BIG"
	CategoryPremiumSmall Category = "PREMIUM_SMALL"
	CategoryPremiumBig   Category = "PREMIUM_BIG"
)

type categoryRule struct {
	category    Category
	maxWeightKg float64
	aboveRub    float64
	maxPriceRub float64
}

// categoryRules are evaluated top to bottom; the first match wins. The
// ranges overlap, so the order is part of the behavior.
var categoryRules = []categoryRule{
	{CategoryExtraSmall, 0.5, 0, 1500},
	{CategoryBudget, 30, 0, 1500},
	{CategorySmall, 2, 1500, 7000},
	{CategoryBig, 30, 1500, 7000},
	{CategoryPremiumSmall, 5, 7000, 0},
}

// Classify returns the first rule matching weight and price, falling back
// to PREMIUM_BIG.
func Classify(weightKg, priceRub float64) Category {
	for _, r := range categoryRules {
		if weightKg > r.maxWeightKg {
			continue
		}
		if r.aboveRub > 0 && priceRub <= r.aboveRub {
			continue
		}
		if r.maxPriceRub > 0 && priceRub > r.maxPriceRub {
			continue
		}
		return r.category
	}
	return CategoryPremiumBig
}
