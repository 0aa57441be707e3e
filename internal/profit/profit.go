package profit

import (
	"errors"
	"fmt"

	"github.com/maltedev/product-research/internal/models"
	"github.com/maltedev/product-research/internal/rates"
)

var ErrNoEligibleChannel = errors.New("no shipping channel accepts this product")

const (
	// LowMarginThreshold is the margin percentage below which a warning is raised.
	LowMarginThreshold = 10.0
	// WeightWarningRatio flags products close to the chosen channel's weight limit.
	WeightWarningRatio = 0.9
)

// Quote is the cost of one eligible channel.
type Quote struct {
	Channel rates.Channel `json:"channel"`
	Cost    float64       `json:"cost"`
}

type Calculation struct {
	SKU          string   `json:"sku"`
	Category     Category `json:"category"`
	Candidates   []Quote  `json:"candidates"`
	Chosen       Quote    `json:"chosen"`
	ShippingCost float64  `json:"shipping_cost"`
	TotalCost    float64  `json:"total_cost"`
	Revenue      float64  `json:"revenue"`
	Profit       float64  `json:"profit"`
	Margin       float64  `json:"margin"`
	Warnings     []string `json:"warnings"`
}

type Calculator struct {
	Channels       []rates.Channel
	ExchangeRate   float64
	CommissionRate float64
	ExtraFees      float64
}

func NewCalculator(channels []rates.Channel, exchangeRate, commissionRate, extraFees float64) *Calculator {
	return &Calculator{
		Channels:       channels,
		ExchangeRate:   exchangeRate,
		CommissionRate: commissionRate,
		ExtraFees:      extraFees,
	}
}

// Quotes returns every channel that accepts p, in channel order.
func (c *Calculator) Quotes(p models.Product) []Quote {
	var quotes []Quote
	for _, ch := range c.Channels {
		if cost, ok := ch.Cost(p); ok {
			quotes = append(quotes, Quote{Channel: ch, Cost: cost})
		}
	}
	return quotes
}

// Calculate ships p with the cheapest eligible channel. Ties keep the
// first channel in table order.
func (c *Calculator) Calculate(p models.Product) (*Calculation, error) {
	quotes := c.Quotes(p)
	if len(quotes) == 0 {
		return nil, fmt.Errorf("%w: sku=%s weight=%.3fkg", ErrNoEligibleChannel, p.SKU, p.WeightKg)
	}

	chosen := quotes[0]
	for _, q := range quotes[1:] {
		if q.Cost < chosen.Cost {
			chosen = q
		}
	}

	revenue := p.PriceRub * c.ExchangeRate
	total := p.PurchaseCost + chosen.Cost + c.CommissionRate*revenue + c.ExtraFees
	profit := revenue - total
	margin := Margin(profit, revenue)

	calc := &Calculation{
		SKU:          p.SKU,
		Category:     Classify(p.WeightKg, p.PriceRub),
		Candidates:   quotes,
		Chosen:       chosen,
		ShippingCost: chosen.Cost,
		TotalCost:    total,
		Revenue:      revenue,
		Profit:       profit,
		Margin:       margin,
		Warnings:     []string{},
	}

	if margin < LowMarginThreshold {
		calc.Warnings = append(calc.Warnings,
			fmt.Sprintf("low margin: %.2f%% is below %.0f%%", margin, LowMarginThreshold))
	}
	if limit := chosen.Channel.MaxWeightKg; limit > 0 && p.WeightKg >= WeightWarningRatio*limit {
		calc.Warnings = append(calc.Warnings,
			fmt.Sprintf("weight %.3fkg is close to the %s limit of %.2fkg", p.WeightKg, chosen.Channel.Name, limit))
	}

	return calc, nil
}

// Margin is profit as a percentage of revenue, or 0 without revenue.
func Margin(profit, revenue float64) float64 {
	if revenue == 0 {
		return 0
	}
	return profit * 100 / revenue
}
