package domain

import "github.com/shopspring/decimal"

// Totals — итоговые суммы заказа в валюте магазина.
type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
}

// PricingPolicy задаёт налог и стоимость доставки.
type PricingPolicy struct {
	TaxRate               decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	FlatShippingFee       decimal.Decimal
}

// DefaultPricingPolicy: налог 10%, бесплатная доставка от суммы строго больше 100, иначе 10.
func DefaultPricingPolicy() PricingPolicy {
	return PricingPolicy{
		TaxRate:               decimal.RequireFromString("0.10"),
		FreeShippingThreshold: decimal.NewFromInt(100),
		FlatShippingFee:       decimal.NewFromInt(10),
	}
}

// Compute считает налог, доставку и итог по сумме позиций.
func (p PricingPolicy) Compute(subtotal decimal.Decimal) Totals {
	subtotal = subtotal.Round(2)
	tax := subtotal.Mul(p.TaxRate).Round(2)
	shipping := p.FlatShippingFee.Round(2)
	if subtotal.GreaterThan(p.FreeShippingThreshold) {
		shipping = decimal.Zero
	}
	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Total:    subtotal.Add(tax).Add(shipping),
	}
}

// ToMinorUnits переводит сумму в копейки/центы для платёжного провайдера.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
