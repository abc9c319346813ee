package domain

import "github.com/shopspring/decimal"

// PriceQuote captures the price of a rental. Quotes are computed fresh and never mutated.
type PriceQuote struct {
	BasePrice decimal.Decimal
	Surcharge decimal.Decimal
}

// Total is the amount owed for the rental.
func (q PriceQuote) Total() decimal.Decimal {
	return q.BasePrice.Add(q.Surcharge)
}

// RentalTerm carries the inputs the pricing engine needs. ActualDaysUsed is only set once the
// car has been returned.
type RentalTerm struct {
	Category       CarCategory
	ContractedDays int
	ActualDaysUsed *int
}
