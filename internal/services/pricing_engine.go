package services

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	domain "github.com/car-rental/populate/internal/domain"
)

var (
	// ErrInvalidCategory signals a car category missing from the pricing table.
	ErrInvalidCategory = errors.New("rental pricing: invalid category")
	// ErrInvalidTerm signals a non-positive contracted duration or a negative usage/base price.
	ErrInvalidTerm = errors.New("rental pricing: invalid term")
)

const moneyScale = 2

// RateBracket applies Multiplier to the category base rate for contracted durations up to
// MaxDays inclusive. MaxDays == 0 marks the open-ended last bracket.
type RateBracket struct {
	MaxDays    int
	Multiplier decimal.Decimal
}

// CategoryPricing holds the per-day base rate, duration brackets and the penalty multiplier
// charged on top of extra days.
type CategoryPricing struct {
	BaseRate       decimal.Decimal
	Brackets       []RateBracket
	OveragePenalty decimal.Decimal
}

// PricingTable maps every car category to its pricing rules.
type PricingTable map[domain.CarCategory]CategoryPricing

// DefaultPricingTable returns the rental tariff.
func DefaultPricingTable() PricingTable {
	return PricingTable{
		domain.CarCategoryPremium: {
			BaseRate:       decimal.NewFromInt(300),
			Brackets:       []RateBracket{{MaxDays: 0, Multiplier: decimal.NewFromInt(1)}},
			OveragePenalty: decimal.RequireFromString("0.2"),
		},
		domain.CarCategorySuv: {
			BaseRate: decimal.NewFromInt(150),
			Brackets: []RateBracket{
				{MaxDays: 7, Multiplier: decimal.NewFromInt(1)},
				{MaxDays: 30, Multiplier: decimal.RequireFromString("0.8")},
				{MaxDays: 0, Multiplier: decimal.RequireFromString("0.5")},
			},
			OveragePenalty: decimal.RequireFromString("0.6"),
		},
		domain.CarCategorySmall: {
			BaseRate: decimal.NewFromInt(50),
			Brackets: []RateBracket{
				{MaxDays: 7, Multiplier: decimal.NewFromInt(1)},
				{MaxDays: 0, Multiplier: decimal.RequireFromString("0.6")},
			},
			OveragePenalty: decimal.RequireFromString("0.3"),
		},
	}
}

// PricingEngine computes rental base prices and overage surcharges. It holds no mutable state
// and is safe for concurrent use.
type PricingEngine struct {
	table PricingTable
}

// NewPricingEngine validates the table and builds an engine. A nil table selects DefaultPricingTable.
func NewPricingEngine(table PricingTable) (*PricingEngine, error) {
	if table == nil {
		table = DefaultPricingTable()
	}
	for _, category := range domain.CarCategories() {
		pricing, ok := table[category]
		if !ok {
			return nil, fmt.Errorf("rental pricing: table is missing category %s", category)
		}
		if err := validateCategoryPricing(pricing); err != nil {
			return nil, fmt.Errorf("rental pricing: category %s: %w", category, err)
		}
	}

	copied := make(PricingTable, len(table))
	for category, pricing := range table {
		if !category.Valid() {
			return nil, fmt.Errorf("rental pricing: unknown category %q", category)
		}
		brackets := make([]RateBracket, len(pricing.Brackets))
		copy(brackets, pricing.Brackets)
		pricing.Brackets = brackets
		copied[category] = pricing
	}
	return &PricingEngine{table: copied}, nil
}

func validateCategoryPricing(pricing CategoryPricing) error {
	if !pricing.BaseRate.IsPositive() {
		return errors.New("base rate must be positive")
	}
	if pricing.OveragePenalty.IsNegative() {
		return errors.New("overage penalty cannot be negative")
	}
	if len(pricing.Brackets) == 0 {
		return errors.New("at least one bracket is required")
	}
	previous := 0
	for idx, bracket := range pricing.Brackets {
		if !bracket.Multiplier.IsPositive() {
			return fmt.Errorf("bracket %d multiplier must be positive", idx)
		}
		last := idx == len(pricing.Brackets)-1
		if last {
			if bracket.MaxDays != 0 {
				return errors.New("last bracket must be open-ended")
			}
			continue
		}
		if bracket.MaxDays <= previous {
			return fmt.Errorf("bracket %d upper bound must exceed %d", idx, previous)
		}
		previous = bracket.MaxDays
	}
	return nil
}

// RatePerDay returns the bracketed daily rate for the category and contracted duration.
func (e *PricingEngine) RatePerDay(category domain.CarCategory, contractedDays int) (decimal.Decimal, error) {
	pricing, ok := e.table[category]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	if contractedDays < 1 {
		return decimal.Zero, fmt.Errorf("%w: contracted days must be at least 1, got %d", ErrInvalidTerm, contractedDays)
	}
	for _, bracket := range pricing.Brackets {
		if bracket.MaxDays == 0 || contractedDays <= bracket.MaxDays {
			return pricing.BaseRate.Mul(bracket.Multiplier), nil
		}
	}
	// unreachable for validated tables
	return decimal.Zero, fmt.Errorf("%w: no bracket for %d days", ErrInvalidTerm, contractedDays)
}

// ComputeBasePrice returns ratePerDay(category, contractedDays) * contractedDays.
func (e *PricingEngine) ComputeBasePrice(category domain.CarCategory, contractedDays int) (decimal.Decimal, error) {
	rate, err := e.RatePerDay(category, contractedDays)
	if err != nil {
		return decimal.Zero, err
	}
	return rate.Mul(decimal.NewFromInt(int64(contractedDays))).RoundBank(moneyScale), nil
}

// ComputeSurcharge charges the days used beyond the contract at the effective daily rate of
// basePrice, plus the category penalty on top of those extra days.
func (e *PricingEngine) ComputeSurcharge(category domain.CarCategory, contractedDays, actualDaysUsed int, basePrice decimal.Decimal) (decimal.Decimal, error) {
	pricing, ok := e.table[category]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	if contractedDays < 1 {
		return decimal.Zero, fmt.Errorf("%w: contracted days must be at least 1, got %d", ErrInvalidTerm, contractedDays)
	}
	if actualDaysUsed < 0 {
		return decimal.Zero, fmt.Errorf("%w: actual days used cannot be negative, got %d", ErrInvalidTerm, actualDaysUsed)
	}
	if basePrice.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: base price cannot be negative", ErrInvalidTerm)
	}
	if actualDaysUsed <= contractedDays {
		return decimal.Zero, nil
	}

	perDayBase := basePrice.Div(decimal.NewFromInt(int64(contractedDays)))
	extraDays := decimal.NewFromInt(int64(actualDaysUsed - contractedDays))
	extraCharge := perDayBase.Mul(extraDays)
	penalty := extraCharge.Mul(pricing.OveragePenalty)
	return extraCharge.Add(penalty).RoundBank(moneyScale), nil
}

// Quote prices a full term. The surcharge is zero until ActualDaysUsed is known.
func (e *PricingEngine) Quote(term domain.RentalTerm) (domain.PriceQuote, error) {
	base, err := e.ComputeBasePrice(term.Category, term.ContractedDays)
	if err != nil {
		return domain.PriceQuote{}, err
	}
	surcharge := decimal.Zero
	if term.ActualDaysUsed != nil {
		surcharge, err = e.ComputeSurcharge(term.Category, term.ContractedDays, *term.ActualDaysUsed, base)
		if err != nil {
			return domain.PriceQuote{}, err
		}
	}
	return domain.PriceQuote{BasePrice: base, Surcharge: surcharge}, nil
}
