// Package pricestep implements the venue's tiered tick-size rules.
package pricestep

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyTable       = errors.New("price step table is empty")
	ErrInvalidTierStep  = errors.New("price step must be positive")
	ErrTierOrder        = errors.New("price step tiers must be sorted by ascending lower bound")
	ErrFirstTierNotZero = errors.New("first price step tier must start at zero")
)

// Tier applies Step to every price p with From <= p < next tier's From.
type Tier struct {
	From decimal.Decimal
	Step decimal.Decimal
}

type Table struct {
	tiers []Tier
}

// Default is the exchange's equity tick table.
func Default() *Table {
	return &Table{tiers: []Tier{
		{From: decimal.Zero, Step: decimal.RequireFromString("0.01")},
		{From: decimal.NewFromInt(1_000), Step: decimal.NewFromInt(1)},
		{From: decimal.NewFromInt(5_000), Step: decimal.NewFromInt(5)},
		{From: decimal.NewFromInt(10_000), Step: decimal.NewFromInt(10)},
		{From: decimal.NewFromInt(20_000), Step: decimal.NewFromInt(20)},
		{From: decimal.NewFromInt(40_000), Step: decimal.NewFromInt(40)},
		{From: decimal.NewFromInt(50_000), Step: decimal.NewFromInt(50)},
		{From: decimal.NewFromInt(80_000), Step: decimal.NewFromInt(80)},
	}}
}

func NewTable(tiers []Tier) (*Table, error) {
	if len(tiers) == 0 {
		return nil, ErrEmptyTable
	}

	sorted := append([]Tier(nil), tiers...)
	if !sort.SliceIsSorted(sorted, func(i, j int) bool { return sorted[i].From.LessThan(sorted[j].From) }) {
		return nil, ErrTierOrder
	}

	if !sorted[0].From.IsZero() {
		return nil, ErrFirstTierNotZero
	}

	for i, tier := range sorted {
		if !tier.Step.IsPositive() {
			return nil, fmt.Errorf("tier %d: %w", i, ErrInvalidTierStep)
		}
		if i > 0 && !tier.From.GreaterThan(sorted[i-1].From) {
			return nil, ErrTierOrder
		}
	}

	return &Table{tiers: sorted}, nil
}

func (t *Table) Tiers() []Tier {
	return append([]Tier(nil), t.tiers...)
}

// StepFor returns the tick size for the magnitude of price.
func (t *Table) StepFor(price decimal.Decimal) decimal.Decimal {
	step := t.tiers[0].Step
	for _, tier := range t.tiers {
		if price.LessThan(tier.From) {
			break
		}
		step = tier.Step
	}
	return step
}

// stepBelow returns the step of the tier that contains prices just under p.
func (t *Table) stepBelow(price decimal.Decimal) decimal.Decimal {
	step := t.tiers[0].Step
	for _, tier := range t.tiers {
		if !tier.From.LessThan(price) {
			break
		}
		step = tier.Step
	}
	return step
}

// SnapToStep rounds price to the nearest multiple of its tick size.
func (t *Table) SnapToStep(price decimal.Decimal) decimal.Decimal {
	step := t.StepFor(price)
	return price.Div(step).Round(0).Mul(step)
}

func (t *Table) IsOnStep(price decimal.Decimal) bool {
	return price.Mod(t.StepFor(price)).IsZero()
}

// Increment moves price one tick up from its snapped value.
func (t *Table) Increment(price decimal.Decimal) decimal.Decimal {
	snapped := t.SnapToStep(price)
	return snapped.Add(t.StepFor(snapped))
}

// Decrement moves price one tick down from its snapped value, using the
// lower tier's step at a tier boundary. Prices never go to zero or below.
func (t *Table) Decrement(price decimal.Decimal) decimal.Decimal {
	snapped := t.SnapToStep(price)
	if !snapped.IsPositive() {
		return t.tiers[0].Step
	}
	next := snapped.Sub(t.stepBelow(snapped))
	if !next.IsPositive() {
		return snapped
	}
	return next
}
