// Package feecalc computes order totals. Every function here is pure.
package feecalc

import (
	"strings"

	"github.com/krobus00/broker-gateway/internal/entity"
	"github.com/shopspring/decimal"
)

const defaultCurrencyDigits int32 = 2

var hundred = decimal.NewFromInt(100)

type Totals struct {
	Gross decimal.Decimal `json:"gross"`
	Fee   decimal.Decimal `json:"fee"`
	Net   decimal.Decimal `json:"net"`
}

// ComputeTotal returns gross = quantity × price, fee = gross × rate / 100 and
// net = gross ± fee depending on side. Full precision is kept; rounding
// happens only in FormatAmount.
func ComputeTotal(side entity.OrderSide, quantity, price, feeRatePercent decimal.Decimal) Totals {
	gross := quantity.Mul(price)
	fee := gross.Mul(feeRatePercent).Div(hundred)

	net := gross.Add(fee)
	if side == entity.OrderSideSell {
		net = gross.Sub(fee)
	}

	return Totals{Gross: gross, Fee: fee, Net: net}
}

// MarketReferencePrice is the price used to estimate a MARKET order.
func MarketReferencePrice(instrument entity.Instrument) (decimal.Decimal, bool) {
	if instrument.LastTradedPrice.IsPositive() {
		return instrument.LastTradedPrice, true
	}
	if instrument.PreviousClose.IsPositive() {
		return instrument.PreviousClose, true
	}
	return decimal.Zero, false
}

// FeeSchedule holds the fee percentage of each instrument class.
type FeeSchedule struct {
	rates    map[entity.InstrumentClass]decimal.Decimal
	fallback decimal.Decimal
}

func NewFeeSchedule(rates map[entity.InstrumentClass]decimal.Decimal, fallback decimal.Decimal) *FeeSchedule {
	cp := make(map[entity.InstrumentClass]decimal.Decimal, len(rates))
	for class, rate := range rates {
		cp[entity.InstrumentClass(strings.ToUpper(string(class)))] = rate
	}
	return &FeeSchedule{rates: cp, fallback: fallback}
}

func (s *FeeSchedule) RateFor(class entity.InstrumentClass) decimal.Decimal {
	if s == nil {
		return decimal.Zero
	}
	if rate, ok := s.rates[entity.InstrumentClass(strings.ToUpper(string(class)))]; ok {
		return rate
	}
	return s.fallback
}

// Formatter renders amounts with each currency's fractional digits.
type Formatter struct {
	digits map[string]int32
}

func NewFormatter(digits map[string]int32) *Formatter {
	cp := make(map[string]int32, len(digits))
	for currency, n := range digits {
		cp[strings.ToUpper(currency)] = n
	}
	return &Formatter{digits: cp}
}

func (f *Formatter) Digits(currency string) int32 {
	if f != nil {
		if n, ok := f.digits[strings.ToUpper(currency)]; ok && n >= 0 {
			return n
		}
	}
	return defaultCurrencyDigits
}

// FormatAmount rounds half away from zero to the currency's digits.
func (f *Formatter) FormatAmount(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(f.Digits(currency))
}

// FormatTotals formats every field of t.
func (f *Formatter) FormatTotals(t Totals, currency string) map[string]string {
	return map[string]string{
		"gross": f.FormatAmount(t.Gross, currency),
		"fee":   f.FormatAmount(t.Fee, currency),
		"net":   f.FormatAmount(t.Net, currency),
	}
}
