// Package ordervalidator is the pre-submit gate for order drafts. It has no
// side effects; the venue validates again on its side.
package ordervalidator

import (
	"strings"
	"time"

	"github.com/krobus00/broker-gateway/internal/entity"
	"github.com/krobus00/broker-gateway/internal/service/feecalc"
	"github.com/krobus00/broker-gateway/internal/service/pricestep"
	"github.com/shopspring/decimal"
)

const DefaultExpiryWindowDays = 30

// Input is everything a validation run reads. Account and Instrument are
// snapshots taken from the store by the caller.
type Input struct {
	Draft          entity.OrderDraft
	Instrument     *entity.Instrument
	Account        entity.AccountState
	FeeRatePercent decimal.Decimal
}

type Config struct {
	Steps            *pricestep.Table
	Location         *time.Location
	ExpiryWindowDays int
	Now              func() time.Time
}

type Validator struct {
	steps            *pricestep.Table
	location         *time.Location
	expiryWindowDays int
	now              func() time.Time
	rules            []rule
}

type rule func(in Input) *entity.ValidationError

func New(cfg Config) *Validator {
	if cfg.Steps == nil {
		cfg.Steps = pricestep.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ExpiryWindowDays <= 0 {
		cfg.ExpiryWindowDays = DefaultExpiryWindowDays
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	v := &Validator{
		steps:            cfg.Steps,
		location:         cfg.Location,
		expiryWindowDays: cfg.ExpiryWindowDays,
		now:              cfg.Now,
	}
	v.rules = []rule{
		v.checkPresence,
		v.checkEnums,
		v.checkHoldings,
		v.checkBalance,
		v.checkPrice,
		v.checkExpiry,
	}

	return v
}

// Validate runs the rule chain and stops at the first failure. The returned
// error is always a *entity.ValidationError.
func (v *Validator) Validate(in Input) error {
	for _, r := range v.rules {
		if verr := r(in); verr != nil {
			return verr
		}
	}
	return nil
}

func (v *Validator) checkPresence(in Input) *entity.ValidationError {
	symbol := strings.TrimSpace(in.Draft.Symbol)
	if symbol == "" || in.Instrument == nil {
		return entity.NewValidationError(entity.ReasonMissingInstrument, "select an instrument first")
	}
	if !strings.EqualFold(symbol, in.Instrument.Symbol) {
		return entity.NewValidationError(entity.ReasonMissingInstrument, "order symbol %s does not match selected instrument %s", symbol, in.Instrument.Symbol)
	}
	if !in.Draft.Quantity.IsPositive() {
		return entity.NewValidationError(entity.ReasonInvalidQuantity, "quantity must be greater than zero")
	}
	return nil
}

func (v *Validator) checkEnums(in Input) *entity.ValidationError {
	if !in.Draft.Side.Valid() {
		return entity.NewValidationError(entity.ReasonInvalidSide, "unsupported side %q", in.Draft.Side)
	}
	if !in.Draft.Type.Valid() {
		return entity.NewValidationError(entity.ReasonInvalidOrderType, "unsupported order type %q", in.Draft.Type)
	}
	if !in.Draft.TimeInForce.Valid() {
		return entity.NewValidationError(entity.ReasonInvalidTimeInForce, "unsupported time in force %q", in.Draft.TimeInForce)
	}
	return nil
}

func (v *Validator) checkHoldings(in Input) *entity.ValidationError {
	if in.Draft.Side != entity.OrderSideSell {
		return nil
	}

	held := decimal.Zero
	if qty := in.Account.HeldQuantity(in.Instrument.Symbol); qty != nil {
		held = *qty
	}

	if in.Draft.Quantity.GreaterThan(held) {
		return entity.NewValidationError(entity.ReasonInsufficientHoldings, "insufficient holdings: selling %s but only %s held", in.Draft.Quantity, held)
	}
	return nil
}

func (v *Validator) checkBalance(in Input) *entity.ValidationError {
	if in.Draft.Side != entity.OrderSideBuy {
		return nil
	}

	var price decimal.Decimal
	switch in.Draft.Type {
	case entity.OrderTypeMarket:
		ref, ok := feecalc.MarketReferencePrice(*in.Instrument)
		if !ok {
			return entity.NewValidationError(entity.ReasonMarketPriceUnavailable, "no reference price available for %s", in.Instrument.Symbol)
		}
		price = ref
	default:
		if in.Draft.Price == nil {
			// reported by checkPrice
			return nil
		}
		price = *in.Draft.Price
	}

	totals := feecalc.ComputeTotal(in.Draft.Side, in.Draft.Quantity, price, in.FeeRatePercent)
	if totals.Net.GreaterThan(in.Account.Balance.Amount) {
		return entity.NewValidationError(entity.ReasonInsufficientBalance, "insufficient balance: order needs %s but %s is available", totals.Net, in.Account.Balance.Amount)
	}
	return nil
}

func (v *Validator) checkPrice(in Input) *entity.ValidationError {
	if in.Draft.Type == entity.OrderTypeMarket {
		if in.Draft.Price != nil {
			return entity.NewValidationError(entity.ReasonUnexpectedPrice, "market orders do not take a price")
		}
		return nil
	}

	if in.Draft.Price == nil || !in.Draft.Price.IsPositive() {
		return entity.NewValidationError(entity.ReasonMissingPrice, "limit orders require a price")
	}
	if !v.steps.IsOnStep(*in.Draft.Price) {
		step := v.steps.StepFor(*in.Draft.Price)
		return entity.NewValidationError(entity.ReasonInvalidPriceStep, "price %s is not a multiple of the tick size %s, nearest valid price is %s", in.Draft.Price, step, v.steps.SnapToStep(*in.Draft.Price))
	}
	return nil
}

func (v *Validator) checkExpiry(in Input) *entity.ValidationError {
	if in.Draft.TimeInForce != entity.TimeInForceGTD {
		if in.Draft.ExpiryDate != nil {
			return entity.NewValidationError(entity.ReasonUnexpectedExpiry, "%s orders do not take an expiry date", in.Draft.TimeInForce)
		}
		return nil
	}

	if in.Draft.ExpiryDate == nil {
		return entity.NewValidationError(entity.ReasonInvalidExpiry, "good-till-date orders require an expiry date")
	}

	today := v.civilDate(v.now())
	expiry := v.civilDate(*in.Draft.ExpiryDate)
	last := today.AddDate(0, 0, v.expiryWindowDays)

	if expiry.Before(today) || expiry.After(last) {
		return entity.NewValidationError(entity.ReasonInvalidExpiry, "expiry date must be between %s and %s", today.Format(time.DateOnly), last.Format(time.DateOnly))
	}
	return nil
}

func (v *Validator) civilDate(t time.Time) time.Time {
	local := t.In(v.location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, v.location)
}

// ImplicitExpiry returns the expiry sent to the venue: end of today for DAY,
// end of the chosen day for GTD and none for GTC.
func (v *Validator) ImplicitExpiry(tif entity.TimeInForce, expiry *time.Time) *time.Time {
	var end time.Time
	switch tif {
	case entity.TimeInForceDay:
		end = v.civilDate(v.now()).AddDate(0, 0, 1).Add(-time.Second)
	case entity.TimeInForceGTD:
		if expiry == nil {
			return nil
		}
		end = v.civilDate(*expiry).AddDate(0, 0, 1).Add(-time.Second)
	default:
		return nil
	}
	return &end
}

// Steps exposes the tick table used for price checks.
func (v *Validator) Steps() *pricestep.Table {
	return v.steps
}
