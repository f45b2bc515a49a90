package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type Balance struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

type Holding struct {
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	MarketValue decimal.Decimal `json:"market_value"`
}

// AccountState is written only by the sync scheduler.
type AccountState struct {
	Balance   Balance                    `json:"balance"`
	Holdings  map[string]decimal.Decimal `json:"holdings"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// HeldQuantity returns the held quantity of symbol, nil when never held.
func (a AccountState) HeldQuantity(symbol string) *decimal.Decimal {
	qty, ok := a.Holdings[symbol]
	if !ok {
		return nil
	}
	return &qty
}
