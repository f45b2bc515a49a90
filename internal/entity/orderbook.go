package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type BookSide string

const (
	BookSideBuy  BookSide = "BUY"
	BookSideSell BookSide = "SELL"
)

// RawBookEntry is one row of the venue's order book as delivered.
type RawBookEntry struct {
	Symbol string          `json:"symbol"`
	Side   BookSide        `json:"side"`
	Price  decimal.Decimal `json:"price"`
	Size   decimal.Decimal `json:"size"`
}

type OrderBookLevel struct {
	Rank  int             `json:"rank"`
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// OrderBookSideView is a ranked side. NoOrders is set instead of an empty
// level list so callers can render a placeholder.
type OrderBookSideView struct {
	Levels   []OrderBookLevel `json:"levels,omitempty"`
	NoOrders bool             `json:"no_orders"`
}

type OrderBookView struct {
	Symbol    string            `json:"symbol"`
	Bids      OrderBookSideView `json:"bids"`
	Asks      OrderBookSideView `json:"asks"`
	BestBid   *decimal.Decimal  `json:"best_bid,omitempty"`
	BestAsk   *decimal.Decimal  `json:"best_ask,omitempty"`
	Spread    *decimal.Decimal  `json:"spread,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Trade is a completed trade on the venue for an instrument.
type Trade struct {
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Timestamp time.Time       `json:"timestamp"`
}

// MarketSnapshot is what the market refresh loop writes for the selected
// instrument.
type MarketSnapshot struct {
	Instrument Instrument    `json:"instrument"`
	OrderBook  OrderBookView `json:"order_book"`
	Trades     []Trade       `json:"trades"`
}
