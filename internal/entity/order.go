package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderSide string
type OrderType string
type TimeInForce string
type OrderStatus string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"

	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"

	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceDay TimeInForce = "DAY"
	TimeInForceGTD TimeInForce = "GTD"

	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusCompleted       OrderStatus = "COMPLETED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

func (t OrderType) Valid() bool {
	return t == OrderTypeLimit || t == OrderTypeMarket
}

func (t TimeInForce) Valid() bool {
	return t == TimeInForceGTC || t == TimeInForceDay || t == TimeInForceGTD
}

// IsTerminal reports whether no further transition is allowed from s.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled || s == OrderStatusExpired
}

// Execution is a single fill reported by the venue. Amount is price × quantity.
type Execution struct {
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewExecution(price, quantity decimal.Decimal, at time.Time) Execution {
	return Execution{
		Price:     price,
		Quantity:  quantity,
		Amount:    price.Mul(quantity),
		Timestamp: at,
	}
}

// OrderDraft is the order form before submission. It has no id.
type OrderDraft struct {
	Symbol      string           `json:"symbol"`
	Side        OrderSide        `json:"side"`
	Type        OrderType        `json:"type"`
	TimeInForce TimeInForce      `json:"time_in_force"`
	Quantity    decimal.Decimal  `json:"quantity"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	ExpiryDate  *time.Time       `json:"expiry_date,omitempty"`
}

// Order is a submitted order. Status, CumulativeFilledQuantity and
// Executions are written only by the lifecycle tracker and the
// placement/cancellation workflows.
type Order struct {
	ID                       string           `json:"id"`
	RequestID                string           `json:"request_id,omitempty"`
	Symbol                   string           `json:"symbol"`
	Side                     OrderSide        `json:"side"`
	Type                     OrderType        `json:"type"`
	TimeInForce              TimeInForce      `json:"time_in_force"`
	ExpiryDate               *time.Time       `json:"expiry_date,omitempty"`
	RequestedQuantity        decimal.Decimal  `json:"requested_quantity"`
	RequestedPrice           *decimal.Decimal `json:"requested_price,omitempty"`
	Status                   OrderStatus      `json:"status"`
	CumulativeFilledQuantity decimal.Decimal  `json:"cumulative_filled_quantity"`
	Executions               []Execution      `json:"executions"`
	SubmittedAt              time.Time        `json:"submitted_at"`
	UpdatedAt                time.Time        `json:"updated_at"`
}

// IsPartial is derived from quantities only; the venue status string is
// never consulted.
func (o *Order) IsPartial() bool {
	return o.CumulativeFilledQuantity.GreaterThan(decimal.Zero) &&
		o.CumulativeFilledQuantity.LessThan(o.RequestedQuantity)
}

func (o *Order) RemainingQuantity() decimal.Decimal {
	return o.RequestedQuantity.Sub(o.CumulativeFilledQuantity)
}

// FilledAmount is the sum of execution amounts.
func (o *Order) FilledAmount() decimal.Decimal {
	total := decimal.Zero
	for _, e := range o.Executions {
		total = total.Add(e.Amount)
	}
	return total
}

// AveragePrice returns the volume weighted fill price, false when nothing
// has been filled yet.
func (o *Order) AveragePrice() (decimal.Decimal, bool) {
	if !o.CumulativeFilledQuantity.GreaterThan(decimal.Zero) {
		return decimal.Zero, false
	}
	return o.FilledAmount().DivRound(o.CumulativeFilledQuantity, 8), true
}

// Clone returns a deep copy safe to hand to readers outside the store.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	if o.RequestedPrice != nil {
		price := *o.RequestedPrice
		cp.RequestedPrice = &price
	}
	if o.ExpiryDate != nil {
		expiry := *o.ExpiryDate
		cp.ExpiryDate = &expiry
	}
	cp.Executions = append([]Execution(nil), o.Executions...)
	return &cp
}

// SumExecutionQuantity adds up the quantity of every execution.
func SumExecutionQuantity(executions []Execution) decimal.Decimal {
	total := decimal.Zero
	for _, e := range executions {
		total = total.Add(e.Quantity)
	}
	return total
}
