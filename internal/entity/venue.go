package entity

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Venue is the remote trading venue. Transport details belong to the
// implementation; symbols passed in and out are canonical.
type Venue interface {
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetOrderBook(ctx context.Context, symbol string) ([]RawBookEntry, error)
	GetTrades(ctx context.Context, symbol string) ([]Trade, error)
	GetAccountBalance(ctx context.Context, token string) (*Balance, error)
	GetHoldings(ctx context.Context, token string) ([]Holding, error)
	PlaceOrder(ctx context.Context, token string, req PlaceOrderRequest) (*PlaceOrderResult, error)
	CancelOrder(ctx context.Context, token string, orderID string) (*CancelOrderResult, error)
	GetOrderStatus(ctx context.Context, token string, orderID string) (*OrderStatusReport, error)
	ListOrders(ctx context.Context, token string, filter OrderListFilter) (*OrderPage, error)
}

type Quote struct {
	Symbol          string          `json:"symbol"`
	LastTradedPrice decimal.Decimal `json:"last_traded_price"`
	PreviousClose   decimal.Decimal `json:"previous_close"`
}

type PlaceOrderRequest struct {
	RequestID   string           `json:"request_id"`
	Symbol      string           `json:"symbol"`
	Side        OrderSide        `json:"side"`
	Type        OrderType        `json:"order_type"`
	TimeInForce TimeInForce      `json:"time_in_force"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Quantity    decimal.Decimal  `json:"quantity"`
	ExpireDate  *time.Time       `json:"expire_date,omitempty"`
}

type PlaceOrderResult struct {
	Success bool   `json:"success"`
	OrderID string `json:"order_id,omitempty"`
	Message string `json:"message,omitempty"`
}

type CancelOrderResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// OrderStatusReport is the venue's view of an order. Status is the raw
// venue string and is not trusted on its own.
type OrderStatusReport struct {
	Status     string      `json:"status"`
	Executions []Execution `json:"executions"`
}

type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

type OrderListFilter struct {
	Symbol    string        `json:"symbol,omitempty"`
	Status    OrderStatus   `json:"status,omitempty"`
	Side      OrderSide     `json:"side,omitempty"`
	From      *time.Time    `json:"from,omitempty"`
	To        *time.Time    `json:"to,omitempty"`
	Page      int           `json:"page"`
	PageSize  int           `json:"page_size"`
	SortField string        `json:"sort_field"`
	SortDir   SortDirection `json:"sort_dir"`
}

// OrderSummary is an order row returned by the venue's order listing.
type OrderSummary struct {
	ID                string           `json:"id"`
	Symbol            string           `json:"symbol"`
	Side              OrderSide        `json:"side"`
	Type              OrderType        `json:"type"`
	TimeInForce       TimeInForce      `json:"time_in_force"`
	ExpiryDate        *time.Time       `json:"expiry_date,omitempty"`
	RequestedQuantity decimal.Decimal  `json:"requested_quantity"`
	RequestedPrice    *decimal.Decimal `json:"requested_price,omitempty"`
	FilledQuantity    decimal.Decimal  `json:"filled_quantity"`
	Status            string           `json:"status"`
	SubmittedAt       time.Time        `json:"submitted_at"`
}

// IsPartial classifies by quantity, like Order.IsPartial.
func (s OrderSummary) IsPartial() bool {
	return s.FilledQuantity.GreaterThan(decimal.Zero) && s.FilledQuantity.LessThan(s.RequestedQuantity)
}

type OrderPage struct {
	Orders     []OrderSummary `json:"orders"`
	TotalCount int            `json:"total_count"`
}

// ParseVenueStatus maps the venue's status vocabulary onto OrderStatus.
// Rejected orders are treated as cancelled.
func ParseVenueStatus(raw string) (OrderStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PENDING", "NEW", "OPEN", "ACCEPTED":
		return OrderStatusPending, true
	case "PARTIALLY_FILLED", "PARTIAL", "PARTIALLY_EXECUTED":
		return OrderStatusPartiallyFilled, true
	case "COMPLETED", "FILLED", "EXECUTED":
		return OrderStatusCompleted, true
	case "CANCELLED", "CANCELED", "REJECTED":
		return OrderStatusCancelled, true
	case "EXPIRED":
		return OrderStatusExpired, true
	default:
		return "", false
	}
}
