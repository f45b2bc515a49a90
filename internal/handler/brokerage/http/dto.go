package http

import (
	"errors"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/krobus00/broker-gateway/internal/entity"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

type SelectInstrumentRequest struct {
	Symbol string `json:"symbol" validate:"required"`
}

type SelectInstrumentResponse struct {
	Symbol string `json:"symbol"`
}

type RefreshRequest struct {
	Target string `json:"target" validate:"omitempty,oneof=market account all"`
}

// OrderRequest is the order form. Enum and quantity checks are left to the
// order validator so the client gets its reason codes.
type OrderRequest struct {
	RequestID   null.String `json:"request_id" validate:"omitempty,max=64"`
	Symbol      string      `json:"symbol"`
	Side        string      `json:"side"`
	Type        string      `json:"type"`
	TimeInForce string      `json:"time_in_force"`
	Quantity    string      `json:"quantity" validate:"omitempty,numeric"`
	Price       null.String `json:"price" validate:"omitempty,numeric"`
	ExpiryDate  null.String `json:"expiry_date" validate:"omitempty,datetime=2006-01-02"`
}

type ListOrdersQuery struct {
	Symbol    string `validate:"omitempty,max=32"`
	Status    string `validate:"omitempty,oneof=PENDING PARTIALLY_FILLED COMPLETED CANCELLED EXPIRED"`
	Side      string `validate:"omitempty,oneof=BUY SELL"`
	From      string `validate:"omitempty,datetime=2006-01-02"`
	To        string `validate:"omitempty,datetime=2006-01-02"`
	Page      int    `validate:"gte=0"`
	PageSize  int    `validate:"gte=0,lte=200"`
	SortField string `validate:"omitempty,oneof=submitted_at symbol status"`
	SortDir   string `validate:"omitempty,oneof=asc desc"`
}

type OrderResponse struct {
	ID                       string             `json:"id"`
	RequestID                null.String        `json:"request_id"`
	Symbol                   string             `json:"symbol"`
	Side                     entity.OrderSide   `json:"side"`
	Type                     entity.OrderType   `json:"type"`
	TimeInForce              entity.TimeInForce `json:"time_in_force"`
	ExpiryDate               null.Time          `json:"expiry_date"`
	RequestedQuantity        string             `json:"requested_quantity"`
	RequestedPrice           null.String        `json:"requested_price"`
	Status                   entity.OrderStatus `json:"status"`
	IsPartial                bool               `json:"is_partial"`
	CumulativeFilledQuantity string             `json:"cumulative_filled_quantity"`
	RemainingQuantity        string             `json:"remaining_quantity"`
	FilledAmount             string             `json:"filled_amount"`
	AveragePrice             null.String        `json:"average_price"`
	Executions               []entity.Execution `json:"executions"`
	SubmittedAt              int64              `json:"submitted_at"`
	UpdatedAt                int64              `json:"updated_at"`
}

type OrderSummaryResponse struct {
	ID                string           `json:"id"`
	Symbol            string           `json:"symbol"`
	Side              entity.OrderSide `json:"side"`
	Type              entity.OrderType `json:"type"`
	RequestedQuantity string           `json:"requested_quantity"`
	RequestedPrice    null.String      `json:"requested_price"`
	FilledQuantity    string           `json:"filled_quantity"`
	IsPartial         bool             `json:"is_partial"`
	Status            string           `json:"status"`
	SubmittedAt       int64            `json:"submitted_at"`
}

type OrderPageResponse struct {
	Orders     []OrderSummaryResponse `json:"orders"`
	TotalCount int                    `json:"total_count"`
}

type ErrorResponse struct {
	Error  string      `json:"error"`
	Reason null.String `json:"reason"`
}

var (
	errInvalidQuantity = errors.New("invalid quantity")
	errInvalidPrice    = errors.New("invalid price")
	errInvalidExpiry   = errors.New("invalid expiry date")
)

func (r OrderRequest) toDraft(loc *time.Location) (entity.OrderDraft, error) {
	draft := entity.OrderDraft{
		Symbol:      strings.TrimSpace(r.Symbol),
		Side:        entity.OrderSide(strings.ToUpper(strings.TrimSpace(r.Side))),
		Type:        entity.OrderType(strings.ToUpper(strings.TrimSpace(r.Type))),
		TimeInForce: entity.TimeInForce(strings.ToUpper(strings.TrimSpace(r.TimeInForce))),
	}

	if qty := strings.TrimSpace(r.Quantity); qty != "" {
		quantity, err := decimal.NewFromString(qty)
		if err != nil {
			return entity.OrderDraft{}, errInvalidQuantity
		}
		draft.Quantity = quantity
	}

	if r.Price.Valid && strings.TrimSpace(r.Price.String) != "" {
		price, err := decimal.NewFromString(strings.TrimSpace(r.Price.String))
		if err != nil {
			return entity.OrderDraft{}, errInvalidPrice
		}
		draft.Price = &price
	}

	if r.ExpiryDate.Valid && r.ExpiryDate.String != "" {
		expiry, err := time.ParseInLocation(dateLayout, r.ExpiryDate.String, loc)
		if err != nil {
			return entity.OrderDraft{}, errInvalidExpiry
		}
		draft.ExpiryDate = &expiry
	}

	return draft, nil
}

func (q ListOrdersQuery) toFilter(loc *time.Location) entity.OrderListFilter {
	filter := entity.OrderListFilter{
		Symbol:    entity.CanonicalSymbol(q.Symbol),
		Status:    entity.OrderStatus(q.Status),
		Side:      entity.OrderSide(q.Side),
		Page:      q.Page,
		PageSize:  q.PageSize,
		SortField: q.SortField,
		SortDir:   entity.SortDirection(q.SortDir),
	}
	if q.From != "" {
		if from, err := time.ParseInLocation(dateLayout, q.From, loc); err == nil {
			filter.From = &from
		}
	}
	if q.To != "" {
		if to, err := time.ParseInLocation(dateLayout, q.To, loc); err == nil {
			// inclusive of the whole day
			end := to.AddDate(0, 0, 1).Add(-time.Nanosecond)
			filter.To = &end
		}
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	if filter.SortField == "" {
		filter.SortField = "submitted_at"
	}
	if filter.SortDir == "" {
		filter.SortDir = entity.SortDesc
	}
	return filter
}

func decimalPtrString(v *decimal.Decimal) null.String {
	if v == nil {
		return null.String{}
	}
	return null.StringFrom(v.String())
}

func mapOrderToResponse(order entity.Order) OrderResponse {
	resp := OrderResponse{
		ID:                       order.ID,
		RequestID:                null.NewString(order.RequestID, order.RequestID != ""),
		Symbol:                   order.Symbol,
		Side:                     order.Side,
		Type:                     order.Type,
		TimeInForce:              order.TimeInForce,
		ExpiryDate:               null.TimeFromPtr(order.ExpiryDate),
		RequestedQuantity:        order.RequestedQuantity.String(),
		RequestedPrice:           decimalPtrString(order.RequestedPrice),
		Status:                   order.Status,
		IsPartial:                order.IsPartial(),
		CumulativeFilledQuantity: order.CumulativeFilledQuantity.String(),
		RemainingQuantity:        order.RemainingQuantity().String(),
		FilledAmount:             order.FilledAmount().String(),
		Executions:               order.Executions,
		SubmittedAt:              order.SubmittedAt.UnixMilli(),
		UpdatedAt:                order.UpdatedAt.UnixMilli(),
	}
	if avg, ok := order.AveragePrice(); ok {
		resp.AveragePrice = null.StringFrom(avg.String())
	}
	if resp.Executions == nil {
		resp.Executions = []entity.Execution{}
	}
	return resp
}

func mapOrdersToResponse(orders []entity.Order) []OrderResponse {
	resp := make([]OrderResponse, 0, len(orders))
	for _, order := range orders {
		resp = append(resp, mapOrderToResponse(order))
	}
	return resp
}

func mapOrderPageToResponse(page *entity.OrderPage) OrderPageResponse {
	resp := OrderPageResponse{
		Orders:     make([]OrderSummaryResponse, 0, len(page.Orders)),
		TotalCount: page.TotalCount,
	}
	for _, summary := range page.Orders {
		status := summary.Status
		if parsed, ok := entity.ParseVenueStatus(summary.Status); ok {
			status = string(parsed)
		}
		resp.Orders = append(resp.Orders, OrderSummaryResponse{
			ID:                summary.ID,
			Symbol:            summary.Symbol,
			Side:              summary.Side,
			Type:              summary.Type,
			RequestedQuantity: summary.RequestedQuantity.String(),
			RequestedPrice:    decimalPtrString(summary.RequestedPrice),
			FilledQuantity:    summary.FilledQuantity.String(),
			IsPartial:         summary.IsPartial(),
			Status:            status,
			SubmittedAt:       summary.SubmittedAt.UnixMilli(),
		})
	}
	return resp
}
