package lifecycle

import (
	"errors"
	"time"

	"github.com/krobus00/broker-gateway/internal/entity"
)

var (
	ErrOverfilled       = errors.New("executions exceed requested quantity")
	ErrInvalidExecution = errors.New("execution quantity must be positive")
)

// Reconcile applies a venue status report to current and returns the next
// state of the order. The status is derived from the executions. The venue
// status string is only trusted for cancellation and expiry, which can happen
// mid-fill.
//
// Executions are append-only: a report carrying fewer executions than already
// known is an older view of the order and its list is ignored.
func Reconcile(current entity.Order, report entity.OrderStatusReport, now time.Time) (entity.Order, error) {
	if current.Status.IsTerminal() {
		return current, entity.ErrOrderTerminal
	}

	executions := report.Executions
	if len(executions) < len(current.Executions) {
		executions = current.Executions
	}

	for _, e := range executions {
		if !e.Quantity.IsPositive() {
			return current, ErrInvalidExecution
		}
	}

	filled := entity.SumExecutionQuantity(executions)
	if filled.GreaterThan(current.RequestedQuantity) {
		return current, ErrOverfilled
	}

	next := *current.Clone()
	next.Executions = append([]entity.Execution(nil), executions...)
	next.CumulativeFilledQuantity = filled
	next.UpdatedAt = now

	venueStatus, known := entity.ParseVenueStatus(report.Status)
	switch {
	case filled.Equal(current.RequestedQuantity):
		next.Status = entity.OrderStatusCompleted
	case known && (venueStatus == entity.OrderStatusCancelled || venueStatus == entity.OrderStatusExpired):
		next.Status = venueStatus
	case filled.IsPositive():
		next.Status = entity.OrderStatusPartiallyFilled
	default:
		next.Status = entity.OrderStatusPending
	}

	return next, nil
}

// FromSummary builds a tracked order from a venue listing row. Executions are
// not part of a listing, so the order starts unfilled and the first poll
// fills it in.
func FromSummary(summary entity.OrderSummary, now time.Time) entity.Order {
	order := entity.Order{
		ID:                summary.ID,
		Symbol:            summary.Symbol,
		Side:              summary.Side,
		Type:              summary.Type,
		TimeInForce:       summary.TimeInForce,
		RequestedQuantity: summary.RequestedQuantity,
		Status:            entity.OrderStatusPending,
		SubmittedAt:       summary.SubmittedAt,
		UpdatedAt:         now,
	}
	if summary.ExpiryDate != nil {
		expiry := *summary.ExpiryDate
		order.ExpiryDate = &expiry
	}
	if summary.RequestedPrice != nil {
		price := *summary.RequestedPrice
		order.RequestedPrice = &price
	}
	return order
}
