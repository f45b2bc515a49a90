package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthRequired is returned when no session token is available.
	ErrAuthRequired = errors.New("please log in")
	// ErrStaleData marks a response older than one already applied. It is
	// dropped silently.
	ErrStaleData = errors.New("stale data")

	ErrOrderNotFound = errors.New("order not found")
	ErrOrderTerminal = errors.New("order is already in a terminal state")
)

type ValidationReason string

const (
	ReasonMissingInstrument      ValidationReason = "missing_instrument"
	ReasonInvalidQuantity        ValidationReason = "invalid_quantity"
	ReasonInvalidSide            ValidationReason = "invalid_side"
	ReasonInvalidOrderType       ValidationReason = "invalid_order_type"
	ReasonInvalidTimeInForce     ValidationReason = "invalid_time_in_force"
	ReasonInsufficientHoldings   ValidationReason = "insufficient_holdings"
	ReasonInsufficientBalance    ValidationReason = "insufficient_balance"
	ReasonMissingPrice           ValidationReason = "missing_price"
	ReasonInvalidPriceStep       ValidationReason = "invalid_price_step"
	ReasonUnexpectedPrice        ValidationReason = "unexpected_price"
	ReasonInvalidExpiry          ValidationReason = "invalid_expiry"
	ReasonUnexpectedExpiry       ValidationReason = "unexpected_expiry"
	ReasonMarketPriceUnavailable ValidationReason = "market_price_unavailable"
)

// ValidationError is a local pre-submit failure. It is never sent to the
// venue.
type ValidationError struct {
	Reason  ValidationReason `json:"reason"`
	Message string           `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(reason ValidationReason, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// VenueError carries the venue's message unchanged.
type VenueError struct {
	Op      string
	Message string
	Err     error
}

func (e *VenueError) Error() string {
	return e.Message
}

func (e *VenueError) Unwrap() error {
	return e.Err
}
