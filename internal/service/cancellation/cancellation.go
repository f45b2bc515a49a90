// Package cancellation implements the confirm-then-cancel flow for a tracked
// order: Idle -> ConfirmPending -> Cancelling -> Idle.
//
// Local order state is never changed optimistically. After the venue accepts
// a cancel the order is re-polled and stays PENDING until the venue reports
// it cancelled.
package cancellation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/krobus00/broker-gateway/internal/entity"
	"github.com/krobus00/broker-gateway/internal/metrics"
	"github.com/krobus00/broker-gateway/internal/service/venue"
	"github.com/krobus00/broker-gateway/internal/store"
	"github.com/sirupsen/logrus"
)

type State string

const (
	StateIdle           State = "IDLE"
	StateConfirmPending State = "CONFIRM_PENDING"
	StateCancelling     State = "CANCELLING"
)

var (
	ErrNoCancellationPending  = errors.New("no cancellation is awaiting confirmation for this order")
	ErrCancellationInProgress = errors.New("a cancellation is already in progress")
)

type OrderRefresher interface {
	Refresh(ctx context.Context, orderID string) (entity.Order, error)
}

type AccountRefresher interface {
	TriggerAccount()
}

type Status struct {
	State   State  `json:"state"`
	OrderID string `json:"order_id,omitempty"`
}

type Workflow struct {
	venue     entity.Venue
	store     *store.Store
	orders    OrderRefresher
	account   AccountRefresher
	publisher entity.EventPublisher
	sessionID string
	token     string
	now       func() time.Time

	mu      sync.Mutex
	state   State
	orderID string
}

func New(v entity.Venue, st *store.Store, orders OrderRefresher, account AccountRefresher, publisher entity.EventPublisher, sessionID, token string) *Workflow {
	return &Workflow{
		venue:     v,
		store:     st,
		orders:    orders,
		account:   account,
		publisher: publisher,
		sessionID: sessionID,
		token:     token,
		now:       time.Now,
		state:     StateIdle,
	}
}

func (w *Workflow) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	return Status{State: w.state, OrderID: w.orderID}
}

// Request opens the confirmation step for orderID. Requesting again for
// another order replaces the pending confirmation.
func (w *Workflow) Request(orderID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateCancelling {
		return ErrCancellationInProgress
	}

	order, err := w.store.Order(orderID)
	if err != nil {
		return err
	}
	if order.Status.IsTerminal() {
		return entity.ErrOrderTerminal
	}

	w.state = StateConfirmPending
	w.orderID = orderID
	return nil
}

func (w *Workflow) Abort(orderID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateConfirmPending || w.orderID != orderID {
		return ErrNoCancellationPending
	}
	w.reset()
	return nil
}

func (w *Workflow) reset() {
	w.state = StateIdle
	w.orderID = ""
}

// Confirm sends the cancel request. On rejection the venue message is
// returned unchanged as a *entity.VenueError.
func (w *Workflow) Confirm(ctx context.Context, orderID string) (entity.Order, error) {
	logger := logrus.WithFields(logrus.Fields{
		"session_id": w.sessionID,
		"order_id":   orderID,
	})

	w.mu.Lock()
	if w.state == StateCancelling {
		w.mu.Unlock()
		return entity.Order{}, ErrCancellationInProgress
	}
	if w.state != StateConfirmPending || w.orderID != orderID {
		w.mu.Unlock()
		return entity.Order{}, ErrNoCancellationPending
	}
	order, err := w.store.Order(orderID)
	if err == nil && order.Status.IsTerminal() {
		err = entity.ErrOrderTerminal
	}
	if err != nil {
		w.reset()
		w.mu.Unlock()
		return entity.Order{}, err
	}
	w.state = StateCancelling
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.reset()
		w.mu.Unlock()
	}()

	if w.token == "" {
		return order, entity.ErrAuthRequired
	}

	result, err := w.venue.CancelOrder(ctx, w.token, orderID)
	if err != nil {
		metrics.Cancellations.WithLabelValues(metrics.OutcomeError).Inc()
		logger.WithError(err).Warn("cancel request failed")
		w.publishFailure(ctx, order, err.Error())
		return order, err
	}
	if !result.Success {
		metrics.Cancellations.WithLabelValues(metrics.OutcomeRejected).Inc()
		logger.Info("venue rejected cancel: ", result.Message)
		w.publishFailure(ctx, order, result.Message)
		return order, &entity.VenueError{Op: venue.OpCancelOrder, Message: result.Message}
	}

	metrics.Cancellations.WithLabelValues(metrics.OutcomeSuccess).Inc()
	logger.Info("cancel accepted by venue")

	if w.account != nil {
		w.account.TriggerAccount()
	}

	refreshed, err := w.orders.Refresh(ctx, orderID)
	if err != nil {
		logger.WithError(err).Warn("failed to refresh order after cancel")
		return w.store.Order(orderID)
	}
	return refreshed, nil
}

func (w *Workflow) publishFailure(ctx context.Context, order entity.Order, message string) {
	if w.publisher == nil {
		return
	}
	err := w.publisher.PublishOrderEvent(ctx, entity.OrderEvent{
		Type:       entity.OrderEventCancelFailed,
		SessionID:  w.sessionID,
		Order:      order.Clone(),
		Message:    message,
		OccurredAt: w.now(),
	})
	if err != nil {
		logrus.WithField("order_id", order.ID).WithError(err).Warn("failed to publish cancel failure")
	}
}
