// Package lifecycle tracks submitted orders until they reach a terminal
// state.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/krobus00/broker-gateway/internal/entity"
	"github.com/krobus00/broker-gateway/internal/metrics"
	"github.com/krobus00/broker-gateway/internal/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPollInterval   = 5 * time.Second
	defaultMaxActivePolls = 5
)

type Config struct {
	SessionID      string
	Token          string
	PollInterval   time.Duration
	MaxActivePolls int
}

type Tracker struct {
	venue     entity.Venue
	store     *store.Store
	publisher entity.EventPublisher

	sessionID      string
	token          string
	pollInterval   time.Duration
	maxActivePolls int
	now            func() time.Time
}

func NewTracker(venue entity.Venue, st *store.Store, publisher entity.EventPublisher, cfg Config) *Tracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxActivePolls <= 0 {
		cfg.MaxActivePolls = defaultMaxActivePolls
	}

	return &Tracker{
		venue:          venue,
		store:          st,
		publisher:      publisher,
		sessionID:      cfg.SessionID,
		token:          cfg.Token,
		pollInterval:   cfg.PollInterval,
		maxActivePolls: cfg.MaxActivePolls,
		now:            time.Now,
	}
}

// Track starts tracking a freshly placed order.
func (t *Tracker) Track(order entity.Order) bool {
	if order.Status == "" {
		order.Status = entity.OrderStatusPending
	}
	if !t.store.Track(order) {
		return false
	}
	if !order.Status.IsTerminal() {
		metrics.TrackedOrders.Inc()
	}
	return true
}

// Adopt tracks a non-terminal order seen in the venue listing but unknown to
// this session. Orders already tracked or terminal at the venue are skipped.
func (t *Tracker) Adopt(summary entity.OrderSummary) bool {
	status, ok := entity.ParseVenueStatus(summary.Status)
	if !ok || status.IsTerminal() || summary.ID == "" {
		return false
	}
	return t.Track(FromSummary(summary, t.now()))
}

func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	t.PollActive(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.PollActive(ctx)
		}
	}
}

// PollActive refreshes the most recent non-terminal orders. Older ones are
// left for Refresh on demand.
func (t *Tracker) PollActive(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	ids := t.store.ActiveOrderIDs(t.maxActivePolls)
	if len(ids) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(t.maxActivePolls)
	for _, id := range ids {
		g.Go(func() error {
			// a failed poll retries on the next tick
			_, _ = t.Refresh(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
}

// Refresh polls one order and applies the result. It returns the order as
// stored after the poll, which may be unchanged if the response was stale.
func (t *Tracker) Refresh(ctx context.Context, orderID string) (entity.Order, error) {
	logger := logrus.WithFields(logrus.Fields{
		"session_id": t.sessionID,
		"order_id":   orderID,
	})

	seq, err := t.store.IssueOrderTicket(orderID)
	if errors.Is(err, entity.ErrOrderTerminal) {
		return t.store.Order(orderID)
	}
	if err != nil {
		return entity.Order{}, err
	}

	report, err := t.venue.GetOrderStatus(ctx, t.token, orderID)
	if err != nil {
		metrics.OrderPolls.WithLabelValues(metrics.OutcomeError).Inc()
		logger.WithError(err).Warn("failed to poll order status")
		return entity.Order{}, err
	}

	current, err := t.store.Order(orderID)
	if err != nil {
		return entity.Order{}, err
	}

	next, err := Reconcile(current, *report, t.now())
	if errors.Is(err, entity.ErrOrderTerminal) {
		return current, nil
	}
	if err != nil {
		metrics.OrderPolls.WithLabelValues(metrics.OutcomeRejected).Inc()
		logger.WithFields(logrus.Fields{
			"seq":        seq,
			"venue":      report.Status,
			"executions": len(report.Executions),
		}).WithError(err).Error("rejected inconsistent order status report")
		return current, err
	}

	err = t.store.ApplyOrder(orderID, seq, next)
	switch {
	case errors.Is(err, entity.ErrStaleData):
		metrics.OrderPolls.WithLabelValues(metrics.OutcomeStale).Inc()
		metrics.StaleDiscards.WithLabelValues("order").Inc()
		logger.WithField("seq", seq).Debug("discarded stale order status")
		return t.store.Order(orderID)
	case errors.Is(err, entity.ErrOrderTerminal):
		return t.store.Order(orderID)
	case err != nil:
		return entity.Order{}, err
	}

	metrics.OrderPolls.WithLabelValues(metrics.OutcomeSuccess).Inc()

	if next.Status != current.Status {
		logger.WithFields(logrus.Fields{
			"from":   current.Status,
			"to":     next.Status,
			"filled": next.CumulativeFilledQuantity.String(),
		}).Info("order status changed")
	}

	if next.Status.IsTerminal() {
		metrics.TrackedOrders.Dec()
		t.publish(ctx, entity.OrderEvent{
			Type:       entity.OrderEventTerminal,
			SessionID:  t.sessionID,
			Order:      next.Clone(),
			OccurredAt: t.now(),
		})
	}

	return next, nil
}

// Release drops this tracker's share of the tracked orders gauge when the
// session closes.
func (t *Tracker) Release() {
	metrics.TrackedOrders.Sub(float64(t.store.ActiveOrderCount()))
}

func (t *Tracker) publish(ctx context.Context, event entity.OrderEvent) {
	if t.publisher == nil {
		return
	}
	if err := t.publisher.PublishOrderEvent(ctx, event); err != nil {
		logrus.WithFields(logrus.Fields{
			"session_id": t.sessionID,
			"type":       event.Type,
		}).WithError(err).Warn("failed to publish order event")
	}
}
