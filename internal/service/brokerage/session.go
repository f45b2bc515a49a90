// Package brokerage runs one user's view of the venue: the owned store plus
// the loops and workflows that write to it.
package brokerage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/krobus00/broker-gateway/internal/entity"
	"github.com/krobus00/broker-gateway/internal/metrics"
	"github.com/krobus00/broker-gateway/internal/service/cancellation"
	"github.com/krobus00/broker-gateway/internal/service/feecalc"
	"github.com/krobus00/broker-gateway/internal/service/lifecycle"
	"github.com/krobus00/broker-gateway/internal/service/orderbook"
	"github.com/krobus00/broker-gateway/internal/service/ordervalidator"
	"github.com/krobus00/broker-gateway/internal/service/scheduler"
	"github.com/krobus00/broker-gateway/internal/service/venue"
	"github.com/krobus00/broker-gateway/internal/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	ErrInstrumentNotSelected = scheduler.ErrInstrumentNotSelected
	ErrDuplicateSubmission   = errors.New("order with this request id was already submitted")
	ErrMarketNotLoaded       = errors.New("market data for the selected instrument is not loaded yet")
	ErrAccountNotLoaded      = errors.New("account data is not loaded yet")
	ErrSessionClosed         = errors.New("session is closed")
	ErrInvalidRefreshTarget  = errors.New("refresh target must be market, account or all")
)

type RefreshTarget string

const (
	RefreshMarket  RefreshTarget = "market"
	RefreshAccount RefreshTarget = "account"
	RefreshAll     RefreshTarget = "all"
)

// Dependencies are shared by every session.
type Dependencies struct {
	Venue     entity.Venue
	Catalog   entity.Catalog
	Validator *ordervalidator.Validator
	Fees      *feecalc.FeeSchedule
	Formatter *feecalc.Formatter
	Guard     store.SubmissionGuard
	Publisher entity.EventPublisher
}

type Config struct {
	MarketInterval     time.Duration
	AccountInterval    time.Duration
	OrderPollInterval  time.Duration
	MaxActivePolls     int
	OrderBookDepth     int
	DefaultCurrency    string
	SubmissionGuardTTL time.Duration
	IdleTimeout        time.Duration
}

type Session struct {
	id    string
	token string
	deps  Dependencies
	cfg   Config

	store        *store.Store
	scheduler    *scheduler.Scheduler
	tracker      *lifecycle.Tracker
	cancellation *cancellation.Workflow

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastSeen atomic.Int64
	closed   atomic.Bool
	now      func() time.Time
}

// SessionID derives a stable, non-reversible id from a bearer token so the
// token itself never appears in logs or events.
func SessionID(token string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(token)).String()
}

func newSession(token string, deps Dependencies, cfg Config) *Session {
	id := SessionID(token)
	st := store.New()

	s := &Session{
		id:    id,
		token: token,
		deps:  deps,
		cfg:   cfg,
		store: st,
		now:   time.Now,
	}

	s.scheduler = scheduler.New(
		deps.Venue,
		st,
		orderbook.NewAggregator(cfg.OrderBookDepth),
		deps.Validator.Steps(),
		deps.Catalog,
		scheduler.Config{
			SessionID:       id,
			Token:           token,
			MarketInterval:  cfg.MarketInterval,
			AccountInterval: cfg.AccountInterval,
			DefaultCurrency: cfg.DefaultCurrency,
		},
	)
	s.tracker = lifecycle.NewTracker(deps.Venue, st, deps.Publisher, lifecycle.Config{
		SessionID:      id,
		Token:          token,
		PollInterval:   cfg.OrderPollInterval,
		MaxActivePolls: cfg.MaxActivePolls,
	})
	s.cancellation = cancellation.New(deps.Venue, st, s.tracker, s.scheduler, deps.Publisher, id, token)
	s.touch()

	return s
}

func (s *Session) start(parent context.Context) {
	s.ctx, s.cancel = context.WithCancel(parent)
	s.scheduler.Start(s.ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tracker.Run(s.ctx)
	}()

	metrics.ActiveSessions.Inc()
	logrus.WithField("session_id", s.id).Info("session started")
}

// Close stops every loop of the session. It is safe to call more than once.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.scheduler.Stop()
	s.wg.Wait()
	s.tracker.Release()
	s.store.Close()

	metrics.ActiveSessions.Dec()
	logrus.WithField("session_id", s.id).Info("session closed")
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Store() *store.Store {
	return s.store
}

func (s *Session) touch() {
	s.lastSeen.Store(s.now().UnixNano())
}

func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

func (s *Session) Closed() bool {
	return s.closed.Load()
}

// SelectInstrument makes symbol the instrument the market loop follows and
// returns its canonical form.
func (s *Session) SelectInstrument(symbol string) (string, error) {
	if s.Closed() {
		return "", ErrSessionClosed
	}
	return s.scheduler.SelectInstrument(symbol), nil
}

func (s *Session) ClearInstrument() {
	s.scheduler.ClearInstrument()
}

func (s *Session) Refresh(target RefreshTarget) error {
	switch target {
	case RefreshMarket:
		return s.scheduler.TriggerMarket()
	case RefreshAccount:
		s.scheduler.TriggerAccount()
		return nil
	case RefreshAll, "":
		s.scheduler.TriggerAccount()
		err := s.scheduler.TriggerMarket()
		if errors.Is(err, ErrInstrumentNotSelected) {
			return nil
		}
		return err
	default:
		return ErrInvalidRefreshTarget
	}
}

func (s *Session) Market() (entity.MarketSnapshot, error) {
	if _, _, ok := s.store.Selection(); !ok {
		return entity.MarketSnapshot{}, ErrInstrumentNotSelected
	}
	market, ok := s.store.Market()
	if !ok {
		return entity.MarketSnapshot{}, ErrMarketNotLoaded
	}
	if instrument, ok := s.store.Instrument(); ok {
		market.Instrument = *instrument
	}
	return market, nil
}

func (s *Session) Account() (entity.AccountState, error) {
	account, ok := s.store.Account()
	if !ok {
		return entity.AccountState{}, ErrAccountNotLoaded
	}
	return account, nil
}

// Orders returns the orders tracked by this session, most recent first.
func (s *Session) Orders() []entity.Order {
	return s.store.Orders()
}

// Preview is the live total shown while the order form is edited.
type Preview struct {
	Symbol         string                  `json:"symbol"`
	Currency       string                  `json:"currency"`
	Price          decimal.Decimal         `json:"price"`
	FeeRatePercent decimal.Decimal         `json:"fee_rate_percent"`
	Totals         feecalc.Totals          `json:"totals"`
	Display        map[string]string       `json:"display"`
	TickSize       decimal.Decimal         `json:"tick_size"`
	SnappedPrice   *decimal.Decimal        `json:"snapped_price,omitempty"`
	NextPrice      *decimal.Decimal        `json:"next_price,omitempty"`
	PreviousPrice  *decimal.Decimal        `json:"previous_price,omitempty"`
	Validation     *entity.ValidationError `json:"validation,omitempty"`
	ImplicitExpiry *time.Time              `json:"implicit_expiry,omitempty"`
}

// Preview computes totals for draft without submitting anything. The
// validation result is attached rather than returned as an error so the form
// can show both.
func (s *Session) Preview(draft entity.OrderDraft) (*Preview, error) {
	instrument, ok := s.store.Instrument()
	if !ok {
		if _, _, selected := s.store.Selection(); !selected {
			return nil, ErrInstrumentNotSelected
		}
		return nil, ErrMarketNotLoaded
	}

	rate := s.deps.Fees.RateFor(instrument.Class)
	preview := &Preview{
		Symbol:         instrument.Symbol,
		Currency:       instrument.Currency,
		FeeRatePercent: rate,
		ImplicitExpiry: s.deps.Validator.ImplicitExpiry(draft.TimeInForce, draft.ExpiryDate),
	}

	price, hasPrice := feecalc.MarketReferencePrice(*instrument)
	if draft.Type == entity.OrderTypeLimit {
		hasPrice = draft.Price != nil && draft.Price.IsPositive()
		if hasPrice {
			price = *draft.Price

			steps := s.deps.Validator.Steps()
			snapped := steps.SnapToStep(price)
			next := steps.Increment(price)
			prev := steps.Decrement(price)
			preview.SnappedPrice = &snapped
			preview.NextPrice = &next
			preview.PreviousPrice = &prev
			preview.TickSize = steps.StepFor(price)
		}
	}
	if preview.TickSize.IsZero() {
		preview.TickSize = instrument.TickSize
	}

	if hasPrice && draft.Quantity.IsPositive() {
		preview.Price = price
		preview.Totals = feecalc.ComputeTotal(draft.Side, draft.Quantity, price, rate)
	}
	preview.Display = s.deps.Formatter.FormatTotals(preview.Totals, instrument.Currency)

	account, _ := s.store.Account()
	err := s.deps.Validator.Validate(ordervalidator.Input{
		Draft:          draft,
		Instrument:     instrument,
		Account:        account,
		FeeRatePercent: rate,
	})
	var verr *entity.ValidationError
	if errors.As(err, &verr) {
		preview.Validation = verr
	}

	return preview, nil
}

// PlaceOrder validates draft and submits it. requestID identifies the
// submission; a second call with the same id is refused while the first is
// remembered.
func (s *Session) PlaceOrder(ctx context.Context, draft entity.OrderDraft, requestID string) (entity.Order, error) {
	if s.Closed() {
		return entity.Order{}, ErrSessionClosed
	}
	if s.token == "" {
		metrics.Placements.WithLabelValues("auth_required").Inc()
		return entity.Order{}, entity.ErrAuthRequired
	}

	draft.Symbol = entity.CanonicalSymbol(draft.Symbol)
	instrument, _ := s.store.Instrument()

	account, ok := s.store.Account()
	if !ok {
		return entity.Order{}, ErrAccountNotLoaded
	}

	var rate decimal.Decimal
	if instrument != nil {
		rate = s.deps.Fees.RateFor(instrument.Class)
	}

	err := s.deps.Validator.Validate(ordervalidator.Input{
		Draft:          draft,
		Instrument:     instrument,
		Account:        account,
		FeeRatePercent: rate,
	})
	if err != nil {
		metrics.Placements.WithLabelValues("invalid").Inc()
		return entity.Order{}, err
	}

	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger := logrus.WithFields(logrus.Fields{
		"session_id": s.id,
		"request_id": requestID,
		"symbol":     draft.Symbol,
		"side":       draft.Side,
		"type":       draft.Type,
	})

	guardKey := store.SubmissionKey(s.id, requestID)
	owner := uuid.NewString()
	acquired, err := s.deps.Guard.Acquire(ctx, guardKey, owner, s.cfg.SubmissionGuardTTL)
	if err != nil {
		logger.WithError(err).Error("failed to acquire submission guard")
		return entity.Order{}, err
	}
	if !acquired {
		metrics.Placements.WithLabelValues("duplicate").Inc()
		return entity.Order{}, ErrDuplicateSubmission
	}
	release := func() {
		if err := s.deps.Guard.Release(context.WithoutCancel(ctx), guardKey, owner); err != nil {
			logger.WithError(err).Warn("failed to release submission guard")
		}
	}

	req := entity.PlaceOrderRequest{
		RequestID:   requestID,
		Symbol:      draft.Symbol,
		Side:        draft.Side,
		Type:        draft.Type,
		TimeInForce: draft.TimeInForce,
		Price:       draft.Price,
		Quantity:    draft.Quantity,
		ExpireDate:  s.deps.Validator.ImplicitExpiry(draft.TimeInForce, draft.ExpiryDate),
	}

	result, err := s.deps.Venue.PlaceOrder(ctx, s.token, req)
	if err != nil {
		release()
		metrics.Placements.WithLabelValues(metrics.OutcomeError).Inc()
		logger.WithError(err).Warn("order placement failed")
		return entity.Order{}, err
	}
	if !result.Success {
		release()
		metrics.Placements.WithLabelValues(metrics.OutcomeRejected).Inc()
		logger.Info("venue rejected order: ", result.Message)
		return entity.Order{}, &entity.VenueError{Op: venue.OpPlaceOrder, Message: result.Message}
	}

	now := s.now()
	order := entity.Order{
		ID:                result.OrderID,
		RequestID:         requestID,
		Symbol:            draft.Symbol,
		Side:              draft.Side,
		Type:              draft.Type,
		TimeInForce:       draft.TimeInForce,
		ExpiryDate:        req.ExpireDate,
		RequestedQuantity: draft.Quantity,
		RequestedPrice:    draft.Price,
		Status:            entity.OrderStatusPending,
		SubmittedAt:       now,
		UpdatedAt:         now,
	}
	if !s.tracker.Track(order) {
		// the venue handed back an id this session already tracks
		s.scheduler.TriggerAccount()
		logger.WithField("order_id", order.ID).Warn("venue returned an already tracked order id")
		return s.store.Order(order.ID)
	}
	s.scheduler.TriggerAccount()

	metrics.Placements.WithLabelValues(metrics.OutcomeSuccess).Inc()
	logger.WithField("order_id", order.ID).Info("order placed")

	if s.deps.Publisher != nil {
		err = s.deps.Publisher.PublishOrderEvent(ctx, entity.OrderEvent{
			Type:       entity.OrderEventPlaced,
			SessionID:  s.id,
			Order:      order.Clone(),
			OccurredAt: now,
		})
		if err != nil {
			logger.WithError(err).Warn("failed to publish order placed event")
		}
	}

	return order, nil
}

// ListOrders queries the venue's order history. Non-terminal orders this
// session does not know yet are tracked from then on.
func (s *Session) ListOrders(ctx context.Context, filter entity.OrderListFilter) (*entity.OrderPage, error) {
	if s.token == "" {
		return nil, entity.ErrAuthRequired
	}

	page, err := s.deps.Venue.ListOrders(ctx, s.token, filter)
	if err != nil {
		return nil, err
	}

	adopted := 0
	for _, summary := range page.Orders {
		if s.tracker.Adopt(summary) {
			adopted++
		}
	}
	if adopted > 0 {
		logrus.WithFields(logrus.Fields{
			"session_id": s.id,
			"adopted":    adopted,
		}).Debug("adopted orders from venue listing")
	}

	return page, nil
}

// OrderDetail polls the order once before returning it so orders outside the
// actively polled set are still current when opened. A failed poll falls back
// to the stored copy.
func (s *Session) OrderDetail(ctx context.Context, orderID string) (entity.Order, error) {
	order, err := s.tracker.Refresh(ctx, orderID)
	if errors.Is(err, entity.ErrOrderNotFound) {
		return entity.Order{}, err
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"session_id": s.id,
			"order_id":   orderID,
		}).WithError(err).Warn("order refresh failed, serving stored order")
		return s.store.Order(orderID)
	}
	return order, nil
}

func (s *Session) RequestCancel(orderID string) error {
	if s.token == "" {
		return entity.ErrAuthRequired
	}
	return s.cancellation.Request(orderID)
}

func (s *Session) ConfirmCancel(ctx context.Context, orderID string) (entity.Order, error) {
	return s.cancellation.Confirm(ctx, orderID)
}

func (s *Session) AbortCancel(orderID string) error {
	return s.cancellation.Abort(orderID)
}

func (s *Session) CancellationStatus() cancellation.Status {
	return s.cancellation.Status()
}
