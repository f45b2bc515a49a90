// Package scheduler keeps the session's market and account data fresh.
//
// The market loop runs only while an instrument is selected and is replaced
// whenever the selection changes. The account loop runs for the lifetime of
// the session. Both are the only writers of their data in the store.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/krobus00/broker-gateway/internal/entity"
	"github.com/krobus00/broker-gateway/internal/metrics"
	"github.com/krobus00/broker-gateway/internal/service/orderbook"
	"github.com/krobus00/broker-gateway/internal/service/pricestep"
	"github.com/krobus00/broker-gateway/internal/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMarketInterval  = 5 * time.Second
	defaultAccountInterval = 30 * time.Second
)

var ErrInstrumentNotSelected = errors.New("no instrument selected")

type Config struct {
	SessionID       string
	Token           string
	MarketInterval  time.Duration
	AccountInterval time.Duration
	DefaultCurrency string
}

type Scheduler struct {
	venue      entity.Venue
	store      *store.Store
	aggregator *orderbook.Aggregator
	steps      *pricestep.Table
	catalog    entity.Catalog

	sessionID       string
	token           string
	marketInterval  time.Duration
	accountInterval time.Duration
	defaultCurrency string
	now             func() time.Time

	mu           sync.Mutex
	ctx          context.Context
	cancel       context.CancelFunc
	accountLoop  *loop
	marketLoop   *loop
	marketCancel context.CancelFunc
	marketDone   chan struct{}
	wg           sync.WaitGroup
}

func New(venue entity.Venue, st *store.Store, aggregator *orderbook.Aggregator, steps *pricestep.Table, catalog entity.Catalog, cfg Config) *Scheduler {
	if cfg.MarketInterval <= 0 {
		cfg.MarketInterval = defaultMarketInterval
	}
	if cfg.AccountInterval <= 0 {
		cfg.AccountInterval = defaultAccountInterval
	}
	if aggregator == nil {
		aggregator = orderbook.NewAggregator(orderbook.DefaultDepth)
	}
	if steps == nil {
		steps = pricestep.Default()
	}
	if catalog == nil {
		catalog = entity.Catalog{}
	}

	s := &Scheduler{
		venue:           venue,
		store:           st,
		aggregator:      aggregator,
		steps:           steps,
		catalog:         catalog,
		sessionID:       cfg.SessionID,
		token:           cfg.Token,
		marketInterval:  cfg.MarketInterval,
		accountInterval: cfg.AccountInterval,
		defaultCurrency: cfg.DefaultCurrency,
		now:             time.Now,
	}
	s.accountLoop = newLoop("account", s.accountInterval, s.RefreshAccountNow)

	return s
}

// Start launches the account loop. It must be called once before any other
// method that starts loops.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.accountLoop.run(s.ctx)
	}()
}

// Stop tears down every loop and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.stopMarketLocked()
	s.mu.Unlock()

	s.wg.Wait()
}

// SelectInstrument switches the market loop to symbol. The previous loop is
// stopped before the new one starts and its late responses are discarded by
// the store.
func (s *Scheduler) SelectInstrument(symbol string) string {
	canonical := entity.CanonicalSymbol(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopMarketLocked()
	s.store.Select(canonical)

	if s.ctx == nil || s.ctx.Err() != nil {
		return canonical
	}

	ctx, cancel := context.WithCancel(s.ctx)
	l := newLoop("market", s.marketInterval, s.RefreshMarketNow)
	done := make(chan struct{})

	s.marketLoop = l
	s.marketCancel = cancel
	s.marketDone = done

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(done)
		l.run(ctx)
	}()

	logrus.WithFields(logrus.Fields{
		"session_id": s.sessionID,
		"symbol":     canonical,
	}).Debug("market loop started")

	return canonical
}

func (s *Scheduler) ClearInstrument() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopMarketLocked()
	s.store.Deselect()
}

func (s *Scheduler) stopMarketLocked() {
	if s.marketCancel == nil {
		return
	}
	s.marketCancel()
	<-s.marketDone

	s.marketLoop = nil
	s.marketCancel = nil
	s.marketDone = nil
}

// TriggerMarket asks the market loop for an immediate refresh.
func (s *Scheduler) TriggerMarket() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.marketLoop == nil {
		return ErrInstrumentNotSelected
	}
	s.marketLoop.Trigger()
	return nil
}

// TriggerAccount asks the account loop for an immediate refresh. It is called
// after every successful placement or cancellation.
func (s *Scheduler) TriggerAccount() {
	s.accountLoop.Trigger()
}

// RefreshMarketNow fetches quote, book and trades for the selected instrument
// and writes them to the store.
func (s *Scheduler) RefreshMarketNow(ctx context.Context) error {
	ticket, ok := s.store.IssueMarketTicket()
	if !ok {
		return ErrInstrumentNotSelected
	}

	logger := logrus.WithFields(logrus.Fields{
		"session_id": s.sessionID,
		"symbol":     ticket.Symbol,
		"seq":        ticket.Seq,
	})

	var (
		quote  *entity.Quote
		rows   []entity.RawBookEntry
		trades []entity.Trade
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		quote, err = s.venue.GetQuote(gctx, ticket.Symbol)
		return err
	})
	g.Go(func() (err error) {
		rows, err = s.venue.GetOrderBook(gctx, ticket.Symbol)
		return err
	})
	g.Go(func() (err error) {
		trades, err = s.venue.GetTrades(gctx, ticket.Symbol)
		return err
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() == nil {
			logger.WithError(err).Warn("failed to refresh market data")
		}
		return err
	}

	instrument := entity.Instrument{
		Symbol:          ticket.Symbol,
		Class:           s.catalog.Class(ticket.Symbol),
		Currency:        s.catalog.Currency(ticket.Symbol, s.defaultCurrency),
		LastTradedPrice: quote.LastTradedPrice,
		PreviousClose:   quote.PreviousClose,
	}
	reference := instrument.LastTradedPrice
	if !reference.IsPositive() {
		reference = instrument.PreviousClose
	}
	if reference.IsPositive() {
		instrument.TickSize = s.steps.StepFor(reference)
	}

	snapshot := entity.MarketSnapshot{
		Instrument: instrument,
		OrderBook:  s.aggregator.Aggregate(ticket.Symbol, rows),
		Trades:     trades,
	}

	err := s.store.ApplyMarket(ticket, snapshot)
	if errors.Is(err, entity.ErrStaleData) {
		metrics.StaleDiscards.WithLabelValues("market").Inc()
		logger.Debug("discarded stale market data")
		return nil
	}
	return err
}

// RefreshAccountNow fetches balance and holdings and writes them to the store.
func (s *Scheduler) RefreshAccountNow(ctx context.Context) error {
	seq := s.store.IssueAccountTicket()

	var (
		balance  *entity.Balance
		holdings []entity.Holding
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		balance, err = s.venue.GetAccountBalance(gctx, s.token)
		return err
	})
	g.Go(func() (err error) {
		holdings, err = s.venue.GetHoldings(gctx, s.token)
		return err
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() == nil {
			logrus.WithFields(logrus.Fields{
				"session_id": s.sessionID,
				"seq":        seq,
			}).WithError(err).Warn("failed to refresh account")
		}
		return err
	}

	state := entity.AccountState{
		Balance:   *balance,
		Holdings:  make(map[string]decimal.Decimal, len(holdings)),
		UpdatedAt: s.now(),
	}
	for _, h := range holdings {
		state.Holdings[h.Symbol] = state.Holdings[h.Symbol].Add(h.Quantity)
	}

	err := s.store.ApplyAccount(seq, state)
	if errors.Is(err, entity.ErrStaleData) {
		metrics.StaleDiscards.WithLabelValues("account").Inc()
		logrus.WithFields(logrus.Fields{
			"session_id": s.sessionID,
			"seq":        seq,
		}).Debug("discarded stale account data")
		return nil
	}
	return err
}
