package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/krobus00/broker-gateway/internal/entity"
	"github.com/krobus00/broker-gateway/internal/service/orderbook"
	"github.com/krobus00/broker-gateway/internal/service/venue/venuetest"
	"github.com/krobus00/broker-gateway/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func marketVenue() *venuetest.Fake {
	return &venuetest.Fake{
		GetQuoteFunc: func(ctx context.Context, symbol string) (*entity.Quote, error) {
			return &entity.Quote{Symbol: symbol, LastTradedPrice: d("1234"), PreviousClose: d("1200")}, nil
		},
		GetOrderBookFunc: func(ctx context.Context, symbol string) ([]entity.RawBookEntry, error) {
			return []entity.RawBookEntry{
				{Symbol: symbol, Side: entity.BookSideBuy, Price: d("1233"), Size: d("5")},
				{Symbol: symbol, Side: entity.BookSideBuy, Price: d("1233"), Size: d("2")},
			}, nil
		},
		GetTradesFunc: func(ctx context.Context, symbol string) ([]entity.Trade, error) {
			return []entity.Trade{{Price: d("1234"), Quantity: d("1")}}, nil
		},
		GetAccountBalanceFunc: func(ctx context.Context, token string) (*entity.Balance, error) {
			return &entity.Balance{Currency: "MNT", Amount: d("5000")}, nil
		},
		GetHoldingsFunc: func(ctx context.Context, token string) ([]entity.Holding, error) {
			return []entity.Holding{
				{Symbol: "APU", Quantity: d("10")},
				{Symbol: "APU", Quantity: d("5")},
			}, nil
		},
	}
}

func newScheduler(v entity.Venue, st *store.Store) *Scheduler {
	catalog := entity.Catalog{"APU": {Symbol: "APU", Class: entity.InstrumentClassEquity, Currency: "MNT"}}
	return New(v, st, orderbook.NewAggregator(5), nil, catalog, Config{
		SessionID:       "s-1",
		Token:           "tok",
		MarketInterval:  time.Hour,
		AccountInterval: time.Hour,
	})
}

func TestRefreshMarketNow_WritesSnapshot(t *testing.T) {
	st := store.New()
	s := newScheduler(marketVenue(), st)

	assert.ErrorIs(t, s.RefreshMarketNow(context.Background()), ErrInstrumentNotSelected)

	st.Select("APU")
	require.NoError(t, s.RefreshMarketNow(context.Background()))

	market, ok := st.Market()
	require.True(t, ok)
	assert.Equal(t, "APU", market.Instrument.Symbol)
	assert.Equal(t, "MNT", market.Instrument.Currency)
	assert.Equal(t, "1", market.Instrument.TickSize.String())
	require.Len(t, market.OrderBook.Bids.Levels, 1)
	assert.Equal(t, "7", market.OrderBook.Bids.Levels[0].Size.String())
	assert.True(t, market.OrderBook.Asks.NoOrders)
	assert.Len(t, market.Trades, 1)
}

func TestRefreshAccountNow_MergesHoldings(t *testing.T) {
	st := store.New()
	s := newScheduler(marketVenue(), st)

	require.NoError(t, s.RefreshAccountNow(context.Background()))

	account, ok := st.Account()
	require.True(t, ok)
	assert.Equal(t, "5000", account.Balance.Amount.String())
	assert.Equal(t, "15", account.Holdings["APU"].String())
}

func TestRefreshAccountNow_ErrorLeavesState(t *testing.T) {
	st := store.New()
	v := marketVenue()
	v.GetHoldingsFunc = func(ctx context.Context, token string) ([]entity.Holding, error) {
		return nil, &entity.VenueError{Message: "down"}
	}
	s := newScheduler(v, st)

	assert.Error(t, s.RefreshAccountNow(context.Background()))
	_, ok := st.Account()
	assert.False(t, ok)
}

func TestStart_RunsAccountImmediatelyAndOnTrigger(t *testing.T) {
	st := store.New()
	v := marketVenue()
	s := newScheduler(v, st)
	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool { return v.Calls("GetHoldings") == 1 }, time.Second, 5*time.Millisecond)

	s.TriggerAccount()
	assert.Eventually(t, func() bool { return v.Calls("GetHoldings") == 2 }, time.Second, 5*time.Millisecond)
}

func TestTrigger_CoalescesWhileInFlight(t *testing.T) {
	st := store.New()
	v := marketVenue()
	release := make(chan struct{})
	var calls atomic.Int32
	v.GetHoldingsFunc = func(ctx context.Context, token string) ([]entity.Holding, error) {
		if calls.Add(1) == 1 {
			<-release
		}
		return nil, nil
	}

	s := newScheduler(v, st)
	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	for i := 0; i < 5; i++ {
		s.TriggerAccount()
	}
	close(release)

	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSelectInstrument_SwitchesLoop(t *testing.T) {
	st := store.New()
	v := marketVenue()
	blocked := make(chan struct{})
	v.GetOrderBookFunc = func(ctx context.Context, symbol string) ([]entity.RawBookEntry, error) {
		if symbol == "APU" {
			close(blocked)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return nil, nil
	}

	s := newScheduler(v, st)
	s.Start(context.Background())
	defer s.Stop()

	assert.Equal(t, "APU", s.SelectInstrument("apu-o-0000"))
	<-blocked

	s.SelectInstrument("TTL")
	assert.Eventually(t, func() bool {
		market, ok := st.Market()
		return ok && market.Instrument.Symbol == "TTL"
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.TriggerMarket())

	s.ClearInstrument()
	assert.ErrorIs(t, s.TriggerMarket(), ErrInstrumentNotSelected)
	_, ok := st.Market()
	assert.False(t, ok)
}

func TestStop_EndsLoops(t *testing.T) {
	st := store.New()
	v := marketVenue()
	s := newScheduler(v, st)
	s.Start(context.Background())
	s.SelectInstrument("APU")

	assert.Eventually(t, func() bool { return v.Calls("GetOrderBook") >= 1 }, time.Second, 5*time.Millisecond)
	s.Stop()

	calls := v.Calls("GetOrderBook")
	s.TriggerAccount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, v.Calls("GetOrderBook"))

	// selecting after stop records the selection without starting a loop
	s.SelectInstrument("TTL")
	assert.ErrorIs(t, s.TriggerMarket(), ErrInstrumentNotSelected)
}
