// Package venuetest provides an in-memory entity.Venue for tests.
package venuetest

import (
	"context"
	"sync"

	"github.com/krobus00/broker-gateway/internal/entity"
)

// Fake answers venue calls with the funcs set on it. A nil func returns an
// empty successful response. Calls are counted per operation.
type Fake struct {
	GetQuoteFunc          func(ctx context.Context, symbol string) (*entity.Quote, error)
	GetOrderBookFunc      func(ctx context.Context, symbol string) ([]entity.RawBookEntry, error)
	GetTradesFunc         func(ctx context.Context, symbol string) ([]entity.Trade, error)
	GetAccountBalanceFunc func(ctx context.Context, token string) (*entity.Balance, error)
	GetHoldingsFunc       func(ctx context.Context, token string) ([]entity.Holding, error)
	PlaceOrderFunc        func(ctx context.Context, token string, req entity.PlaceOrderRequest) (*entity.PlaceOrderResult, error)
	CancelOrderFunc       func(ctx context.Context, token string, orderID string) (*entity.CancelOrderResult, error)
	GetOrderStatusFunc    func(ctx context.Context, token string, orderID string) (*entity.OrderStatusReport, error)
	ListOrdersFunc        func(ctx context.Context, token string, filter entity.OrderListFilter) (*entity.OrderPage, error)

	mu    sync.Mutex
	calls map[string]int
}

var _ entity.Venue = (*Fake)(nil)

func (f *Fake) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
}

// Calls returns how many times op was called. Op names match the method
// names, e.g. "PlaceOrder".
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Fake) GetQuote(ctx context.Context, symbol string) (*entity.Quote, error) {
	f.record("GetQuote")
	if f.GetQuoteFunc != nil {
		return f.GetQuoteFunc(ctx, symbol)
	}
	return &entity.Quote{Symbol: symbol}, nil
}

func (f *Fake) GetOrderBook(ctx context.Context, symbol string) ([]entity.RawBookEntry, error) {
	f.record("GetOrderBook")
	if f.GetOrderBookFunc != nil {
		return f.GetOrderBookFunc(ctx, symbol)
	}
	return nil, nil
}

func (f *Fake) GetTrades(ctx context.Context, symbol string) ([]entity.Trade, error) {
	f.record("GetTrades")
	if f.GetTradesFunc != nil {
		return f.GetTradesFunc(ctx, symbol)
	}
	return nil, nil
}

func (f *Fake) GetAccountBalance(ctx context.Context, token string) (*entity.Balance, error) {
	f.record("GetAccountBalance")
	if f.GetAccountBalanceFunc != nil {
		return f.GetAccountBalanceFunc(ctx, token)
	}
	return &entity.Balance{}, nil
}

func (f *Fake) GetHoldings(ctx context.Context, token string) ([]entity.Holding, error) {
	f.record("GetHoldings")
	if f.GetHoldingsFunc != nil {
		return f.GetHoldingsFunc(ctx, token)
	}
	return nil, nil
}

func (f *Fake) PlaceOrder(ctx context.Context, token string, req entity.PlaceOrderRequest) (*entity.PlaceOrderResult, error) {
	f.record("PlaceOrder")
	if f.PlaceOrderFunc != nil {
		return f.PlaceOrderFunc(ctx, token, req)
	}
	return &entity.PlaceOrderResult{Success: true, OrderID: req.RequestID}, nil
}

func (f *Fake) CancelOrder(ctx context.Context, token string, orderID string) (*entity.CancelOrderResult, error) {
	f.record("CancelOrder")
	if f.CancelOrderFunc != nil {
		return f.CancelOrderFunc(ctx, token, orderID)
	}
	return &entity.CancelOrderResult{Success: true}, nil
}

func (f *Fake) GetOrderStatus(ctx context.Context, token string, orderID string) (*entity.OrderStatusReport, error) {
	f.record("GetOrderStatus")
	if f.GetOrderStatusFunc != nil {
		return f.GetOrderStatusFunc(ctx, token, orderID)
	}
	return &entity.OrderStatusReport{Status: "PENDING"}, nil
}

func (f *Fake) ListOrders(ctx context.Context, token string, filter entity.OrderListFilter) (*entity.OrderPage, error) {
	f.record("ListOrders")
	if f.ListOrdersFunc != nil {
		return f.ListOrdersFunc(ctx, token, filter)
	}
	return &entity.OrderPage{}, nil
}

// Recorder is an entity.EventPublisher that keeps every event.
type Recorder struct {
	mu     sync.Mutex
	events []entity.OrderEvent
}

func (r *Recorder) PublishOrderEvent(_ context.Context, event entity.OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Events() []entity.OrderEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entity.OrderEvent(nil), r.events...)
}
