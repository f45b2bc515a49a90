package http

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/krobus00/broker-gateway/internal/entity"
	"github.com/krobus00/broker-gateway/internal/service/brokerage"
	"github.com/krobus00/broker-gateway/internal/service/feecalc"
	"github.com/krobus00/broker-gateway/internal/service/ordervalidator"
	"github.com/krobus00/broker-gateway/internal/service/venue/venuetest"
	"github.com/krobus00/broker-gateway/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type testServer struct {
	venue   *venuetest.Fake
	manager *brokerage.Manager
	router  chi.Router
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	v := &venuetest.Fake{
		GetQuoteFunc: func(ctx context.Context, symbol string) (*entity.Quote, error) {
			return &entity.Quote{Symbol: symbol, LastTradedPrice: d("1000")}, nil
		},
		GetOrderBookFunc: func(ctx context.Context, symbol string) ([]entity.RawBookEntry, error) {
			return []entity.RawBookEntry{{Symbol: symbol, Side: entity.BookSideSell, Price: d("1001"), Size: d("3")}}, nil
		},
		GetAccountBalanceFunc: func(ctx context.Context, token string) (*entity.Balance, error) {
			return &entity.Balance{Currency: "MNT", Amount: d("5000")}, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	manager := brokerage.NewManager(ctx, brokerage.Dependencies{
		Venue:     v,
		Catalog:   entity.Catalog{},
		Validator: ordervalidator.New(ordervalidator.Config{}),
		Fees:      feecalc.NewFeeSchedule(nil, d("1")),
		Formatter: feecalc.NewFormatter(nil),
		Guard:     store.NewMemorySubmissionGuard(),
	}, brokerage.Config{
		MarketInterval:  time.Hour,
		AccountInterval: time.Hour,
	})
	t.Cleanup(func() {
		manager.Close()
		cancel()
	})

	router := chi.NewRouter()
	NewBrokerageHTTPHandler(manager, time.UTC).Register(router)

	return &testServer{venue: v, manager: manager, router: router}
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// ready selects APU and waits until the session's loops filled the store.
func (s *testServer) ready(t *testing.T, token string) {
	t.Helper()

	rec := s.do(http.MethodPut, "/v1/session/instrument", token, map[string]string{"symbol": "apu-o-0000"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"symbol":"APU"}`, rec.Body.String())

	require.Eventually(t, func() bool {
		return s.do(http.MethodGet, "/v1/session/orderbook", token, nil).Code == http.StatusOK &&
			s.do(http.MethodGet, "/v1/session/account", token, nil).Code == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHandler_RequiresToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/v1/session/account", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodDelete, "/v1/session", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_OrderBookBeforeSelection(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/v1/session/orderbook", "tok", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandler_PlaceOrder(t *testing.T) {
	s := newTestServer(t)
	s.ready(t, "tok")

	body := map[string]any{
		"request_id":    "req-1",
		"symbol":        "APU",
		"side":          "buy",
		"type":          "limit",
		"time_in_force": "gtc",
		"quantity":      "2",
		"price":         "1000",
	}
	rec := s.do(http.MethodPost, "/v1/orders", "tok", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var order OrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	assert.Equal(t, "req-1", order.ID)
	assert.Equal(t, entity.OrderStatusPending, order.Status)
	assert.Equal(t, "2", order.RemainingQuantity)
	assert.False(t, order.IsPartial)

	rec = s.do(http.MethodPost, "/v1/orders", "tok", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 1, s.venue.Calls("PlaceOrder"))

	rec = s.do(http.MethodGet, "/v1/orders/tracked", "tok", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tracked []OrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tracked))
	assert.Len(t, tracked, 1)
}

func TestHandler_PlaceOrderValidation(t *testing.T) {
	s := newTestServer(t)
	s.ready(t, "tok")

	rec := s.do(http.MethodPost, "/v1/orders", "tok", map[string]any{
		"symbol":        "APU",
		"side":          "BUY",
		"type":          "LIMIT",
		"time_in_force": "GTC",
		"quantity":      "10",
		"price":         "1000",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, string(entity.ReasonInsufficientBalance), resp.Reason.String)

	rec = s.do(http.MethodPost, "/v1/orders", "tok", map[string]any{
		"symbol":   "APU",
		"quantity": "abc",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/orders", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer tok")
	raw := httptest.NewRecorder()
	s.router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)

	assert.Zero(t, s.venue.Calls("PlaceOrder"))
}

func TestHandler_VenueRejectionMessage(t *testing.T) {
	s := newTestServer(t)
	s.venue.PlaceOrderFunc = func(ctx context.Context, token string, req entity.PlaceOrderRequest) (*entity.PlaceOrderResult, error) {
		return &entity.PlaceOrderResult{Success: false, Message: "Trading halted for APU"}, nil
	}
	s.ready(t, "tok")

	rec := s.do(http.MethodPost, "/v1/orders", "tok", map[string]any{
		"symbol":        "APU",
		"side":          "BUY",
		"type":          "MARKET",
		"time_in_force": "DAY",
		"quantity":      "1",
	})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "Trading halted for APU", decodeError(t, rec).Error)
}

func TestHandler_Preview(t *testing.T) {
	s := newTestServer(t)
	s.ready(t, "tok")

	rec := s.do(http.MethodPost, "/v1/orders/preview", "tok", map[string]any{
		"symbol":        "APU",
		"side":          "SELL",
		"type":          "LIMIT",
		"time_in_force": "GTC",
		"quantity":      "3",
		"price":         "1000",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var preview struct {
		Display    map[string]string `json:"display"`
		Validation *struct {
			Reason string `json:"reason"`
		} `json:"validation"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &preview))
	assert.Equal(t, "2970.00", preview.Display["net"])
	require.NotNil(t, preview.Validation)
	assert.Equal(t, string(entity.ReasonInsufficientHoldings), preview.Validation.Reason)
}

func TestHandler_ListOrders(t *testing.T) {
	s := newTestServer(t)
	var got entity.OrderListFilter
	s.venue.ListOrdersFunc = func(ctx context.Context, token string, filter entity.OrderListFilter) (*entity.OrderPage, error) {
		got = filter
		return &entity.OrderPage{
			TotalCount: 1,
			Orders: []entity.OrderSummary{
				{ID: "o-1", Symbol: "APU", RequestedQuantity: d("10"), FilledQuantity: d("4"), Status: "partial"},
			},
		}, nil
	}

	rec := s.do(http.MethodGet, "/v1/orders?symbol=apu&status=pending&from=2026-03-01&to=2026-03-10&page_size=50", "tok", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var page OrderPageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Orders, 1)
	assert.True(t, page.Orders[0].IsPartial)
	assert.Equal(t, string(entity.OrderStatusPartiallyFilled), page.Orders[0].Status)

	assert.Equal(t, "APU", got.Symbol)
	assert.Equal(t, entity.OrderStatusPending, got.Status)
	assert.Equal(t, 1, got.Page)
	assert.Equal(t, 50, got.PageSize)
	assert.Equal(t, entity.SortDesc, got.SortDir)
	require.NotNil(t, got.To)
	assert.Equal(t, 10, got.To.Day())

	rec = s.do(http.MethodGet, "/v1/orders?status=unknown", "tok", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/v1/orders?page=x", "tok", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_CancelFlow(t *testing.T) {
	s := newTestServer(t)
	s.ready(t, "tok")

	rec := s.do(http.MethodPost, "/v1/orders", "tok", map[string]any{
		"request_id":    "o-1",
		"symbol":        "APU",
		"side":          "BUY",
		"type":          "LIMIT",
		"time_in_force": "GTC",
		"quantity":      "1",
		"price":         "1000",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/v1/orders/o-1/cancel/confirm", "tok", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/v1/orders/o-1/cancel", "tok", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"state":"CONFIRM_PENDING","order_id":"o-1"}`, rec.Body.String())

	s.venue.GetOrderStatusFunc = func(ctx context.Context, token, id string) (*entity.OrderStatusReport, error) {
		return &entity.OrderStatusReport{Status: "CANCELLED"}, nil
	}
	rec = s.do(http.MethodPost, "/v1/orders/o-1/cancel/confirm", "tok", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var order OrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	assert.Equal(t, entity.OrderStatusCancelled, order.Status)

	rec = s.do(http.MethodGet, "/v1/orders/missing", "tok", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_RefreshAndLogout(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/v1/session/refresh", "tok", map[string]string{"target": "weekly"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/v1/session/refresh", "tok", map[string]string{"target": "market"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/v1/session/refresh", "tok", map[string]string{"target": "account"})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	assert.Equal(t, 1, s.manager.Count())
	rec = s.do(http.MethodDelete, "/v1/session", "tok", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, s.manager.Count())
}
