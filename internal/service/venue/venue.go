// Package venue is the HTTP client for the remote trading venue.
package venue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/broker-gateway/internal/config"
	"github.com/krobus00/broker-gateway/internal/entity"
	"github.com/krobus00/broker-gateway/internal/metrics"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout           = 10 * time.Second
	defaultRequestsPerSecond = 20
	defaultBurst             = 10
)

const (
	OpGetQuote          = "get_quote"
	OpGetOrderBook      = "get_order_book"
	OpGetTrades         = "get_trades"
	OpGetAccountBalance = "get_account_balance"
	OpGetHoldings       = "get_holdings"
	OpPlaceOrder        = "place_order"
	OpCancelOrder       = "cancel_order"
	OpGetOrderStatus    = "get_order_status"
	OpListOrders        = "list_orders"
	OpPing              = "ping"
)

var ErrMissingBaseURL = errors.New("venue base_url is required")

type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	catalog    entity.Catalog
}

var _ entity.Venue = (*Client)(nil)

func NewClient(cfg config.VenueConfig, catalog entity.Catalog) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}

	if catalog == nil {
		catalog = entity.Catalog{}
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		catalog:    catalog,
	}, nil
}

// envelope is the venue's response wrapper. A request failed when the HTTP
// status is 4xx/5xx, code is non-zero or success is false.
type envelope struct {
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Message string          `json:"message"`
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func (e envelope) failed(statusCode int) bool {
	return statusCode >= http.StatusBadRequest || e.Code != 0 || (e.Success != nil && !*e.Success)
}

func (e envelope) errorMessage() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Msg != "" {
		return e.Msg
	}
	return "unknown error"
}

type request struct {
	op     string
	method string
	path   string
	token  string
	query  url.Values
	body   any
}

type response struct {
	statusCode int
	envelope   envelope
}

func (c *Client) do(ctx context.Context, req request) (*response, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	start := time.Now()
	defer func() {
		metrics.VenueRequestDuration.WithLabelValues(req.op).Observe(time.Since(start).Seconds())
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := c.baseURL + req.path
	if len(req.query) > 0 {
		endpoint += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.VenueRequests.WithLabelValues(req.op, metrics.OutcomeError).Inc()
		return nil, &entity.VenueError{Op: req.op, Message: "venue is unreachable", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.VenueRequests.WithLabelValues(req.op, metrics.OutcomeError).Inc()
		return nil, &entity.VenueError{Op: req.op, Message: "failed to read venue response", Err: err}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		metrics.VenueRequests.WithLabelValues(req.op, metrics.OutcomeError).Inc()
		logrus.WithFields(logrus.Fields{
			"op":     req.op,
			"status": resp.StatusCode,
			"body":   string(raw),
		}).Warn("venue response parse failed")
		return nil, &entity.VenueError{
			Op:      req.op,
			Message: fmt.Sprintf("unexpected venue response (status %d)", resp.StatusCode),
			Err:     err,
		}
	}

	if env.failed(resp.StatusCode) {
		metrics.VenueRequests.WithLabelValues(req.op, metrics.OutcomeFailure).Inc()
	} else {
		metrics.VenueRequests.WithLabelValues(req.op, metrics.OutcomeSuccess).Inc()
	}

	return &response{statusCode: resp.StatusCode, envelope: env}, nil
}

// query performs a read operation and decodes data into out. Every venue
// rejection becomes a *entity.VenueError carrying the venue message.
func (c *Client) query(ctx context.Context, req request, out any) error {
	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}

	if resp.envelope.failed(resp.statusCode) {
		return c.rejection(req.op, resp)
	}

	if out == nil || len(resp.envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.envelope.Data, out); err != nil {
		return &entity.VenueError{Op: req.op, Message: "unexpected venue response data", Err: err}
	}
	return nil
}

func (c *Client) rejection(op string, resp *response) error {
	verr := &entity.VenueError{Op: op, Message: resp.envelope.errorMessage()}
	if resp.statusCode == http.StatusUnauthorized {
		verr.Err = entity.ErrAuthRequired
	}
	return verr
}

// Ping checks that the venue answers. Any well-formed envelope counts,
// including a rejection, since it proves the venue is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, request{
		op:     OpPing,
		method: http.MethodGet,
		path:   "/api/v1/ping",
	})
	return err
}

type quoteDTO struct {
	Symbol          string          `json:"symbol"`
	LastTradedPrice decimal.Decimal `json:"last_traded_price"`
	PreviousClose   decimal.Decimal `json:"previous_close"`
}

func (c *Client) GetQuote(ctx context.Context, symbol string) (*entity.Quote, error) {
	var dto quoteDTO
	err := c.query(ctx, request{
		op:     OpGetQuote,
		method: http.MethodGet,
		path:   "/api/v1/market/quote",
		query:  url.Values{"symbol": {c.catalog.VenueSymbol(symbol)}},
	}, &dto)
	if err != nil {
		return nil, err
	}

	return &entity.Quote{
		Symbol:          entity.CanonicalSymbol(symbol),
		LastTradedPrice: dto.LastTradedPrice,
		PreviousClose:   dto.PreviousClose,
	}, nil
}

type bookRowDTO struct {
	Symbol string          `json:"symbol"`
	Side   string          `json:"side"`
	Price  decimal.Decimal `json:"price"`
	Size   decimal.Decimal `json:"size"`
}

func (c *Client) GetOrderBook(ctx context.Context, symbol string) ([]entity.RawBookEntry, error) {
	var rows []bookRowDTO
	err := c.query(ctx, request{
		op:     OpGetOrderBook,
		method: http.MethodGet,
		path:   "/api/v1/market/orderbook",
		query:  url.Values{"symbol": {c.catalog.VenueSymbol(symbol)}},
	}, &rows)
	if err != nil {
		return nil, err
	}

	entries := make([]entity.RawBookEntry, 0, len(rows))
	for _, row := range rows {
		entrySymbol := entity.CanonicalSymbol(symbol)
		if row.Symbol != "" {
			entrySymbol = c.catalog.Canonical(row.Symbol)
		}
		entries = append(entries, entity.RawBookEntry{
			Symbol: entrySymbol,
			Side:   entity.BookSide(strings.ToUpper(row.Side)),
			Price:  row.Price,
			Size:   row.Size,
		})
	}
	return entries, nil
}

type tradeDTO struct {
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Timestamp time.Time       `json:"timestamp"`
}

func (c *Client) GetTrades(ctx context.Context, symbol string) ([]entity.Trade, error) {
	var rows []tradeDTO
	err := c.query(ctx, request{
		op:     OpGetTrades,
		method: http.MethodGet,
		path:   "/api/v1/market/trades",
		query:  url.Values{"symbol": {c.catalog.VenueSymbol(symbol)}},
	}, &rows)
	if err != nil {
		return nil, err
	}

	trades := make([]entity.Trade, 0, len(rows))
	for _, row := range rows {
		trades = append(trades, entity.Trade{Price: row.Price, Quantity: row.Quantity, Timestamp: row.Timestamp})
	}
	return trades, nil
}

func (c *Client) GetAccountBalance(ctx context.Context, token string) (*entity.Balance, error) {
	if token == "" {
		return nil, entity.ErrAuthRequired
	}

	var balance entity.Balance
	err := c.query(ctx, request{
		op:     OpGetAccountBalance,
		method: http.MethodGet,
		path:   "/api/v1/account/balance",
		token:  token,
	}, &balance)
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func (c *Client) GetHoldings(ctx context.Context, token string) ([]entity.Holding, error) {
	if token == "" {
		return nil, entity.ErrAuthRequired
	}

	var holdings []entity.Holding
	err := c.query(ctx, request{
		op:     OpGetHoldings,
		method: http.MethodGet,
		path:   "/api/v1/account/holdings",
		token:  token,
	}, &holdings)
	if err != nil {
		return nil, err
	}

	for i := range holdings {
		holdings[i].Symbol = c.catalog.Canonical(holdings[i].Symbol)
	}
	return holdings, nil
}

type placeOrderDataDTO struct {
	OrderID string `json:"order_id"`
}

// PlaceOrder returns a result with Success=false and the venue's message when
// the venue rejects the order. An error is only returned when no verdict was
// received.
func (c *Client) PlaceOrder(ctx context.Context, token string, req entity.PlaceOrderRequest) (*entity.PlaceOrderResult, error) {
	if token == "" {
		return nil, entity.ErrAuthRequired
	}

	req.Symbol = c.catalog.VenueSymbol(req.Symbol)
	resp, err := c.do(ctx, request{
		op:     OpPlaceOrder,
		method: http.MethodPost,
		path:   "/api/v1/orders",
		token:  token,
		body:   req,
	})
	if err != nil {
		return nil, err
	}

	if resp.statusCode == http.StatusUnauthorized {
		return nil, c.rejection(OpPlaceOrder, resp)
	}
	if resp.envelope.failed(resp.statusCode) {
		logrus.WithFields(logrus.Fields{
			"request_id": req.RequestID,
			"symbol":     req.Symbol,
			"status":     resp.statusCode,
			"code":       resp.envelope.Code,
		}).Info("venue rejected order: ", resp.envelope.errorMessage())
		return &entity.PlaceOrderResult{Success: false, Message: resp.envelope.errorMessage()}, nil
	}

	var data placeOrderDataDTO
	if err := json.Unmarshal(resp.envelope.Data, &data); err != nil || data.OrderID == "" {
		return nil, &entity.VenueError{Op: OpPlaceOrder, Message: "venue accepted the order without an order id", Err: err}
	}

	return &entity.PlaceOrderResult{
		Success: true,
		OrderID: data.OrderID,
		Message: resp.envelope.Message,
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, token string, orderID string) (*entity.CancelOrderResult, error) {
	if token == "" {
		return nil, entity.ErrAuthRequired
	}

	resp, err := c.do(ctx, request{
		op:     OpCancelOrder,
		method: http.MethodPost,
		path:   "/api/v1/orders/" + url.PathEscape(orderID) + "/cancel",
		token:  token,
	})
	if err != nil {
		return nil, err
	}

	if resp.statusCode == http.StatusUnauthorized {
		return nil, c.rejection(OpCancelOrder, resp)
	}
	if resp.envelope.failed(resp.statusCode) {
		return &entity.CancelOrderResult{Success: false, Message: resp.envelope.errorMessage()}, nil
	}

	return &entity.CancelOrderResult{Success: true, Message: resp.envelope.Message}, nil
}

type orderStatusDTO struct {
	Status     string     `json:"status"`
	Executions []tradeDTO `json:"executions"`
}

func (c *Client) GetOrderStatus(ctx context.Context, token string, orderID string) (*entity.OrderStatusReport, error) {
	if token == "" {
		return nil, entity.ErrAuthRequired
	}

	var dto orderStatusDTO
	err := c.query(ctx, request{
		op:     OpGetOrderStatus,
		method: http.MethodGet,
		path:   "/api/v1/orders/" + url.PathEscape(orderID),
		token:  token,
	}, &dto)
	if err != nil {
		return nil, err
	}

	report := &entity.OrderStatusReport{
		Status:     dto.Status,
		Executions: make([]entity.Execution, 0, len(dto.Executions)),
	}
	for _, e := range dto.Executions {
		report.Executions = append(report.Executions, entity.NewExecution(e.Price, e.Quantity, e.Timestamp))
	}
	return report, nil
}

type orderSummaryDTO struct {
	ID             string           `json:"id"`
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	Type           string           `json:"order_type"`
	TimeInForce    string           `json:"time_in_force"`
	ExpireDate     *time.Time       `json:"expire_date"`
	Quantity       decimal.Decimal  `json:"quantity"`
	Price          *decimal.Decimal `json:"price"`
	FilledQuantity decimal.Decimal  `json:"filled_quantity"`
	Status         string           `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
}

type orderPageDTO struct {
	Orders     []orderSummaryDTO `json:"orders"`
	TotalCount int               `json:"total_count"`
}

func (c *Client) ListOrders(ctx context.Context, token string, filter entity.OrderListFilter) (*entity.OrderPage, error) {
	if token == "" {
		return nil, entity.ErrAuthRequired
	}

	var dto orderPageDTO
	err := c.query(ctx, request{
		op:     OpListOrders,
		method: http.MethodGet,
		path:   "/api/v1/orders",
		token:  token,
		query:  c.listOrdersQuery(filter),
	}, &dto)
	if err != nil {
		return nil, err
	}

	page := &entity.OrderPage{
		Orders:     make([]entity.OrderSummary, 0, len(dto.Orders)),
		TotalCount: dto.TotalCount,
	}
	for _, o := range dto.Orders {
		page.Orders = append(page.Orders, entity.OrderSummary{
			ID:                o.ID,
			Symbol:            c.catalog.Canonical(o.Symbol),
			Side:              entity.OrderSide(strings.ToUpper(o.Side)),
			Type:              entity.OrderType(strings.ToUpper(o.Type)),
			TimeInForce:       entity.TimeInForce(strings.ToUpper(o.TimeInForce)),
			ExpiryDate:        o.ExpireDate,
			RequestedQuantity: o.Quantity,
			RequestedPrice:    o.Price,
			FilledQuantity:    o.FilledQuantity,
			Status:            o.Status,
			SubmittedAt:       o.CreatedAt,
		})
	}
	return page, nil
}

func (c *Client) listOrdersQuery(filter entity.OrderListFilter) url.Values {
	q := url.Values{}
	if filter.Symbol != "" {
		q.Set("symbol", c.catalog.VenueSymbol(filter.Symbol))
	}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.Side != "" {
		q.Set("side", string(filter.Side))
	}
	if filter.From != nil {
		q.Set("from", filter.From.Format(time.RFC3339))
	}
	if filter.To != nil {
		q.Set("to", filter.To.Format(time.RFC3339))
	}
	if filter.Page > 0 {
		q.Set("page", strconv.Itoa(filter.Page))
	}
	if filter.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(filter.PageSize))
	}
	if filter.SortField != "" {
		q.Set("sort_field", filter.SortField)
	}
	if filter.SortDir != "" {
		q.Set("sort_dir", string(filter.SortDir))
	}
	return q
}
