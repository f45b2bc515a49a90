package http

import (
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/guregu/null/v6"
	"github.com/krobus00/broker-gateway/internal/entity"
	"github.com/krobus00/broker-gateway/internal/service/brokerage"
	"github.com/krobus00/broker-gateway/internal/service/cancellation"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 16

var (
	errInvalidJSONBody = errors.New("invalid json body")
	errMissingToken    = errors.New("missing bearer token")
)

// SessionProvider hands out the session bound to a bearer token.
type SessionProvider interface {
	Get(token string) (*brokerage.Session, error)
	Logout(token string)
}

type Handler struct {
	sessions SessionProvider
	validate *validator.Validate
	location *time.Location
}

func NewBrokerageHTTPHandler(sessions SessionProvider, location *time.Location) *Handler {
	if location == nil {
		location = time.UTC
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterCustomTypeFunc(nullStringValue, null.String{})

	return &Handler{
		sessions: sessions,
		validate: validate,
		location: location,
	}
}

func nullStringValue(field reflect.Value) any {
	if v, ok := field.Interface().(null.String); ok && v.Valid {
		return v.String
	}
	return nil
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Put("/instrument", h.SelectInstrument)
			r.Delete("/instrument", h.ClearInstrument)
			r.Get("/orderbook", h.GetOrderBook)
			r.Get("/account", h.GetAccount)
			r.Post("/refresh", h.Refresh)
			r.Delete("/", h.Logout)
		})
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.ListOrders)
			r.Post("/", h.PlaceOrder)
			r.Post("/preview", h.PreviewOrder)
			r.Get("/tracked", h.TrackedOrders)
			r.Get("/{orderID}", h.GetOrder)
			r.Get("/{orderID}/cancel", h.CancellationStatus)
			r.Post("/{orderID}/cancel", h.RequestCancel)
			r.Post("/{orderID}/cancel/confirm", h.ConfirmCancel)
			r.Post("/{orderID}/cancel/abort", h.AbortCancel)
		})
	})
}

func (h *Handler) SelectInstrument(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req SelectInstrumentRequest
	if !h.decode(w, r, &req) {
		return
	}

	symbol, err := session.SelectInstrument(req.Symbol)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SelectInstrumentResponse{Symbol: symbol})
}

func (h *Handler) ClearInstrument(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	session.ClearInstrument()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	market, err := session.Market()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, market)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	account, err := session.Account()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req RefreshRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}

	if err := session.Refresh(brokerage.RefreshTarget(req.Target)); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: errMissingToken.Error()})
		return
	}

	h.sessions.Logout(token)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) PreviewOrder(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	draft, ok := h.decodeDraft(w, r, nil)
	if !ok {
		return
	}

	preview, err := session.Preview(draft)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, preview)
}

func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req OrderRequest
	draft, ok := h.decodeDraft(w, r, &req)
	if !ok {
		return
	}

	requestID := req.RequestID.String
	if requestID == "" {
		requestID = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}

	order, err := session.PlaceOrder(r.Context(), draft, requestID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, mapOrderToResponse(order))
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	values := r.URL.Query()
	query := ListOrdersQuery{
		Symbol:    values.Get("symbol"),
		Status:    strings.ToUpper(values.Get("status")),
		Side:      strings.ToUpper(values.Get("side")),
		From:      values.Get("from"),
		To:        values.Get("to"),
		SortField: values.Get("sort_field"),
		SortDir:   strings.ToLower(values.Get("sort_dir")),
	}
	var err error
	if query.Page, err = queryInt(values.Get("page")); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid page"})
		return
	}
	if query.PageSize, err = queryInt(values.Get("page_size")); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid page_size"})
		return
	}
	if err := h.validate.Struct(query); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: validationMessage(err)})
		return
	}

	page, err := session.ListOrders(r.Context(), query.toFilter(h.location))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapOrderPageToResponse(page))
}

func (h *Handler) TrackedOrders(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, mapOrdersToResponse(session.Orders()))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	order, err := session.OrderDetail(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapOrderToResponse(order))
}

func (h *Handler) CancellationStatus(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, session.CancellationStatus())
}

func (h *Handler) RequestCancel(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	if err := session.RequestCancel(chi.URLParam(r, "orderID")); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, session.CancellationStatus())
}

func (h *Handler) ConfirmCancel(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	order, err := session.ConfirmCancel(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapOrderToResponse(order))
}

func (h *Handler) AbortCancel(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	if err := session.AbortCancel(chi.URLParam(r, "orderID")); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session.CancellationStatus())
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*brokerage.Session, bool) {
	session, err := h.sessions.Get(bearerToken(r))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return session, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: errInvalidJSONBody.Error()})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: validationMessage(err)})
		return false
	}
	return true
}

func (h *Handler) decodeDraft(w http.ResponseWriter, r *http.Request, req *OrderRequest) (entity.OrderDraft, bool) {
	if req == nil {
		req = &OrderRequest{}
	}
	if !h.decode(w, r, req) {
		return entity.OrderDraft{}, false
	}

	draft, err := req.toDraft(h.location)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return entity.OrderDraft{}, false
	}
	return draft, true
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field())+" failed "+fe.Tag())
	}
	return "invalid request: " + strings.Join(fields, ", ")
}

func writeError(w http.ResponseWriter, err error) {
	var (
		validationErr *entity.ValidationError
		venueErr      *entity.VenueError
	)

	switch {
	case errors.Is(err, entity.ErrAuthRequired):
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:  validationErr.Message,
			Reason: null.StringFrom(string(validationErr.Reason)),
		})
	case errors.Is(err, entity.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, brokerage.ErrDuplicateSubmission),
		errors.Is(err, entity.ErrOrderTerminal),
		errors.Is(err, cancellation.ErrCancellationInProgress),
		errors.Is(err, cancellation.ErrNoCancellationPending),
		errors.Is(err, brokerage.ErrInstrumentNotSelected):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error()})
	case errors.Is(err, brokerage.ErrMarketNotLoaded),
		errors.Is(err, brokerage.ErrAccountNotLoaded),
		errors.Is(err, brokerage.ErrSessionClosed):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
	case errors.Is(err, brokerage.ErrInvalidRefreshTarget):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.As(err, &venueErr):
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: venueErr.Message})
	default:
		logrus.WithError(err).Error("unhandled brokerage error")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
