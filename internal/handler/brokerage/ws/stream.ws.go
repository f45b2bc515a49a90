package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/krobus00/broker-gateway/internal/service/brokerage"
	"github.com/krobus00/broker-gateway/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	defaultPingInterval = 30 * time.Second
	writeWait           = 10 * time.Second
	changeBuffer        = 64
)

type SessionProvider interface {
	Get(token string) (*brokerage.Session, error)
}

// Message is one frame pushed to the client.
type Message struct {
	Type    string `json:"type"`
	OrderID string `json:"order_id,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	SentAt  int64  `json:"sent_at"`
}

type Handler struct {
	sessions     SessionProvider
	upgrader     websocket.Upgrader
	pingInterval time.Duration
}

func NewStreamHandler(sessions SessionProvider, allowedOrigins []string) *Handler {
	h := &Handler{
		sessions:     sessions,
		pingInterval: defaultPingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	if len(allowedOrigins) > 0 {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if allowed == "*" || strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		}
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/stream", h.Stream)
}

// Stream upgrades the connection and pushes a snapshot of every store change
// until the client goes away or the session closes.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Get(streamToken(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	logger := logrus.WithField("session_id", session.ID())
	changes, unsubscribe := session.Store().Subscribe(changeBuffer)
	defer unsubscribe()

	readDeadline := h.pingInterval * 2
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	// the client sends nothing meaningful; reading drives pong and close handling
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.WithError(err).Debug("websocket read failed")
				}
				return
			}
		}
	}()

	for _, msg := range initialMessages(session) {
		if err := writeMessage(conn, msg); err != nil {
			return
		}
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case change, ok := <-changes:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(writeWait))
				return
			}
			if err := writeMessage(conn, messageFor(session, change)); err != nil {
				logger.WithError(err).Debug("websocket write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func initialMessages(session *brokerage.Session) []Message {
	msgs := []Message{messageFor(session, store.Change{Kind: store.ChangeSelection})}
	if _, err := session.Market(); err == nil {
		msgs = append(msgs, messageFor(session, store.Change{Kind: store.ChangeMarket}))
	}
	if _, err := session.Account(); err == nil {
		msgs = append(msgs, messageFor(session, store.Change{Kind: store.ChangeAccount}))
	}
	for _, order := range session.Orders() {
		msgs = append(msgs, messageFor(session, store.Change{Kind: store.ChangeOrder, OrderID: order.ID}))
	}
	return msgs
}

// messageFor reads the current value behind change. Changes only say what
// moved, so a burst of them collapses to the latest state.
func messageFor(session *brokerage.Session, change store.Change) Message {
	msg := Message{Type: string(change.Kind), OrderID: change.OrderID}

	var (
		data any
		err  error
	)
	switch change.Kind {
	case store.ChangeSelection:
		symbol, _, ok := session.Store().Selection()
		data = map[string]any{"symbol": symbol, "selected": ok}
	case store.ChangeMarket:
		data, err = session.Market()
	case store.ChangeAccount:
		data, err = session.Account()
	case store.ChangeOrder:
		data, err = session.Store().Order(change.OrderID)
	}

	if err != nil {
		msg.Error = err.Error()
	} else {
		msg.Data = data
	}
	msg.SentAt = time.Now().UnixMilli()
	return msg
}

func writeMessage(conn *websocket.Conn, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// streamToken accepts the token from the Authorization header or, for
// browsers that cannot set headers on upgrade, the token query parameter.
func streamToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
