package realtime

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"braveforms/internal/core"
	"braveforms/internal/types"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	maxReadSize  = 512
)

// WebSocketHandler serves GET /v1/alerts/stream. The tenant check runs before
// the upgrade, so a refused subscriber receives a normal JSON error.
type WebSocketHandler struct {
	broker   *Broker
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWebSocketHandler creates the stream handler.
func NewWebSocketHandler(broker *Broker, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		broker: broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Authentication is a bearer token, not a cookie.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	tenantID := r.URL.Query().Get("organization_id")
	if tenantID == "" {
		tenantID = actor.OrganizationID
	}

	sub, err := h.broker.Subscribe(actor.OrganizationID, tenantID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		sub.Close()
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	logger := h.logger.With("subscription_id", sub.ID, "channel", sub.Channel)
	logger.Info("alert stream opened")

	done := make(chan struct{})
	go readPump(conn, done)
	writePump(conn, sub, done, logger)
}

// readPump consumes control frames and signals done when the peer goes away.
// Clients never send data on this stream.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxReadSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, sub *Subscription, done <-chan struct{}, logger *slog.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		sub.Close()
		_ = conn.Close()
		logger.Info("alert stream closed")
	}()

	for {
		select {
		case alert, ok := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(alert); err != nil {
				logger.Warn("failed to write alert", "alert_id", alert.ID, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
