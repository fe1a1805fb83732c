package relay

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ezchat/realtime/backend/internal/relay"
	"github.com/ezchat/realtime/backend/pkg/event"
)

// WebSocketHandler 把 WebSocket 连接接入实时转发层
type WebSocketHandler struct {
	relay    *relay.Relay
	opts     relay.Options
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(r *relay.Relay, opts relay.Options, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		relay: r,
		opts:  opts,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: logrus.WithField("component", "websocket"),
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

// handleWebSocket 处理WebSocket连接；?channelId= 可在握手时直接加入频道
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("upgrade failed")
		return
	}

	conn := relay.NewConnection(ws, h.opts)
	log := h.log.WithField("conn", conn.ID())
	log.Info("connection opened")

	defer func() {
		h.relay.Leave(conn)
		_ = conn.Close()
		log.Info("connection closed")
	}()

	if channelID, ok := r.URL.Query()["channelId"]; ok && len(channelID) > 0 {
		h.relay.Join(conn, channelID[0])
	}

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.WithError(err).Warn("read error")
			}
			return
		}
		h.handleFrame(conn, frame, log)
	}
}

func (h *WebSocketHandler) handleFrame(conn *relay.Connection, frame []byte, log *logrus.Entry) {
	e, err := event.Decode(frame)
	if err != nil {
		log.WithError(err).Debug("ignoring bad frame")
		return
	}

	if err := h.relay.Dispatch(conn, e); err != nil {
		if errors.Is(err, relay.ErrNoTarget) || errors.Is(err, relay.ErrUnroutable) {
			h.sendError(conn, string(e.Kind())+": "+err.Error())
			return
		}
		log.WithError(err).Error("dispatch failed")
	}
}

func (h *WebSocketHandler) sendError(conn *relay.Connection, message string) {
	frame, err := event.Encode(event.ErrorNotice{Message: message})
	if err != nil {
		return
	}
	conn.Deliver(frame)
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}
