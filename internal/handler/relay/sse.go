package relay

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ezchat/realtime/backend/internal/relay"
	"github.com/ezchat/realtime/backend/pkg/utils"
)

const sseHeartbeat = 25 * time.Second

// StreamHandler 为无法使用 WebSocket 的客户端提供只读的 SSE 事件流
type StreamHandler struct {
	relay  *relay.Relay
	buffer int
	log    *logrus.Entry
}

// NewStreamHandler 创建SSE处理器
func NewStreamHandler(r *relay.Relay, buffer int) *StreamHandler {
	if buffer <= 0 {
		buffer = relay.DefaultOptions().SendBuffer
	}
	return &StreamHandler{relay: r, buffer: buffer, log: logrus.WithField("component", "sse")}
}

// RegisterRoutes 注册SSE路由
func (h *StreamHandler) RegisterRoutes(r chi.Router) {
	r.Get("/events/{channelID}", h.handleStream)
}

func (h *StreamHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	channelID := chi.URLParam(r, "channelID")

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	member := newStreamMember(h.buffer)
	h.relay.Join(member, channelID)
	defer func() {
		h.relay.Leave(member)
		_ = member.Close()
	}()

	log := h.log.WithFields(logrus.Fields{"member": member.ID(), "channel": channelID})
	log.Info("opening event stream")

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	if err := utils.SendSSEComment(w, flusher, "connected"); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			log.Info("closing event stream")
			return
		case <-member.done:
			return
		case frame := <-member.frames:
			if err := utils.SendSSEFrame(w, flusher, "relay", frame); err != nil {
				log.WithError(err).Warn("write failed")
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}

// streamMember is a relay member backed by an SSE response.
type streamMember struct {
	id     string
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func newStreamMember(buffer int) *streamMember {
	return &streamMember{
		id:     "sse-" + uuid.NewString(),
		frames: make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

func (m *streamMember) ID() string { return m.id }

func (m *streamMember) Deliver(frame []byte) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.frames <- frame:
		return true
	default:
		return false
	}
}

func (m *streamMember) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}
