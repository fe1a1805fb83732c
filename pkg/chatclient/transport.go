package chatclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ezchat/realtime/backend/pkg/event"
)

// ErrTransportClosed is returned by Send after Close.
var ErrTransportClosed = errors.New("transport closed")

// Transport carries relay events between the client and the server.
type Transport interface {
	Send(ctx context.Context, e event.Event) error
	// Events is closed when the connection ends.
	Events() <-chan event.Event
	Close() error
}

const defaultWriteTimeout = 10 * time.Second

// WSTransport is a Transport over a gorilla websocket connection.
type WSTransport struct {
	conn   *websocket.Conn
	events chan event.Event
	log    *logrus.Entry

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// DialWS connects to the relay endpoint, e.g. "ws://localhost:8080/ws".
func DialWS(ctx context.Context, url string, header http.Header) (*WSTransport, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWSTransport(conn), nil
}

// NewWSTransport wraps an established connection and starts reading from it.
func NewWSTransport(conn *websocket.Conn) *WSTransport {
	t := &WSTransport{
		conn:   conn,
		events: make(chan event.Event, 64),
		log:    logrus.WithField("component", "chatclient"),
		closed: make(chan struct{}),
	}
	go t.readLoop()
	return t
}

func (t *WSTransport) Events() <-chan event.Event { return t.events }

func (t *WSTransport) Send(ctx context.Context, e event.Event) error {
	frame, err := event.Encode(e)
	if err != nil {
		return err
	}

	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteTimeout)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

func (t *WSTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		t.writeMu.Lock()
		_ = t.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = t.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}

func (t *WSTransport) readLoop() {
	defer close(t.events)
	defer t.Close()

	for {
		msgType, frame, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.log.WithError(err).Warn("relay connection lost")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		e, err := event.Decode(frame)
		if err != nil {
			t.log.WithError(err).Debug("ignoring malformed relay frame")
			continue
		}

		select {
		case t.events <- e:
		case <-t.closed:
			return
		}
	}
}
