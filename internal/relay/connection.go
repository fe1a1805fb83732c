package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Options bounds the per-connection transport.
type Options struct {
	SendBuffer   int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	PingInterval time.Duration
}

// DefaultOptions matches the defaults in internal/config.
func DefaultOptions() Options {
	return Options{
		SendBuffer:   64,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  60 * time.Second,
		PingInterval: 54 * time.Second,
	}
}

// Connection wraps one websocket session. Frames are queued by Deliver and
// written by a dedicated goroutine, so a slow peer only ever fills its own queue.
type Connection struct {
	id   string
	ws   *websocket.Conn
	opts Options
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
	log       *logrus.Entry
}

// NewConnection wraps ws and starts its writer.
func NewConnection(ws *websocket.Conn, opts Options) *Connection {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultOptions().SendBuffer
	}
	id := uuid.NewString()
	c := &Connection{
		id:   id,
		ws:   ws,
		opts: opts,
		send: make(chan []byte, opts.SendBuffer),
		done: make(chan struct{}),
		log:  logrus.WithFields(logrus.Fields{"component": "websocket", "conn": id}),
	}

	if opts.ReadTimeout > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
		})
	}

	go c.writeLoop()
	return c
}

// ID identifies the connection for the registry.
func (c *Connection) ID() string { return c.id }

// Deliver queues frame for writing. It returns false when the connection is
// closed or its queue is full.
func (c *Connection) Deliver(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// ReadFrame blocks for the next text frame from the peer.
func (c *Connection) ReadFrame() ([]byte, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if c.opts.ReadTimeout > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		}
		if kind != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Close stops the writer and closes the socket. It is safe to call repeatedly.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

func (c *Connection) writeLoop() {
	var ping <-chan time.Time
	if c.opts.PingInterval > 0 {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.log.WithError(err).Warn("write failed, closing connection")
				_ = c.Close()
				return
			}
		case <-ping:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

func (c *Connection) write(messageType int, data []byte) error {
	if c.opts.WriteTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	return c.ws.WriteMessage(messageType, data)
}
