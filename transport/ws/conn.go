package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/layer-3/dair/coordinator"
)

var (
	ErrQueueFull = errors.New("send queue full")
	ErrClosed    = errors.New("connection closed")
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// conn adapts a websocket connection to coordinator.Conn. Sends never block:
// frames are queued for the write pump and a full queue is an error.
type conn struct {
	ws    *websocket.Conn
	queue chan []byte

	once   sync.Once
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newConn(ws *websocket.Conn, queueSize int) *conn {
	return &conn{
		ws:    ws,
		queue: make(chan []byte, queueSize),
		done:  make(chan struct{}),
	}
}

func (c *conn) Send(env coordinator.Envelope) error {
	frame, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.queue <- frame:
		return nil
	default:
		// a peer that cannot keep up is dropped; the read pump then
		// reports the disconnect
		c.closed = true
		c.once.Do(func() { close(c.done) })
		return ErrQueueFull
	}
}

func (c *conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
	return nil
}

// writePump drains the queue onto the socket until the conn is closed. It
// owns every write to the socket and closes it on exit.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.queue:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.flush()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// flush writes whatever is still queued when the conn closes.
func (c *conn) flush() {
	for {
		select {
		case frame := <-c.queue:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}
