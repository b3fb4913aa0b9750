package httpapi

import (
	"context"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/shiv248/collabd/pkg/logger"
)

// wsConn adapts a single *websocket.Conn to the room.Conn interface.
// Router.Broadcast calls Send from whichever goroutine is driving the
// sender's own connection, so writes are handed off through a buffered
// outbox and flushed by one dedicated goroutine per connection — this is
// the same shape as the teacher's broadcastUpdates/send split, generalized
// from a single shared update channel to one outbox per room.Conn.
type wsConn struct {
	id      string
	conn    *websocket.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	outbox  chan interface{}
	timeout time.Duration
}

func newWSConn(id string, conn *websocket.Conn, outboxSize int, writeTimeout time.Duration) *wsConn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &wsConn{
		id:      id,
		conn:    conn,
		ctx:     ctx,
		cancel:  cancel,
		outbox:  make(chan interface{}, outboxSize),
		timeout: writeTimeout,
	}
	go c.writeLoop()
	return c
}

func (c *wsConn) ID() string { return c.id }

// Send enqueues msg for delivery. A full outbox means this connection's
// reader has stalled; the message is dropped rather than blocking the
// broadcaster that every other subscriber is waiting on.
func (c *wsConn) Send(msg interface{}) {
	select {
	case c.outbox <- msg:
	case <-c.ctx.Done():
	default:
		connLog.WithDoc(c.id).Warn("outbox full, dropping message")
	}
}

func (c *wsConn) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.outbox:
			writeCtx, cancel := context.WithTimeout(c.ctx, c.timeout)
			err := wsjson.Write(writeCtx, c.conn, msg)
			cancel()
			if err != nil {
				connLog.WithDoc(c.id).Warn("write failed, closing connection: %v", err)
				c.cancel()
				return
			}
		}
	}
}

func (c *wsConn) Close() {
	c.cancel()
}

var connLog = logger.For("httpapi.conn")
