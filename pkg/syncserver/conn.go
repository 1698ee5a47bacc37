package syncserver

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

// frame is one outbound message queued on a connection's write pump.
type frame struct {
	messageType int
	data        []byte
}

// Conn wraps a gorilla websocket.Conn and implements room.Conn: all
// writes go through a single write pump goroutine reading from send,
// because gorilla's Conn forbids concurrent writers.
type Conn struct {
	id   string
	ws   *websocket.Conn
	send chan frame
	done chan struct{}
}

// newConn wraps ws, assigning it connID as its room.Conn identity.
func newConn(connID string, ws *websocket.Conn) *Conn {
	return &Conn{
		id:   connID,
		ws:   ws,
		send: make(chan frame, sendBuffer),
		done: make(chan struct{}),
	}
}

// ID returns the connection's origin tag for CRDT transactions.
func (c *Conn) ID() string { return c.id }

// SendText queues a text frame.
func (c *Conn) SendText(data []byte) error {
	return c.enqueue(websocket.TextMessage, data)
}

// SendBinary queues a binary CRDT sync protocol frame.
func (c *Conn) SendBinary(data []byte) error {
	return c.enqueue(websocket.BinaryMessage, data)
}

func (c *Conn) enqueue(messageType int, data []byte) error {
	select {
	case c.send <- frame{messageType: messageType, data: data}:
		return nil
	case <-c.done:
		return websocket.ErrCloseSent
	default:
		// Slow consumer: drop rather than block the sender, matching the
		// CRDT doc's own non-blocking subscriber delivery.
		return nil
	}
}

// Close sends a WebSocket close frame with code/reason and tears down
// the connection's pumps.
func (c *Conn) Close(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.stop()
	return c.ws.Close()
}

func (c *Conn) stop() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// writePump drains send and pings the peer until the connection closes.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.ws.Close()

	for {
		select {
		case f, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(f.messageType, f.data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
