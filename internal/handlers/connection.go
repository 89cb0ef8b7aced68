package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Akash16-Sharma/Conversa/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxFrameSize   = 16 << 10
	sendBufferSize = 64
)

var errConnectionClosed = errors.New("connection closed")

// connection serializes outbound frames through one writer goroutine. A
// client that stops reading is disconnected once its buffer fills up.
type connection struct {
	ws   *websocket.Conn
	log  *slog.Logger
	send chan []byte

	once   sync.Once
	closed chan struct{}
	done   chan struct{}
}

func newConnection(ws *websocket.Conn, log *slog.Logger) *connection {
	c := &connection{
		ws:     ws,
		log:    log,
		send:   make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.writeLoop()
	return c
}

type outboundFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func (c *connection) sendJSON(frameType string, data any) error {
	payload, err := json.Marshal(outboundFrame{Type: frameType, Data: data})
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return errConnectionClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.log.Warn("closing slow websocket client")
		c.close(websocket.ClosePolicyViolation, "send buffer full")
		return errConnectionClosed
	}
}

// close stops the writer and closes the socket. Frames already queued are
// dropped.
func (c *connection) close(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		<-c.done
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

func (c *connection) writeLoop() {
	defer close(c.done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case payload := <-c.send:
			if err := c.write(websocket.TextMessage, payload); err != nil {
				c.log.Debug("websocket write failed", logging.Err(err))
				_ = c.ws.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				_ = c.ws.Close()
				return
			}
		}
	}
}

func (c *connection) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
