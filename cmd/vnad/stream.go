package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-vna/logger"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
	// streamQueueSize is the number of frames buffered for a slow subscriber before
	// frames are dropped.
	streamQueueSize = 8
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 << 10,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamHello is the first message of every stream session.
type streamHello struct {
	Session string `json:"session"`
}

type streamClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func (c *streamClient) shutdown() {
	c.once.Do(func() { close(c.done) })
}

// streamHub fans sweep frames out to websocket subscribers.
type streamHub struct {
	logger  logger.Logger
	metrics *daemonMetrics
	clients *xsync.MapOf[string, *streamClient]
}

func newStreamHub(l logger.Logger, m *daemonMetrics) *streamHub {
	return &streamHub{
		logger:  l,
		metrics: m,
		clients: xsync.NewMapOf[string, *streamClient](),
	}
}

// Len returns the number of connected subscribers.
func (h *streamHub) Len() int { return h.clients.Size() }

func (h *streamHub) broadcast(frame *sweepFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("failed to encode sweep frame", "error", err)
		return
	}

	h.clients.Range(func(id string, c *streamClient) bool {
		select {
		case c.send <- data:
			h.metrics.streamFrames.Inc()
		default:
			h.metrics.streamDropped.Inc()
			h.logger.Debug("stream subscriber too slow, frame dropped", "session", id, "seq", frame.Seq)
		}
		return true
	})
}

func (h *streamHub) closeAll() {
	h.clients.Range(func(_ string, c *streamClient) bool {
		c.shutdown()
		return true
	})
}

// serveStream upgrades the request and streams frames until the peer goes away.
func (h *streamHub) serveStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade stream connection", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &streamClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, streamQueueSize),
		done: make(chan struct{}),
	}

	hello, _ := json.Marshal(streamHello{Session: c.id})
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		_ = conn.Close()
		return
	}

	h.clients.Store(c.id, c)
	h.metrics.streamSessions.Inc()
	h.logger.Info("stream session opened", "session", c.id, "remote", r.RemoteAddr)

	go h.readLoop(c)
	h.writeLoop(c)

	h.clients.Delete(c.id)
	h.metrics.streamSessions.Dec()
	_ = conn.Close()
	h.logger.Info("stream session closed", "session", c.id)
}

// readLoop discards client messages and handles pongs and close frames.
func (h *streamHub) readLoop(c *streamClient) {
	defer c.shutdown()

	_ = c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *streamHub) writeLoop(c *streamClient) {
	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("stream write failed", "session", c.id, "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
