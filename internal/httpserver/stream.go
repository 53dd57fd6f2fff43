package httpserver

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tinytelemetry/sflogs/internal/logging"
	"github.com/tinytelemetry/sflogs/internal/metrics"
	"github.com/tinytelemetry/sflogs/internal/model"
	"github.com/tinytelemetry/sflogs/internal/purge"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// Outbound stream messages.
const (
	MessageTypeUpdateData = "updateData"
	MessageTypeError      = "error"
	MessageTypeProgress   = "progress"
	MessageTypeLogBody    = "logBody"
)

type updateMessage struct {
	Type          string          `json:"type"`
	Data          []model.GridRow `json:"data"`
	IsAutoRefresh bool            `json:"isAutoRefresh"`
}

func newUpdateMessage(rows []model.GridRow, isAuto bool) updateMessage {
	if rows == nil {
		rows = []model.GridRow{}
	}
	return updateMessage{Type: MessageTypeUpdateData, Data: rows, IsAutoRefresh: isAuto}
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newErrorMessage(err error) errorMessage {
	return errorMessage{Type: MessageTypeError, Message: err.Error()}
}

type progressMessage struct {
	Type string         `json:"type"`
	Data purge.Progress `json:"data"`
}

func newProgressMessage(p purge.Progress) progressMessage {
	return progressMessage{Type: MessageTypeProgress, Data: p}
}

type logBodyMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Data string `json:"data"`
}

// streamCommand is an inbound message from a stream client.
type streamCommand struct {
	Command string `json:"command"`
	Text    string `json:"text"`
	ID      string `json:"id"`
	Log     struct {
		ID string `json:"id"`
	} `json:"log"`
}

// Hub fans JSON messages out to every connected stream client.
type Hub struct {
	register   chan *streamClient
	unregister chan *streamClient
	broadcast  chan []byte
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*streamClient]struct{}
}

// NewHub creates an idle hub. Run must be started before clients connect.
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *streamClient),
		unregister: make(chan *streamClient),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		clients:    make(map[*streamClient]struct{}),
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			n := len(h.clients)
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			metrics.StreamClients.Set(0)
			logging.Debug().Int("clients_closed", n).Msg("httpserver: stream hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.StreamClients.Set(float64(n))
			logging.Debug().Int("total_clients", n).Msg("httpserver: stream client connected")

		case c := <-h.unregister:
			h.remove(c)

		case msg := <-h.broadcast:
			h.mu.Lock()
			var slow []*streamClient
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()
			for _, c := range slow {
				h.remove(c)
			}
		}
	}
}

func (h *Hub) remove(c *streamClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.StreamClients.Set(float64(n))
}

// Broadcast queues v for every client. Messages are dropped when the hub
// is backed up.
func (h *Hub) Broadcast(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("httpserver: marshal stream message")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		logging.Warn().Msg("httpserver: stream broadcast queue full, dropping message")
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var clientIDs atomic.Uint64

type streamClient struct {
	id     uint64
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	handle func(*streamClient, streamCommand)
}

// reply queues a message for this client only.
func (c *streamClient) reply(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	// The hub closes send under the write lock after removing the client.
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *streamClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug().Err(err).Uint64("client", c.id).Msg("httpserver: stream read error")
			}
			return
		}
		var cmd streamCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.reply(errorMessage{Type: MessageTypeError, Message: "invalid message"})
			continue
		}
		c.handle(c, cmd)
	}
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:   1024,
	WriteBufferSize:  4096,
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin:      checkOrigin,
}

// checkOrigin admits non-browser clients, loopback pages and editor webviews.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.HasSuffix(u.Scheme, "-webview") {
		return true
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	logging.Warn().Str("origin", origin).Msg("httpserver: stream origin rejected")
	return false
}

func (s *Server) handleStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := &streamClient{
		id:     clientIDs.Add(1),
		hub:    s.hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		handle: s.handleStreamCommand,
	}
	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		_ = conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

func (s *Server) handleStreamCommand(c *streamClient, cmd streamCommand) {
	switch cmd.Command {
	case "ready":
		c.reply(newUpdateMessage(s.engine.GridData(), false))
	case "refresh":
		// The result arrives as a broadcast update or error.
		go func() { _ = s.engine.Refresh(s.ctx, false, true) }()
	case "search":
		s.engine.SetSearchFilter(cmd.Text)
	case "clearSearch":
		s.engine.ClearSearch()
	case "openLog":
		id := cmd.ID
		if id == "" {
			id = cmd.Log.ID
		}
		if s.bodies == nil || id == "" {
			c.reply(errorMessage{Type: MessageTypeError, Message: "openLog: log id required"})
			return
		}
		go func() {
			body, err := s.bodies.Body(s.ctx, id)
			if err != nil {
				c.reply(newErrorMessage(err))
				return
			}
			c.reply(logBodyMessage{Type: MessageTypeLogBody, ID: id, Data: body})
		}()
	default:
		c.reply(errorMessage{Type: MessageTypeError, Message: "unknown command: " + cmd.Command})
	}
}
