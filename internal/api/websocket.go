package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-attendance/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-attendance/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-attendance/internal/session"
)

// Message types exchanged with the panel.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypeSnapshot    = "snapshot"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256

	// EventSessionStateChanged carries a session.State on every transition.
	// New connections are subscribed to it by default.
	EventSessionStateChanged = "session.state_changed"
)

// knownChannels lists the event channels a client may subscribe to.
var knownChannels = map[string]struct{}{
	EventSessionStateChanged: {},
}

// WSMessage is the envelope for every frame in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe requests.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// encodeMessage stamps and marshals an outbound frame.
func encodeMessage(msg WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return json.Marshal(msg)
}

// Hub fans session state out to connected panels.
// It implements session.Observer.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient is one connected panel.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	snapshot      func() session.State
	subscriptions map[string]struct{}
	mu            sync.RWMutex
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// The API binds to the kiosk's loopback address by default
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("panel connected", "clients", count)
}

// Unregister removes a client. Only the caller that actually removed it
// closes the send channel, so closeAll and readPump cannot double-close.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	count := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("panel disconnected", "clients", count)
}

// Broadcast queues an event for every client subscribed to channel.
// Clients are snapshotted under the hub lock and sent to after releasing it.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := encodeMessage(WSMessage{Type: WSTypeEvent, EventType: channel, Payload: payload})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if client.isSubscribed(channel) {
			client.trySend(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects every client and closes its send channel so the
// write pumps exit.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// SessionChanged implements session.Observer. It never blocks: a panel
// whose buffer is full misses the event and catches up on the next one.
func (h *Hub) SessionChanged(state session.State) {
	h.Broadcast(EventSessionStateChanged, state)
}

// handleWebSocket upgrades the connection and sends the current session
// snapshot as the first event, so a freshly loaded panel renders at once.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeUnavailable(w, "websocket hub not running")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		snapshot:      s.session.State,
		subscriptions: map[string]struct{}{EventSessionStateChanged: {}},
	}

	s.hub.Register(client)
	client.sendEvent(EventSessionStateChanged, client.snapshot())

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads client frames until the connection fails or closes.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	deadline := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Kiosk browsers do not always answer protocol pings; any frame counts.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(deadline))
		c.handleMessage(message)
	}
}

// writePump drains the send channel and pings the panel on an interval.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		var (
			kind int
			data []byte
		)
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close frame
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			kind, data = websocket.TextMessage, message
		case <-ticker.C:
			kind = websocket.PingMessage
		}

		//nolint:errcheck // Best-effort deadline; write error caught below
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(kind, data); err != nil {
			return
		}
	}
}

// handleMessage dispatches one client frame.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.handleSubscription(msg)
	case WSTypeSnapshot:
		if c.snapshot == nil {
			c.sendError(msg.ID, "session snapshot unavailable")
			return
		}
		c.reply(msg.ID, WSTypeResponse, c.snapshot())
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleSubscription applies a subscribe or unsubscribe request. Unknown
// channels are reported back as rejected and never stored.
func (c *WSClient) handleSubscription(msg WSMessage) {
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid payload")
		return
	}
	var sub WSSubscribePayload
	if err := json.Unmarshal(raw, &sub); err != nil {
		c.sendError(msg.ID, "invalid "+msg.Type+" payload")
		return
	}

	applied := make([]string, 0, len(sub.Channels))
	rejected := make([]string, 0)

	c.mu.Lock()
	for _, ch := range sub.Channels {
		if _, ok := knownChannels[ch]; !ok {
			rejected = append(rejected, ch)
			continue
		}
		if msg.Type == WSTypeSubscribe {
			c.subscriptions[ch] = struct{}{}
		} else {
			delete(c.subscriptions, ch)
		}
		applied = append(applied, ch)
	}
	c.mu.Unlock()

	key := "subscribed"
	if msg.Type == WSTypeUnsubscribe {
		key = "unsubscribed"
	}
	c.reply(msg.ID, WSTypeResponse, map[string]any{
		key:        applied,
		"rejected": rejected,
	})
}

// trySend queues data without blocking. A full buffer drops the frame and
// a send on a channel closed during shutdown is absorbed.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// reply answers a client request, echoing its ID.
func (c *WSClient) reply(id, msgType string, payload any) {
	if data, err := encodeMessage(WSMessage{Type: msgType, ID: id, Payload: payload}); err == nil {
		c.trySend(data)
	}
}

// sendEvent sends one event to this client only.
func (c *WSClient) sendEvent(eventType string, payload any) {
	if data, err := encodeMessage(WSMessage{Type: WSTypeEvent, EventType: eventType, Payload: payload}); err == nil {
		c.trySend(data)
	}
}

func (c *WSClient) sendError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
