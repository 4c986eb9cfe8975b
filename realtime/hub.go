// Package realtime fans registry and draw state out to connected viewer
// clients over websockets. Delivery is best-effort fire-and-forget: a slow or
// dead client is dropped, never waited on, and a failed send to one client
// does not affect delivery to others.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/chat-lottery/backend/telemetry"
)

// FeatureLottery is the subscription key for lottery state pushes.
const FeatureLottery = "lottery"

// inboundFrame is a client→server message: auth handshake, feature
// subscription, or a chat relay request. Unknown types are rejected, not
// duck-typed on field presence.
type inboundFrame struct {
	Type     string `json:"type"`
	Token    string `json:"token,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
	Feature  string `json:"feature,omitempty"`
	Content  string `json:"content,omitempty"`
}

// Client is one connected websocket viewer.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	clientID    string
	connectedAt time.Time

	mu            sync.Mutex
	authed        bool
	userID        string
	username      string
	subscriptions map[string]bool
}

func (c *Client) subscribed(feature string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriptions[feature]
}

func (c *Client) subscribe(feature string) {
	c.mu.Lock()
	c.subscriptions[feature] = true
	c.mu.Unlock()
}

// ChatMessageHandler receives client chat relay requests.
type ChatMessageHandler func(clientID, userID, content string)

type envelope struct {
	feature string
	payload []byte
}

// Hub owns the client set. Add/remove/broadcast are its only operations; no
// external code mutates client state directly.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan envelope
	done       chan struct{}

	mu          sync.RWMutex
	chatHandler ChatMessageHandler

	upgrader websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan envelope, 256),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// SetChatMessageHandler wires the receiver for client chat relay frames.
func (h *Hub) SetChatMessageHandler(fn ChatMessageHandler) {
	h.mu.Lock()
	h.chatHandler = fn
	h.mu.Unlock()
}

func (h *Hub) handler() ChatMessageHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.chatHandler
}

// Run processes registration and broadcast events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				_ = client.conn.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			telemetry.SetRealtimeClients(0)
			// Unblocks pending register/unregister sends from pump
			// goroutines so none of them leak past shutdown.
			close(h.done)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			telemetry.SetRealtimeClients(n)
			slog.Debug("realtime client connected",
				slog.String("client_id", client.clientID),
				slog.Int("total_clients", n),
				slog.String("component", "realtime"))

			hello, _ := json.Marshal(map[string]string{"type": "connected", "clientId": client.clientID})
			select {
			case client.send <- hello:
			default:
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			telemetry.SetRealtimeClients(n)
			slog.Debug("realtime client disconnected",
				slog.String("client_id", client.clientID),
				slog.Int("remaining_clients", n),
				slog.String("component", "realtime"))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				if msg.feature != "" && !client.subscribed(msg.feature) {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					// Buffer full: the client is not keeping up, drop it.
					go func(c *Client) {
						h.drop(c)
					}(client)
				}
			}
			h.mu.RUnlock()

		case <-ticker.C:
			h.mu.RLock()
			for client := range h.clients {
				if err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					go func(c *Client) {
						h.drop(c)
					}(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// drop hands a client back to the Run loop for removal and closes its
// connection. Once Run has exited the send would block forever, so it is
// abandoned instead.
func (h *Hub) drop(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
	_ = c.conn.Close()
}

// Broadcast queues a payload for every open client subscribed to feature.
// The payload carries the full current snapshot, never a diff.
func (h *Hub) Broadcast(feature string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal broadcast payload", slog.Any("err", err), slog.String("component", "realtime"))
		return
	}
	if telemetry.BroadcastsSent != nil {
		telemetry.BroadcastsSent.Inc()
	}
	select {
	case h.broadcast <- envelope{feature: feature, payload: data}:
	default:
		slog.Warn("broadcast channel full, message dropped", slog.String("component", "realtime"))
	}
}

// ClientCount returns the number of currently registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades an HTTP request to a websocket connection and starts the
// client's read/write pumps.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = generateClientID()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", slog.Any("err", err), slog.String("component", "realtime"))
		return
	}

	client := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, 256),
		clientID:      clientID,
		connectedAt:   time.Now(),
		subscriptions: make(map[string]bool),
	}
	if f := r.URL.Query().Get("subscribe"); f != "" {
		client.subscribe(f)
	}

	select {
	case h.register <- client:
	case <-h.done:
		// The hub has shut down; refuse the connection.
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer c.hub.drop(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("websocket read error", slog.Any("err", err), slog.String("component", "realtime"))
			}
			return
		}
		c.handleFrame(message)
	}
}

func (c *Client) handleFrame(raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		slog.Debug("rejecting malformed client frame", slog.String("client_id", c.clientID), slog.String("component", "realtime"))
		return
	}
	switch frame.Type {
	case "auth":
		c.mu.Lock()
		c.authed = frame.Token != ""
		c.userID = frame.UserID
		c.username = frame.Username
		c.mu.Unlock()
	case "subscribe":
		if frame.Feature != "" {
			c.subscribe(frame.Feature)
		}
	case "chat_message":
		if fn := c.hub.handler(); fn != nil && frame.Content != "" {
			c.mu.Lock()
			userID := c.userID
			c.mu.Unlock()
			fn(c.clientID, userID, frame.Content)
		}
	default:
		slog.Debug("rejecting unknown client frame type",
			slog.String("type", frame.Type),
			slog.String("client_id", c.clientID),
			slog.String("component", "realtime"))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func generateClientID() string {
	return fmt.Sprintf("ws-%d-%d", time.Now().UnixNano(), rand.Int63())
}
