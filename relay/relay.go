// Package relay notifies participants through the best available channel: a
// realtime websocket relay when connected, falling back to the platform's
// direct messaging HTTP endpoint per message. Connection handling is an
// explicit finite-state machine with a bounded reconnect counter, testable
// against a fake transport.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/chat-lottery/backend/telemetry"
)

// State is the relay connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// ErrRelayUnavailable is surfaced after the reconnect budget is exhausted.
// The relay stays unavailable until Start is called again explicitly.
var ErrRelayUnavailable = errors.New("relay unavailable")

const maxReconnectAttempts = 5

// Conn is one established relay connection.
type Conn interface {
	WriteJSON(v interface{}) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer establishes relay connections. Production uses WebsocketDialer;
// tests inject a fake transport.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials the relay over a websocket.
type WebsocketDialer struct{}

func (WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Options configure a relay instance.
type Options struct {
	URL            string
	AuthToken      string
	UserID         string
	Username       string
	ReconnectDelay time.Duration
	Dialer         Dialer
	Fallback       *FallbackSender
}

// Relay owns its connection state and reconnect counter; no other component
// mutates them directly.
type Relay struct {
	url            string
	authToken      string
	userID         string
	username       string
	reconnectDelay time.Duration
	dialer         Dialer
	fallback       *FallbackSender

	mu          sync.Mutex
	state       State
	conn        Conn
	reconnects  int
	unavailable bool
	stopped     bool
	templates   map[Kind]string
	timer       *time.Timer
	generation  int
}

func New(opts Options) *Relay {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 3 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	templates := make(map[Kind]string, len(defaultTemplates))
	for k, v := range defaultTemplates {
		templates[k] = v
	}
	return &Relay{
		url:            opts.URL,
		authToken:      opts.AuthToken,
		userID:         opts.UserID,
		username:       opts.Username,
		reconnectDelay: opts.ReconnectDelay,
		dialer:         opts.Dialer,
		fallback:       opts.Fallback,
		state:          StateDisconnected,
		templates:      templates,
	}
}

// State reports the current connection state.
func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Unavailable reports whether the reconnect budget has been exhausted.
func (r *Relay) Unavailable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unavailable
}

// Start resets the reconnect budget and attempts a connection. Call again
// after ErrRelayUnavailable to resume; the relay never auto-resumes.
func (r *Relay) Start(ctx context.Context) {
	r.mu.Lock()
	r.reconnects = 0
	r.unavailable = false
	r.stopped = false
	r.generation++
	gen := r.generation
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()
	r.connect(ctx, gen)
}

// Stop closes the connection and cancels any pending reconnect.
func (r *Relay) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.generation++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	conn := r.conn
	r.conn = nil
	r.state = StateDisconnected
	r.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// connect performs one connection attempt for a given Start generation.
// Attempts belonging to a superseded generation are abandoned.
func (r *Relay) connect(ctx context.Context, gen int) {
	r.mu.Lock()
	if r.stopped || r.unavailable || r.generation != gen {
		r.mu.Unlock()
		return
	}
	r.state = StateConnecting
	r.mu.Unlock()

	conn, err := r.dialer.Dial(ctx, r.url)
	if err != nil {
		slog.Warn("relay dial failed", slog.Any("err", err), slog.String("component", "relay"))
		r.mu.Lock()
		r.state = StateDisconnected
		r.mu.Unlock()
		r.scheduleReconnect(ctx, gen)
		return
	}

	// Authentication handshake goes out immediately on connect.
	handshake := map[string]string{
		"type":     "auth",
		"token":    r.authToken,
		"userId":   r.userID,
		"username": r.username,
	}
	if err := conn.WriteJSON(handshake); err != nil {
		slog.Warn("relay handshake failed", slog.Any("err", err), slog.String("component", "relay"))
		_ = conn.Close()
		r.mu.Lock()
		r.state = StateDisconnected
		r.mu.Unlock()
		r.scheduleReconnect(ctx, gen)
		return
	}

	r.mu.Lock()
	if r.stopped || r.generation != gen {
		r.mu.Unlock()
		_ = conn.Close()
		return
	}
	r.conn = conn
	r.state = StateConnected
	r.reconnects = 0
	r.mu.Unlock()
	slog.Info("relay connected", slog.String("component", "relay"))

	go r.readLoop(ctx, conn, gen)
}

// readLoop blocks on the connection to detect unexpected closure.
func (r *Relay) readLoop(ctx context.Context, conn Conn, gen int) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	_ = conn.Close()

	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
		r.state = StateDisconnected
	}
	stopped := r.stopped
	stale := r.generation != gen
	r.mu.Unlock()
	if stopped || stale || ctx.Err() != nil {
		return
	}
	slog.Warn("relay connection closed unexpectedly", slog.String("component", "relay"))
	r.scheduleReconnect(ctx, gen)
}

// scheduleReconnect arms the reconnect timer, incrementing the attempt
// counter. After maxReconnectAttempts consecutive failures the relay stops
// retrying and surfaces the unavailable state until Start is called again.
func (r *Relay) scheduleReconnect(ctx context.Context, gen int) {
	r.mu.Lock()
	if r.stopped || r.unavailable || r.generation != gen {
		r.mu.Unlock()
		return
	}
	if r.reconnects >= maxReconnectAttempts {
		r.unavailable = true
		r.state = StateDisconnected
		r.mu.Unlock()
		slog.Error("relay unavailable: reconnect attempts exhausted",
			slog.Int("attempts", maxReconnectAttempts),
			slog.String("component", "relay"))
		return
	}
	r.reconnects++
	attempt := r.reconnects
	if telemetry.RelayReconnects != nil {
		telemetry.RelayReconnects.Inc()
	}
	r.timer = time.AfterFunc(r.reconnectDelay, func() { r.connect(ctx, gen) })
	r.mu.Unlock()
	slog.Info("relay reconnect scheduled",
		slog.Int("attempt", attempt),
		slog.Duration("delay", r.reconnectDelay),
		slog.String("component", "relay"))
}

// Send delivers one notification: over the realtime relay when connected,
// otherwise over the direct-message fallback for the given recipient. With no
// fallback credential the send fails and is reported, not retried.
func (r *Relay) Send(ctx context.Context, recipientID string, kind Kind, vars Vars) error {
	content := r.Render(kind, vars)

	r.mu.Lock()
	conn := r.conn
	connected := r.state == StateConnected && conn != nil
	unavailable := r.unavailable
	r.mu.Unlock()

	if connected {
		err := conn.WriteJSON(map[string]string{
			"type":    "chat_message",
			"content": content,
		})
		if err == nil {
			return nil
		}
		slog.Warn("relay send failed, trying fallback", slog.Any("err", err), slog.String("component", "relay"))
	}

	if r.fallback == nil {
		if unavailable {
			return fmt.Errorf("%w: %v", ErrRelayUnavailable, ErrNoCredential)
		}
		return ErrNoCredential
	}
	if err := r.fallback.Send(ctx, recipientID, content); err != nil {
		return fmt.Errorf("fallback send: %w", err)
	}
	if telemetry.RelayFallbackSends != nil {
		telemetry.RelayFallbackSends.Inc()
	}
	return nil
}
