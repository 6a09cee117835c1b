package gunnery

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gunlayer/broker/internal/input"
	"gunlayer/broker/internal/lead"
	"gunlayer/broker/internal/logging"
	"gunlayer/broker/internal/physics"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultMaxPayload   = 1 << 16
	sendBuffer          = 256
	writeWait           = 10 * time.Second
)

// Command is an inbound websocket message.
type Command struct {
	Type string `json:"type"`

	// Seq orders a session's commands; SentAtMs is the client's send time in Unix milliseconds.
	Seq      uint64                  `json:"seq,omitempty"`
	SentAtMs int64                   `json:"sent_at_ms,omitempty"`
	Target   *physics.KinematicState `json:"target,omitempty"`
	Shooter  *physics.KinematicState `json:"shooter,omitempty"`

	// Model switches the station between "velocity" and "acceleration" extrapolation
	// for this and later solves.
	Model string `json:"model,omitempty"`
}

type client struct {
	conn    *websocket.Conn
	send    chan []byte
	id      string
	session string
}

// Authenticator resolves the operator behind an upgrade request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// HubOption customises a Hub.
type HubOption func(*Hub)

// WithAllowedOrigins restricts upgrades to the listed origins. An empty list accepts any origin.
func WithAllowedOrigins(origins []string) HubOption {
	return func(h *Hub) {
		h.origins = make(map[string]struct{}, len(origins))
		for _, origin := range origins {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				h.origins[trimmed] = struct{}{}
			}
		}
	}
}

// WithPingInterval sets the keepalive cadence.
func WithPingInterval(interval time.Duration) HubOption {
	return func(h *Hub) {
		if interval > 0 {
			h.pingInterval = interval
		}
	}
}

// WithMaxPayload caps inbound message size in bytes.
func WithMaxPayload(limit int64) HubOption {
	return func(h *Hub) {
		if limit > 0 {
			h.maxPayload = limit
		}
	}
}

// WithAuthenticator demands a verified operator on every upgrade.
func WithAuthenticator(auth Authenticator) HubOption {
	return func(h *Hub) { h.auth = auth }
}

// WithCommandGate drops out-of-order, stale or flooding commands before they reach the station.
func WithCommandGate(gate *input.Gate) HubOption {
	return func(h *Hub) { h.gate = gate }
}

// WithHubLogger routes hub diagnostics to logger.
func WithHubLogger(logger *logging.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// Hub relays station events to websocket clients and turns their commands into station calls.
type Hub struct {
	station      *Station
	upgrader     websocket.Upgrader
	origins      map[string]struct{}
	pingInterval time.Duration
	maxPayload   int64
	auth         Authenticator
	gate         *input.Gate
	logger       *logging.Logger

	clients     map[*client]bool
	lock        sync.Mutex
	unsubscribe func()
}

// NewHub attaches a hub to station's event stream.
func NewHub(station *Station, opts ...HubOption) *Hub {
	h := &Hub{
		station:      station,
		pingInterval: defaultPingInterval,
		maxPayload:   defaultMaxPayload,
		clients:      make(map[*client]bool),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	h.unsubscribe = station.Subscribe(func(event Event) {
		payload, err := json.Marshal(event)
		if err != nil {
			return
		}
		h.broadcast(payload)
	})
	return h
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

// Close detaches from the station and drops every client.
func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.unsubscribe()
	h.lock.Lock()
	defer h.lock.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.origins) == 0 {
		return true
	}
	_, ok := h.origins[r.Header.Get("Origin")]
	return ok
}

func (h *Hub) broadcast(msg []byte) {
	h.lock.Lock()
	defer h.lock.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			close(c.send)
			delete(h.clients, c)
		}
	}
}

// reply queues msg for a single client unless it already left.
func (h *Hub) reply(c *client, msg []byte) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// ServeHTTP upgrades the request and runs the client's read and write pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, session := r.RemoteAddr, r.RemoteAddr
	if h.auth != nil {
		operator, err := h.auth.Authenticate(r)
		if err != nil {
			h.log().Warn("gunnery client rejected", logging.String("remote", r.RemoteAddr), logging.Error(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		id, session = operator, operator+"@"+r.RemoteAddr
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log().Warn("websocket upgrade failed", logging.String("remote", r.RemoteAddr), logging.Error(err))
		return
	}
	conn.SetReadLimit(h.maxPayload)
	c := &client{conn: conn, send: make(chan []byte, sendBuffer), id: id, session: session}
	h.lock.Lock()
	h.clients[c] = true
	h.lock.Unlock()
	h.log().Info("gunnery client connected", logging.String("client", c.id))

	go h.readPump(c)
	go h.writePump(c)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.lock.Lock()
		if h.clients[c] {
			close(c.send)
			delete(h.clients, c)
		}
		h.lock.Unlock()
		h.gate.Forget(c.session)
		c.conn.Close()
	}()
	//1.- Pongs extend the deadline so dead peers are dropped after two missed pings.
	deadline := 2 * h.pingInterval
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log().Debug("websocket read failed", logging.String("client", c.id), logging.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
		h.handle(c, msg)
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
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

func (h *Hub) handle(c *client, msg []byte) {
	var cmd Command
	if err := json.Unmarshal(msg, &cmd); err != nil {
		h.replyError(c, "malformed command: "+err.Error())
		return
	}
	kind := strings.ToLower(strings.TrimSpace(cmd.Type))
	frame := input.Frame{Session: c.session, Seq: cmd.Seq, Release: kind == "hold"}
	if cmd.SentAtMs > 0 {
		frame.SentAt = time.UnixMilli(cmd.SentAtMs)
	}
	if decision := h.gate.Evaluate(frame); !decision.Accepted {
		h.replyError(c, "command dropped: "+decision.Reason.String())
		return
	}
	//1.- Kinematic and model updates ride along with any command.
	if model := strings.TrimSpace(cmd.Model); model != "" {
		h.station.SetModel(lead.ParseModel(strings.ToLower(model)))
	}
	if cmd.Shooter != nil {
		h.station.SetMotion(*cmd.Shooter)
	}
	if cmd.Target != nil {
		h.station.Track(*cmd.Target)
	}
	switch kind {
	case "track":
	case "solve":
		//2.- Solutions are broadcast through the station subscription.
		if _, err := h.station.Solve(); err != nil {
			h.replyError(c, err.Error())
		}
	case "fire":
		// Engage broadcasts its own error event.
		_, _ = h.station.Engage(context.Background())
	case "hold":
		h.station.Hold()
	default:
		h.replyError(c, "unknown command type "+cmd.Type)
	}
}

func (h *Hub) replyError(c *client, message string) {
	payload, err := json.Marshal(Event{Type: EventError, Mount: h.station.ID(), Error: message})
	if err != nil {
		return
	}
	h.reply(c, payload)
}

func (h *Hub) log() *logging.Logger {
	if h.logger == nil {
		return logging.L()
	}
	return h.logger
}
