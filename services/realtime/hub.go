package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"stockdash/services/marketdata"
)

const (
	DefaultMaxClients   = 100
	DefaultPollInterval = 5 * time.Second

	writeTimeout    = 10 * time.Second
	pongTimeout     = 60 * time.Second
	pingInterval    = 30 * time.Second
	maxMessageSize  = 1024
	sendBuffer      = 64
	registerTimeout = 5 * time.Second
)

// Collector gathers trades for a set of symbols
type Collector interface {
	Collect(ctx context.Context, symbols []string) ([]Trade, error)
}

// Message is what the hub writes to browser clients
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time string      `json:"time"`
}

type command struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

type client struct {
	conn       *websocket.Conn
	send       chan []byte
	subscribed map[string]bool
	mu         sync.RWMutex
}

func (c *client) symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subscribed))
	for s := range c.subscribed {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (c *client) wants(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscribed[symbol]
}

// HubOptions tunes a Hub. Zero values use the defaults.
type HubOptions struct {
	MaxClients   int
	PollInterval time.Duration
}

// Hub fans out relay trades to WebSocket clients, each filtered to the
// symbols that client subscribed to.
type Hub struct {
	collector    Collector
	maxClients   int
	pollInterval time.Duration

	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

func NewHub(collector Collector, opts HubOptions) *Hub {
	if opts.MaxClients <= 0 {
		opts.MaxClients = DefaultMaxClients
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Hub{
		collector:    collector,
		maxClients:   opts.MaxClients,
		pollInterval: opts.PollInterval,
		clients:      make(map[*client]bool),
		register:     make(chan *client),
		unregister:   make(chan *client),
		done:         make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run serves registrations and polls the collector until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	polling := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			log.Info().Msg("Realtime hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= h.maxClients {
				h.mu.Unlock()
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "Server at capacity"))
				c.conn.Close()
				log.Warn().Int("max_clients", h.maxClients).Msg("WebSocket client rejected")
				continue
			}
			h.clients[c] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Debug().Int("clients", count).Msg("WebSocket client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Debug().Int("clients", count).Msg("WebSocket client disconnected")

		case <-ticker.C:
			// skip the tick while the previous collection is still running
			select {
			case polling <- struct{}{}:
				go func() {
					defer func() { <-polling }()
					h.poll(ctx)
				}()
			default:
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		c.conn.Close()
	}
	h.clients = make(map[*client]bool)
}

// subscriptions is the union of every client's symbols
func (h *Hub) subscriptions() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	set := make(map[string]bool)
	for c := range h.clients {
		for _, s := range c.symbols() {
			set[s] = true
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (h *Hub) poll(ctx context.Context) {
	symbols := h.subscriptions()
	if len(symbols) == 0 {
		return
	}

	trades, err := h.collector.Collect(ctx, symbols)
	if err != nil {
		log.Warn().Err(err).Int("symbols", len(symbols)).Msg("Realtime collection failed")
		return
	}
	h.dispatch(LatestBySymbol(trades))
}

// dispatch sends each client the latest trades for its own symbols. Clients
// whose buffers are full are dropped.
func (h *Hub) dispatch(latest map[string]Trade) {
	if len(latest) == 0 {
		return
	}
	now := time.Now().UTC().Format(time.RFC3339)

	h.mu.Lock()
	defer h.mu.Unlock()

	var slow []*client
	for c := range h.clients {
		prices := make([]Trade, 0)
		for _, s := range c.symbols() {
			if t, ok := latest[s]; ok {
				prices = append(prices, t)
			}
		}
		if len(prices) == 0 {
			continue
		}

		data, err := json.Marshal(Message{Type: "prices", Data: prices, Time: now})
		if err != nil {
			log.Error().Err(err).Msg("Failed to encode prices message")
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}

	for _, c := range slow {
		delete(h.clients, c)
		close(c.send)
		log.Warn().Msg("Dropped slow WebSocket client")
	}
}

// HandleWebSocket upgrades the request and attaches the client to the hub
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.ClientCount() >= h.maxClients {
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		subscribed: make(map[string]bool),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	case <-time.After(registerTimeout):
		// the hub loop is not running
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "Realtime unavailable"))
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump(h)
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(message, &cmd); err != nil {
			continue
		}

		switch cmd.Action {
		case "subscribe":
			c.mu.Lock()
			for _, s := range cmd.Symbols {
				if sym, err := marketdata.NormalizeSymbol(s); err == nil {
					c.subscribed[sym] = true
				}
			}
			c.mu.Unlock()
		case "unsubscribe":
			c.mu.Lock()
			for _, s := range cmd.Symbols {
				if sym, err := marketdata.NormalizeSymbol(s); err == nil {
					delete(c.subscribed, sym)
				}
			}
			c.mu.Unlock()
		default:
			continue
		}
		c.ack(h)
	}
}

// ack confirms the client's current subscriptions
func (c *client) ack(h *Hub) {
	data, err := json.Marshal(Message{
		Type: "subscribed",
		Data: c.symbols(),
		Time: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
