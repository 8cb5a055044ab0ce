// Package realtime streams trade prints from the Finnhub WebSocket to
// browser clients.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"stockdash/services"
)

const DefaultWindow = 3 * time.Second

// Trade is a single trade print
type Trade struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

type finnhubTrade struct {
	Symbol    string  `json:"s"`
	Price     float64 `json:"p"`
	Volume    float64 `json:"v"`
	Timestamp int64   `json:"t"` // unix millis
}

type finnhubMessage struct {
	Type string         `json:"type"`
	Data []finnhubTrade `json:"data"`
	Msg  string         `json:"msg"`
}

type subscribeMessage struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// Relay opens short-lived Finnhub WebSocket sessions. Every Collect call is
// one connection: subscribe, gather for the window, close.
type Relay struct {
	wsURL  string
	token  string
	window time.Duration
	dialer *websocket.Dialer
}

func NewRelay(wsURL, token string, window time.Duration) *Relay {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Relay{
		wsURL:  wsURL,
		token:  token,
		window: window,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Configured reports whether a Finnhub token is set
func (r *Relay) Configured() bool {
	return r.token != ""
}

func (r *Relay) endpoint() (string, error) {
	u, err := url.Parse(r.wsURL)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	q := u.Query()
	q.Set("token", r.token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Collect subscribes to symbols and returns every trade received before the
// window or ctx ends. Finnhub error frames only fail the call when nothing
// was collected.
func (r *Relay) Collect(ctx context.Context, symbols []string) ([]Trade, error) {
	if !r.Configured() {
		return nil, fmt.Errorf("finnhub token not configured: %w", services.ErrProviderUnavailable)
	}
	if len(symbols) == 0 {
		return []Trade{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.window)
	defer cancel()

	endpoint, err := r.endpoint()
	if err != nil {
		return nil, err
	}

	conn, _, err := r.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial finnhub: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		}
	}()

	for _, s := range symbols {
		if err := conn.WriteJSON(subscribeMessage{Type: "subscribe", Symbol: s}); err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", s, err)
		}
	}

	trades := make([]Trade, 0)
	var providerErr error
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if len(trades) > 0 {
				if ctx.Err() == nil {
					log.Warn().Err(err).Int("trades", len(trades)).Msg("Relay read ended early")
				}
				return trades, nil
			}
			if providerErr != nil {
				return nil, providerErr
			}
			if ctx.Err() != nil {
				return trades, nil
			}
			return nil, fmt.Errorf("read finnhub: %w", err)
		}

		var msg finnhubMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "trade":
			for _, t := range msg.Data {
				trades = append(trades, Trade{
					Symbol:    t.Symbol,
					Price:     decimal.NewFromFloat(t.Price),
					Volume:    decimal.NewFromFloat(t.Volume),
					Timestamp: time.UnixMilli(t.Timestamp).UTC(),
				})
			}
		case "error":
			// keep reading until the window ends
			log.Warn().Str("msg", msg.Msg).Msg("Finnhub error frame")
			providerErr = fmt.Errorf("finnhub: %s: %w", msg.Msg, services.ErrProviderUnavailable)
		}
	}
}

// LatestBySymbol keeps the most recent trade per symbol
func LatestBySymbol(trades []Trade) map[string]Trade {
	latest := make(map[string]Trade)
	for _, t := range trades {
		if cur, ok := latest[t.Symbol]; !ok || t.Timestamp.After(cur.Timestamp) {
			latest[t.Symbol] = t
		}
	}
	return latest
}
