package marketdata

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/shadowgate/internal/domain"
)

const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
	readTimeout   = 60 * time.Second
)

// stream mantiene la conexión websocket con reconexión automática y convierte
// los mensajes del exchange en PriceTicks.
type stream struct {
	url     string
	symbols []string
}

func newStream(url string, symbols []string) *stream {
	return &stream{url: url, symbols: symbols}
}

// subscribeMsg es el mensaje de suscripción del protocolo del feed.
type subscribeMsg struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// tickMsg es un tick entrante.
type tickMsg struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	TsMs   int64   `json:"ts"`
}

// run opens the connection loop and returns the tick channel. Reconnects
// with capped exponential backoff; the channel closes only when ctx ends.
func (s *stream) run(ctx context.Context) (<-chan domain.PriceTick, error) {
	out := make(chan domain.PriceTick, 256)
	go func() {
		defer close(out)
		backoff := reconnectBase
		for {
			if ctx.Err() != nil {
				return
			}
			err := s.consume(ctx, out)
			if ctx.Err() != nil {
				return
			}
			slog.Warn("marketdata stream disconnected, reconnecting", "err", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > reconnectMax {
				backoff = reconnectMax
			}
		}
	}()
	return out, nil
}

// consume dials, subscribes and pumps ticks until the connection drops.
func (s *stream) consume(ctx context.Context, out chan<- domain.PriceTick) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Cierra la conexión cuando el contexto termina para desbloquear ReadMessage.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := conn.WriteJSON(subscribeMsg{Op: "subscribe", Symbols: s.symbols}); err != nil {
		return err
	}
	slog.Info("marketdata stream connected", "url", s.url, "symbols", len(s.symbols))

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return err
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg tickMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Debug("marketdata: ignoring malformed message", "err", err)
			continue
		}
		if msg.Symbol == "" || msg.Price <= 0 {
			continue
		}
		at := time.UnixMilli(msg.TsMs).UTC()
		if msg.TsMs == 0 {
			at = time.Now().UTC()
		}
		tick := domain.PriceTick{Symbol: msg.Symbol, Price: msg.Price, ObservedAt: at}
		select {
		case out <- tick:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
