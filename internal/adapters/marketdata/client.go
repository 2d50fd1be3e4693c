// Package marketdata implementa ports.PriceProvider contra un feed de
// exchange: snapshots puntuales vía REST y el stream de ticks vía websocket.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/shadowgate/internal/domain"
)

const (
	// Rate limit al 60% del límite documentado del endpoint de ticker
	// (100/10s → 60/10s → 6/s).
	tickerRatePerSec = 6

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Config holds the feed endpoints and the symbols to stream.
type Config struct {
	BaseURL   string
	StreamURL string
	Symbols   []string
}

// Client es el cliente HTTP del feed con rate limiting, retries y circuit
// breaker. El breaker corta las llamadas REST cuando el exchange encadena
// fallos; el stream websocket reconecta por su cuenta.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewClient crea un Client para los endpoints dados.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(tickerRatePerSec, 3),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "marketdata",
			Interval: time.Minute,
			Timeout:  30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("marketdata breaker state change", "from", from.String(), "to", to.String())
			},
		}),
	}
}

// tickerResponse es el payload del endpoint /v1/ticker.
type tickerResponse struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	TsMs   int64   `json:"ts"`
}

// Snapshot fetches the current market state for a symbol. The returned
// snapshot carries its own capture timestamp so staleness checks downstream
// do not depend on local clocks alone.
func (c *Client) Snapshot(ctx context.Context, symbol string) (domain.MarketSnapshot, error) {
	res, err := c.breaker.Execute(func() (any, error) {
		var tr tickerResponse
		u := fmt.Sprintf("%s/v1/ticker?symbol=%s", c.cfg.BaseURL, url.QueryEscape(symbol))
		if err := c.get(ctx, u, &tr); err != nil {
			return nil, err
		}
		return tr, nil
	})
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("marketdata: snapshot %s: %w", symbol, err)
	}

	tr := res.(tickerResponse)
	if tr.Price <= 0 {
		return domain.MarketSnapshot{}, fmt.Errorf("marketdata: snapshot %s: non-positive price %v", symbol, tr.Price)
	}
	spread := tr.Ask - tr.Bid
	snap := domain.MarketSnapshot{
		Price:      tr.Price,
		Spread:     spread,
		CapturedAt: time.UnixMilli(tr.TsMs).UTC(),
	}
	if mid := (tr.Ask + tr.Bid) / 2; mid > 0 {
		snap.SpreadBps = spread / mid * 10_000
	}
	if tr.TsMs == 0 {
		snap.CapturedAt = time.Now().UTC()
	}
	return snap, nil
}

// Ticks abre el stream websocket y devuelve el canal de ticks. El canal se
// cierra cuando el contexto termina.
func (c *Client) Ticks(ctx context.Context) (<-chan domain.PriceTick, error) {
	s := newStream(c.cfg.StreamURL, c.cfg.Symbols)
	return s.run(ctx)
}

// get hace un GET con rate limiting y retries.
func (c *Client) get(ctx context.Context, rawURL string, out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("status %d after %d retries", resp.StatusCode, maxRetries)
			}
			slog.Warn("marketdata retrying", "status", resp.StatusCode, "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
