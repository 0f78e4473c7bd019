// Package payment talks to the card payment gateway: it creates payment
// intents over HTTP and verifies the signatures the gateway attaches to
// payment results.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fjod/freshmilk/internal/domain"
)

type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// StatusError is a non-2xx gateway reply.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Body)
}

type createIntentRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type createIntentResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// Client creates payment intents. Calls go through a circuit breaker that
// opens after repeated transport or 5xx failures.
type Client struct {
	baseURL   string
	keyID     string
	keySecret string
	http      *http.Client
	cb        *gobreaker.CircuitBreaker[domain.PaymentIntent]
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	settings := gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: isBreakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cb: gobreaker.NewCircuitBreaker[domain.PaymentIntent](settings),
	}
}

// isBreakerSuccess keeps client errors such as a rejected amount from
// tripping the breaker; only the gateway being unreachable or broken counts.
func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode < http.StatusInternalServerError
}

// CreateIntent asks the gateway for a payment intent. The idempotency key
// is sent as the receipt, so retries for one order return the same intent.
func (c *Client) CreateIntent(ctx context.Context, amount int64, currency, idempotencyKey string) (domain.PaymentIntent, error) {
	intent, err := c.cb.Execute(func() (domain.PaymentIntent, error) {
		return c.createIntent(ctx, amount, currency, idempotencyKey)
	})
	if err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("%w: create intent: %v", domain.ErrPaymentGateway, err)
	}
	return intent, nil
}

func (c *Client) createIntent(ctx context.Context, amount int64, currency, receipt string) (domain.PaymentIntent, error) {
	body, err := json.Marshal(createIntentRequest{Amount: amount, Currency: currency, Receipt: receipt})
	if err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.PaymentIntent{}, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var out createIntentResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("decode response: %w", err)
	}
	if out.ID == "" {
		return domain.PaymentIntent{}, errors.New("gateway response has no intent id")
	}
	return domain.PaymentIntent{ID: out.ID, Amount: out.Amount, Currency: out.Currency}, nil
}
