package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fjod/freshmilk/internal/domain"
	"github.com/fjod/freshmilk/internal/payment"
)

type Config struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	// WebhookURL receives settled intents; empty disables delivery.
	WebhookURL string
}

type Server struct {
	store   *Store
	cfg     Config
	outcome OutcomePicker
	client  *http.Client
}

func NewServer(store *Store, cfg Config, outcome OutcomePicker) *Server {
	return &Server{
		store:   store,
		cfg:     cfg,
		outcome: outcome,
		client: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type createIntentRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type payRequest struct {
	Outcome domain.PaymentOutcome `json:"outcome,omitempty"`
}

type payResponse struct {
	IntentID         string       `json:"intent_id"`
	PaymentID        string       `json:"payment_id"`
	Status           IntentStatus `json:"status"`
	Signature        string       `json:"signature,omitempty"`
	WebhookDelivered bool         `json:"webhook_delivered"`
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/v1/orders", func(r chi.Router) {
		r.With(s.basicAuth).Post("/", s.createIntent)
		r.Get("/{id}", s.getIntent)
		r.Post("/{id}/pay", s.pay)
	})
	return r
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, secret, ok := r.BasicAuth()
		if !ok || id != s.cfg.KeyID || secret != s.cfg.KeySecret {
			respondJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid api key", Code: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) createIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Code: "invalid_request"})
		return
	}
	if req.Amount <= 0 || req.Receipt == "" || req.Currency == "" {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "amount, currency and receipt are required", Code: "invalid_request"})
		return
	}

	in, err := s.store.CreateIntent(r.Context(), req.Receipt, req.Amount, strings.ToUpper(req.Currency))
	if err != nil {
		slog.ErrorContext(r.Context(), "create intent failed", "receipt", req.Receipt, "error", err)
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "internal_error"})
		return
	}
	respondJSON(w, http.StatusOK, in)
}

func (s *Server) getIntent(w http.ResponseWriter, r *http.Request) {
	in, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, in)
}

// pay settles an intent the way a customer completing checkout would and
// notifies the shop through the webhook.
func (s *Server) pay(w http.ResponseWriter, r *http.Request) {
	var req payRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Code: "invalid_request"})
			return
		}
	}

	var (
		outcome domain.PaymentOutcome
		reason  string
	)
	switch req.Outcome {
	case "":
		outcome, reason = s.outcome.Pick()
	case domain.PaymentOutcomeSuccess, domain.PaymentOutcomeFailure:
		outcome, reason = FixedOutcome(req.Outcome).Pick()
	default:
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "outcome must be success or failure", Code: "invalid_request"})
		return
	}

	status, paymentID := IntentFailed, ""
	if outcome == domain.PaymentOutcomeSuccess {
		status, paymentID = IntentPaid, "pay_"+strings.ReplaceAll(uuid.NewString(), "-", "")[:14]
	}

	in, err := s.store.Settle(r.Context(), chi.URLParam(r, "id"), status, paymentID)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	slog.InfoContext(r.Context(), "intent settled", "intent_id", in.ID, "status", in.Status)

	resp := payResponse{IntentID: in.ID, PaymentID: in.PaymentID, Status: in.Status}
	if in.Status == IntentPaid {
		resp.Signature = payment.PaymentSignature(s.cfg.KeySecret, in.ID, in.PaymentID)
	}
	if s.cfg.WebhookURL != "" {
		ev := payment.WebhookEvent{Event: payment.EventPaymentCaptured, IntentID: in.ID, PaymentID: in.PaymentID}
		if in.Status == IntentFailed {
			ev.Event, ev.Reason = payment.EventPaymentFailed, reason
		}
		if err := s.deliverWebhook(r.Context(), ev); err != nil {
			slog.WarnContext(r.Context(), "webhook delivery failed", "intent_id", in.ID, "error", err)
		} else {
			resp.WebhookDelivered = true
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) deliverWebhook(ctx context.Context, ev payment.WebhookEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", payment.Sign(s.cfg.WebhookSecret, body))

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook answered %d", resp.StatusCode)
	}
	return nil
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrIntentNotFound):
		respondJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, ErrAlreadySettled):
		respondJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "already_settled"})
	default:
		slog.ErrorContext(r.Context(), "sandbox store error", "error", err)
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "internal_error"})
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
