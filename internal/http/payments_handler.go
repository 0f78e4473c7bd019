package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fjod/freshmilk/internal/domain"
	"github.com/fjod/freshmilk/internal/payment"
)

type PaymentConfirmer interface {
	GetForUser(ctx context.Context, userID string, id uuid.UUID) (*domain.Order, error)
	ConfirmPayment(ctx context.Context, c domain.PaymentConfirmation) (*domain.Order, error)
}

type SignatureVerifier interface {
	VerifyPayment(intentID, paymentID, signature string) error
	VerifyWebhook(body []byte, signature string) (payment.WebhookEvent, error)
}

type PaymentsHandler struct {
	orders   PaymentConfirmer
	verifier SignatureVerifier
	timeout  time.Duration
}

func NewPaymentsHandler(orders PaymentConfirmer, verifier SignatureVerifier, timeout time.Duration) *PaymentsHandler {
	return &PaymentsHandler{
		orders:   orders,
		verifier: verifier,
		timeout:  timeout,
	}
}

type VerifyPaymentRequestDTO struct {
	OrderID   string `json:"order_id"`
	IntentID  string `json:"intent_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

// POST /api/v1/payments/verify
func (h *PaymentsHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req VerifyPaymentRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if err := h.verifier.VerifyPayment(req.IntentID, req.PaymentID, req.Signature); err != nil {
		slog.WarnContext(ctx, "payment signature rejected", "intent_id", req.IntentID)
		handleServiceError(w, r, err)
		return
	}

	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order_id must be a UUID")
		return
	}
	order, err := h.orders.GetForUser(ctx, getUserIDFromContext(ctx), orderID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if order.PaymentIntentID != req.IntentID {
		respondError(w, http.StatusBadRequest, "intent_mismatch", "intent does not belong to this order")
		return
	}

	order, err = h.orders.ConfirmPayment(ctx, domain.PaymentConfirmation{
		IntentID:  req.IntentID,
		PaymentID: req.PaymentID,
		Outcome:   domain.PaymentOutcomeSuccess,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// POST /api/v1/payments/webhook
func (h *PaymentsHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "unreadable body")
		return
	}
	ev, err := h.verifier.VerifyWebhook(body, r.Header.Get("X-Signature"))
	if err != nil {
		slog.WarnContext(ctx, "webhook rejected", "error", err)
		handleServiceError(w, r, err)
		return
	}
	conf, err := ev.Confirmation()
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	order, err := h.orders.ConfirmPayment(ctx, conf)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	slog.InfoContext(ctx, "webhook applied", "event", ev.Event, "order_id", order.ID, "payment_status", order.PaymentStatus)
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
