package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/freshmilk/internal/domain"
	"github.com/fjod/freshmilk/internal/payment"
)

func verifyBody(orderID, intentID, paymentID, signature string) string {
	b, _ := json.Marshal(VerifyPaymentRequestDTO{
		OrderID:   orderID,
		IntentID:  intentID,
		PaymentID: paymentID,
		Signature: signature,
	})
	return string(b)
}

func TestVerifyPayment_Success(t *testing.T) {
	order := sampleOrder("u1")
	orders := &MockOrderService{order: order}
	router := newTestRouter(testDeps{orders: orders})

	sig := payment.PaymentSignature(testKeySecret, "order_abc", "pay_1")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, asUser(newRequest("POST", "/api/v1/payments/verify", verifyBody(order.ID.String(), "order_abc", "pay_1", sig)), "u1"))

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	require.Len(t, orders.confirmations, 1)
	assert.Equal(t, domain.PaymentConfirmation{
		IntentID:  "order_abc",
		PaymentID: "pay_1",
		Outcome:   domain.PaymentOutcomeSuccess,
	}, orders.confirmations[0])
}

func TestVerifyPayment_Rejections(t *testing.T) {
	order := sampleOrder("u1")
	goodSig := payment.PaymentSignature(testKeySecret, "order_abc", "pay_1")

	tests := []struct {
		name       string
		userID     string
		body       string
		wantStatus int
	}{
		{"tampered signature", "u1", verifyBody(order.ID.String(), "order_abc", "pay_1", "deadbeef"), http.StatusBadRequest},
		{"signature for another payment", "u1", verifyBody(order.ID.String(), "order_abc", "pay_2", goodSig), http.StatusBadRequest},
		{"intent of another order", "u1", verifyBody(order.ID.String(), "order_other", "pay_1", payment.PaymentSignature(testKeySecret, "order_other", "pay_1")), http.StatusBadRequest},
		{"order of another user", "u2", verifyBody(order.ID.String(), "order_abc", "pay_1", goodSig), http.StatusNotFound},
		{"bad order id", "u1", verifyBody("nope", "order_abc", "pay_1", goodSig), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := &MockOrderService{order: order}
			router := newTestRouter(testDeps{orders: orders})

			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, asUser(newRequest("POST", "/api/v1/payments/verify", tt.body), tt.userID))

			assert.Equal(t, tt.wantStatus, recorder.Code)
			assert.Empty(t, orders.confirmations, "payment must not be confirmed")
		})
	}
}

func webhookRequest(t *testing.T, ev payment.WebhookEvent, secret string) *http.Request {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	req := newRequest("POST", "/api/v1/payments/webhook", string(body))
	req.Header.Set("X-Signature", payment.Sign(secret, body))
	return req
}

func TestWebhook_Captured(t *testing.T) {
	orders := &MockOrderService{order: sampleOrder("u1")}
	router := newTestRouter(testDeps{orders: orders})

	ev := payment.WebhookEvent{Event: payment.EventPaymentCaptured, IntentID: "order_abc", PaymentID: "pay_9"}
	recorder := httptest.NewRecorder()
	// no X-User-ID: the gateway calls this endpoint directly
	router.ServeHTTP(recorder, webhookRequest(t, ev, testWebhookSecret))

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.JSONEq(t, `{"status":"ok"}`, recorder.Body.String())
	require.Len(t, orders.confirmations, 1)
	assert.Equal(t, domain.PaymentOutcomeSuccess, orders.confirmations[0].Outcome)
	assert.Equal(t, "pay_9", orders.confirmations[0].PaymentID)
}

func TestWebhook_Failed(t *testing.T) {
	orders := &MockOrderService{order: sampleOrder("u1")}
	router := newTestRouter(testDeps{orders: orders})

	ev := payment.WebhookEvent{Event: payment.EventPaymentFailed, IntentID: "order_abc", Reason: "card declined"}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, webhookRequest(t, ev, testWebhookSecret))

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Len(t, orders.confirmations, 1)
	assert.Equal(t, domain.PaymentOutcomeFailure, orders.confirmations[0].Outcome)
	assert.Equal(t, "card declined", orders.confirmations[0].Reason)
}

func TestWebhook_Rejections(t *testing.T) {
	t.Run("wrong secret", func(t *testing.T) {
		orders := &MockOrderService{}
		router := newTestRouter(testDeps{orders: orders})

		ev := payment.WebhookEvent{Event: payment.EventPaymentCaptured, IntentID: "order_abc", PaymentID: "pay_9"}
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, webhookRequest(t, ev, "forged"))

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
		assert.Empty(t, orders.confirmations)
	})

	t.Run("unsupported event", func(t *testing.T) {
		orders := &MockOrderService{}
		router := newTestRouter(testDeps{orders: orders})

		ev := payment.WebhookEvent{Event: "refund.processed", IntentID: "order_abc"}
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, webhookRequest(t, ev, testWebhookSecret))

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
		assert.Empty(t, orders.confirmations)
	})

	t.Run("unknown intent", func(t *testing.T) {
		orders := &MockOrderService{err: fmt.Errorf("confirm payment: %w", domain.ErrNotFound)}
		router := newTestRouter(testDeps{orders: orders})

		ev := payment.WebhookEvent{Event: payment.EventPaymentCaptured, IntentID: "order_zzz", PaymentID: "pay_9"}
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, webhookRequest(t, ev, testWebhookSecret))

		assert.Equal(t, http.StatusNotFound, recorder.Code)
	})
}
