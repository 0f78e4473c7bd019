package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/fjod/freshmilk/internal/domain"
)

var ErrInvalidSignature = fmt.Errorf("%w: payment signature mismatch", domain.ErrInvalidRequest)

// Webhook event names sent by the gateway.
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
)

// WebhookEvent is the body the gateway posts after settling an intent.
type WebhookEvent struct {
	Event     string `json:"event"`
	IntentID  string `json:"intent_id"`
	PaymentID string `json:"payment_id"`
	Reason    string `json:"reason,omitempty"`
}

func (e WebhookEvent) Confirmation() (domain.PaymentConfirmation, error) {
	c := domain.PaymentConfirmation{IntentID: e.IntentID, PaymentID: e.PaymentID, Reason: e.Reason}
	switch e.Event {
	case EventPaymentCaptured:
		c.Outcome = domain.PaymentOutcomeSuccess
	case EventPaymentFailed:
		c.Outcome = domain.PaymentOutcomeFailure
	default:
		return domain.PaymentConfirmation{}, domain.Invalid("unsupported webhook event %q", e.Event)
	}
	return c, nil
}

// Sign returns the hex HMAC-SHA256 of msg under secret.
func Sign(secret string, msg []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

// PaymentSignature is what the checkout page receives for a completed
// payment and hands back to the shop for verification.
func PaymentSignature(keySecret, intentID, paymentID string) string {
	return Sign(keySecret, []byte(intentID+"|"+paymentID))
}

type Verifier struct {
	keySecret     string
	webhookSecret string
}

func NewVerifier(keySecret, webhookSecret string) *Verifier {
	return &Verifier{keySecret: keySecret, webhookSecret: webhookSecret}
}

// VerifyPayment checks a client-side payment confirmation.
func (v *Verifier) VerifyPayment(intentID, paymentID, signature string) error {
	if intentID == "" || paymentID == "" {
		return domain.Invalid("intent_id and payment_id are required")
	}
	return compare(PaymentSignature(v.keySecret, intentID, paymentID), signature)
}

// VerifyWebhook checks the X-Signature of a raw webhook body and decodes it.
func (v *Verifier) VerifyWebhook(body []byte, signature string) (WebhookEvent, error) {
	if err := compare(Sign(v.webhookSecret, body), signature); err != nil {
		return WebhookEvent{}, err
	}
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return WebhookEvent{}, domain.Invalid("malformed webhook body: %v", err)
	}
	return ev, nil
}

func compare(expected, got string) error {
	if got == "" || !hmac.Equal([]byte(expected), []byte(got)) {
		return ErrInvalidSignature
	}
	return nil
}
