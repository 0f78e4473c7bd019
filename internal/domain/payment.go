package domain

// PaymentIntent is the gateway-side handle for collecting an online payment.
type PaymentIntent struct {
	ID       string `json:"intent_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type PaymentOutcome string

const (
	PaymentOutcomeSuccess PaymentOutcome = "success"
	PaymentOutcomeFailure PaymentOutcome = "failure"
)

// PaymentConfirmation is a verified gateway report about one intent.
type PaymentConfirmation struct {
	IntentID  string
	PaymentID string
	Outcome   PaymentOutcome
	Reason    string
}
