package sandbox

import (
	"math/rand"

	"github.com/fjod/freshmilk/internal/domain"
)

type OutcomePicker interface {
	Pick() (domain.PaymentOutcome, string)
}

var failureReasons = []string{
	"unknown reason",
	"card declined",
	"insufficient funds",
	"expired card",
	"suspected fraud",
	"issuer unavailable",
}

// RandomOutcome settles about 95% of payments successfully.
type RandomOutcome struct{}

func (RandomOutcome) Pick() (domain.PaymentOutcome, string) {
	return outcomeFor(rand.Intn(101)) // Intn is exclusive of the upper bound
}

func outcomeFor(n int) (domain.PaymentOutcome, string) {
	if n < 95 {
		return domain.PaymentOutcomeSuccess, ""
	}
	reason := n - 95
	if reason >= len(failureReasons) {
		reason = 0
	}
	return domain.PaymentOutcomeFailure, failureReasons[reason]
}

// FixedOutcome always settles with the same result.
type FixedOutcome domain.PaymentOutcome

func (f FixedOutcome) Pick() (domain.PaymentOutcome, string) {
	if domain.PaymentOutcome(f) == domain.PaymentOutcomeFailure {
		return domain.PaymentOutcomeFailure, "card declined"
	}
	return domain.PaymentOutcomeSuccess, ""
}
