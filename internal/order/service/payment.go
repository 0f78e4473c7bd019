package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fjod/freshmilk/internal/domain"
	r "github.com/fjod/freshmilk/internal/order/repository"
)

const stockSavepoint = "stock_claim"

// RetryPaymentIntent requests a fresh intent for an online order that is
// still waiting for payment. The order row is reused.
func (s *OrderService) RetryPaymentIntent(ctx context.Context, userID string, orderID uuid.UUID) (*domain.PaymentIntent, error) {
	order, err := s.GetForUser(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentMethod != domain.PaymentMethodOnline || order.PaymentStatus != domain.PaymentStatusPending {
		return nil, domain.Invalid("order %s is not awaiting online payment", orderID)
	}

	intent, err := s.requestIntent(ctx, order)
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// ConfirmPayment applies a verified gateway outcome. A Pending order takes
// the outcome; repeated confirmations return the order as it is.
//
// A successful payment takes stock. If the stock is gone by then the order
// is kept as Paid and cancelled, and an oversold event asks for a refund.
// A success for an order whose payment already failed is refunded the same way.
func (s *OrderService) ConfirmPayment(ctx context.Context, c domain.PaymentConfirmation) (*domain.Order, error) {
	if c.IntentID == "" {
		return nil, domain.Invalid("intent_id is required")
	}
	if c.Outcome != domain.PaymentOutcomeSuccess && c.Outcome != domain.PaymentOutcomeFailure {
		return nil, domain.Invalid("unknown payment outcome %q", c.Outcome)
	}

	var result *domain.Order
	err := s.repo.InTx(ctx, func(tx r.Tx) error {
		order, err := tx.LockOrderByIntent(ctx, c.IntentID)
		if err != nil {
			return err
		}
		result = order
		if order.PaymentStatus == domain.PaymentStatusFailed && c.Outcome == domain.PaymentOutcomeSuccess {
			return s.captureLatePayment(ctx, tx, order, c.PaymentID)
		}
		if order.PaymentStatus != domain.PaymentStatusPending {
			slog.InfoContext(ctx, "duplicate payment confirmation ignored",
				"order_id", order.ID, "intent_id", c.IntentID, "payment_status", order.PaymentStatus)
			return nil
		}

		if c.Outcome == domain.PaymentOutcomeFailure {
			return s.failPayment(ctx, tx, order, c.Reason)
		}
		return s.capturePayment(ctx, tx, order, c.PaymentID)
	})
	if err != nil {
		return nil, fmt.Errorf("confirm payment for intent %s: %w", c.IntentID, err)
	}
	return result, nil
}

func (s *OrderService) capturePayment(ctx context.Context, tx r.Tx, order *domain.Order, paymentID string) error {
	now := s.now()
	order.PaymentStatus = domain.PaymentStatusPaid
	order.PaymentID = paymentID
	order.UpdatedAt = now

	eventType := domain.EventOrderPaid
	reason := ""

	if order.OrderStatus == domain.OrderStatusCancelled {
		eventType, reason = domain.EventOrderOversold, "order cancelled before payment"
	} else {
		if err := tx.Savepoint(ctx, stockSavepoint); err != nil {
			return err
		}
		err := decrementAll(ctx, tx, order)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrNotFound):
			if rbErr := tx.RollbackToSavepoint(ctx, stockSavepoint); rbErr != nil {
				return rbErr
			}
			order.OrderStatus = domain.OrderStatusCancelled
			eventType, reason = domain.EventOrderOversold, err.Error()
			slog.WarnContext(ctx, "paid order oversold", "order_id", order.ID, "error", err)
		default:
			return err
		}
	}

	if err := tx.SaveOrder(ctx, order); err != nil {
		return err
	}
	ev := domain.NewOrderEvent(order, now)
	ev.Reason = reason
	if err := tx.AppendEvent(ctx, eventType, ev); err != nil {
		return err
	}
	slog.InfoContext(ctx, "online payment captured", "order_id", order.ID, "event", eventType)
	return nil
}

// captureLatePayment records money taken on an intent the order gave up on,
// usually after the payment window expired. No stock was taken for it.
func (s *OrderService) captureLatePayment(ctx context.Context, tx r.Tx, order *domain.Order, paymentID string) error {
	now := s.now()
	order.PaymentStatus = domain.PaymentStatusPaid
	order.PaymentID = paymentID
	order.UpdatedAt = now
	if order.OrderStatus.CanTransitionTo(domain.OrderStatusCancelled) {
		order.OrderStatus = domain.OrderStatusCancelled
	}

	if err := tx.SaveOrder(ctx, order); err != nil {
		return err
	}
	ev := domain.NewOrderEvent(order, now)
	ev.Reason = "payment captured after the payment had failed"
	if err := tx.AppendEvent(ctx, domain.EventOrderOversold, ev); err != nil {
		return err
	}
	slog.WarnContext(ctx, "late payment captured, refund required",
		"order_id", order.ID, "payment_id", paymentID, "order_status", order.OrderStatus)
	return nil
}

func (s *OrderService) failPayment(ctx context.Context, tx r.Tx, order *domain.Order, reason string) error {
	now := s.now()
	order.PaymentStatus = domain.PaymentStatusFailed
	order.UpdatedAt = now
	if err := tx.SaveOrder(ctx, order); err != nil {
		return err
	}
	ev := domain.NewOrderEvent(order, now)
	ev.Reason = reason
	if err := tx.AppendEvent(ctx, domain.EventOrderPaymentFailed, ev); err != nil {
		return err
	}
	slog.InfoContext(ctx, "online payment failed", "order_id", order.ID, "reason", reason)
	return nil
}

// ExpirePendingPayments marks online orders that stayed Pending longer than
// the payment window as Failed. It returns how many orders it expired.
func (s *OrderService) ExpirePendingPayments(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.opts.PendingPaymentTTL)
	ids, err := s.repo.ListStalePending(ctx, cutoff, s.opts.SweepBatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		err := s.repo.InTx(ctx, func(tx r.Tx) error {
			order, err := tx.LockOrder(ctx, id)
			if err != nil {
				return err
			}
			// a confirmation may have landed since the listing
			if order.PaymentStatus != domain.PaymentStatusPending || order.PaymentMethod != domain.PaymentMethodOnline {
				return nil
			}
			expired++
			return s.failPayment(ctx, tx, order, "payment window expired")
		})
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return expired, fmt.Errorf("expire order %s: %w", id, err)
		}
	}
	return expired, nil
}
