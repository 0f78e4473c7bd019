package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fjod/freshmilk/internal/domain"
	r "github.com/fjod/freshmilk/internal/order/repository"
)

// UpdateStatus moves an order along the fulfilment lifecycle. Setting the
// current status again is a no-op. Delivery also marks the order Paid, and
// an online order delivered without a captured payment takes its stock then.
func (s *OrderService) UpdateStatus(ctx context.Context, id uuid.UUID, next domain.OrderStatus) (*domain.Order, error) {
	if !next.Valid() {
		return nil, domain.Invalid("unknown order status %q", next)
	}

	var result *domain.Order
	err := s.repo.InTx(ctx, func(tx r.Tx) error {
		order, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		result = order
		if order.OrderStatus == next {
			return nil
		}
		if !order.OrderStatus.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, order.OrderStatus, next)
		}

		prev := order.OrderStatus
		now := s.now()
		if next == domain.OrderStatusDelivered {
			// online orders take stock when payment is captured; one paid at the door takes it now
			if order.PaymentMethod == domain.PaymentMethodOnline && order.PaymentStatus != domain.PaymentStatusPaid {
				if err := decrementAll(ctx, tx, order); err != nil {
					return err
				}
			}
			order.MarkDelivered(now)
		} else {
			order.OrderStatus = next
			order.UpdatedAt = now
		}

		if err := tx.SaveOrder(ctx, order); err != nil {
			return err
		}
		ev := domain.NewOrderEvent(order, now)
		ev.Reason = fmt.Sprintf("%s -> %s", prev, next)
		if err := tx.AppendEvent(ctx, domain.EventOrderStatusChanged, ev); err != nil {
			return err
		}
		slog.InfoContext(ctx, "order status changed", "order_id", order.ID, "from", prev, "to", next)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update status of order %s: %w", id, err)
	}
	return result, nil
}
