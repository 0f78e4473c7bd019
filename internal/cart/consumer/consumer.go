// Package consumer clears carts once the order built from them is placed.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/fjod/freshmilk/internal/cart/repository"
	"github.com/fjod/freshmilk/internal/domain"
)

const eventTypeHeader = "event_type"

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type CartClearer interface {
	ClearItems(ctx context.Context, userID string) error
}

type CartCache interface {
	Delete(ctx context.Context, userID string) error
}

type Consumer struct {
	reader MessageReader
	carts  CartClearer
	cache  CartCache
}

func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6,
	})
}

func NewConsumer(reader MessageReader, carts CartClearer, cache CartCache) *Consumer {
	return &Consumer{reader: reader, carts: carts, cache: cache}
}

// Run consumes until ctx is cancelled. A message is committed after it is
// handled, so a crash in between redelivers it; clearing twice is harmless.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch order event: %w", err)
		}

		if err := c.handle(ctx, m); err != nil {
			slog.ErrorContext(ctx, "failed to handle order event", "offset", m.Offset, "error", err)
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.ErrorContext(ctx, "failed to commit order event", "offset", m.Offset, "error", err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) error {
	if eventType(m) != domain.EventOrderPlaced {
		return nil
	}

	var event domain.OrderEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		// a malformed event will never parse; skip it
		slog.WarnContext(ctx, "dropping malformed order event", "offset", m.Offset, "error", err)
		return nil
	}
	if !event.FromCart || event.UserID == "" {
		return nil
	}

	err := c.carts.ClearItems(ctx, event.UserID)
	if err != nil && !errors.Is(err, repository.ErrCartNotFound) {
		return fmt.Errorf("clear cart of %s: %w", event.UserID, err)
	}

	if err := c.cache.Delete(ctx, event.UserID); err != nil {
		slog.WarnContext(ctx, "failed to delete cached cart", "user_id", event.UserID, "error", err)
	}
	slog.InfoContext(ctx, "cleared cart after checkout", "user_id", event.UserID, "order_id", event.OrderID)
	return nil
}

func eventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == eventTypeHeader {
			return string(h.Value)
		}
	}
	return ""
}
