package publisher

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/fjod/freshmilk/internal/domain"
	r "github.com/fjod/freshmilk/internal/order/repository"
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// PaymentSweeper fails online orders whose payment window has passed.
type PaymentSweeper interface {
	ExpirePendingPayments(ctx context.Context) (int, error)
}

// OutboxPoller relays committed order events to Kafka and periodically
// sweeps stale online payments.
type OutboxPoller struct {
	batchSize int
	eventTick time.Duration
	sweepTick time.Duration
	repo      r.OutboxRepository
	sweeper   PaymentSweeper
	writer    MessageWriter
}

// NewWriter keys messages by order id, so all events of one order land on
// one partition in the order they were written.
func NewWriter(topic string, brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

func NewOutboxPoller(repo r.OutboxRepository, sweeper PaymentSweeper, writer MessageWriter) *OutboxPoller {
	return &OutboxPoller{
		batchSize: 100,
		eventTick: time.Second,
		sweepTick: time.Minute,
		repo:      repo,
		sweeper:   sweeper,
		writer:    writer,
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.eventTick)
	sweepTicker := time.NewTicker(p.sweepTick)
	defer eventTicker.Stop()
	defer sweepTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-sweepTicker.C:
			p.sweepPendingPayments(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// processUnpublishedEvents stops at the first failure so later events of
// the same order are not published ahead of it.
func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) int {
	events, err := p.repo.GetUnpublishedEvents(ctx, p.batchSize)
	if err != nil {
		slog.ErrorContext(ctx, "failed to fetch outbox events", "error", err)
		return 0
	}

	published := 0
	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			slog.ErrorContext(ctx, "failed to publish outbox event", "event_id", event.ID, "event_type", event.EventType, "error", err)
			return published
		}
		if err := p.repo.MarkEventPublished(ctx, event.ID); err != nil {
			// published twice at worst; consumers tolerate it
			slog.ErrorContext(ctx, "failed to mark outbox event published", "event_id", event.ID, "error", err)
			return published
		}
		published++
	}
	return published
}

func (p *OutboxPoller) sweepPendingPayments(ctx context.Context) {
	if p.sweeper == nil {
		return
	}
	n, err := p.sweeper.ExpirePendingPayments(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "pending payment sweep failed", "expired", n, "error", err)
		return
	}
	if n > 0 {
		slog.InfoContext(ctx, "expired pending payments", "count", n)
	}
}

func (p *OutboxPoller) publish(ctx context.Context, event domain.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	return p.writer.WriteMessages(ctx, msg)
}
