package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/goleak"
	"gotest.tools/v3/assert"

	"github.com/fjod/freshmilk/internal/cart/repository"
	"github.com/fjod/freshmilk/internal/domain"
)

// fakeReader hands out queued messages and then blocks until ctx is done.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	fetchErr  error
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if r.fetchErr != nil {
		err := r.fetchErr
		r.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type fakeCarts struct {
	mu      sync.Mutex
	cleared []string
	err     error
}

func (f *fakeCarts) ClearItems(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.cleared = append(f.cleared, userID)
	return nil
}

type fakeCache struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeCache) Delete(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, userID)
	return nil
}

func orderMessage(t *testing.T, offset int64, eventType string, ev domain.OrderEvent) kafka.Message {
	payload, err := json.Marshal(ev)
	assert.NilError(t, err)
	return kafka.Message{
		Offset:  offset,
		Key:     []byte(ev.OrderID.String()),
		Value:   payload,
		Headers: []kafka.Header{{Key: eventTypeHeader, Value: []byte(eventType)}},
	}
}

func runUntilCommitted(t *testing.T, c *Consumer, r *fakeReader, want int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(r.commits()) < want && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	assert.NilError(t, <-done)
}

func TestConsumer_ClearsCartOnlyForCartOrders(t *testing.T) {
	defer goleak.VerifyNone(t)
	reader := &fakeReader{queue: []kafka.Message{
		orderMessage(t, 1, domain.EventOrderPlaced, domain.OrderEvent{OrderID: uuid.New(), UserID: "u1", FromCart: true}),
		orderMessage(t, 2, domain.EventOrderPlaced, domain.OrderEvent{OrderID: uuid.New(), UserID: "u2", FromCart: false}),
		orderMessage(t, 3, domain.EventOrderPaid, domain.OrderEvent{OrderID: uuid.New(), UserID: "u3", FromCart: true}),
		{Offset: 4, Value: []byte("{not json"), Headers: []kafka.Header{{Key: eventTypeHeader, Value: []byte(domain.EventOrderPlaced)}}},
	}}
	carts := &fakeCarts{}
	cache := &fakeCache{}

	runUntilCommitted(t, NewConsumer(reader, carts, cache), reader, 4)

	assert.DeepEqual(t, carts.cleared, []string{"u1"})
	assert.DeepEqual(t, cache.deleted, []string{"u1"})
	assert.DeepEqual(t, reader.commits(), []int64{1, 2, 3, 4})
}

func TestConsumer_MissingCartIsNotAnError(t *testing.T) {
	defer goleak.VerifyNone(t)
	reader := &fakeReader{queue: []kafka.Message{
		orderMessage(t, 7, domain.EventOrderPlaced, domain.OrderEvent{OrderID: uuid.New(), UserID: "u1", FromCart: true}),
	}}
	carts := &fakeCarts{err: repository.ErrCartNotFound}

	runUntilCommitted(t, NewConsumer(reader, carts, &fakeCache{}), reader, 1)

	assert.DeepEqual(t, reader.commits(), []int64{7})
}

func TestConsumer_StoreFailureLeavesMessageUncommitted(t *testing.T) {
	defer goleak.VerifyNone(t)
	reader := &fakeReader{queue: []kafka.Message{
		orderMessage(t, 9, domain.EventOrderPlaced, domain.OrderEvent{OrderID: uuid.New(), UserID: "u1", FromCart: true}),
	}}
	carts := &fakeCarts{err: errors.New("mongo down")}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NilError(t, NewConsumer(reader, carts, &fakeCache{}).Run(ctx))

	assert.Equal(t, len(reader.commits()), 0)
}

func TestConsumer_FetchErrorStopsRun(t *testing.T) {
	defer goleak.VerifyNone(t)
	reader := &fakeReader{fetchErr: errors.New("broker gone")}

	err := NewConsumer(reader, &fakeCarts{}, &fakeCache{}).Run(context.Background())
	assert.ErrorContains(t, err, "broker gone")
}
