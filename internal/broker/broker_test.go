package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"perfume-store/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublishOrderPlacedKeysByOrder(t *testing.T) {
	w := &fakeWriter{}
	publisher := NewEventPublisher(newProducer(w))

	event := &models.OrderPlacedEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeOrderPlaced),
		OrderID:     42,
		UserID:      7,
		TotalAmount: decimal.RequireFromString("55.00"),
	}
	require.NoError(t, publisher.PublishOrderPlaced(context.Background(), event))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "order-42", string(w.msgs[0].Key))

	var decoded models.OrderPlacedEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, models.EventTypeOrderPlaced, decoded.EventType)
	assert.True(t, decoded.TotalAmount.Equal(event.TotalAmount))
}

func TestPublishEventWrapsWriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := newProducer(&fakeWriter{err: boom})

	err := p.PublishEvent(context.Background(), "k", map[string]string{"a": "b"})
	assert.ErrorIs(t, err, boom)
}

func TestHandleMessageRoutesFulfillmentStatus(t *testing.T) {
	h := NewEventHandler()

	var got *models.FulfillmentStatusEvent
	h.OnFulfillmentStatus(func(ctx context.Context, e *models.FulfillmentStatusEvent) error {
		got = e
		return nil
	})

	msg := kafka.Message{Value: []byte(`{"event_type":"FULFILLMENT_STATUS","order_id":9,"status":"shipped","paid_amount":"55.00"}`)}
	require.NoError(t, h.HandleMessage(context.Background(), msg))

	require.NotNil(t, got)
	assert.Equal(t, int64(9), got.OrderID)
	assert.Equal(t, models.OrderStatusShipped, got.Status)
	require.NotNil(t, got.PaidAmount)
	assert.True(t, decimal.RequireFromString("55").Equal(*got.PaidAmount))
}

func TestHandleMessageIgnoresOtherEvents(t *testing.T) {
	h := NewEventHandler()
	called := false
	h.OnFulfillmentStatus(func(ctx context.Context, e *models.FulfillmentStatusEvent) error {
		called = true
		return nil
	})

	msg := kafka.Message{Value: []byte(`{"event_type":"ORDER_PLACED","order_id":9}`)}
	require.NoError(t, h.HandleMessage(context.Background(), msg))
	assert.False(t, called)
}

func TestHandleMessageRejectsMalformedPayload(t *testing.T) {
	h := NewEventHandler()
	h.OnFulfillmentStatus(func(ctx context.Context, e *models.FulfillmentStatusEvent) error { return nil })

	err := h.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")})
	assert.ErrorIs(t, err, ErrMalformedMessage)

	err = h.HandleMessage(context.Background(), kafka.Message{Value: []byte(`{"event_type":"FULFILLMENT_STATUS","order_id":"nine"}`)})
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

// fakeReader serves msgs in order, then blocks until ctx is cancelled
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		msg := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
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

func newTestConsumer(r *fakeReader) *Consumer {
	c := newConsumer(r, "fulfillment-events")
	c.minBackoff = time.Millisecond
	c.maxBackoff = 5 * time.Millisecond
	return c
}

func TestConsumerRetriesFailedMessageBeforeCommitting(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{{Offset: 1}, {Offset: 2}}}
	c := newTestConsumer(r)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	attempts := map[int64]int{}
	done := make(chan error, 1)
	go func() {
		done <- c.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
			mu.Lock()
			defer mu.Unlock()
			attempts[msg.Offset]++
			if msg.Offset == 1 && attempts[msg.Offset] < 3 {
				return errors.New("database unavailable")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return len(r.commits()) == 2 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, []int64{1, 2}, r.commits())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts[1])
	assert.Equal(t, 1, attempts[2])
}

func TestConsumerCommitsMalformedMessages(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{{Offset: 7, Value: []byte("not json")}}}
	c := newTestConsumer(r)
	h := NewEventHandler()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.StartConsuming(ctx, h.HandleMessage) }()

	require.Eventually(t, func() bool { return len(r.commits()) == 1 }, time.Second, time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, []int64{7}, r.commits())
}

func TestConsumerHoldsOffsetWhenStoppedMidRetry(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{{Offset: 3}}}
	c := newTestConsumer(r)

	ctx, cancel := context.WithCancel(context.Background())
	failed := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
			select {
			case failed <- struct{}{}:
			default:
			}
			return errors.New("database unavailable")
		})
	}()

	<-failed
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Empty(t, r.commits())
}
