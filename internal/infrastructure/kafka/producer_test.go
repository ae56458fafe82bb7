package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-settlement/internal/domain"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func header(msg kafka.Message, key string) (string, bool) {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value), true
		}
	}
	return "", false
}

func TestPublish_OrderEvent(t *testing.T) {
	w := &recordingWriter{}
	p := newProducer(w)
	at := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	ev := domain.OrderEvent{
		Type:        domain.OrderPaid,
		OrderID:     uuid.New(),
		OrderNumber: "ORD-1",
		Status:      domain.OrderProcessing,
		PrevStatus:  domain.OrderPending,
		IsPaid:      true,
		Reference:   "BRAN123",
		OccurredAt:  at,
	}

	require.NoError(t, p.Publish(context.Background(), ev.OrderID.String(), ev))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, ev.OrderID.String(), string(msg.Key))
	assert.Equal(t, at, msg.Time)

	eventType, ok := header(msg, HeaderEventType)
	require.True(t, ok)
	assert.Equal(t, "order.paid", eventType)
	contentType, _ := header(msg, HeaderContentType)
	assert.Equal(t, "application/json", contentType)

	var decoded domain.OrderEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, ev, decoded)
}

func TestPublish_OtherEventsHaveNoTypeHeader(t *testing.T) {
	w := &recordingWriter{}
	p := newProducer(w)
	now := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	require.NoError(t, p.Publish(context.Background(), "k", map[string]string{"hello": "world"}))

	require.Len(t, w.msgs, 1)
	_, ok := header(w.msgs[0], HeaderEventType)
	assert.False(t, ok)
	assert.Equal(t, now, w.msgs[0].Time)
	assert.JSONEq(t, `{"hello":"world"}`, string(w.msgs[0].Value))
}

func TestPublish_Errors(t *testing.T) {
	t.Run("unencodable event is not written", func(t *testing.T) {
		w := &recordingWriter{}
		err := newProducer(w).Publish(context.Background(), "k", make(chan int))

		assert.Error(t, err)
		assert.Empty(t, w.msgs)
	})

	t.Run("writer failure is wrapped", func(t *testing.T) {
		boom := errors.New("leader not available")
		err := newProducer(&recordingWriter{err: boom}).Publish(context.Background(), "order-1", domain.OrderEvent{Type: domain.OrderPaid})

		assert.ErrorIs(t, err, boom)
		assert.ErrorContains(t, err, "order-1")
	})
}

func TestClose_ClosesWriter(t *testing.T) {
	w := &recordingWriter{}
	require.NoError(t, newProducer(w).Close())
	assert.True(t, w.closed)
}
