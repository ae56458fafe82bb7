package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"payment-settlement/internal/domain"
)

const (
	HeaderEventType   = "event-type"
	HeaderContentType = "content-type"
)

// messageWriter is the part of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes order events to a single topic. Messages are keyed by
// order so one order's events share a partition and stay ordered.
type Producer struct {
	writer messageWriter
	now    func() time.Time
}

func NewProducer(brokers []string, topic string) *Producer {
	return newProducer(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
	})
}

func newProducer(w messageWriter) *Producer {
	return &Producer{writer: w, now: func() time.Time { return time.Now().UTC() }}
}

func (p *Producer) Publish(ctx context.Context, key string, event any) error {
	msg, err := p.message(key, event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", key, err)
	}
	return nil
}

// message encodes event as JSON. Order events carry their type as a header
// so consumers can filter without decoding, and their own timestamp.
func (p *Producer) message(key string, event any) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode event %T: %w", event, err)
	}

	msg := kafka.Message{
		Key:     []byte(key),
		Value:   data,
		Time:    p.now(),
		Headers: []kafka.Header{{Key: HeaderContentType, Value: []byte("application/json")}},
	}
	if ev, ok := event.(domain.OrderEvent); ok {
		msg.Headers = append(msg.Headers, kafka.Header{Key: HeaderEventType, Value: []byte(ev.Type)})
		if !ev.OccurredAt.IsZero() {
			msg.Time = ev.OccurredAt
		}
	}
	return msg, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
