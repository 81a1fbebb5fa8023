package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type kafkaService struct {
	writer *kafka.Writer
	now    func() time.Time
}

func newKafkaService(brokers []string, topic string, timeout time.Duration) *kafkaService {
	return &kafkaService{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
			WriteTimeout: timeout,
		},
		now: time.Now,
	}
}

func (k *kafkaService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg := NewMessage(event, payload, k.now())
	value, err := msg.Encode()
	if err != nil {
		return err
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.BundleID),
		Value: value,
		Time:  msg.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(event)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s to kafka: %w", event, err)
	}
	return nil
}

func (k *kafkaService) Close() error {
	return k.writer.Close()
}
