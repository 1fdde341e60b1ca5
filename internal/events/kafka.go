package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/CZERTAINLY/scriptd/internal/model"
)

var _ Publisher = (*KafkaPublisher)(nil)

// KafkaPublisher writes events as JSON messages keyed by script name, so
// all changes of one script land in the same partition in order.
type KafkaPublisher struct {
	writer messageWriter
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

func NewKafkaPublisher(cfg model.Kafka) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker must be provided")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic must be provided")
	}
	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		AllowAutoTopicCreation: true,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
	}
	return newKafkaPublisher(writer), nil
}

func newKafkaPublisher(w messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("kafka: encoding event: %w", err)
	}
	msg := kafkago.Message{
		Key:   []byte(e.Script),
		Value: payload,
		Time:  e.Time,
		Headers: []kafkago.Header{
			{Key: "state", Value: []byte(e.State.String())},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write message: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
