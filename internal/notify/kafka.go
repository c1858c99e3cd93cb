package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Event is the JSON record published for each delivered notification.
type Event struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"userId"`
	Target    string    `json:"target"`
	Signature string    `json:"signature"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes notifications to a Kafka topic keyed by signature.
type KafkaSink struct {
	writer MessageWriter
	now    func() time.Time
}

// NewKafkaSink creates a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return NewKafkaSinkWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	})
}

// NewKafkaSinkWithWriter creates a sink over an existing writer.
func NewKafkaSinkWithWriter(w MessageWriter) *KafkaSink {
	return &KafkaSink{writer: w, now: time.Now}
}

// Deliver implements Sink.
func (s *KafkaSink) Deliver(ctx context.Context, userID int64, msg Message) error {
	event := Event{
		ID:        uuid.NewString(),
		UserID:    userID,
		Target:    msg.Target,
		Signature: msg.Signature,
		Text:      msg.Text,
		CreatedAt: s.now().UTC(),
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Signature),
		Value: value,
	}); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
