package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultKafkaTopic = "affilink.notifications"
	kafkaWriteTimeout = 5 * time.Second
)

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the published form of a notification. EventID lets consumers
// drop redeliveries.
type Event struct {
	EventID      string       `json:"event_id"`
	Type         Type         `json:"type"`
	OccurredAt   time.Time    `json:"occurred_at"`
	Notification Notification `json:"notification"`
}

// KafkaSink publishes notifications as JSON events keyed by user id, so one
// user's events stay ordered within a partition.
type KafkaSink struct {
	writer MessageWriter
	topic  string
	log    *slog.Logger
}

// NewKafkaSink builds a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string, log *slog.Logger) (*KafkaSink, error) {
	clean := make([]string, 0, len(brokers))
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			clean = append(clean, b)
		}
	}
	if len(clean) == 0 {
		return nil, errors.New("notify: kafka sink requires at least one broker")
	}
	if strings.TrimSpace(topic) == "" {
		topic = DefaultKafkaTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(clean...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return NewKafkaSinkWithWriter(w, topic, log), nil
}

// NewKafkaSinkWithWriter wraps an existing writer. The writer must already
// target topic; topic is only reported in logs.
func NewKafkaSinkWithWriter(w MessageWriter, topic string, log *slog.Logger) *KafkaSink {
	if log == nil {
		log = slog.Default()
	}
	return &KafkaSink{writer: w, topic: topic, log: log}
}

func (k *KafkaSink) Notify(ctx context.Context, n Notification) {
	if err := k.Publish(ctx, n); err != nil {
		k.log.Error("notify.kafka.fail", "topic", k.topic, "user_id", n.UserID, "type", string(n.Type), "err", err)
	}
}

// Publish writes one event. The write outlives a cancelled request context
// but is bounded by its own timeout.
func (k *KafkaSink) Publish(ctx context.Context, n Notification) error {
	if k == nil || k.writer == nil {
		return errors.New("notify: nil kafka sink")
	}
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	raw, err := json.Marshal(Event{
		EventID:      uuid.NewString(),
		Type:         n.Type,
		OccurredAt:   n.CreatedAt,
		Notification: n,
	})
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), kafkaWriteTimeout)
	defer cancel()
	return k.writer.WriteMessages(wctx, kafka.Message{
		Key:   []byte(n.UserID),
		Value: raw,
		Time:  now,
	})
}

func (k *KafkaSink) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
