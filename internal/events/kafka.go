// Package events exports persisted chat messages to Kafka.
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/eldtechnologies/parley/internal/ids"
	"github.com/eldtechnologies/parley/internal/metrics"
	"github.com/eldtechnologies/parley/internal/models"
)

// MessagePosted is the event type written for every persisted message.
const MessagePosted = "message.posted"

// MessageEvent is the JSON value of each Kafka record.
type MessageEvent struct {
	EventID uuid.UUID      `json:"event_id"`
	Type    string         `json:"type"`
	Message models.Message `json:"message"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes message events asynchronously. Delivery is best effort:
// failures are logged and counted, never returned to the producer.
type KafkaSink struct {
	writer messageWriter
	logger zerolog.Logger
}

// NewKafkaSink creates a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string, logger zerolog.Logger) *KafkaSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				metrics.EventsExported.WithLabelValues("error").Add(float64(len(messages)))
				logger.Warn().Err(err).Int("count", len(messages)).Msg("kafka export failed")
				return
			}
			metrics.EventsExported.WithLabelValues("ok").Add(float64(len(messages)))
		},
	}
	return &KafkaSink{writer: w, logger: logger}
}

// Emit queues msg for export, keyed by room so one room stays ordered
// within its partition.
func (s *KafkaSink) Emit(ctx context.Context, msg models.Message) {
	value, err := json.Marshal(MessageEvent{
		EventID: ids.NewEventID(),
		Type:    MessagePosted,
		Message: msg,
	})
	if err != nil {
		s.logger.Error().Err(err).Int64("message_id", msg.ID).Msg("encode message event")
		return
	}

	record := kafka.Message{
		Key:   []byte(strconv.FormatInt(msg.RoomID, 10)),
		Value: value,
		Time:  msg.Timestamp,
	}
	// The request may finish before the batch is flushed.
	if err := s.writer.WriteMessages(context.WithoutCancel(ctx), record); err != nil {
		metrics.EventsExported.WithLabelValues("error").Inc()
		s.logger.Warn().Err(err).Int64("message_id", msg.ID).Msg("kafka enqueue failed")
	}
}

// Close flushes pending events and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
