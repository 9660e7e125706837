package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/intelmap-ingest/internal/config"
	"github.com/couchcryptid/intelmap-ingest/internal/domain"
)

// Publisher announces committed messages on a Kafka topic.
// It implements pipeline.Notifier.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher creates a Kafka producer for the configured sink topic.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &Publisher{writer: w, logger: logger.With("component", "kafka"), now: time.Now}
}

// Notify publishes one committed message with its locations.
func (p *Publisher) Notify(ctx context.Context, record domain.MessageRecord) error {
	msg, err := serializeToMessage(record, p.now())
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish message %d: %w", record.Message.ID, err)
	}
	p.logger.Debug("message published", "message_id", record.Message.ID, "topic", p.writer.Topic)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals a MessageRecord into a Kafka message keyed by
// the stored message id, so a message's updates land on one partition.
func serializeToMessage(record domain.MessageRecord, committedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize message record: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(strconv.FormatInt(record.Message.ID, 10)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "source_channel", Value: []byte(record.Message.SourceChannel)},
			{Key: "committed_at", Value: []byte(committedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
