// Package events publishes ledger notifications to the message bus.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
)

// DefaultPeriodTopic carries period transitions when no topic is configured.
const DefaultPeriodTopic = "gl.period-events"

// MessageWriter is the subset of kafka.Writer used by the publisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes period events to kafka keyed by company and module so
// transitions of one module arrive in order.
type KafkaPublisher struct {
	writer MessageWriter
	logger *slog.Logger
}

// NewKafkaPublisher builds a publisher for brokers and topic.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("events: kafka brokers required")
	}
	if topic == "" {
		topic = DefaultPeriodTopic
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return NewPublisherWithWriter(writer, logger), nil
}

// NewPublisherWithWriter wraps an existing writer.
func NewPublisherWithWriter(writer MessageWriter, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{writer: writer, logger: logger}
}

// Notify implements periods.Notifier by publishing the event synchronously.
func (p *KafkaPublisher) Notify(ctx context.Context, evt periods.PeriodEvent) error {
	return p.Publish(ctx, evt)
}

// Publish writes one period event.
func (p *KafkaPublisher) Publish(ctx context.Context, evt periods.PeriodEvent) error {
	if p == nil || p.writer == nil {
		return errors.New("events: publisher not configured")
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", evt.Type, err)
	}
	msg := kafka.Message{
		Key:   []byte(MessageKey(evt)),
		Value: body,
		Time:  evt.At,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(evt.Type)},
			{Key: "period", Value: []byte(evt.Period.String())},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: publish %s: %w", evt.Type, err)
	}
	p.logger.Debug("period event published",
		slog.String("type", string(evt.Type)),
		slog.Int64("company_id", evt.CompanyID),
		slog.String("module", string(evt.Module)),
		slog.String("period", evt.Period.String()))
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// MessageKey partitions events per company and module.
func MessageKey(evt periods.PeriodEvent) string {
	return strconv.FormatInt(evt.CompanyID, 10) + "/" + string(evt.Module)
}
