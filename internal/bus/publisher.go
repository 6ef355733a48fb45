package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher sends file-event envelopes to the bus topic. The API uses it
// for fan-out when remote mirroring is enabled.
type Publisher struct {
	writer *kafka.Writer
	config Config
	closed atomic.Bool

	published atomic.Int64
	failures  atomic.Int64
}

// NewPublisher creates a publisher for the configured topic.
func NewPublisher(cfg Config) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		RequiredAcks: kafka.RequireAll,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			slog.Error(fmt.Sprintf(msg, args...), "component", "bus-writer")
		}),
	}

	slog.Info("event bus publisher initialized",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
	)

	return &Publisher{writer: writer, config: cfg}, nil
}

// Publish sends one envelope. The event type keys the message so events
// of one type stay ordered per partition.
func (p *Publisher) Publish(ctx context.Context, env Envelope) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now().UTC()
	}

	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("bus: failed to marshal envelope: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(env.EventType),
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		p.failures.Add(1)
		return fmt.Errorf("bus: failed to publish: %w", err)
	}

	p.published.Add(1)
	return nil
}

// Stats returns publish counters.
func (p *Publisher) Stats() map[string]int64 {
	return map[string]int64{
		"published": p.published.Load(),
		"failures":  p.failures.Load(),
	}
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("bus: failed to close publisher: %w", err)
	}
	return nil
}
