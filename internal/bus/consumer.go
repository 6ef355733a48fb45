package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"filewarden/internal/model"

	"github.com/segmentio/kafka-go"
)

// Pipeline is the engine-side contract for consumed events.
type Pipeline interface {
	HandleEvent(ctx context.Context, event *model.Event) error
}

// EventStore persists consumed events before scoring.
type EventStore interface {
	CreateEvent(ctx context.Context, e *model.Event) error
}

// Consumer reads file-event envelopes from the bus topic, persists them
// and hands them to the orchestrator. Malformed messages are logged and
// skipped; the group offset still advances.
type Consumer struct {
	reader   *kafka.Reader
	config   Config
	events   EventStore
	pipeline Pipeline
	closed   atomic.Bool
	wg       sync.WaitGroup

	consumed atomic.Int64
	skipped  atomic.Int64
}

// NewConsumer creates a consumer in the configured group.
func NewConsumer(cfg Config, events EventStore, pipeline Pipeline) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.ConsumerGroup,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
		Dialer: &kafka.Dialer{
			Timeout:   cfg.DialTimeout,
			DualStack: true,
		},
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			slog.Error(fmt.Sprintf(msg, args...), "component", "bus-reader")
		}),
	})

	return &Consumer{
		reader:   reader,
		config:   cfg,
		events:   events,
		pipeline: pipeline,
	}, nil
}

// Start begins the consume loop. It returns immediately; the loop stops
// when ctx is cancelled or Close is called.
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		slog.Info("event bus consumer started",
			"brokers", c.config.Brokers,
			"topic", c.config.Topic,
			"group", c.config.ConsumerGroup,
		)
		c.loop(ctx)
	}()
}

func (c *Consumer) loop(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) || c.closed.Load() {
				return
			}
			slog.Error("bus read failed", "error", err)
			continue
		}
		c.handle(ctx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		c.skipped.Add(1)
		slog.Warn("skipping malformed bus message",
			"offset", msg.Offset,
			"error", err,
		)
		return
	}
	if !model.ValidEventType(env.EventType) {
		c.skipped.Add(1)
		slog.Warn("skipping bus message with unknown event type",
			"event_type", env.EventType,
			"agent", env.Agent,
		)
		return
	}

	event := &model.Event{
		EventType:      env.EventType,
		TargetFileID:   env.TargetFileID,
		TargetFolderID: env.TargetFolderID,
		TriggeredBy:    env.TriggeredBy,
		Timestamp:      env.OccurredAt,
	}
	if err := c.events.CreateEvent(ctx, event); err != nil {
		slog.Error("failed to persist bus event",
			"agent", env.Agent,
			"error", err,
		)
		return
	}

	if err := c.pipeline.HandleEvent(ctx, event); err != nil {
		slog.Error("pipeline failed for bus event",
			"event_id", event.ID,
			"error", err,
		)
		return
	}
	c.consumed.Add(1)
}

// Stats returns consume counters.
func (c *Consumer) Stats() map[string]int64 {
	return map[string]int64{
		"consumed": c.consumed.Load(),
		"skipped":  c.skipped.Load(),
	}
}

// Close stops the loop and releases the group membership.
func (c *Consumer) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	err := c.reader.Close()
	c.wg.Wait()
	if err != nil {
		return fmt.Errorf("bus: failed to close consumer: %w", err)
	}
	return nil
}
