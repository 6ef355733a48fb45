// Package bus connects remote filewarden agents over Kafka: agents publish
// observed file events to a topic, the consumer feeds them into the local
// orchestrator.
package bus

import (
	"errors"
	"time"
)

// Config holds Kafka connection settings for the event bus.
type Config struct {
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	ConsumerGroup string        `yaml:"consumer_group"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

// DefaultConfig returns bus defaults.
func DefaultConfig() Config {
	return Config{
		Brokers:       []string{"localhost:9092"},
		Topic:         "filewarden-events",
		ConsumerGroup: "filewarden",
		DialTimeout:   10 * time.Second,
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("bus: at least one broker is required")
	}
	if c.Topic == "" {
		return errors.New("bus: topic is required")
	}
	if c.ConsumerGroup == "" {
		return errors.New("bus: consumer group is required")
	}
	return nil
}

// Envelope is the wire format for one remote file event.
type Envelope struct {
	Agent          string    `json:"agent"`
	EventType      string    `json:"event_type"`
	Path           string    `json:"path,omitempty"`
	TargetFileID   *int64    `json:"target_file_id,omitempty"`
	TargetFolderID *int64    `json:"target_folder_id,omitempty"`
	TriggeredBy    *int64    `json:"triggered_by_user_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Common errors.
var (
	ErrPublisherClosed = errors.New("bus: publisher is closed")
	ErrConsumerClosed  = errors.New("bus: consumer is closed")
)
