// Package kafka implements the eventstream publisher on a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/weftlabs/weft/pkg/eventstream"
)

// DefaultTopic is the topic title-generation jobs are published to.
const DefaultTopic = "weft.title-requests"

// Config for the Kafka publisher.
type Config struct {
	// Brokers is the Kafka broker address list.
	Brokers []string

	// Topic overrides DefaultTopic.
	Topic string
}

// Publisher writes title-generation events to Kafka, keyed by conversation id
// so jobs for one conversation land on one partition in order.
type Publisher struct {
	writer *kafkago.Writer
}

// NewPublisher creates a Kafka-backed eventstream publisher.
func NewPublisher(cfg Config) *Publisher {
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}

	return &Publisher{
		writer: &kafkago.Writer{
			Addr:     kafkago.TCP(cfg.Brokers...),
			Topic:    topic,
			Balancer: &kafkago.Hash{},
		},
	}
}

// PublishTitleRequest publishes one title-generation job.
func (p *Publisher) PublishTitleRequest(ctx context.Context, event *eventstream.TitleRequestedEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(event.ConversationID),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("writing event: %w", err)
	}

	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ eventstream.Publisher = (*Publisher)(nil)
