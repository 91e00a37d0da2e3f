package messagebus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/postmint/postmint/pkg/models"
)

// NatsMessageBus implements Bus over NATS with JetStream durability for
// outcome reports. Event fan-out uses core NATS so every dashboard
// subscriber sees every event.
type NatsMessageBus struct {
	conn          *nats.Conn
	js            nats.JetStreamContext
	subscriptions map[string]*nats.Subscription
	streamName    string
	url           string
}

// Config holds NATS connection settings.
type Config struct {
	URL        string        // e.g. "nats://localhost:4222"
	StreamName string        // JetStream stream name (default: "POSTMINT")
	Timeout    time.Duration // connection timeout
}

// NewNatsMessageBus connects and ensures the outcome stream exists.
func NewNatsMessageBus(cfg Config) (*NatsMessageBus, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "POSTMINT"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("[MessageBus] NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[MessageBus] NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	mb := &NatsMessageBus{
		conn:          nc,
		js:            js,
		subscriptions: make(map[string]*nats.Subscription),
		streamName:    cfg.StreamName,
		url:           cfg.URL,
	}

	if err := mb.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	log.Printf("[MessageBus] connected to NATS at %s with JetStream stream %s", cfg.URL, cfg.StreamName)
	return mb, nil
}

// ensureStream creates or updates the JetStream stream. Outcome reports
// must survive a restart; an unprocessed "got a DM" report is lost learning.
func (mb *NatsMessageBus) ensureStream() error {
	streamConfig := &nats.StreamConfig{
		Name:      mb.streamName,
		Subjects:  []string{"postmint.outcomes.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		MaxBytes:  256 * 1024 * 1024,
		Storage:   nats.FileStorage,
		Replicas:  1,
		Discard:   nats.DiscardOld,
	}

	if _, err := mb.js.StreamInfo(mb.streamName); err != nil {
		if _, err := mb.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		log.Printf("[MessageBus] created JetStream stream: %s", mb.streamName)
		return nil
	}
	if _, err := mb.js.UpdateStream(streamConfig); err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}
	return nil
}

// PublishEvent fans a pipeline event out to all live subscribers. Events
// are ephemeral; durability would only replay stale dashboard updates.
func (mb *NatsMessageBus) PublishEvent(ctx context.Context, event *models.PipelineEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	subject := fmt.Sprintf("postmint.events.%s", event.Type)
	if err := mb.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", subject, err)
	}
	return nil
}

// PublishOutcome durably publishes an outcome report.
func (mb *NatsMessageBus) PublishOutcome(ctx context.Context, kind string, outcome *models.OutcomeEvent) error {
	if kind != "good" && kind != "bad" {
		return fmt.Errorf("unknown outcome kind %q", kind)
	}
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}
	subject := fmt.Sprintf("postmint.outcomes.%s", kind)
	if _, err := mb.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish outcome to %s: %w", subject, err)
	}
	return nil
}

// SubscribeOutcomes sets up a durable consumer for one outcome kind.
func (mb *NatsMessageBus) SubscribeOutcomes(kind string, handler func(*models.OutcomeEvent)) error {
	subject := fmt.Sprintf("postmint.outcomes.%s", kind)
	consumerName := fmt.Sprintf("outcomes-%s", kind)

	sub, err := mb.js.Subscribe(subject, func(msg *nats.Msg) {
		var outcome models.OutcomeEvent
		if err := json.Unmarshal(msg.Data, &outcome); err != nil {
			log.Printf("[MessageBus] failed to unmarshal outcome: %v", err)
			msg.Nak()
			return
		}
		handler(&outcome)
		msg.Ack()
	},
		nats.Durable(consumerName),
		nats.AckExplicit(),
		nats.MaxDeliver(3),
		nats.AckWait(30*time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	mb.subscriptions[subject] = sub
	log.Printf("[MessageBus] subscribed to %s with consumer %s", subject, consumerName)
	return nil
}

// SubscribeEvents sets up a core NATS fan-out subscription over all
// pipeline events.
func (mb *NatsMessageBus) SubscribeEvents(handler func(*models.PipelineEvent)) error {
	sub, err := mb.conn.Subscribe("postmint.events.>", func(msg *nats.Msg) {
		var event models.PipelineEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Printf("[MessageBus] failed to unmarshal event: %v", err)
			return
		}
		handler(&event)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}
	mb.subscriptions["postmint.events.>"] = sub
	return nil
}

// Health reports connection and stream status.
func (mb *NatsMessageBus) Health() error {
	if mb.conn.IsClosed() {
		return fmt.Errorf("NATS connection is closed")
	}
	if !mb.conn.IsConnected() {
		return fmt.Errorf("NATS is not connected")
	}
	if _, err := mb.js.StreamInfo(mb.streamName); err != nil {
		return fmt.Errorf("JetStream stream %s is unhealthy: %w", mb.streamName, err)
	}
	return nil
}

// Close drains subscriptions and closes the connection.
func (mb *NatsMessageBus) Close() error {
	for subject, sub := range mb.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			log.Printf("[MessageBus] failed to unsubscribe from %s: %v", subject, err)
		}
	}
	mb.subscriptions = make(map[string]*nats.Subscription)
	mb.conn.Close()
	log.Printf("[MessageBus] closed NATS connection")
	return nil
}
