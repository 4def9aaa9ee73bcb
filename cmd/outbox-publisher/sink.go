package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/angelmondragon/cim-backend/pkg/config"
	"github.com/angelmondragon/cim-backend/pkg/db/models"
	"github.com/angelmondragon/cim-backend/pkg/outbox/registry"
)

// headers describes one outbox row to consumers. The caller's trace context
// rides along so a consumer span can join the settlement trace.
func headers(ctx context.Context, row models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]string {
	h := propagation.MapCarrier{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(row.EventType),
		"aggregate_type": string(row.AggregateType),
		"aggregate_id":   row.AggregateID.String(),
		"created_at":     row.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	otel.GetTextMapPropagator().Inject(ctx, h)
	return h
}

// topicPublisher sends one message and blocks until the broker acks it.
type topicPublisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) (string, error)
	Stop()
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(topic string) *gcppubsub.Publisher
	Close() error
}

// pubSubSink publishes to Google Cloud Pub/Sub. Publishers are created on
// first use and kept per topic since each one owns its batching goroutines.
type pubSubSink struct {
	client pubSubClient
	open   func(topic string) topicPublisher

	mu      sync.Mutex
	byTopic map[string]topicPublisher
}

func newPubSubSink(client pubSubClient) *pubSubSink {
	return &pubSubSink{
		client: client,
		open: func(topic string) topicPublisher {
			p := client.Publisher(topic)
			if p == nil {
				return nil
			}
			return ackingPublisher{p}
		},
		byTopic: map[string]topicPublisher{},
	}
}

func (s *pubSubSink) Name() string { return config.OutboxSinkPubSub }

func (s *pubSubSink) Ping(ctx context.Context) error { return s.client.Ping(ctx) }

func (s *pubSubSink) publisherFor(topic string) topicPublisher {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.byTopic[topic]; ok {
		return p
	}
	p := s.open(topic)
	if p != nil {
		s.byTopic[topic] = p
	}
	return p
}

func (s *pubSubSink) Publish(ctx context.Context, row models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	p := s.publisherFor(topic)
	if p == nil {
		return registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %q", topic))
	}

	ctx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	_, err := p.Publish(ctx, &gcppubsub.Message{
		Data:       row.Payload,
		Attributes: headers(ctx, row, resolved),
	})
	return err
}

// Close flushes every publisher before releasing the client.
func (s *pubSubSink) Close() error {
	s.mu.Lock()
	for topic, p := range s.byTopic {
		p.Stop()
		delete(s.byTopic, topic)
	}
	s.mu.Unlock()
	return s.client.Close()
}

type ackingPublisher struct {
	*gcppubsub.Publisher
}

func (p ackingPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) (string, error) {
	return p.Publisher.Publish(ctx, msg).Get(ctx)
}

type kafkaProducer interface {
	Publish(ctx context.Context, topic string, key string, value []byte, headers map[string]string) error
	Close() error
}

// kafkaSink keys messages by aggregate id so one sale's events land on the
// same partition in order.
type kafkaSink struct {
	producer kafkaProducer
}

func newKafkaSink(producer kafkaProducer) *kafkaSink {
	return &kafkaSink{producer: producer}
}

func (s *kafkaSink) Name() string { return config.OutboxSinkKafka }

// Ping only checks wiring; the writer dials lazily.
func (s *kafkaSink) Ping(context.Context) error {
	if s.producer == nil {
		return errors.New("kafka producer not initialized")
	}
	return nil
}

func (s *kafkaSink) Publish(ctx context.Context, row models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	ctx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	return s.producer.Publish(ctx, resolved.Descriptor.Topic, row.AggregateID.String(), row.Payload, headers(ctx, row, resolved))
}

func (s *kafkaSink) Close() error {
	if s.producer == nil {
		return nil
	}
	return s.producer.Close()
}
