package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/cim-backend/pkg/config"
	"github.com/angelmondragon/cim-backend/pkg/logger"
	kafkago "github.com/segmentio/kafka-go"
)

var errNoBrokers = errors.New("kafka brokers are required")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Producer writes outbox events to Kafka keyed by aggregate id.
type Producer struct {
	writer messageWriter
	topic  string
}

// NewProducer builds a writer for the configured brokers. Topics are chosen
// per message so one producer serves every event type.
func NewProducer(ctx context.Context, cfg config.KafkaConfig, logg *logger.Logger) (*Producer, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, errNoBrokers
	}
	if strings.TrimSpace(cfg.SalesTopic) == "" {
		return nil, errors.New("kafka sales topic is required")
	}

	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Balancer:               &kafkago.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: false,
		Transport:              &kafkago.Transport{ClientID: cfg.ClientID},
	}

	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{"brokers": brokers, "topic": cfg.SalesTopic})
		logg.Info(ctx, "kafka producer initialized")
	}
	return &Producer{writer: writer, topic: cfg.SalesTopic}, nil
}

func newProducerWithWriter(w messageWriter, topic string) *Producer {
	return &Producer{writer: w, topic: topic}
}

// Publish writes one message. An empty topic falls back to the sales topic.
func (p *Producer) Publish(ctx context.Context, topic string, key string, value []byte, headers map[string]string) error {
	if p == nil || p.writer == nil {
		return errors.New("kafka producer not initialized")
	}
	if topic == "" {
		topic = p.topic
	}
	msg := kafkago.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafkago.Header{Key: k, Value: []byte(v)})
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write to %s: %w", topic, err)
	}
	return nil
}

// Topic returns the default topic.
func (p *Producer) Topic() string {
	if p == nil {
		return ""
	}
	return p.topic
}

// Close flushes pending writes and releases connections.
func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
