// Package events publishes transcript events downstream.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"meetmind-asr-relay/internal/observability/metrics"
)

// Transcript kinds, used as the kind header and metrics label.
const (
	KindPartial = "partial"
	KindFinal   = "final"
)

// Publisher writes transcript events to Kafka, one topic per kind. Messages
// are keyed by session ID so a session's transcripts stay ordered within a
// partition. Without brokers it only logs.
type Publisher struct {
	writers   map[string]*kafka.Writer
	topics    map[string]string
	principal string
	enabled   bool
	metrics   *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	Principal    string
	Enabled      bool
}

// New creates a publisher. A nil or disabled config yields a log-only
// publisher.
func New(cfg *Config) *Publisher {
	p := &Publisher{
		writers: make(map[string]*kafka.Writer),
		topics:  make(map[string]string),
		metrics: metrics.DefaultMetrics,
	}

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), transcripts are logged only")
		return p
	}

	p.principal = cfg.Principal
	p.topics[KindPartial] = cfg.TopicPartial
	p.topics[KindFinal] = cfg.TopicFinal

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, transcripts are logged only")
		return p
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{Dial: dialer.DialFunc}

	for kind, topic := range p.topics {
		p.writers[kind] = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}
	p.enabled = true

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicPartial", cfg.TopicPartial).
		Str("topicFinal", cfg.TopicFinal).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return p
}

// PublishPartial publishes an interim transcript.
func (p *Publisher) PublishPartial(ctx context.Context, sessionID string, event any) error {
	return p.publish(ctx, KindPartial, sessionID, event)
}

// PublishFinal publishes a finalized sentence.
func (p *Publisher) PublishFinal(ctx context.Context, sessionID string, event any) error {
	return p.publish(ctx, KindFinal, sessionID, event)
}

func (p *Publisher) publish(ctx context.Context, kind, sessionID string, event any) error {
	start := time.Now()
	topic := p.topics[kind]

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal transcript event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("sessionId", sessionID).
		RawJSON("payload", payload).
		Msg("Publishing transcript event")

	writer := p.writers[kind]
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, kind, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(sessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(kind)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("sessionId", sessionID).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, kind, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, kind, nil, time.Since(start).Seconds())
	return nil
}

// Close flushes and closes all writers.
func (p *Publisher) Close() error {
	var err error
	for kind, w := range p.writers {
		if e := w.Close(); e != nil {
			log.Error().Err(e).Str("kind", kind).Msg("Error closing Kafka writer")
			err = e
		}
	}
	return err
}
