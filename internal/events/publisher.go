// Package events publishes dictation and invoice events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"voice-invoice-service/internal/models"
	"voice-invoice-service/internal/observability/metrics"
	"voice-invoice-service/internal/schema"
)

// Publisher writes events to one Kafka topic per event type. Every event is
// validated against its schema before it is written.
type Publisher struct {
	writers   map[string]*kafka.Writer
	topics    map[string]string
	principal string
	enabled   bool
	validator *schema.Validator
	metrics   *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers          []string
	TopicTranscripts string
	TopicDrafts      string
	TopicInvoices    string
	Principal        string
	Enabled          bool
}

// New creates a publisher. A nil or disabled config, or one without
// brokers, yields a log-only publisher.
func New(cfg *Config) *Publisher {
	p := &Publisher{
		writers:   map[string]*kafka.Writer{},
		topics:    map[string]string{},
		validator: schema.New(),
		metrics:   metrics.DefaultMetrics,
	}

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return p
	}

	p.principal = cfg.Principal
	p.topics[models.EventTranscriptFinal] = cfg.TopicTranscripts
	p.topics[models.EventDraftResolved] = cfg.TopicDrafts
	p.topics[models.EventInvoiceFinalized] = cfg.TopicInvoices

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	for _, topic := range p.topics {
		if topic == "" {
			continue
		}
		if _, ok := p.writers[topic]; ok {
			continue
		}
		p.writers[topic] = &kafka.Writer{
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
		Str("topicTranscripts", cfg.TopicTranscripts).
		Str("topicDrafts", cfg.TopicDrafts).
		Str("topicInvoices", cfg.TopicInvoices).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return p
}

// Principal returns the principal stamped on every message.
func (p *Publisher) Principal() string {
	return p.principal
}

// PublishTranscriptFinal publishes a settled dictation transcript keyed by
// session id.
func (p *Publisher) PublishTranscriptFinal(ctx context.Context, ev models.TranscriptFinal) error {
	return p.publish(ctx, models.EventTranscriptFinal, ev.SessionID, ev)
}

// PublishDraftResolved publishes a resolved draft keyed by draft id.
func (p *Publisher) PublishDraftResolved(ctx context.Context, ev models.DraftResolved) error {
	return p.publish(ctx, models.EventDraftResolved, ev.DraftID, ev)
}

// PublishInvoiceFinalized publishes a finalized invoice keyed by draft id.
func (p *Publisher) PublishInvoiceFinalized(ctx context.Context, ev models.InvoiceFinalized) error {
	return p.publish(ctx, models.EventInvoiceFinalized, ev.DraftID, ev)
}

func (p *Publisher) publish(ctx context.Context, eventType, key string, event any) error {
	start := time.Now()
	topic := p.topics[eventType]

	if err := p.validator.Validate(event); err != nil {
		log.Error().Err(err).Str("eventType", eventType).Msg("Rejected invalid event")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("eventType", eventType).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	writer := p.writers[topic]
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return fmt.Errorf("publish %s: %w", eventType, err)
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes every Kafka writer.
func (p *Publisher) Close() error {
	var err error
	for topic, w := range p.writers {
		if e := w.Close(); e != nil {
			log.Error().Err(e).Str("topic", topic).Msg("Error closing writer")
			err = e
		}
	}
	return err
}
