// Package events publishes finalized transcript data to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"voice-transcript-relay/internal/models"
	"voice-transcript-relay/internal/observability/metrics"
)

// Publisher publishes segment and archive events to separate Kafka topics.
type Publisher struct {
	writerFinal   *kafka.Writer
	writerArchive *kafka.Writer
	principal     string
	topicFinal    string
	topicArchive  string
	collection    string
	enabled       bool
	metrics       *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicFinal   string
	TopicArchive string
	Principal    string

	// ArchiveCollection names the downstream document collection archived
	// transcripts are filed under.
	ArchiveCollection string

	Enabled bool
}

// New creates a Kafka publisher with separate topics for final segments and
// transcript archives. When disabled it runs in log-only mode.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{enabled: false, metrics: m}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:    cfg.Principal,
			topicFinal:   cfg.TopicFinal,
			topicArchive: cfg.TopicArchive,
			collection:   cfg.ArchiveCollection,
			enabled:      false,
			metrics:      m,
		}
	}

	// Longer dial timeouts for DNS resolution in Kubernetes.
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicFinal", cfg.TopicFinal).
		Str("topicArchive", cfg.TopicArchive).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerFinal:   newWriter(cfg.TopicFinal),
		writerArchive: newWriter(cfg.TopicArchive),
		principal:     cfg.Principal,
		topicFinal:    cfg.TopicFinal,
		topicArchive:  cfg.TopicArchive,
		collection:    cfg.ArchiveCollection,
		enabled:       true,
		metrics:       m,
	}
}

// PublishFinal publishes one persisted segment, keyed by session.
func (p *Publisher) PublishFinal(ctx context.Context, sessionID string, seg models.Segment) error {
	return p.publish(ctx, p.writerFinal, p.topicFinal, "segment.recorded", sessionID,
		models.SegmentRecorded{
			EventType: "segment.recorded",
			SessionID: sessionID,
			StartMs:   seg.StartMs,
			EndMs:     seg.EndMs,
			Text:      seg.Text,
			Timestamp: time.Now().UnixMilli(),
		})
}

// PublishArchive publishes the assembled session transcript as a document
// for the downstream archive indexer.
func (p *Publisher) PublishArchive(ctx context.Context, sessionID, subjectID, fullText string) error {
	return p.publish(ctx, p.writerArchive, p.topicArchive, "transcript.archived", sessionID,
		models.ArchiveDocument{
			EventType:  "transcript.archived",
			Collection: p.collection,
			Path:       fmt.Sprintf("transcripts/%s/%s.txt", subjectID, sessionID),
			Text:       fullText,
			Metadata: map[string]string{
				"sessionId": sessionID,
				"subjectId": subjectID,
			},
		})
}

// publish is the internal method that writes to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
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
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerFinal != nil {
		if e := p.writerFinal.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing final writer")
			err = e
		}
	}
	if p.writerArchive != nil {
		if e := p.writerArchive.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing archive writer")
			err = e
		}
	}
	return err
}
