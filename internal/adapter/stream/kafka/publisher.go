package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/railzwaylabs/experiment-broker/internal/domain/changelog"
	"github.com/railzwaylabs/experiment-broker/pkg/telemetry/correlation"
)

type Config struct {
	Brokers []string
	Topic   string

	// MaxAttempts defaults to 3.
	MaxAttempts  int
	WriteTimeout time.Duration

	// Timeout bounds one Publish call across all attempts. Defaults to 2s.
	Timeout time.Duration
}

const defaultPublishTimeout = 2 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher streams changelog entries keyed by experiment slug, so the history
// of one experiment stays ordered within a partition.
type Publisher struct {
	writer      messageWriter
	topic       string
	maxAttempts int
	timeout     time.Duration
	logger      *zap.Logger
}

func NewPublisher(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultPublishTimeout
	}
	if cfg.WriteTimeout == 0 || cfg.WriteTimeout > cfg.Timeout {
		cfg.WriteTimeout = cfg.Timeout
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: int(kafka.RequireAll),
		Async:        false,
	})
	return newPublisher(w, cfg.Topic, cfg.MaxAttempts, cfg.Timeout, logger), nil
}

func newPublisher(w messageWriter, topic string, maxAttempts int, timeout time.Duration, logger *zap.Logger) *Publisher {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &Publisher{
		writer:      w,
		topic:       topic,
		maxAttempts: maxAttempts,
		timeout:     timeout,
		logger:      logger.Named("kafka"),
	}
}

func (p *Publisher) Publish(ctx context.Context, entry *changelog.Entry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal changelog entry: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(entry.ExperimentSlug),
		Value: value,
		Time:  entry.ChangedOn,
		Headers: []kafka.Header{
			{Key: "new_status", Value: []byte(entry.NewStatus)},
		},
	}
	if cid := correlation.ExtractCorrelationID(ctx); cid != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "correlation_id", Value: []byte(cid)})
	}

	// Publish runs inside status transitions, so the whole call is bounded.
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		lastErr = p.writer.WriteMessages(ctx, msg)
		if lastErr == nil {
			p.logger.Debug("changelog_published",
				zap.String("topic", p.topic),
				zap.String("slug", entry.ExperimentSlug),
				zap.String("new_status", string(entry.NewStatus)),
			)
			return nil
		}
		if attempt == p.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("publish changelog after %d attempts: %w", attempt, lastErr)
		case <-time.After(backoff):
		}
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}

	return fmt.Errorf("publish changelog failed after %d attempts: %w", p.maxAttempts, lastErr)
}

func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
