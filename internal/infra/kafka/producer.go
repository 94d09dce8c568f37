package kafka

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/arklim/campus-auth/internal/infra/config"
)

// Producer wraps a Sarama AsyncProducer that ships credential emails to the mailer topics.
type Producer struct {
	client   sarama.Client
	producer sarama.AsyncProducer
	logger   *zap.Logger
	cfg      config.KafkaSettings
	failures atomic.Int64
	done     chan struct{}
}

// NewProducer connects to the brokers and starts draining the error channel.
func NewProducer(cfg config.KafkaSettings, logger *zap.Logger) (*Producer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_5_0_0

	// Idempotent delivery requires acks from every in-sync replica and a single in-flight request.
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Flush.Frequency = 100 * time.Millisecond
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Return.Successes = false
	saramaConfig.Producer.Return.Errors = true

	saramaConfig.Metadata.Retry.Max = 3
	saramaConfig.Metadata.Retry.Backoff = 250 * time.Millisecond

	client, err := sarama.NewClient(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	producer, err := sarama.NewAsyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	p := newProducer(producer, cfg, logger)
	p.client = client

	logger.Info("kafka producer initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic_prefix", cfg.TopicPrefix),
	)

	return p, nil
}

func newProducer(producer sarama.AsyncProducer, cfg config.KafkaSettings, logger *zap.Logger) *Producer {
	p := &Producer{
		producer: producer,
		logger:   logger,
		cfg:      cfg,
		done:     make(chan struct{}),
	}
	go p.handleErrors()
	return p
}

func (p *Producer) handleErrors() {
	for {
		select {
		case err, ok := <-p.producer.Errors():
			if !ok {
				return
			}
			if err == nil {
				continue
			}
			p.failures.Add(1)
			p.logger.Error("kafka delivery failed",
				zap.Error(err.Err),
				zap.String("topic", err.Msg.Topic),
			)
		case <-p.done:
			return
		}
	}
}

// Failures reports how many messages the broker rejected since start.
func (p *Producer) Failures() int64 {
	return p.failures.Load()
}

// Name identifies the dependency in readiness reports.
func (p *Producer) Name() string {
	return "kafka"
}

// Check refreshes cluster metadata to confirm at least one broker answers.
func (p *Producer) Check(ctx context.Context) error {
	if p.client == nil {
		return nil
	}

	result := make(chan error, 1)
	go func() { result <- p.client.RefreshMetadata() }()

	select {
	case err := <-result:
		if err != nil {
			return fmt.Errorf("kafka metadata refresh: %w", err)
		}
		if len(p.client.Brokers()) == 0 {
			return fmt.Errorf("kafka: no brokers available")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send enqueues msg without waiting for the broker acknowledgement.
func (p *Producer) Send(ctx context.Context, msg *sarama.ProducerMessage) error {
	select {
	case p.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending messages and releases the client.
func (p *Producer) Close() error {
	p.logger.Info("closing kafka producer")
	close(p.done)

	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	if p.client != nil && !p.client.Closed() {
		if err := p.client.Close(); err != nil {
			return fmt.Errorf("close kafka client: %w", err)
		}
	}
	return nil
}

// TopicName returns the full topic name with prefix
func (p *Producer) TopicName(eventType string) string {
	if p.cfg.TopicPrefix == "" {
		return eventType
	}

	prefix := p.cfg.TopicPrefix + "."
	if strings.HasPrefix(eventType, prefix) {
		return eventType
	}
	return prefix + eventType
}
